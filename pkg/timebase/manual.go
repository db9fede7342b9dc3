package timebase

import (
	"sort"
	"sync"
	"time"
)

// Manual is a deterministic clock for tests. Time only moves when Advance
// or Set is called; due callbacks fire synchronously on the calling
// goroutine, in scheduling order.
type Manual struct {
	mu      sync.Mutex
	now     time.Time
	seq     int
	pending []*manualTimer
}

type manualTimer struct {
	clock   *Manual
	at      time.Time
	seq     int
	f       func()
	stopped bool
	fired   bool
}

// NewManual returns a Manual clock positioned at start.
func NewManual(start time.Time) *Manual {
	return &Manual{now: start}
}

func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

func (m *Manual) At(t time.Time, f func()) Timer {
	m.mu.Lock()
	mt := &manualTimer{clock: m, at: t, seq: m.seq, f: f}
	m.seq++
	m.pending = append(m.pending, mt)
	due := !t.After(m.now)
	m.mu.Unlock()
	if due {
		m.fire()
	}
	return mt
}

// Advance moves the clock forward by d, firing all callbacks that become due.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	m.now = m.now.Add(d)
	m.mu.Unlock()
	m.fire()
}

// Set jumps the clock to t. Moving backwards is not supported and is ignored.
func (m *Manual) Set(t time.Time) {
	m.mu.Lock()
	if t.After(m.now) {
		m.now = t
	}
	m.mu.Unlock()
	m.fire()
}

func (m *Manual) fire() {
	for {
		m.mu.Lock()
		var due *manualTimer
		idx := -1
		for i, mt := range m.pending {
			if mt.stopped || mt.at.After(m.now) {
				continue
			}
			if due == nil || mt.at.Before(due.at) || (mt.at.Equal(due.at) && mt.seq < due.seq) {
				due = mt
				idx = i
			}
		}
		if due == nil {
			// compact stopped/fired entries
			live := m.pending[:0]
			for _, mt := range m.pending {
				if !mt.stopped && !mt.fired {
					live = append(live, mt)
				}
			}
			m.pending = live
			sort.SliceStable(m.pending, func(i, j int) bool {
				return m.pending[i].seq < m.pending[j].seq
			})
			m.mu.Unlock()
			return
		}
		due.fired = true
		m.pending = append(m.pending[:idx], m.pending[idx+1:]...)
		m.mu.Unlock()
		due.f()
	}
}

func (mt *manualTimer) Stop() bool {
	mt.clock.mu.Lock()
	defer mt.clock.mu.Unlock()
	if mt.fired || mt.stopped {
		return false
	}
	mt.stopped = true
	return true
}
