// Package timeline expands a validated gate schedule into the concrete,
// time-ordered sequence of gate-state transitions a backend programs into
// hardware, applying guard bands where configured.
package timeline

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang/glog"

	"github.com/opentsn/qbv-engine/pkg/schedule"
)

// Transition is one gate-state change at an offset within the cycle.
// A Guard transition is a sub-state of the preceding entry with the
// protected closing queues already shut.
type Transition struct {
	Offset time.Duration
	Gates  schedule.GateStates
	Guard  bool
}

// Timeline is the compiled form of one schedule: transitions with strictly
// increasing offsets starting at 0, all below CycleTime. The last state
// covers through the cycle boundary and wraps back to offset 0. Timelines
// are replaced wholesale, never mutated.
type Timeline struct {
	Port        schedule.PortID
	CycleTime   time.Duration
	BaseTime    time.Time
	Schedule    *schedule.GateSchedule
	Transitions []Transition
}

// GuardBand configures protection for queues that must not have a frame in
// flight when their gate closes. Zero value disables guard bands.
type GuardBand struct {
	Duration time.Duration
	Queues   schedule.GateStates
}

// WarningCode classifies non-fatal compile findings.
type WarningCode int

// InsufficientGuardBand - no slack left to carve out the configured guard
// interval; the schedule still compiles.
const InsufficientGuardBand WarningCode = iota + 1

func (c WarningCode) String() string {
	if c == InsufficientGuardBand {
		return "InsufficientGuardBand"
	}
	return "Unknown"
}

// Warning is a non-fatal compile finding. Downstream policy decides whether
// it blocks activation.
type Warning struct {
	Code   WarningCode
	Queue  int
	Detail string
}

func (w Warning) String() string {
	return fmt.Sprintf("%s: queue %d: %s", w.Code, w.Queue, w.Detail)
}

// Compile expands s into a Timeline. The walk emits one transition per
// control entry at the accumulated offset, then a guard pass converts the
// trailing portion of any entry whose cyclic successor closes a protected
// queue into a guard sub-state. Guard durations draw on the unused slack
// (cycle time + extension - entry sum), consumed in walk order; when none
// remains, or the guard cannot fit inside its entry, compilation proceeds
// and an InsufficientGuardBand warning is emitted instead. Compilation is
// deterministic: the same schedule always yields the same timeline.
func Compile(s *schedule.GateSchedule, gb GuardBand) (*Timeline, []Warning, error) {
	if s == nil {
		return nil, nil, errors.New("compile: nil schedule")
	}
	tl := &Timeline{
		Port:        s.Port,
		CycleTime:   s.CycleTime,
		BaseTime:    s.BaseTime,
		Schedule:    s,
		Transitions: make([]Transition, 0, len(s.Entries)),
	}
	offset := time.Duration(0)
	for _, e := range s.Entries {
		tl.Transitions = append(tl.Transitions, Transition{Offset: offset, Gates: e.Gates})
		offset += e.Interval
	}

	var warnings []Warning
	if gb.Duration > 0 && gb.Queues != 0 {
		warnings = tl.insertGuards(s, gb)
	}
	for _, w := range warnings {
		glog.Warningf("compile port %s: %s", s.Port, w)
	}
	return tl, warnings, nil
}

// insertGuards runs after the plain expansion. tl.Transitions holds exactly
// one transition per entry at this point.
func (tl *Timeline) insertGuards(s *schedule.GateSchedule, gb GuardBand) []Warning {
	var warnings []Warning
	slack := s.CycleTime + s.Extension - s.IntervalSum()

	type guard struct {
		idx int // entry index the guard shortens
		at  time.Duration
		g   schedule.GateStates
	}
	var guards []guard

	n := len(s.Entries)
	offset := time.Duration(0)
	for i, e := range s.Entries {
		entryStart := offset
		offset += e.Interval
		next := s.Entries[(i+1)%n].Gates
		closing := e.Gates &^ next
		protected := closing & gb.Queues
		if protected == 0 {
			continue
		}
		// the final entry's gates close at the cycle boundary, not at the
		// end of its declared interval
		closeAt := offset
		if i == n-1 {
			closeAt = s.CycleTime
		}
		dur := gb.Duration
		if dur > slack {
			dur = slack
		}
		// the guard transition must stay strictly inside the entry's span
		if dur > 0 && closeAt-dur <= entryStart {
			dur = 0
		}
		if dur <= 0 {
			warnings = append(warnings, Warning{
				Code:   InsufficientGuardBand,
				Queue:  lowestQueue(protected),
				Detail: fmt.Sprintf("no slack for %v guard before close at %v", gb.Duration, closeAt),
			})
			continue
		}
		slack -= dur
		guards = append(guards, guard{
			idx: i,
			at:  closeAt - dur,
			g:   e.Gates.WithoutQueues(protected),
		})
	}

	// splice in reverse so earlier indices stay valid
	for k := len(guards) - 1; k >= 0; k-- {
		gd := guards[k]
		tl.Transitions = append(tl.Transitions, Transition{})
		copy(tl.Transitions[gd.idx+2:], tl.Transitions[gd.idx+1:])
		tl.Transitions[gd.idx+1] = Transition{Offset: gd.at, Gates: gd.g, Guard: true}
	}
	return warnings
}

func lowestQueue(g schedule.GateStates) int {
	for q := 0; q < 8; q++ {
		if g.Open(uint8(q)) {
			return q
		}
	}
	return -1
}

// TotalGap re-derives the cycle duration from the compiled transitions,
// including the wraparound gap from the last transition back to offset 0.
func (tl *Timeline) TotalGap() time.Duration {
	if len(tl.Transitions) == 0 {
		return 0
	}
	var sum time.Duration
	for i := 1; i < len(tl.Transitions); i++ {
		sum += tl.Transitions[i].Offset - tl.Transitions[i-1].Offset
	}
	sum += tl.CycleTime - tl.Transitions[len(tl.Transitions)-1].Offset
	return sum
}

// StateAt returns the gate states in force at the given offset within the
// cycle.
func (tl *Timeline) StateAt(offset time.Duration) schedule.GateStates {
	if len(tl.Transitions) == 0 {
		return 0
	}
	state := tl.Transitions[len(tl.Transitions)-1].Gates
	for _, tr := range tl.Transitions {
		if tr.Offset > offset {
			break
		}
		state = tr.Gates
	}
	return state
}
