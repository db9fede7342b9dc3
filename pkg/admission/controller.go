// Package admission owns the per-port schedule swap: it decides when a
// compiled candidate replaces the active schedule, drives the backend push
// at the activation boundary, and rolls back to the previous schedule when
// the backend rejects or times out.
package admission

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang/glog"

	"github.com/opentsn/qbv-engine/pkg/event"
	"github.com/opentsn/qbv-engine/pkg/metrics"
	"github.com/opentsn/qbv-engine/pkg/plugin"
	"github.com/opentsn/qbv-engine/pkg/schedule"
	"github.com/opentsn/qbv-engine/pkg/timebase"
	"github.com/opentsn/qbv-engine/pkg/timeline"
)

// State is the per-port activation state.
type State int

const (
	StateIdle State = iota
	StatePendingActivation
	StateActive
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StatePendingActivation:
		return "PendingActivation"
	case StateActive:
		return "Active"
	}
	return "Unknown"
}

// OverlapPolicy decides what a new activation request does while another is
// pending on the same port.
type OverlapPolicy int

const (
	// OverlapReplace - latest request wins, the pending one is canceled.
	OverlapReplace OverlapPolicy = iota
	// OverlapReject - new requests fail with ErrActivationInProgress.
	OverlapReject
)

var (
	// ErrUnknownPort - the port was never added or has been removed.
	ErrUnknownPort = errors.New("unknown port")
	// ErrPortExists - AddPort called twice for the same port.
	ErrPortExists = errors.New("port already added")
	// ErrBaseTimeInPast - activation time leaves no lead time for the
	// backend and immediate activation is disabled.
	ErrBaseTimeInPast = errors.New("activation time in the past")
	// ErrActivationInProgress - another activation is pending and the
	// overlap policy is OverlapReject.
	ErrActivationInProgress = errors.New("activation already in progress")
	// ErrActivationRejected - the backend nacked or timed out; the
	// previously active schedule stays in force.
	ErrActivationRejected = errors.New("activation rejected")
	// ErrCanceled - the pending activation was canceled by the caller.
	ErrCanceled = errors.New("activation canceled")
	// ErrSuperseded - a newer activation request replaced the pending one.
	ErrSuperseded = errors.New("activation superseded by newer request")
)

// DefaultMinLeadTime guarantees the backend a window to program hardware
// ahead of the activation boundary.
const DefaultMinLeadTime = 50 * time.Millisecond

// DefaultRetireKeep bounds the audit trail of retired schedules per port.
const DefaultRetireKeep = 1

// Options tune the controller. Zero values take the defaults above;
// OverlapReplace is the default policy.
type Options struct {
	MinLeadTime    time.Duration
	AllowImmediate bool
	OverlapPolicy  OverlapPolicy
	RetireKeep     int
}

func (o Options) withDefaults() Options {
	if o.MinLeadTime <= 0 {
		o.MinLeadTime = DefaultMinLeadTime
	}
	if o.RetireKeep <= 0 {
		o.RetireKeep = DefaultRetireKeep
	}
	return o
}

// Controller serializes schedule swaps per port. Ports are independent;
// within a port the timer callback and RequestActivation share one critical
// section, and the backend push itself runs outside it.
type Controller struct {
	clock      timebase.Clock
	dispatcher *plugin.Dispatcher
	opts       Options
	notifier   *event.StateNotifier

	mu    sync.RWMutex
	ports map[schedule.PortID]*portState
}

type portState struct {
	mu      sync.Mutex
	port    schedule.Port
	state   State
	active  *timeline.Timeline
	pending *Transaction
	timer   timebase.Timer
	retired []*timeline.Timeline
	removed bool
}

// New builds a Controller. notifier may be nil when nobody subscribes to
// activation outcomes.
func New(clock timebase.Clock, dispatcher *plugin.Dispatcher, opts Options, notifier *event.StateNotifier) *Controller {
	return &Controller{
		clock:      clock,
		dispatcher: dispatcher,
		opts:       opts.withDefaults(),
		notifier:   notifier,
		ports:      make(map[schedule.PortID]*portState),
	}
}

// AddPort registers a port at bridge discovery time.
func (c *Controller) AddPort(port schedule.Port) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.ports[port.ID]; ok {
		return fmt.Errorf("%w: %s", ErrPortExists, port.ID)
	}
	c.ports[port.ID] = &portState{port: port, state: StateIdle}
	metrics.PendingActivation.WithLabelValues(string(port.ID)).Set(0)
	glog.Infof("port %s: added, %d queues, granularity %v, max GCL %d",
		port.ID, port.Queues, port.MinInterval, port.MaxGCLLength)
	return nil
}

// RemovePort tears a port down, canceling any pending activation.
func (c *Controller) RemovePort(id schedule.PortID) error {
	c.mu.Lock()
	ps, ok := c.ports[id]
	if ok {
		delete(c.ports, id)
	}
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPort, id)
	}
	ps.mu.Lock()
	ps.removed = true
	tx := ps.pending
	ps.pending = nil
	if ps.timer != nil {
		ps.timer.Stop()
	}
	ps.mu.Unlock()
	if tx != nil && tx.resolve(StatusFailed, fmt.Errorf("%w: %s", ErrUnknownPort, id)) {
		c.publish(event.Outcome{Port: id, Result: event.Failed, ActivateAt: tx.ActivateAt, Err: tx.Err()})
	}
	glog.Infof("port %s: removed", id)
	return nil
}

// Capability returns the port's capability descriptor.
func (c *Controller) Capability(id schedule.PortID) (schedule.Port, bool) {
	ps, err := c.lookup(id)
	if err != nil {
		return schedule.Port{}, false
	}
	return ps.port, true
}

// Active returns the timeline currently in force on the port.
func (c *Controller) Active(id schedule.PortID) (*timeline.Timeline, bool) {
	ps, err := c.lookup(id)
	if err != nil {
		return nil, false
	}
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return ps.active, ps.active != nil
}

// PortState returns the port's activation state.
func (c *Controller) PortState(id schedule.PortID) State {
	ps, err := c.lookup(id)
	if err != nil {
		return StateIdle
	}
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return ps.state
}

// Retired returns the audit trail of recently replaced timelines, newest
// first.
func (c *Controller) Retired(id schedule.PortID) []*timeline.Timeline {
	ps, err := c.lookup(id)
	if err != nil {
		return nil
	}
	ps.mu.Lock()
	defer ps.mu.Unlock()
	out := make([]*timeline.Timeline, len(ps.retired))
	copy(out, ps.retired)
	return out
}

func (c *Controller) lookup(id schedule.PortID) (*portState, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ps, ok := c.ports[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPort, id)
	}
	return ps, nil
}

// RequestActivation asks for tl to replace the port's active schedule at
// the given instant. The candidate must already be validated and compiled.
// At most one activation is pending per port: under OverlapReplace the
// newest request cancels the pending one, under OverlapReject it fails.
func (c *Controller) RequestActivation(tl *timeline.Timeline, at time.Time) (*Transaction, error) {
	if tl == nil || tl.Schedule == nil {
		return nil, errors.New("nil candidate timeline")
	}
	ps, err := c.lookup(tl.Port)
	if err != nil {
		return nil, err
	}

	ps.mu.Lock()
	if ps.removed {
		ps.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrUnknownPort, tl.Port)
	}
	now := c.clock.Now()
	if at.Before(now.Add(c.opts.MinLeadTime)) {
		if !c.opts.AllowImmediate {
			ps.mu.Unlock()
			return nil, fmt.Errorf("%w: %v is within %v of %v",
				ErrBaseTimeInPast, at, c.opts.MinLeadTime, now)
		}
		at = now
	}

	var superseded *Transaction
	if ps.pending != nil {
		if c.opts.OverlapPolicy == OverlapReject {
			ps.mu.Unlock()
			return nil, fmt.Errorf("%w on port %s", ErrActivationInProgress, tl.Port)
		}
		superseded = ps.pending
		ps.pending = nil
		if ps.timer != nil {
			ps.timer.Stop()
		}
	}

	tx := newTransaction(tl, ps.active, at)
	ps.pending = tx
	ps.state = StatePendingActivation
	metrics.PendingActivation.WithLabelValues(string(tl.Port)).Set(1)
	ps.mu.Unlock()

	if superseded != nil && superseded.resolve(StatusRolledBack, ErrSuperseded) {
		glog.Infof("port %s: pending activation for %v superseded", tl.Port, superseded.ActivateAt)
		c.publish(event.Outcome{Port: tl.Port, Result: event.Canceled, ActivateAt: superseded.ActivateAt, Err: ErrSuperseded})
	}

	// Arm the boundary timer outside the critical section: an already-due
	// instant fires the callback synchronously on some clocks.
	timer := c.clock.At(at, func() { c.activate(ps, tx) })
	ps.mu.Lock()
	if ps.pending == tx {
		ps.timer = timer
	} else {
		timer.Stop()
	}
	ps.mu.Unlock()

	glog.Infof("port %s: activation requested for %v (cycle %v, %d transitions)",
		tl.Port, at, tl.CycleTime, len(tl.Transitions))
	return tx, nil
}

// Cancel withdraws a pending activation. It succeeds up to the moment the
// backend push has been acknowledged; a committed swap cannot be canceled.
func (c *Controller) Cancel(tx *Transaction) bool {
	ps, err := c.lookup(tx.Port)
	if err != nil {
		return false
	}
	ps.mu.Lock()
	if ps.pending != tx {
		ps.mu.Unlock()
		return false
	}
	ps.pending = nil
	if ps.timer != nil {
		ps.timer.Stop()
	}
	if ps.active != nil {
		ps.state = StateActive
	} else {
		ps.state = StateIdle
	}
	metrics.PendingActivation.WithLabelValues(string(tx.Port)).Set(0)
	ps.mu.Unlock()

	if tx.resolve(StatusRolledBack, ErrCanceled) {
		glog.Infof("port %s: pending activation for %v canceled", tx.Port, tx.ActivateAt)
		c.publish(event.Outcome{Port: tx.Port, Result: event.Canceled, ActivateAt: tx.ActivateAt, Err: ErrCanceled})
		return true
	}
	return false
}

// activate runs at the activation boundary. The push happens outside the
// per-port critical section so a slow backend cannot stall new requests;
// the section is re-taken only to commit or roll back.
func (c *Controller) activate(ps *portState, tx *Transaction) {
	ps.mu.Lock()
	if ps.pending != tx {
		ps.mu.Unlock()
		return
	}
	candidate := tx.Candidate
	ps.mu.Unlock()

	pushErr := c.dispatcher.Push(context.Background(), candidate, tx.ActivateAt)

	ps.mu.Lock()
	if ps.pending != tx {
		// canceled or superseded while the push was in flight; its result
		// no longer owns the port
		ps.mu.Unlock()
		return
	}
	ps.pending = nil
	ps.timer = nil
	port := string(tx.Port)
	metrics.PendingActivation.WithLabelValues(port).Set(0)

	if pushErr != nil {
		if ps.active != nil {
			ps.state = StateActive
		} else {
			ps.state = StateIdle
		}
		ps.mu.Unlock()

		result := metrics.ResultRollback
		var nack *plugin.NackError
		if errors.As(pushErr, &nack) {
			result = metrics.ResultReject
		}
		metrics.ActivationsTotal.WithLabelValues(port, result).Inc()
		err := fmt.Errorf("%w: %w", ErrActivationRejected, pushErr)
		tx.resolve(StatusRolledBack, err)
		glog.Errorf("port %s: activation for %v rolled back: %v", tx.Port, tx.ActivateAt, pushErr)
		c.publish(event.Outcome{Port: tx.Port, Result: event.RolledBack, ActivateAt: tx.ActivateAt, Err: err})
		return
	}

	if ps.active != nil {
		ps.retired = append([]*timeline.Timeline{ps.active}, ps.retired...)
		if len(ps.retired) > c.opts.RetireKeep {
			ps.retired = ps.retired[:c.opts.RetireKeep]
		}
	}
	ps.active = candidate
	ps.state = StateActive
	ps.mu.Unlock()

	metrics.ActivationsTotal.WithLabelValues(port, metrics.ResultCommit).Inc()
	metrics.ActiveCycleTime.WithLabelValues(port).Set(float64(candidate.CycleTime.Nanoseconds()))
	tx.resolve(StatusCommitted, nil)
	glog.Infof("port %s: schedule committed at %v (cycle %v)", tx.Port, tx.ActivateAt, candidate.CycleTime)
	c.publish(event.Outcome{Port: tx.Port, Result: event.Committed, ActivateAt: tx.ActivateAt})
}

func (c *Controller) publish(o event.Outcome) {
	if c.notifier != nil {
		c.notifier.Publish(o)
	}
}
