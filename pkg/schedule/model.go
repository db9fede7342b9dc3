// Package schedule holds the validated representation of one port's
// 802.1Qbv gate configuration: the port capability descriptor, the gate
// control list and the checks that gate a candidate schedule before it is
// handed to the compiler.
package schedule

import (
	"fmt"
	"time"
)

// PortID identifies a bridge port, e.g. "sw0p2".
type PortID string

// GateStates is a per-queue gate bitmask, bit N set = queue N transmits.
type GateStates uint8

// Open reports whether queue q's gate is open.
func (g GateStates) Open(q uint8) bool {
	return g&(1<<q) != 0
}

// WithoutQueues returns g with the gates in mask forced closed.
func (g GateStates) WithoutQueues(mask GateStates) GateStates {
	return g &^ mask
}

func (g GateStates) String() string {
	return fmt.Sprintf("0x%02x", uint8(g))
}

// Port is the capability descriptor of one bridge port. It is built at
// bridge-configuration load time and never mutated by the engine.
type Port struct {
	ID           PortID
	Queues       uint8
	MinInterval  time.Duration
	MaxGCLLength int
}

// QueueMask returns the gate mask with every existing queue open.
func (p Port) QueueMask() GateStates {
	if p.Queues >= 8 {
		return 0xff
	}
	return GateStates(1<<p.Queues) - 1
}

// ControlEntry is one row of a gate control list. Order within a schedule
// defines the cyclic sequence.
type ControlEntry struct {
	Gates    GateStates
	Interval time.Duration
}

// GateSchedule is one port's Qbv configuration. Values are immutable once
// built by New; treat all fields as read-only.
type GateSchedule struct {
	Port      PortID
	CycleTime time.Duration
	Extension time.Duration
	BaseTime  time.Time
	Entries   []ControlEntry
}

// MalformedError reports a structural violation in a candidate schedule.
// It names the offending field; nothing is clamped or corrected.
type MalformedError struct {
	Field  string
	Reason string
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("malformed schedule: %s: %s", e.Field, e.Reason)
}

// New builds a GateSchedule from raw fields, enforcing the shape invariants:
// non-empty entry list, positive intervals, positive cycle time, and entry
// durations summing to the cycle time (or fitting under cycle time plus
// extension when an extension is set). The entry slice is copied.
func New(port PortID, cycleTime, extension time.Duration, baseTime time.Time, entries []ControlEntry) (*GateSchedule, error) {
	if port == "" {
		return nil, &MalformedError{Field: "port", Reason: "empty port id"}
	}
	if cycleTime <= 0 {
		return nil, &MalformedError{Field: "cycle-time", Reason: fmt.Sprintf("must be positive, got %v", cycleTime)}
	}
	if extension < 0 {
		return nil, &MalformedError{Field: "cycle-time-extension", Reason: fmt.Sprintf("must be non-negative, got %v", extension)}
	}
	if len(entries) == 0 {
		return nil, &MalformedError{Field: "gate-control-list", Reason: "no entries"}
	}
	var sum time.Duration
	for i, e := range entries {
		if e.Interval <= 0 {
			return nil, &MalformedError{
				Field:  fmt.Sprintf("gate-control-list[%d].time-interval", i),
				Reason: fmt.Sprintf("must be positive, got %v", e.Interval),
			}
		}
		sum += e.Interval
	}
	if extension == 0 && sum != cycleTime {
		return nil, &MalformedError{
			Field:  "cycle-time",
			Reason: fmt.Sprintf("entry durations sum to %v, cycle time is %v", sum, cycleTime),
		}
	}
	if extension > 0 && sum > cycleTime+extension {
		return nil, &MalformedError{
			Field:  "cycle-time-extension",
			Reason: fmt.Sprintf("entry durations sum to %v, exceeds cycle time %v plus extension %v", sum, cycleTime, extension),
		}
	}
	s := &GateSchedule{
		Port:      port,
		CycleTime: cycleTime,
		Extension: extension,
		BaseTime:  baseTime,
		Entries:   make([]ControlEntry, len(entries)),
	}
	copy(s.Entries, entries)
	return s, nil
}

// IntervalSum returns the total duration of all control entries.
func (s *GateSchedule) IntervalSum() time.Duration {
	var sum time.Duration
	for _, e := range s.Entries {
		sum += e.Interval
	}
	return sum
}
