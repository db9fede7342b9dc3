package schedule

import (
	"fmt"
	"time"
)

// ValidationKind classifies a capability-check failure.
type ValidationKind int

const (
	// KindCapacityExceeded - more GCL entries than the port supports.
	KindCapacityExceeded ValidationKind = iota + 1
	// KindUnknownQueue - a gate bitmask references a queue the port lacks.
	KindUnknownQueue
	// KindIntervalTooShort - an entry interval is below the port granularity.
	KindIntervalTooShort
	// KindExcessiveExtension - cycle-time-extension above the allowed fraction.
	KindExcessiveExtension
)

func (k ValidationKind) String() string {
	switch k {
	case KindCapacityExceeded:
		return "CapacityExceeded"
	case KindUnknownQueue:
		return "UnknownQueue"
	case KindIntervalTooShort:
		return "IntervalTooShort"
	case KindExcessiveExtension:
		return "ExcessiveExtension"
	}
	return "Unknown"
}

// ValidationError reports why a structurally sound schedule cannot run on
// the target port.
type ValidationError struct {
	Kind   ValidationKind
	Port   PortID
	Detail string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("schedule rejected for port %s: %s: %s", e.Port, e.Kind, e.Detail)
}

// DefaultMaxExtensionFraction bounds cycle-time-extension relative to the
// cycle time when the deployment does not configure its own limit.
const DefaultMaxExtensionFraction = 0.5

// Validator checks candidate schedules against port capabilities. The zero
// value uses DefaultMaxExtensionFraction.
type Validator struct {
	MaxExtensionFraction float64
}

// Check validates s against the capabilities of port. Checks run in a fixed
// order and short-circuit on the first failure; the schedule is never
// mutated. A nil return means s may be compiled for port.
func (v Validator) Check(port Port, s *GateSchedule) error {
	if len(s.Entries) > port.MaxGCLLength {
		return &ValidationError{
			Kind:   KindCapacityExceeded,
			Port:   port.ID,
			Detail: fmt.Sprintf("%d entries, port supports %d", len(s.Entries), port.MaxGCLLength),
		}
	}
	mask := port.QueueMask()
	for i, e := range s.Entries {
		if e.Gates&^mask != 0 {
			return &ValidationError{
				Kind:   KindUnknownQueue,
				Port:   port.ID,
				Detail: fmt.Sprintf("entry %d gate states %s reference queues beyond the port's %d", i, e.Gates, port.Queues),
			}
		}
	}
	for i, e := range s.Entries {
		if e.Interval < port.MinInterval {
			return &ValidationError{
				Kind:   KindIntervalTooShort,
				Port:   port.ID,
				Detail: fmt.Sprintf("entry %d interval %v below port granularity %v", i, e.Interval, port.MinInterval),
			}
		}
	}
	maxFrac := v.MaxExtensionFraction
	if maxFrac == 0 {
		maxFrac = DefaultMaxExtensionFraction
	}
	if s.Extension > 0 {
		limit := time.Duration(float64(s.CycleTime) * maxFrac)
		if s.Extension > limit {
			return &ValidationError{
				Kind:   KindExcessiveExtension,
				Port:   port.ID,
				Detail: fmt.Sprintf("extension %v exceeds %v (%.0f%% of cycle time %v)", s.Extension, limit, maxFrac*100, s.CycleTime),
			}
		}
	}
	return nil
}
