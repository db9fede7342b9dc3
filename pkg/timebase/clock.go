package timebase

import (
	"time"
)

// Timer is a handle for a scheduled callback.
type Timer interface {
	// Stop cancels the callback. It returns false if the callback
	// already fired or was stopped before.
	Stop() bool
}

// Clock supplies the engine's notion of time. The production clock is the
// operating system clock, assumed to be disciplined by an external PTP
// deployment; tests substitute a Manual clock.
type Clock interface {
	Now() time.Time
	// At schedules f to run at or after the absolute instant t. If t is
	// not in the future, f runs immediately in its own goroutine.
	At(t time.Time, f func()) Timer
}

type systemClock struct{}

// System returns the OS-backed clock.
func System() Clock {
	return systemClock{}
}

func (systemClock) Now() time.Time {
	return time.Now()
}

func (systemClock) At(t time.Time, f func()) Timer {
	return time.AfterFunc(time.Until(t), f)
}
