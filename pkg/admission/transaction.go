package admission

import (
	"context"
	"sync"
	"time"

	"github.com/opentsn/qbv-engine/pkg/schedule"
	"github.com/opentsn/qbv-engine/pkg/timeline"
)

// Status is the lifecycle of one activation attempt.
type Status int

const (
	StatusPending Status = iota + 1
	StatusCommitted
	StatusRolledBack
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "Pending"
	case StatusCommitted:
		return "Committed"
	case StatusRolledBack:
		return "RolledBack"
	case StatusFailed:
		return "Failed"
	}
	return "Unknown"
}

// Transaction tracks one in-flight schedule swap: the candidate timeline,
// the previously active one held for rollback, and the activation instant.
// It resolves to exactly one terminal status.
type Transaction struct {
	Port       schedule.PortID
	Candidate  *timeline.Timeline
	Previous   *timeline.Timeline
	ActivateAt time.Time

	mu     sync.Mutex
	status Status
	err    error
	done   chan struct{}
}

func newTransaction(candidate, previous *timeline.Timeline, at time.Time) *Transaction {
	return &Transaction{
		Port:       candidate.Port,
		Candidate:  candidate,
		Previous:   previous,
		ActivateAt: at,
		status:     StatusPending,
		done:       make(chan struct{}),
	}
}

// Status returns the transaction's current status.
func (t *Transaction) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// Err returns the failure that resolved the transaction, nil if committed
// or still pending.
func (t *Transaction) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// Done is closed once the transaction reaches a terminal status.
func (t *Transaction) Done() <-chan struct{} {
	return t.done
}

// Wait blocks until the transaction resolves or ctx expires.
func (t *Transaction) Wait(ctx context.Context) (Status, error) {
	select {
	case <-t.done:
		return t.Status(), t.Err()
	case <-ctx.Done():
		return t.Status(), ctx.Err()
	}
}

// resolve moves the transaction to a terminal status exactly once.
func (t *Transaction) resolve(status Status, err error) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status != StatusPending {
		return false
	}
	t.status = status
	t.err = err
	close(t.done)
	return true
}
