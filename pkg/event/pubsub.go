// Package event delivers activation outcomes to interested parties, so the
// management layer observes commits and rollbacks without polling the
// admission controller.
package event

import (
	"sync"
	"time"

	"github.com/opentsn/qbv-engine/pkg/schedule"
)

// Result is the terminal disposition of an activation attempt.
type Result int

const (
	Committed Result = iota + 1
	RolledBack
	Failed
	Canceled
)

func (r Result) String() string {
	switch r {
	case Committed:
		return "Committed"
	case RolledBack:
		return "RolledBack"
	case Failed:
		return "Failed"
	case Canceled:
		return "Canceled"
	}
	return "Unknown"
}

// Outcome describes how one activation attempt ended.
type Outcome struct {
	Port       schedule.PortID
	Result     Result
	ActivateAt time.Time
	Err        error
}

type Subscriber interface {
	Notify(o Outcome)
	ID() string
}

type Notifier interface {
	Register(s Subscriber)
	Unregister(s Subscriber)
}

// StateNotifier fans outcomes out to registered subscribers. Notify calls
// run on their own goroutines so a slow subscriber cannot stall the
// admission path.
type StateNotifier struct {
	sync.Mutex
	Subscribers map[string]Subscriber
}

func NewStateNotifier() *StateNotifier {
	return &StateNotifier{
		Subscribers: make(map[string]Subscriber),
	}
}

func (n *StateNotifier) Register(s Subscriber) {
	n.Lock()
	defer n.Unlock()
	n.Subscribers[s.ID()] = s
}

func (n *StateNotifier) Unregister(s Subscriber) {
	n.Lock()
	defer n.Unlock()
	if _, ok := n.Subscribers[s.ID()]; ok {
		delete(n.Subscribers, s.ID())
	}
}

// Publish delivers o to every subscriber.
func (n *StateNotifier) Publish(o Outcome) {
	n.Lock()
	defer n.Unlock()
	for _, s := range n.Subscribers {
		go s.Notify(o)
	}
}
