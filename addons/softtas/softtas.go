// Package softtas is a reference software time-aware-shaper backend. It
// stands in for a hardware plugin on bridges without Qbv offload: a push is
// accepted immediately and a replay goroutine walks the compiled timeline,
// logging each gate-state change on schedule.
package softtas

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/opentsn/qbv-engine/pkg/plugin"
	"github.com/opentsn/qbv-engine/pkg/schedule"
	"github.com/opentsn/qbv-engine/pkg/timebase"
	"github.com/opentsn/qbv-engine/pkg/timeline"
)

// Name is the backend's registry name.
const Name = "softtas"

// TAS emulates a time-aware shaper in software. MaxQueues bounds the gate
// width it will accept (8 when zero).
type TAS struct {
	clock     timebase.Clock
	maxQueues uint8

	mu      sync.Mutex
	replays map[schedule.PortID]chan struct{}
}

// New builds a TAS on the given clock.
func New(clock timebase.Clock, maxQueues uint8) *TAS {
	if maxQueues == 0 {
		maxQueues = 8
	}
	return &TAS{
		clock:     clock,
		maxQueues: maxQueues,
		replays:   make(map[schedule.PortID]chan struct{}),
	}
}

func (t *TAS) Name() string {
	return Name
}

// Push accepts the timeline and starts (or restarts) the port's replay
// loop. Timelines gating queues beyond the shaper width are nacked.
func (t *TAS) Push(ctx context.Context, tl *timeline.Timeline, activateAt time.Time) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	width := schedule.Port{Queues: t.maxQueues}.QueueMask()
	for _, tr := range tl.Transitions {
		if tr.Gates&^width != 0 {
			return &plugin.NackError{Reason: "unsupported-queue-count"}
		}
	}

	t.mu.Lock()
	if stop, ok := t.replays[tl.Port]; ok {
		close(stop)
	}
	stop := make(chan struct{})
	t.replays[tl.Port] = stop
	t.mu.Unlock()

	log.WithFields(log.Fields{
		"port":       tl.Port,
		"cycle":      tl.CycleTime,
		"activateAt": activateAt,
	}).Info("softtas: schedule programmed")
	go t.replay(tl, activateAt, stop)
	return nil
}

// Stop ends the replay loop for a port.
func (t *TAS) Stop(port schedule.PortID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if stop, ok := t.replays[port]; ok {
		close(stop)
		delete(t.replays, port)
	}
}

// replay walks the timeline cycle after cycle from activateAt, applying
// each transition at its absolute instant.
func (t *TAS) replay(tl *timeline.Timeline, activateAt time.Time, stop <-chan struct{}) {
	cycleStart := activateAt
	for {
		for _, tr := range tl.Transitions {
			at := cycleStart.Add(tr.Offset)
			fired := make(chan struct{})
			timer := t.clock.At(at, func() { close(fired) })
			select {
			case <-fired:
			case <-stop:
				timer.Stop()
				return
			}
			state := "open"
			if tr.Guard {
				state = "guard"
			}
			log.WithFields(log.Fields{
				"port":   tl.Port,
				"offset": tr.Offset,
				"gates":  tr.Gates.String(),
				"state":  state,
			}).Debug("softtas: gate change")
		}
		cycleStart = cycleStart.Add(tl.CycleTime)
	}
}
