// Package plugin is the engine's only external-facing boundary: a registry
// of hardware/software backends and a dispatcher that pushes compiled
// timelines to them under a bounded deadline.
package plugin

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang/glog"

	"github.com/opentsn/qbv-engine/pkg/schedule"
	"github.com/opentsn/qbv-engine/pkg/timeline"
)

// Backend programs a compiled timeline into hardware or a software
// scheduler. A nil return is an acknowledgment; a *NackError is an explicit
// rejection; exceeding the context deadline is reported to the caller as
// ErrPushTimeout. Backends hold no schedule state between calls.
type Backend interface {
	Name() string
	Push(ctx context.Context, tl *timeline.Timeline, activateAt time.Time) error
}

// NackError is a backend's explicit rejection of a push.
type NackError struct {
	Reason string
}

func (e *NackError) Error() string {
	return fmt.Sprintf("backend nack: %s", e.Reason)
}

// ErrPushTimeout - the backend did not acknowledge within the deadline.
var ErrPushTimeout = errors.New("backend push timed out")

// ErrNoBackend - no backend is registered for the target port.
var ErrNoBackend = errors.New("no backend registered")

// DefaultPushTimeout bounds a backend round trip when the deployment does
// not configure its own deadline.
const DefaultPushTimeout = 500 * time.Millisecond

// Dispatcher fans pushes out to registered backends. It performs no
// retries; a missed activation boundary needs a new activation time, not a
// replay of the old push.
type Dispatcher struct {
	sync.Mutex
	timeout  time.Duration
	backends map[string]Backend
	bindings map[schedule.PortID]string
}

// NewDispatcher returns a Dispatcher whose pushes are bounded by timeout
// (DefaultPushTimeout if zero).
func NewDispatcher(timeout time.Duration) *Dispatcher {
	if timeout <= 0 {
		timeout = DefaultPushTimeout
	}
	return &Dispatcher{
		timeout:  timeout,
		backends: make(map[string]Backend),
		bindings: make(map[schedule.PortID]string),
	}
}

// Register adds a backend under its name.
func (d *Dispatcher) Register(b Backend) error {
	d.Lock()
	defer d.Unlock()
	if _, ok := d.backends[b.Name()]; ok {
		return fmt.Errorf("backend %q already registered", b.Name())
	}
	d.backends[b.Name()] = b
	glog.Infof("registered backend %q", b.Name())
	return nil
}

// Bind routes a port's pushes to the named backend. Unbound ports fall back
// to the sole registered backend.
func (d *Dispatcher) Bind(port schedule.PortID, backend string) error {
	d.Lock()
	defer d.Unlock()
	if _, ok := d.backends[backend]; !ok {
		return fmt.Errorf("bind port %s: %w: %q", port, ErrNoBackend, backend)
	}
	d.bindings[port] = backend
	return nil
}

func (d *Dispatcher) backendFor(port schedule.PortID) (Backend, error) {
	d.Lock()
	defer d.Unlock()
	if name, ok := d.bindings[port]; ok {
		return d.backends[name], nil
	}
	if len(d.backends) == 1 {
		for _, b := range d.backends {
			return b, nil
		}
	}
	return nil, fmt.Errorf("port %s: %w", port, ErrNoBackend)
}

// Push sends tl to the port's backend with the dispatcher deadline applied.
// Context expiry maps to ErrPushTimeout; backend rejections come back as
// *NackError.
func (d *Dispatcher) Push(ctx context.Context, tl *timeline.Timeline, activateAt time.Time) error {
	b, err := d.backendFor(tl.Port)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	err = b.Push(ctx, tl, activateAt)
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("backend %q: %w", b.Name(), ErrPushTimeout)
	}
	return fmt.Errorf("backend %q: %w", b.Name(), err)
}
