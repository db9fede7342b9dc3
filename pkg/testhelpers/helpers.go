package testhelpers

import (
	"time"

	"github.com/opentsn/qbv-engine/pkg/metrics"
	"github.com/opentsn/qbv-engine/pkg/schedule"
)

// SetupTests registers the metric collectors
func SetupTests() func() {
	metrics.RegisterMetrics()
	return TeardownTests
}

// TeardownTests ...
func TeardownTests() {}

// EightQueuePort is a typical full-featured bridge port for tests.
func EightQueuePort(id string) schedule.Port {
	return schedule.Port{
		ID:           schedule.PortID(id),
		Queues:       8,
		MinInterval:  100 * time.Nanosecond,
		MaxGCLLength: 16,
	}
}
