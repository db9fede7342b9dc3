package schedule_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opentsn/qbv-engine/pkg/schedule"
)

var baseTime = time.Date(2025, time.March, 1, 0, 0, 0, 0, time.UTC)

func TestNewCopiesEntries(t *testing.T) {
	entries := []schedule.ControlEntry{
		{Gates: 0xff, Interval: 1000 * time.Nanosecond},
		{Gates: 0x01, Interval: 4000 * time.Nanosecond},
	}
	s, err := schedule.New("sw0p1", 5000*time.Nanosecond, 0, baseTime, entries)
	require.NoError(t, err)
	entries[0].Gates = 0x00
	assert.Equal(t, schedule.GateStates(0xff), s.Entries[0].Gates)
	assert.Equal(t, 5000*time.Nanosecond, s.IntervalSum())
}

func TestNewMalformed(t *testing.T) {
	open := schedule.GateStates(0xff)
	testCases := []struct {
		name      string
		port      schedule.PortID
		cycle     time.Duration
		extension time.Duration
		entries   []schedule.ControlEntry
		field     string
	}{
		{
			name:    "empty port",
			port:    "",
			cycle:   1000,
			entries: []schedule.ControlEntry{{Gates: open, Interval: 1000}},
			field:   "port",
		},
		{
			name:    "zero cycle time",
			port:    "sw0p1",
			cycle:   0,
			entries: []schedule.ControlEntry{{Gates: open, Interval: 1000}},
			field:   "cycle-time",
		},
		{
			name:      "negative extension",
			port:      "sw0p1",
			cycle:     1000,
			extension: -1,
			entries:   []schedule.ControlEntry{{Gates: open, Interval: 1000}},
			field:     "cycle-time-extension",
		},
		{
			name:    "no entries",
			port:    "sw0p1",
			cycle:   1000,
			entries: nil,
			field:   "gate-control-list",
		},
		{
			name:    "zero interval entry",
			port:    "sw0p1",
			cycle:   1000,
			entries: []schedule.ControlEntry{{Gates: open, Interval: 0}},
			field:   "gate-control-list[0].time-interval",
		},
		{
			name:  "durations exceed declared cycle time",
			port:  "sw0p1",
			cycle: 5000 * time.Nanosecond,
			entries: []schedule.ControlEntry{
				{Gates: open, Interval: 2000 * time.Nanosecond},
				{Gates: 0x01, Interval: 4000 * time.Nanosecond},
			},
			field: "cycle-time",
		},
		{
			name:      "durations exceed cycle plus extension",
			port:      "sw0p1",
			cycle:     5000 * time.Nanosecond,
			extension: 500 * time.Nanosecond,
			entries: []schedule.ControlEntry{
				{Gates: open, Interval: 6000 * time.Nanosecond},
			},
			field: "cycle-time-extension",
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			s, err := schedule.New(tc.port, tc.cycle, tc.extension, baseTime, tc.entries)
			assert.Nil(t, s)
			require.Error(t, err)
			var malformed *schedule.MalformedError
			require.ErrorAs(t, err, &malformed)
			assert.Equal(t, tc.field, malformed.Field)
		})
	}
}

func TestNewAcceptsSumUnderCycleWithExtension(t *testing.T) {
	s, err := schedule.New("sw0p1", 5000*time.Nanosecond, 1000*time.Nanosecond, baseTime,
		[]schedule.ControlEntry{{Gates: 0x0f, Interval: 4500 * time.Nanosecond}})
	require.NoError(t, err)
	assert.Equal(t, 4500*time.Nanosecond, s.IntervalSum())
}

func TestGateStates(t *testing.T) {
	g := schedule.GateStates(0x05)
	assert.True(t, g.Open(0))
	assert.False(t, g.Open(1))
	assert.True(t, g.Open(2))
	assert.Equal(t, schedule.GateStates(0x04), g.WithoutQueues(0x01))
	assert.Equal(t, "0x05", g.String())
}

func TestPortQueueMask(t *testing.T) {
	assert.Equal(t, schedule.GateStates(0xff), schedule.Port{Queues: 8}.QueueMask())
	assert.Equal(t, schedule.GateStates(0x0f), schedule.Port{Queues: 4}.QueueMask())
}
