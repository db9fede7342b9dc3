package timeline_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opentsn/qbv-engine/pkg/schedule"
	"github.com/opentsn/qbv-engine/pkg/timeline"
)

var baseTime = time.Date(2025, time.March, 1, 0, 0, 0, 0, time.UTC)

func mustSchedule(t *testing.T, cycle, ext time.Duration, entries []schedule.ControlEntry) *schedule.GateSchedule {
	t.Helper()
	s, err := schedule.New("sw0p1", cycle, ext, baseTime, entries)
	require.NoError(t, err)
	return s
}

func TestCompileTwoEntryCycle(t *testing.T) {
	s := mustSchedule(t, 5000*time.Nanosecond, 0, []schedule.ControlEntry{
		{Gates: 0xff, Interval: 1000 * time.Nanosecond},
		{Gates: 0x01, Interval: 4000 * time.Nanosecond},
	})
	tl, warnings, err := timeline.Compile(s, timeline.GuardBand{})
	require.NoError(t, err)
	assert.Empty(t, warnings)
	require.Len(t, tl.Transitions, 2)
	assert.Equal(t, time.Duration(0), tl.Transitions[0].Offset)
	assert.Equal(t, schedule.GateStates(0xff), tl.Transitions[0].Gates)
	assert.Equal(t, 1000*time.Nanosecond, tl.Transitions[1].Offset)
	assert.Equal(t, schedule.GateStates(0x01), tl.Transitions[1].Gates)
	assert.Equal(t, 5000*time.Nanosecond, tl.CycleTime)
	// the final state wraps back to offset 0 at the cycle boundary
	assert.Equal(t, 5000*time.Nanosecond, tl.TotalGap())
}

func TestCompileGapSumEqualsCycleTime(t *testing.T) {
	testCases := []struct {
		name    string
		cycle   time.Duration
		entries []schedule.ControlEntry
	}{
		{
			name:    "single entry",
			cycle:   1 * time.Millisecond,
			entries: []schedule.ControlEntry{{Gates: 0xff, Interval: 1 * time.Millisecond}},
		},
		{
			name:  "uneven entries",
			cycle: 7777 * time.Nanosecond,
			entries: []schedule.ControlEntry{
				{Gates: 0x81, Interval: 1111 * time.Nanosecond},
				{Gates: 0x42, Interval: 2222 * time.Nanosecond},
				{Gates: 0x24, Interval: 3333 * time.Nanosecond},
				{Gates: 0x18, Interval: 1111 * time.Nanosecond},
			},
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			s := mustSchedule(t, tc.cycle, 0, tc.entries)
			tl, _, err := timeline.Compile(s, timeline.GuardBand{})
			require.NoError(t, err)
			assert.Equal(t, tc.cycle, tl.TotalGap())
			for i := 1; i < len(tl.Transitions); i++ {
				assert.Greater(t, tl.Transitions[i].Offset, tl.Transitions[i-1].Offset)
				assert.Less(t, tl.Transitions[i].Offset, tc.cycle)
			}
		})
	}
}

func TestCompileDeterministic(t *testing.T) {
	s := mustSchedule(t, 6000*time.Nanosecond, 1000*time.Nanosecond, []schedule.ControlEntry{
		{Gates: 0xff, Interval: 2000 * time.Nanosecond},
		{Gates: 0x03, Interval: 3000 * time.Nanosecond},
	})
	gb := timeline.GuardBand{Duration: 300 * time.Nanosecond, Queues: 0x04}
	a, wa, err := timeline.Compile(s, gb)
	require.NoError(t, err)
	b, wb, err := timeline.Compile(s, gb)
	require.NoError(t, err)
	assert.Equal(t, a.Transitions, b.Transitions)
	assert.Equal(t, wa, wb)
}

func TestCompileGuardBand(t *testing.T) {
	// queue 7 closes at the 2000ns boundary; 1000ns of slack exists
	s := mustSchedule(t, 6000*time.Nanosecond, 1000*time.Nanosecond, []schedule.ControlEntry{
		{Gates: 0xff, Interval: 2000 * time.Nanosecond},
		{Gates: 0x01, Interval: 4000 * time.Nanosecond},
	})
	tl, warnings, err := timeline.Compile(s, timeline.GuardBand{
		Duration: 500 * time.Nanosecond,
		Queues:   0x80,
	})
	require.NoError(t, err)
	assert.Empty(t, warnings)
	require.Len(t, tl.Transitions, 3)
	guard := tl.Transitions[1]
	assert.True(t, guard.Guard)
	assert.Equal(t, 1500*time.Nanosecond, guard.Offset)
	assert.Equal(t, schedule.GateStates(0x7f), guard.Gates)
	assert.False(t, tl.Transitions[2].Guard)
	assert.Equal(t, 2000*time.Nanosecond, tl.Transitions[2].Offset)
}

func TestCompileGuardBandNoSlack(t *testing.T) {
	// durations fill the whole cycle, no extension: guard cannot be carved
	s := mustSchedule(t, 5000*time.Nanosecond, 0, []schedule.ControlEntry{
		{Gates: 0xff, Interval: 1000 * time.Nanosecond},
		{Gates: 0x01, Interval: 4000 * time.Nanosecond},
	})
	tl, warnings, err := timeline.Compile(s, timeline.GuardBand{
		Duration: 500 * time.Nanosecond,
		Queues:   0x80,
	})
	require.NoError(t, err)
	require.Len(t, warnings, 1)
	assert.Equal(t, timeline.InsufficientGuardBand, warnings[0].Code)
	assert.Equal(t, 7, warnings[0].Queue)
	// schedule still compiles, plain expansion only
	require.Len(t, tl.Transitions, 2)
}

func TestCompileGuardSlackSharedAcrossCloses(t *testing.T) {
	// queues 2/3 close twice per cycle: once mid-cycle, once at the wrap.
	// 300ns of slack covers the first 200ns guard fully, the second only
	// gets the remaining 100ns.
	s := mustSchedule(t, 4000*time.Nanosecond, 300*time.Nanosecond, []schedule.ControlEntry{
		{Gates: 0x01, Interval: 1000 * time.Nanosecond},
		{Gates: 0x0c, Interval: 1000 * time.Nanosecond},
		{Gates: 0x01, Interval: 500 * time.Nanosecond},
		{Gates: 0x0c, Interval: 1500 * time.Nanosecond},
	})
	tl, warnings, err := timeline.Compile(s, timeline.GuardBand{
		Duration: 200 * time.Nanosecond,
		Queues:   0x0c,
	})
	require.NoError(t, err)
	assert.Empty(t, warnings)
	require.Len(t, tl.Transitions, 6)
	first := tl.Transitions[2]
	assert.True(t, first.Guard)
	assert.Equal(t, 1800*time.Nanosecond, first.Offset)
	assert.Equal(t, schedule.GateStates(0x00), first.Gates)
	second := tl.Transitions[5]
	assert.True(t, second.Guard)
	assert.Equal(t, 3900*time.Nanosecond, second.Offset)
}

func TestCompileNilSchedule(t *testing.T) {
	tl, _, err := timeline.Compile(nil, timeline.GuardBand{})
	assert.Nil(t, tl)
	assert.Error(t, err)
}

func TestStateAt(t *testing.T) {
	s := mustSchedule(t, 5000*time.Nanosecond, 0, []schedule.ControlEntry{
		{Gates: 0xff, Interval: 1000 * time.Nanosecond},
		{Gates: 0x01, Interval: 4000 * time.Nanosecond},
	})
	tl, _, err := timeline.Compile(s, timeline.GuardBand{})
	require.NoError(t, err)
	assert.Equal(t, schedule.GateStates(0xff), tl.StateAt(0))
	assert.Equal(t, schedule.GateStates(0xff), tl.StateAt(999*time.Nanosecond))
	assert.Equal(t, schedule.GateStates(0x01), tl.StateAt(1000*time.Nanosecond))
	assert.Equal(t, schedule.GateStates(0x01), tl.StateAt(4999*time.Nanosecond))
}
