package timebase_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opentsn/qbv-engine/pkg/timebase"
)

var start = time.Date(2025, time.March, 1, 12, 0, 0, 0, time.UTC)

func TestManualAdvanceFiresDueCallbacks(t *testing.T) {
	clock := timebase.NewManual(start)
	var fired []string
	clock.At(start.Add(10*time.Millisecond), func() { fired = append(fired, "a") })
	clock.At(start.Add(30*time.Millisecond), func() { fired = append(fired, "b") })

	clock.Advance(10 * time.Millisecond)
	assert.Equal(t, []string{"a"}, fired)
	clock.Advance(10 * time.Millisecond)
	assert.Equal(t, []string{"a"}, fired)
	clock.Advance(10 * time.Millisecond)
	assert.Equal(t, []string{"a", "b"}, fired)
	assert.Equal(t, start.Add(30*time.Millisecond), clock.Now())
}

func TestManualFiresInScheduleOrder(t *testing.T) {
	clock := timebase.NewManual(start)
	var fired []string
	clock.At(start.Add(20*time.Millisecond), func() { fired = append(fired, "late") })
	clock.At(start.Add(5*time.Millisecond), func() { fired = append(fired, "early") })
	clock.Advance(time.Second)
	assert.Equal(t, []string{"early", "late"}, fired)
}

func TestManualPastInstantFiresImmediately(t *testing.T) {
	clock := timebase.NewManual(start)
	fired := false
	clock.At(start.Add(-time.Second), func() { fired = true })
	assert.True(t, fired)
}

func TestManualStop(t *testing.T) {
	clock := timebase.NewManual(start)
	fired := false
	timer := clock.At(start.Add(time.Second), func() { fired = true })
	require.True(t, timer.Stop())
	clock.Advance(2 * time.Second)
	assert.False(t, fired)
	assert.False(t, timer.Stop())
}

func TestSystemClockNow(t *testing.T) {
	clock := timebase.System()
	before := time.Now()
	now := clock.Now()
	assert.False(t, now.Before(before))
}
