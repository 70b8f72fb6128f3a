package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMockClock_AdvanceFiresDueTimers(t *testing.T) {
	start := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	c := NewMockClock(start)

	var fired []string
	c.AfterFunc(10*time.Minute, func() { fired = append(fired, "ten") })
	c.AfterFunc(5*time.Minute, func() { fired = append(fired, "five") })
	c.AfterFunc(time.Hour, func() { fired = append(fired, "hour") })

	c.Advance(10 * time.Minute)

	assert.Equal(t, []string{"five", "ten"}, fired)
	assert.Equal(t, start.Add(10*time.Minute), c.Now())
	assert.Equal(t, []time.Time{start.Add(time.Hour)}, c.Pending())
}

func TestMockClock_StoppedTimerDoesNotFire(t *testing.T) {
	c := NewMockClock(time.Now())

	fired := false
	timer := c.AfterFunc(time.Second, func() { fired = true })

	assert.True(t, timer.Stop())
	assert.False(t, timer.Stop(), "second stop reports inactive")

	c.Advance(time.Minute)
	assert.False(t, fired)
	assert.Empty(t, c.Pending())
}

func TestMockClock_CallbackCanReschedule(t *testing.T) {
	c := NewMockClock(time.Now())

	count := 0
	var tick func()
	tick = func() {
		count++
		c.AfterFunc(time.Minute, tick)
	}
	c.AfterFunc(time.Minute, tick)

	c.Advance(time.Minute)
	c.Advance(time.Minute)
	c.Advance(time.Minute)

	assert.Equal(t, 3, count)
	assert.Len(t, c.Pending(), 1)
}

func TestMockClock_SetBackwardsDoesNotFire(t *testing.T) {
	start := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	c := NewMockClock(start)

	fired := false
	c.AfterFunc(time.Minute, func() { fired = true })

	c.Set(start.Add(-time.Hour))
	assert.False(t, fired)
	assert.Equal(t, start.Add(-time.Hour), c.Now())

	c.Set(start.Add(time.Minute))
	assert.True(t, fired)
}
