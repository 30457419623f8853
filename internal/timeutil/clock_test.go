package timeutil

import (
	"testing"
	"time"
)

func TestRealClock(t *testing.T) {
	var c Clock = RealClock{}
	before := time.Now()
	now := c.Now()
	if now.Before(before) {
		t.Errorf("Now() = %v, before %v", now, before)
	}
	if c.Since(before) < 0 {
		t.Error("Since() returned a negative duration")
	}
}

func TestOrReal(t *testing.T) {
	if _, ok := OrReal(nil).(RealClock); !ok {
		t.Error("OrReal(nil) is not a RealClock")
	}
	mock := NewMockClock(time.Unix(0, 0))
	if OrReal(mock) != Clock(mock) {
		t.Error("OrReal did not return the given clock")
	}
}

func TestMockClock(t *testing.T) {
	start := time.Date(2024, 5, 12, 8, 0, 0, 0, time.UTC)
	c := NewMockClock(start)

	if got := c.Now(); !got.Equal(start) {
		t.Errorf("Now() = %v, want %v", got, start)
	}

	c.Advance(90 * time.Second)
	if got := c.Since(start); got != 90*time.Second {
		t.Errorf("Since() = %v, want 90s", got)
	}

	later := start.Add(time.Hour)
	c.Set(later)
	if got := c.Now(); !got.Equal(later) {
		t.Errorf("Now() after Set = %v, want %v", got, later)
	}
}

func TestMockClock_AutoStep(t *testing.T) {
	start := time.Date(2024, 5, 12, 8, 0, 0, 0, time.UTC)
	c := NewMockClock(start)
	c.AutoStep(time.Second)

	first := c.Now()
	second := c.Now()
	if !first.Equal(start) || !second.Equal(start.Add(time.Second)) {
		t.Errorf("Now() sequence = %v, %v", first, second)
	}
}
