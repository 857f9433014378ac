package clock_test

import (
	"testing"
	"time"

	"github.com/mkrogh/auctiond/internal/clock"
)

func TestReal_Now(t *testing.T) {
	c := clock.Real{}
	before := time.Now()
	got := c.Now()
	after := time.Now()

	if got.Before(before) || got.After(after) {
		t.Errorf("Real.Now() = %v, want between %v and %v", got, before, after)
	}
}

func TestMock(t *testing.T) {
	fixed := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	m := clock.NewMock(fixed)

	if got := m.Now(); !got.Equal(fixed) {
		t.Errorf("Now() = %v, want %v", got, fixed)
	}

	m.Advance(90 * time.Second)
	if got := m.Now(); !got.Equal(fixed.Add(90 * time.Second)) {
		t.Errorf("Now() after Advance = %v, want %v", got, fixed.Add(90*time.Second))
	}

	reset := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	m.Set(reset)
	if got := m.Now(); !got.Equal(reset) {
		t.Errorf("Now() after Set = %v, want %v", got, reset)
	}
}
