package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockAdvanceReleasesDueWaiters(t *testing.T) {
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	m := NewMock(start)

	short := m.After(time.Minute)
	long := m.After(time.Hour)

	m.Advance(5 * time.Minute)

	select {
	case at := <-short:
		assert.Equal(t, start.Add(5*time.Minute), at)
	default:
		t.Fatal("short waiter should have fired")
	}
	select {
	case <-long:
		t.Fatal("long waiter fired early")
	default:
	}

	m.Advance(time.Hour)
	select {
	case <-long:
	default:
		t.Fatal("long waiter should have fired")
	}
}

func TestMockAfterNonPositiveFiresImmediately(t *testing.T) {
	m := NewMock(time.Now())
	select {
	case <-m.After(0):
	default:
		t.Fatal("zero duration must fire immediately")
	}
}

func TestMockNowOnlyMovesOnAdvance(t *testing.T) {
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	m := NewMock(start)

	assert.Equal(t, start, m.Now())
	m.Advance(42 * time.Second)
	assert.Equal(t, start.Add(42*time.Second), m.Now())
}

func TestMockSetNeverGoesBackwards(t *testing.T) {
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	m := NewMock(start)

	m.Set(start.Add(time.Hour))
	require.Equal(t, start.Add(time.Hour), m.Now())

	m.Set(start)
	assert.Equal(t, start.Add(time.Hour), m.Now(), "Set ignores instants in the past")
}

func TestRealClockTicks(t *testing.T) {
	c := New()
	before := c.Now()
	<-c.After(time.Millisecond)
	assert.False(t, c.Now().Before(before))
}
