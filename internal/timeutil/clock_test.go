package timeutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRealClock_Ticker(t *testing.T) {
	tk := RealClock{}.NewTicker(5 * time.Millisecond)
	defer tk.Stop()

	select {
	case <-tk.C():
	case <-time.After(time.Second):
		t.Fatal("ticker did not fire")
	}
}

func TestMockClock_AdvanceFiresDueTickers(t *testing.T) {
	start := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	c := NewMockClock(start)
	tk := c.NewTicker(50 * time.Millisecond)

	c.Advance(20 * time.Millisecond)
	select {
	case <-tk.C():
		t.Fatal("fired before its interval")
	default:
	}

	c.Advance(30 * time.Millisecond)
	select {
	case got := <-tk.C():
		assert.Equal(t, start.Add(50*time.Millisecond), got)
	default:
		t.Fatal("did not fire at its interval")
	}
	assert.Equal(t, 50*time.Millisecond, c.Since(start))
}

func TestMockClock_DropsUnreadTicks(t *testing.T) {
	c := NewMockClock(time.Time{})
	tk := c.NewTicker(time.Millisecond)

	c.Advance(time.Millisecond)
	c.Advance(time.Millisecond)
	<-tk.C()
	select {
	case <-tk.C():
		t.Fatal("second tick should have been dropped")
	default:
	}
}

func TestMockClock_Stop(t *testing.T) {
	c := NewMockClock(time.Time{})
	tk := c.NewTicker(time.Millisecond)
	require.Equal(t, 1, c.Tickers())

	tk.Stop()
	assert.Equal(t, 0, c.Tickers())
	c.Advance(time.Second)
	select {
	case <-tk.C():
		t.Fatal("stopped ticker fired")
	default:
	}
}
