package clock

import (
	"testing"
	"time"
)

func TestRealClock_Now(t *testing.T) {
	c := RealClock{}
	before := time.Now()
	now := c.Now()
	after := time.Now()

	if now.Before(before) || now.After(after) {
		t.Errorf("Now() = %v, expected between %v and %v", now, before, after)
	}
}

func TestRealClock_NewTicker(t *testing.T) {
	c := RealClock{}
	ticker := c.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	select {
	case <-ticker.C():
	case <-time.After(time.Second):
		t.Error("ticker did not fire")
	}
}

func TestMockClock_Advance(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewMockClock(start)

	c.Advance(1500 * time.Millisecond)
	if got := c.Since(start); got != 1500*time.Millisecond {
		t.Errorf("Since() = %v, expected 1.5s", got)
	}

	c.Set(start)
	if !c.Now().Equal(start) {
		t.Errorf("Set() did not move the clock, now %v", c.Now())
	}
}

func TestMockTicker_Fires(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewMockClock(start)
	ticker := c.NewTicker(time.Second)

	c.Advance(500 * time.Millisecond)
	select {
	case <-ticker.C():
		t.Fatal("ticker fired before its period")
	default:
	}

	c.Advance(500 * time.Millisecond)
	select {
	case tick := <-ticker.C():
		if !tick.Equal(start.Add(time.Second)) {
			t.Errorf("unexpected tick time %v", tick)
		}
	default:
		t.Fatal("ticker did not fire")
	}
}

func TestMockTicker_DropsWhenSlow(t *testing.T) {
	c := NewMockClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	ticker := c.NewTicker(time.Second)

	c.Advance(time.Second)
	c.Advance(time.Second)
	<-ticker.C()
	select {
	case <-ticker.C():
		t.Fatal("second tick should have been dropped")
	default:
	}
}

func TestMockTicker_Stop(t *testing.T) {
	c := NewMockClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	ticker := c.NewTicker(time.Second).(*MockTicker)
	ticker.Stop()
	if !ticker.Stopped() {
		t.Error("ticker should report stopped")
	}
	c.Advance(2 * time.Second)
	select {
	case <-ticker.C():
		t.Fatal("stopped ticker fired")
	default:
	}
}
