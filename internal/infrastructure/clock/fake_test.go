// ABOUTME: Tests for the deterministic fake clock
// ABOUTME: Verifies timers, tickers, and waiter synchronization
package clock

import (
	"testing"
	"time"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestFake_Timer(t *testing.T) {
	c := Fake(epoch)
	tm := c.NewTimer(2 * time.Second)
	ch := tm.C

	c.Advance(time.Second)
	select {
	case <-ch:
		t.Fatal("fired before deadline")
	default:
	}

	c.Advance(time.Second)
	select {
	case got := <-ch:
		if !got.Equal(epoch.Add(2 * time.Second)) {
			t.Errorf("unexpected fire time %v", got)
		}
	default:
		t.Fatal("did not fire at deadline")
	}

	if c.Waiters() != 0 {
		t.Errorf("expected no pending waiters, got %d", c.Waiters())
	}
	if tm.Stop() {
		t.Error("Stop after firing should report false")
	}
}

func TestFake_TimerNonPositive(t *testing.T) {
	c := Fake(epoch)
	select {
	case <-c.NewTimer(0).C:
	default:
		t.Fatal("NewTimer(0) should be ready immediately")
	}
	if c.Waiters() != 0 {
		t.Errorf("immediate timer registered a waiter")
	}
}

func TestFake_TimerStop(t *testing.T) {
	c := Fake(epoch)
	tm := c.NewTimer(time.Minute)
	if c.Waiters() != 1 {
		t.Fatalf("expected 1 pending waiter, got %d", c.Waiters())
	}

	if !tm.Stop() {
		t.Error("first Stop should report true")
	}
	if tm.Stop() {
		t.Error("second Stop should report false")
	}
	if c.Waiters() != 0 {
		t.Errorf("stopped timer still pending")
	}

	c.Advance(time.Hour)
	select {
	case <-tm.C:
		t.Fatal("stopped timer fired")
	default:
	}
}

func TestFake_Ticker(t *testing.T) {
	c := Fake(epoch)
	tk := c.NewTicker(10 * time.Millisecond)
	defer tk.Stop()

	for i := 0; i < 3; i++ {
		c.Advance(10 * time.Millisecond)
		select {
		case <-tk.C:
		default:
			t.Fatalf("tick %d missing", i)
		}
	}

	tk.Stop()
	if c.Waiters() != 0 {
		t.Errorf("stopped ticker should not count as waiter")
	}
}

func TestFake_BlockUntil(t *testing.T) {
	c := Fake(epoch)
	done := make(chan struct{})

	go func() {
		<-c.NewTimer(time.Minute).C
		close(done)
	}()

	c.BlockUntil(1)
	c.Advance(time.Minute)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sleeper was not released")
	}
}
