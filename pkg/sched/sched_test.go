package sched

import (
	"context"
	"sync"
	"testing"
	"time"
)

type stepClock struct {
	now time.Time
}

func (c *stepClock) Now() time.Time { return c.now }

func (c *stepClock) Sleep(ctx context.Context, d time.Duration) error {
	c.now = c.now.Add(d)
	return ctx.Err()
}

func TestDeadline_Expired(t *testing.T) {
	clk := &stepClock{now: time.Unix(0, 0)}
	d := NewDeadline(clk, 100*time.Millisecond)

	if d.Expired() {
		t.Fatal("deadline expired immediately")
	}
	clk.Sleep(context.Background(), 99*time.Millisecond)
	if d.Expired() {
		t.Error("deadline expired early")
	}
	clk.Sleep(context.Background(), time.Millisecond)
	if !d.Expired() {
		t.Error("deadline should expire at exactly the timeout")
	}
	if d.Remaining() > 0 {
		t.Errorf("Remaining() = %v after expiry", d.Remaining())
	}
}

func TestDeadline_ZeroNeverExpires(t *testing.T) {
	clk := &stepClock{now: time.Unix(0, 0)}
	d := NewDeadline(clk, 0)
	clk.Sleep(context.Background(), 24*time.Hour)
	if d.Expired() {
		t.Error("zero-timeout deadline expired")
	}
}

func TestSystemClock_SleepHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := System().Sleep(ctx, time.Hour); err != context.Canceled {
		t.Errorf("Sleep() = %v, want context.Canceled", err)
	}
}

func TestFlag_ConsumedOnce(t *testing.T) {
	var f Flag
	if f.Consume() {
		t.Fatal("Consume() on fresh flag returned true")
	}

	f.Raise()
	f.Raise()
	if !f.Raised() {
		t.Fatal("Raised() = false after Raise")
	}
	if f.Raises() != 1 {
		t.Errorf("Raises() = %d, want 1 for a repeated raise", f.Raises())
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	consumed := 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if f.Consume() {
				mu.Lock()
				consumed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if consumed != 1 {
		t.Errorf("raise consumed %d times, want 1", consumed)
	}
	if f.Raised() {
		t.Error("flag still raised after Consume")
	}
}

func TestFlag_Nil(t *testing.T) {
	var f *Flag
	f.Raise()
	f.Clear()
	if f.Raised() {
		t.Error("nil flag Raised() returned true")
	}
	if f.Consume() {
		t.Error("nil flag Consume() returned true")
	}
	if n := f.Raises(); n != 0 {
		t.Errorf("nil flag Raises() = %d", n)
	}
}
