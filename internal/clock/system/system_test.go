// Package system exercises the real-time clock adapter.
package system

import (
	"context"
	"errors"
	"testing"
	"time"
)

// TestClockNowUTC ensures the clock returns UTC timestamps.
func TestClockNowUTC(t *testing.T) {
	t.Parallel()

	clk := New()
	before := time.Now().UTC().Add(-time.Second)
	got := clk.Now()
	after := time.Now().UTC().Add(time.Second)

	if got.Location() != time.UTC {
		t.Fatalf("expected UTC location, got %v", got.Location())
	}
	if got.Before(before) || got.After(after) {
		t.Fatalf("expected %v to be between %v and %v", got, before, after)
	}
}

// TestClockSleepHonorsContext checks a canceled context interrupts the wait.
func TestClockSleepHonorsContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	err := New().Sleep(ctx, time.Minute)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Fatal("sleep did not return promptly")
	}
}

// TestClockSleepZero returns immediately for non-positive durations.
func TestClockSleepZero(t *testing.T) {
	t.Parallel()

	if err := New().Sleep(context.Background(), 0); err != nil {
		t.Fatalf("Sleep(0) error = %v", err)
	}
}
