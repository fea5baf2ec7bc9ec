package schedule

import (
	"testing"
	"time"
)

func at(hour int) time.Time {
	return time.Date(2026, 3, 10, hour, 30, 0, 0, time.UTC)
}

func TestInQuietHours(t *testing.T) {
	quiet := []int{0, 1, 2, 3}
	if !InQuietHours(at(2), quiet) {
		t.Fatalf("02:30 should be quiet")
	}
	if InQuietHours(at(4), quiet) {
		t.Fatalf("04:30 should not be quiet")
	}
	if InQuietHours(at(2), nil) {
		t.Fatalf("no quiet hours configured means never quiet")
	}
}

func TestNextWindow(t *testing.T) {
	quiet := []int{0, 1, 2, 3}
	next := NextWindow(at(1), quiet)
	if next.Hour() != 4 {
		t.Fatalf("next window from 01:30 should be 04:30, got %v", next)
	}
	// Already outside quiet hours: now is the window.
	now := at(12)
	if got := NextWindow(now, quiet); !got.Equal(now) {
		t.Fatalf("expected now, got %v", got)
	}
}
