package window

import (
	"errors"
	"testing"
	"time"
)

func TestValidateRejectsUnalignedHop(t *testing.T) {
	spec := Sliding("rolling", 10*time.Minute, 42*time.Second, 30*time.Second)
	err := spec.Validate()
	if !errors.Is(err, ErrInvalidSpec) {
		t.Fatalf("expected ErrInvalidSpec, got %v", err)
	}
}

func TestValidateAcceptsDefaults(t *testing.T) {
	specs := []Spec{
		Sliding("rolling", 10*time.Minute, 30*time.Second, 30*time.Second),
		Sliding("score", time.Hour, 5*time.Minute, 30*time.Second),
		Tumbling("hourly", time.Hour, 30*time.Second),
		Tumbling("daily", 24*time.Hour, 30*time.Second),
	}
	for _, spec := range specs {
		if err := spec.Validate(); err != nil {
			t.Fatalf("spec %s: %v", spec.Name, err)
		}
	}
}

func TestSlidingMembershipCount(t *testing.T) {
	spec := Sliding("rolling", 10*time.Minute, 30*time.Second, 0)
	at := time.Date(2026, 3, 1, 12, 7, 13, 0, time.UTC)
	intervals := spec.Intervals(at)
	if len(intervals) != 20 {
		t.Fatalf("got %d intervals, want 20", len(intervals))
	}
	for i, iv := range intervals {
		if at.Before(iv.Start) || !at.Before(iv.End) {
			t.Fatalf("interval %d [%v, %v) does not contain %v", i, iv.Start, iv.End, at)
		}
		if i > 0 && !iv.Start.Equal(intervals[i-1].Start.Add(30*time.Second)) {
			t.Fatalf("intervals not in ascending hop order at %d", i)
		}
	}
}

func TestSlidingBoundaryBelongsToWindowStartingThere(t *testing.T) {
	spec := Sliding("rolling", 10*time.Minute, 30*time.Second, 0)
	boundary := time.Date(2026, 3, 1, 12, 10, 0, 0, time.UTC)
	intervals := spec.Intervals(boundary)
	if len(intervals) != 20 {
		t.Fatalf("got %d intervals, want 20", len(intervals))
	}
	last := intervals[len(intervals)-1]
	if !last.Start.Equal(boundary) {
		t.Fatalf("latest interval starts at %v, want %v", last.Start, boundary)
	}
	for _, iv := range intervals {
		if iv.End.Equal(boundary) {
			t.Fatalf("interval ending at the boundary must not contain it")
		}
	}
}

func TestTumblingSingleWindow(t *testing.T) {
	spec := Tumbling("hourly", time.Hour, 0)
	at := time.Date(2026, 3, 1, 9, 42, 11, 0, time.UTC)
	intervals := spec.Intervals(at)
	if len(intervals) != 1 {
		t.Fatalf("got %d intervals, want 1", len(intervals))
	}
	wantStart := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	if !intervals[0].Start.Equal(wantStart) || !intervals[0].End.Equal(wantStart.Add(time.Hour)) {
		t.Fatalf("interval = [%v, %v), want [%v, %v)", intervals[0].Start, intervals[0].End, wantStart, wantStart.Add(time.Hour))
	}
}
