package scheduler

import (
	"testing"
	"time"
)

func TestParseCron_Wildcard(t *testing.T) {
	s, err := ParseSpec("* * * * *")
	if err != nil {
		t.Fatalf("ParseSpec: %v", err)
	}
	if len(s.minute) != 60 || len(s.hour) != 24 {
		t.Fatalf("wildcard fields not fully expanded: %d minutes, %d hours", len(s.minute), len(s.hour))
	}
}

func TestParseCron_Step(t *testing.T) {
	s, err := ParseSpec("*/15 * * * *")
	if err != nil {
		t.Fatalf("ParseSpec: %v", err)
	}
	want := []int{0, 15, 30, 45}
	if len(s.minute) != len(want) {
		t.Fatalf("minute = %v, want %v", s.minute, want)
	}
	for i, v := range want {
		if s.minute[i] != v {
			t.Fatalf("minute[%d] = %d, want %d", i, s.minute[i], v)
		}
	}
}

func TestParseCron_RangeAndList(t *testing.T) {
	s, err := ParseSpec("0 9-17 * * 1,3,5")
	if err != nil {
		t.Fatalf("ParseSpec: %v", err)
	}
	if len(s.hour) != 9 {
		t.Fatalf("hour range len = %d, want 9", len(s.hour))
	}
	if len(s.dayOfWeek) != 3 {
		t.Fatalf("dayOfWeek list len = %d, want 3", len(s.dayOfWeek))
	}
}

func TestParseCron_WrongFieldCount(t *testing.T) {
	if _, err := ParseSpec("* * * *"); err == nil {
		t.Fatalf("expected error for 4-field expression")
	}
}

func TestParseCron_OutOfRange(t *testing.T) {
	if _, err := ParseSpec("60 * * * *"); err == nil {
		t.Fatalf("expected error for out-of-range minute")
	}
}

func TestParseSpec_OneShot(t *testing.T) {
	s, err := ParseSpec("2026-03-05T14:30:00Z")
	if err != nil {
		t.Fatalf("ParseSpec: %v", err)
	}
	if !s.IsOneShot() {
		t.Fatalf("expected one-shot schedule")
	}
}

func TestSchedule_Next_Cron(t *testing.T) {
	s, err := ParseSpec("30 14 * * *")
	if err != nil {
		t.Fatalf("ParseSpec: %v", err)
	}
	now := time.Date(2026, 3, 5, 10, 0, 0, 0, time.UTC)
	next := s.Next(now)
	want := time.Date(2026, 3, 5, 14, 30, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Fatalf("Next = %v, want %v", next, want)
	}
}

func TestSchedule_Next_OneShotFuture(t *testing.T) {
	s, _ := ParseSpec("2026-03-05T14:30:00Z")
	now := time.Date(2026, 3, 5, 10, 0, 0, 0, time.UTC)
	next := s.Next(now)
	want := time.Date(2026, 3, 5, 14, 30, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Fatalf("Next = %v, want %v", next, want)
	}
}

func TestSchedule_Next_OneShotPast(t *testing.T) {
	s, _ := ParseSpec("2026-03-05T14:30:00Z")
	now := time.Date(2026, 3, 6, 15, 0, 0, 0, time.UTC)
	if next := s.Next(now); !next.IsZero() {
		t.Fatalf("expected zero time for elapsed one-shot, got %v", next)
	}
}
