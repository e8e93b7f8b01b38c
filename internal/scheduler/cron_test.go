package scheduler

import (
	"testing"
	"time"
)

func TestNextRunUTC(t *testing.T) {
	after := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	next, err := NextRun("0 9 * * *", "", after)
	if err != nil {
		t.Fatalf("NextRun: %v", err)
	}
	want := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Fatalf("next = %v, want %v", next, want)
	}
}

func TestNextRunTimezone(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	after := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	next, err := NextRun("30 14 * * *", "America/New_York", after)
	if err != nil {
		t.Fatalf("NextRun: %v", err)
	}
	if next.Location().String() != loc.String() {
		t.Fatalf("next location = %v, want %v", next.Location(), loc)
	}
	if next.Hour() != 14 || next.Minute() != 30 {
		t.Fatalf("next = %v, want 14:30 local", next)
	}
}

func TestNextRunInvalidExpression(t *testing.T) {
	if _, err := NextRun("not a cron expr", "", time.Now()); err == nil {
		t.Fatal("expected an error for a malformed cron expression")
	}
}

func TestNextRunInvalidTimezone(t *testing.T) {
	if _, err := NextRun("* * * * *", "Not/AZone", time.Now()); err == nil {
		t.Fatal("expected an error for an unknown timezone")
	}
}
