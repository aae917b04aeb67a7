package hours

import (
	"testing"
	"time"
)

var campusHours = Policy{
	OpenFrom:   TimeOfDay{Hour: 9, Minute: 20},
	OpenUntil:  TimeOfDay{Hour: 16, Minute: 30},
	BreakFrom:  TimeOfDay{Hour: 14, Minute: 0},
	BreakUntil: TimeOfDay{Hour: 14, Minute: 45},
}

func at(hour, minute int) time.Time {
	return time.Date(2026, 9, 1, hour, minute, 0, 0, time.UTC)
}

func TestIsOpen(t *testing.T) {
	cases := []struct {
		hour   int
		minute int
		open   bool
	}{
		{9, 19, false},
		{9, 20, true},
		{12, 0, true},
		{13, 59, true},
		{14, 0, false},
		{14, 30, false},
		{14, 45, false},
		{14, 46, true},
		{16, 30, true},
		{16, 31, false},
		{8, 0, false},
		{20, 0, false},
	}

	for _, tt := range cases {
		if got := campusHours.IsOpen(at(tt.hour, tt.minute)); got != tt.open {
			t.Fatalf("IsOpen(%02d:%02d)=%v, want %v", tt.hour, tt.minute, got, tt.open)
		}
	}
}

func TestIsBreakWindowInclusiveBounds(t *testing.T) {
	if !campusHours.IsBreakWindow(at(14, 0)) {
		t.Fatal("expected 14:00 inside break window")
	}
	if !campusHours.IsBreakWindow(at(14, 45)) {
		t.Fatal("expected 14:45 inside break window")
	}
	if campusHours.IsBreakWindow(at(13, 59)) {
		t.Fatal("expected 13:59 outside break window")
	}
	if campusHours.IsBreakWindow(at(14, 46)) {
		t.Fatal("expected 14:46 outside break window")
	}
}
