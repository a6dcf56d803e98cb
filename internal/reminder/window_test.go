package reminder

import (
	"testing"
	"time"
)

func at(h, m int) time.Time {
	return time.Date(2026, 3, 10, h, m, 0, 0, time.UTC)
}

func TestIsQuietHours(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name       string
		now        time.Time
		start, end string
		want       bool
	}{
		{name: "wrap inside late", now: at(23, 30), start: "23:00", end: "07:00", want: true},
		{name: "wrap inside early", now: at(3, 0), start: "23:00", end: "07:00", want: true},
		{name: "wrap start inclusive", now: at(23, 0), start: "23:00", end: "07:00", want: true},
		{name: "wrap end inclusive", now: at(7, 0), start: "23:00", end: "07:00", want: true},
		{name: "wrap outside", now: at(12, 0), start: "23:00", end: "07:00", want: false},
		{name: "wrap just after end", now: at(7, 1), start: "23:00", end: "07:00", want: false},
		{name: "plain inside", now: at(13, 30), start: "13:00", end: "14:00", want: true},
		{name: "plain outside", now: at(12, 59), start: "13:00", end: "14:00", want: false},
		{name: "single minute", now: at(13, 0), start: "13:00", end: "13:00", want: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := IsQuietHours(tt.now, tt.start, tt.end)
			if err != nil {
				t.Fatalf("IsQuietHours error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("IsQuietHours(%s, %s, %s) = %v, want %v", tt.now.Format("15:04"), tt.start, tt.end, got, tt.want)
			}
		})
	}
}

func TestIsQuietHoursIgnoresSeconds(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 3, 10, 7, 0, 59, 0, time.UTC)
	got, err := IsQuietHours(now, "23:00", "07:00")
	if err != nil || !got {
		t.Fatalf("IsQuietHours(07:00:59) = %v, %v; want true", got, err)
	}
}

func TestIsQuietHoursMalformed(t *testing.T) {
	t.Parallel()
	for _, bad := range [][2]string{{"25:00", "07:00"}, {"23:00", "7"}, {"", "07:00"}, {"ab:cd", "07:00"}, {"23:60", "07:00"}} {
		if _, err := IsQuietHours(at(1, 0), bad[0], bad[1]); err == nil {
			t.Fatalf("IsQuietHours(%q, %q) returned no error", bad[0], bad[1])
		}
	}
}

func TestResumeAt(t *testing.T) {
	t.Parallel()
	w, err := ParseQuietWindow("23:00", "07:00")
	if err != nil {
		t.Fatal(err)
	}
	tests := []struct {
		now  time.Time
		want time.Time
	}{
		{now: at(23, 30), want: time.Date(2026, 3, 11, 7, 1, 0, 0, time.UTC)},
		{now: at(3, 0), want: at(7, 1)},
		{now: time.Date(2026, 3, 10, 7, 0, 30, 0, time.UTC), want: at(7, 1)},
	}
	for _, tt := range tests {
		got := w.ResumeAt(tt.now)
		if !got.Equal(tt.want) {
			t.Fatalf("ResumeAt(%v) = %v, want %v", tt.now, got, tt.want)
		}
		if w.Contains(got) {
			t.Fatalf("ResumeAt(%v) = %v is still quiet", tt.now, got)
		}
	}
}

func TestPeriodOf(t *testing.T) {
	t.Parallel()
	tests := []struct {
		h    int
		want TimeOfDay
	}{
		{4, Evening}, {5, Morning}, {11, Morning}, {12, Afternoon}, {16, Afternoon}, {17, Evening}, {23, Evening},
	}
	for _, tt := range tests {
		if got := PeriodOf(at(tt.h, 0)); got != tt.want {
			t.Fatalf("PeriodOf(%02d:00) = %s, want %s", tt.h, got, tt.want)
		}
	}
}
