package reminder

import (
	"errors"
	"testing"
	"time"
)

func TestResolveInterval(t *testing.T) {
	t.Parallel()
	s := DefaultSettings(1)
	tests := []struct {
		name     string
		p        Priority
		untilDue time.Duration
		want     int
	}{
		{name: "high far", p: PriorityHigh, untilDue: 3 * time.Hour, want: 30},
		{name: "medium far", p: PriorityMedium, untilDue: 3 * time.Hour, want: 60},
		{name: "low far", p: PriorityLow, untilDue: 3 * time.Hour, want: 120},
		{name: "unknown uses low", p: Priority("urgent-ish"), untilDue: 3 * time.Hour, want: 120},
		{name: "high urgent", p: PriorityHigh, untilDue: 45 * time.Minute, want: 15},
		{name: "boundary is urgent", p: PriorityMedium, untilDue: time.Hour, want: 30},
		{name: "overdue is urgent", p: PriorityLow, untilDue: -10 * time.Minute, want: 60},
		{name: "no deadline", p: PriorityHigh, untilDue: NoDeadline, want: 30},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := ResolveInterval(tt.p, s, tt.untilDue)
			if err != nil {
				t.Fatalf("ResolveInterval error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("ResolveInterval = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestResolveIntervalFloorsAtOneMinute(t *testing.T) {
	t.Parallel()
	s := DefaultSettings(1)
	s.HighIntervalMinutes = 1
	s.UrgencyFactor = 4
	got, err := ResolveInterval(PriorityHigh, s, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if got != 1 {
		t.Fatalf("ResolveInterval = %d, want 1", got)
	}
}

func TestResolveIntervalMonotonic(t *testing.T) {
	t.Parallel()
	s := DefaultSettings(1)
	for _, p := range []Priority{PriorityHigh, PriorityMedium, PriorityLow} {
		prev := int(^uint(0) >> 1)
		for _, d := range []time.Duration{48 * time.Hour, 2 * time.Hour, 61 * time.Minute, time.Hour, 10 * time.Minute, -time.Hour} {
			got, err := ResolveInterval(p, s, d)
			if err != nil {
				t.Fatal(err)
			}
			if got > prev {
				t.Fatalf("%s: interval grew from %d to %d at %v", p, prev, got, d)
			}
			prev = got
		}
	}
}

func TestResolveIntervalRejectsNonPositive(t *testing.T) {
	t.Parallel()
	s := DefaultSettings(1)
	s.MediumIntervalMinutes = 0
	_, err := ResolveInterval(PriorityMedium, s, 5*time.Hour)
	var ce *ConfigError
	if !errors.As(err, &ce) {
		t.Fatalf("err = %v, want *ConfigError", err)
	}
	if ce.Field != "medium_interval_minutes" || !errors.Is(err, ErrNonPositive) {
		t.Fatalf("unexpected config error: %+v", ce)
	}

	s = DefaultSettings(1)
	s.UrgencyFactor = 0
	if _, err := ResolveInterval(PriorityHigh, s, 5*time.Minute); !IsConfigError(err) {
		t.Fatalf("zero urgency factor: err = %v, want config error", err)
	}
}
