package reminder

import (
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestDefaultSettingsValid(t *testing.T) {
	t.Parallel()
	if err := DefaultSettings(7).Validate(); err != nil {
		t.Fatalf("default settings invalid: %v", err)
	}
}

func TestDefaultSettingsValues(t *testing.T) {
	t.Parallel()
	s := DefaultSettings(7)
	got := []string{s.MorningSummaryTime, s.EveningSummaryTime, s.QuietHoursStart, s.QuietHoursEnd}
	if diff := cmp.Diff([]string{"09:00", "20:00", "23:00", "07:00"}, got); diff != "" {
		t.Fatalf("default times (-want +got):\n%s", diff)
	}
	if s.DefaultLeadMinutes != 30 || s.HighIntervalMinutes != 30 || s.MediumIntervalMinutes != 60 || s.LowIntervalMinutes != 120 {
		t.Fatalf("default minutes = %+v", s)
	}
}

func TestValidateCollectsAllErrors(t *testing.T) {
	t.Parallel()
	s := DefaultSettings(7)
	s.QuietHoursStart = "25:00"
	s.HighIntervalMinutes = -5
	s.EnabledKinds = []string{"task", "sms"}
	s.Timezone = "Mars/Olympus"

	err := s.Validate()
	if err == nil {
		t.Fatal("Validate returned nil")
	}
	fields := map[string]bool{}
	for _, e := range err.(interface{ Unwrap() []error }).Unwrap() {
		var ce *ConfigError
		if !errors.As(e, &ce) {
			t.Fatalf("non-config error %v", e)
		}
		fields[ce.Field] = true
	}
	for _, f := range []string{"quiet_hours_start", "high_interval_minutes", "enabled_kinds", "timezone"} {
		if !fields[f] {
			t.Fatalf("missing error for %s in %v", f, err)
		}
	}
	if !errors.Is(err, ErrInvalidClock) || !errors.Is(err, ErrUnknownToggle) {
		t.Fatalf("sentinels not reachable through %v", err)
	}
}

func TestEnabledToggles(t *testing.T) {
	t.Parallel()
	s := DefaultSettings(1)
	if !s.KindEnabled(KindTask) || !s.KindEnabled(KindPlanStep) || !s.KindEnabled(KindEveningSummary) {
		t.Fatal("default kinds should be enabled")
	}
	if s.KindEnabled(KindWeeklySummary) {
		t.Fatal("weekly summary should be off by default")
	}
	s.EnabledKinds = []string{"ALL"}
	if !s.KindEnabled(KindWeeklySummary) {
		t.Fatal(`"all" should enable the weekly summary`)
	}
	s.EnabledKinds = nil
	if s.KindEnabled(KindTask) {
		t.Fatal("no toggles should disable task reminders")
	}
}

func TestLeadStretchesForHighEnergy(t *testing.T) {
	t.Parallel()
	s := DefaultSettings(1)
	if got := s.Lead(5); got != 30*time.Minute {
		t.Fatalf("Lead(5) = %v, want 30m", got)
	}
	if got := s.Lead(8); got != 45*time.Minute {
		t.Fatalf("Lead(8) = %v, want 45m", got)
	}
}

func TestLocation(t *testing.T) {
	t.Parallel()
	s := DefaultSettings(1)
	loc, err := s.Location(time.UTC)
	if err != nil || loc != time.UTC {
		t.Fatalf("Location fallback = %v, %v", loc, err)
	}
	s.Timezone = "Nowhere/City"
	if _, err := s.Location(time.UTC); !IsConfigError(err) {
		t.Fatalf("Location(bad) err = %v, want config error", err)
	}
}

func TestParseWeekday(t *testing.T) {
	t.Parallel()
	for in, want := range map[string]time.Weekday{"sunday": time.Sunday, "Mon": time.Monday, " SATURDAY ": time.Saturday} {
		got, err := ParseWeekday(in)
		if err != nil || got != want {
			t.Fatalf("ParseWeekday(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
	if _, err := ParseWeekday("funday"); err == nil {
		t.Fatal("ParseWeekday(funday) returned no error")
	}
}

func TestKeyString(t *testing.T) {
	t.Parallel()
	if got := (Key{ID: 42, Kind: KindTask}).String(); got != "task:42" {
		t.Fatalf("Key.String = %q", got)
	}
	if got := UserKey(9, KindDailySummary).String(); got != "daily-summary:9" {
		t.Fatalf("UserKey.String = %q", got)
	}
	k, err := ParseKind("plan-step")
	if err != nil || k != KindPlanStep {
		t.Fatalf("ParseKind = %v, %v", k, err)
	}
}
