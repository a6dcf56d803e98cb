package reminder

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Settings toggles accepted in EnabledKinds.
const (
	ToggleDaily  = "daily"
	ToggleTask   = "task"
	ToggleEnergy = "energy"
	ToggleWeekly = "weekly"
	ToggleAll    = "all"
)

var knownToggles = map[string]bool{
	ToggleDaily: true, ToggleTask: true, ToggleEnergy: true, ToggleWeekly: true, ToggleAll: true,
}

// Settings is a user's reminder configuration as stored.
// Use Validate before acting on values that came from outside.
type Settings struct {
	UserID                int64    `json:"user_id"`
	DefaultLeadMinutes    int      `json:"default_lead_minutes"`
	MorningSummaryTime    string   `json:"morning_summary_time"`
	EveningSummaryTime    string   `json:"evening_summary_time"`
	HighIntervalMinutes   int      `json:"high_interval_minutes"`
	MediumIntervalMinutes int      `json:"medium_interval_minutes"`
	LowIntervalMinutes    int      `json:"low_interval_minutes"`
	QuietHoursStart       string   `json:"quiet_hours_start"`
	QuietHoursEnd         string   `json:"quiet_hours_end"`
	EnabledKinds          []string `json:"enabled_kinds"`
	UrgencyFactor         int      `json:"urgency_factor"`
	Timezone              string   `json:"timezone,omitempty"`
	WeeklySummaryDay      string   `json:"weekly_summary_day"`
	WeeklySummaryTime     string   `json:"weekly_summary_time"`
}

// DefaultSettings is what a user gets before changing anything.
func DefaultSettings(userID int64) Settings {
	return Settings{
		UserID:                userID,
		DefaultLeadMinutes:    30,
		MorningSummaryTime:    "09:00",
		EveningSummaryTime:    "20:00",
		HighIntervalMinutes:   30,
		MediumIntervalMinutes: 60,
		LowIntervalMinutes:    120,
		QuietHoursStart:       "23:00",
		QuietHoursEnd:         "07:00",
		EnabledKinds:          []string{ToggleDaily, ToggleTask, ToggleEnergy},
		UrgencyFactor:         2,
		WeeklySummaryDay:      "sunday",
		WeeklySummaryTime:     "18:00",
	}
}

// ForUser copies s as a template for another user.
func (s Settings) ForUser(userID int64) Settings {
	s.UserID = userID
	s.EnabledKinds = append([]string(nil), s.EnabledKinds...)
	return s
}

// ConfigError reports one invalid settings field.
type ConfigError struct {
	Field string
	Value string
	Err   error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("reminder settings: %s=%q: %v", e.Field, e.Value, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

var (
	ErrInvalidClock    = errors.New("want HH:MM")
	ErrNonPositive     = errors.New("must be positive")
	ErrUnknownToggle   = errors.New("unknown reminder kind")
	ErrUnknownTimezone = errors.New("unknown timezone")
	ErrUnknownWeekday  = errors.New("unknown weekday")
)

// IsConfigError reports whether err carries at least one ConfigError.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

// Validate checks every field and joins all problems into one error.
func (s Settings) Validate() error {
	var errs []error
	clock := func(field, v string) {
		if _, err := ParseClock(v); err != nil {
			errs = append(errs, &ConfigError{Field: field, Value: v, Err: ErrInvalidClock})
		}
	}
	positive := func(field string, v int) {
		if v <= 0 {
			errs = append(errs, &ConfigError{Field: field, Value: strconv.Itoa(v), Err: ErrNonPositive})
		}
	}

	positive("default_lead_minutes", s.DefaultLeadMinutes)
	positive("high_interval_minutes", s.HighIntervalMinutes)
	positive("medium_interval_minutes", s.MediumIntervalMinutes)
	positive("low_interval_minutes", s.LowIntervalMinutes)
	positive("urgency_factor", s.UrgencyFactor)
	clock("morning_summary_time", s.MorningSummaryTime)
	clock("evening_summary_time", s.EveningSummaryTime)
	clock("quiet_hours_start", s.QuietHoursStart)
	clock("quiet_hours_end", s.QuietHoursEnd)
	clock("weekly_summary_time", s.WeeklySummaryTime)

	for _, k := range s.EnabledKinds {
		if !knownToggles[strings.ToLower(strings.TrimSpace(k))] {
			errs = append(errs, &ConfigError{Field: "enabled_kinds", Value: k, Err: ErrUnknownToggle})
		}
	}
	if _, err := ParseWeekday(s.WeeklySummaryDay); err != nil {
		errs = append(errs, &ConfigError{Field: "weekly_summary_day", Value: s.WeeklySummaryDay, Err: ErrUnknownWeekday})
	}
	if s.Timezone != "" {
		if _, err := time.LoadLocation(s.Timezone); err != nil {
			errs = append(errs, &ConfigError{Field: "timezone", Value: s.Timezone, Err: ErrUnknownTimezone})
		}
	}
	return errors.Join(errs...)
}

// Enabled reports whether the given toggle is on. "all" enables everything.
func (s Settings) Enabled(toggle string) bool {
	for _, k := range s.EnabledKinds {
		k = strings.ToLower(strings.TrimSpace(k))
		if k == ToggleAll || k == toggle {
			return true
		}
	}
	return false
}

// KindEnabled reports whether jobs of kind k should exist for this user.
func (s Settings) KindEnabled(k Kind) bool { return s.Enabled(k.Toggle()) }

// Location resolves the user's timezone, falling back when unset.
func (s Settings) Location(fallback *time.Location) (*time.Location, error) {
	if s.Timezone == "" {
		if fallback == nil {
			return time.Local, nil
		}
		return fallback, nil
	}
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return nil, &ConfigError{Field: "timezone", Value: s.Timezone, Err: ErrUnknownTimezone}
	}
	return loc, nil
}

// Lead is how long before the deadline the first reminder fires.
// High-energy targets (8+) get half as much again to prepare.
func (s Settings) Lead(energy int) time.Duration {
	lead := time.Duration(s.DefaultLeadMinutes) * time.Minute
	if energy >= 8 {
		lead = lead * 3 / 2
	}
	return lead
}

// QuietWindow parses the quiet hours.
func (s Settings) QuietWindow() (QuietWindow, error) {
	w, err := ParseQuietWindow(s.QuietHoursStart, s.QuietHoursEnd)
	if err != nil {
		return QuietWindow{}, &ConfigError{Field: "quiet_hours", Value: s.QuietHoursStart + "-" + s.QuietHoursEnd, Err: ErrInvalidClock}
	}
	return w, nil
}

// ParseWeekday accepts full or three-letter English day names.
func ParseWeekday(s string) (time.Weekday, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for d := time.Sunday; d <= time.Saturday; d++ {
		name := strings.ToLower(d.String())
		if s == name || s == name[:3] {
			return d, nil
		}
	}
	return 0, fmt.Errorf("unknown weekday %q", s)
}
