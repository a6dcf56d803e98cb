package reminder

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ClockTime is a wall-clock time of day with minute precision.
type ClockTime struct {
	Hour   int
	Minute int
}

// ParseClock parses "HH:MM" (24h).
func ParseClock(s string) (ClockTime, error) {
	hh, mm, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok || len(hh) == 0 || len(hh) > 2 || len(mm) != 2 {
		return ClockTime{}, fmt.Errorf("invalid time %q (want HH:MM)", s)
	}
	h, err1 := strconv.Atoi(hh)
	m, err2 := strconv.Atoi(mm)
	if err1 != nil || err2 != nil || h < 0 || h > 23 || m < 0 || m > 59 {
		return ClockTime{}, fmt.Errorf("invalid time %q (want HH:MM)", s)
	}
	return ClockTime{Hour: h, Minute: m}, nil
}

func (c ClockTime) String() string { return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute) }

// Minutes since midnight.
func (c ClockTime) Minutes() int { return c.Hour*60 + c.Minute }

// On returns c on the calendar day of day, in day's location.
func (c ClockTime) On(day time.Time) time.Time {
	y, mo, d := day.Date()
	return time.Date(y, mo, d, c.Hour, c.Minute, 0, 0, day.Location())
}

func clockOf(t time.Time) int { return t.Hour()*60 + t.Minute() }

// QuietWindow is a daily do-not-disturb range. Both ends are inclusive at
// minute granularity; Start > End wraps past midnight.
type QuietWindow struct {
	Start ClockTime
	End   ClockTime
}

func ParseQuietWindow(start, end string) (QuietWindow, error) {
	s, err := ParseClock(start)
	if err != nil {
		return QuietWindow{}, err
	}
	e, err := ParseClock(end)
	if err != nil {
		return QuietWindow{}, err
	}
	return QuietWindow{Start: s, End: e}, nil
}

// Contains reports whether now falls inside the window. Seconds are ignored.
func (w QuietWindow) Contains(now time.Time) bool {
	cur, s, e := clockOf(now), w.Start.Minutes(), w.End.Minutes()
	if s <= e {
		return s <= cur && cur <= e
	}
	return cur >= s || cur <= e
}

// ResumeAt is the first instant after now at which the window no longer
// applies: the minute following End. Callers only use it while Contains(now).
func (w QuietWindow) ResumeAt(now time.Time) time.Time {
	resume := w.End.On(now).Add(time.Minute)
	if !resume.After(now) {
		resume = w.End.On(now.AddDate(0, 0, 1)).Add(time.Minute)
	}
	return resume
}

// IsQuietHours reports whether now falls within [start, end] given as "HH:MM".
func IsQuietHours(now time.Time, start, end string) (bool, error) {
	w, err := ParseQuietWindow(start, end)
	if err != nil {
		return false, err
	}
	return w.Contains(now), nil
}
