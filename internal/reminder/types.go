package reminder

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Priority is the urgency tier a user assigns to a target.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// ParsePriority normalizes user input. Unknown values are kept (lowercased)
// and resolve to the low tier wherever an interval is needed.
func ParsePriority(s string) Priority {
	return Priority(strings.ToLower(strings.TrimSpace(s)))
}

// Rank orders priorities for digests: high first, unknown last.
func (p Priority) Rank() int {
	switch p {
	case PriorityHigh:
		return 1
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 3
	default:
		return 99
	}
}

// TimeOfDay is a coarse period a target is best worked on.
type TimeOfDay string

const (
	Morning   TimeOfDay = "morning"
	Afternoon TimeOfDay = "afternoon"
	Evening   TimeOfDay = "evening"
)

func ParseTimeOfDay(s string) (TimeOfDay, bool) {
	switch TimeOfDay(strings.ToLower(strings.TrimSpace(s))) {
	case Morning:
		return Morning, true
	case Afternoon:
		return Afternoon, true
	case Evening:
		return Evening, true
	}
	return "", false
}

// PeriodOf maps a wall-clock time to its period:
// morning [05:00,12:00), afternoon [12:00,17:00), evening otherwise.
func PeriodOf(t time.Time) TimeOfDay {
	switch h := t.Hour(); {
	case h >= 5 && h < 12:
		return Morning
	case h >= 12 && h < 17:
		return Afternoon
	default:
		return Evening
	}
}

// Kind identifies what a reminder job is about.
type Kind uint8

const (
	KindTask Kind = iota + 1
	KindPlanStep
	KindDailySummary
	KindEveningSummary
	KindWeeklySummary
	KindEnergyCheck
)

var kindNames = map[Kind]string{
	KindTask:           "task",
	KindPlanStep:       "plan-step",
	KindDailySummary:   "daily-summary",
	KindEveningSummary: "evening-summary",
	KindWeeklySummary:  "weekly-summary",
	KindEnergyCheck:    "energy-check",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "kind(" + strconv.Itoa(int(k)) + ")"
}

func ParseKind(s string) (Kind, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for k, name := range kindNames {
		if name == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown reminder kind %q", s)
}

// IsTarget reports whether jobs of this kind track a single task or plan step.
func (k Kind) IsTarget() bool { return k == KindTask || k == KindPlanStep }

// Recurring kinds are keyed by user and fire on a calendar schedule.
func (k Kind) Recurring() bool {
	switch k {
	case KindDailySummary, KindEveningSummary, KindWeeklySummary, KindEnergyCheck:
		return true
	}
	return false
}

// Toggle is the settings switch that enables this kind.
func (k Kind) Toggle() string {
	switch k {
	case KindTask, KindPlanStep:
		return ToggleTask
	case KindDailySummary, KindEveningSummary:
		return ToggleDaily
	case KindWeeklySummary:
		return ToggleWeekly
	case KindEnergyCheck:
		return ToggleEnergy
	}
	return ""
}

// Key identifies one reminder job. For recurring kinds ID is the user id.
type Key struct {
	ID   int64
	Kind Kind
}

func (k Key) String() string { return k.Kind.String() + ":" + strconv.FormatInt(k.ID, 10) }

// UserKey is the key of a per-user recurring job.
func UserKey(userID int64, kind Kind) Key { return Key{ID: userID, Kind: kind} }

// Target is a task or plan step a user may be reminded about.
type Target struct {
	ID          int64
	Kind        Kind
	PlanID      int64
	UserID      int64
	Title       string
	DueAt       *time.Time
	Priority    Priority
	Energy      int // 1..10, 0 when unknown
	OptimalTime TimeOfDay
	Completed   bool
	CompletedAt *time.Time
}

func (t Target) Key() Key { return Key{ID: t.ID, Kind: t.Kind} }

// UntilDue returns the time left before the deadline, or NoDeadline.
func (t Target) UntilDue(now time.Time) time.Duration {
	if t.DueAt == nil {
		return NoDeadline
	}
	return t.DueAt.Sub(now)
}

// Job is a scheduled future notification.
type Job struct {
	Key             Key
	UserID          int64
	NextFireAt      time.Time
	IntervalMinutes int
}

// Interval is the repeat cadence as a duration (0 for calendar jobs).
func (j Job) Interval() time.Duration {
	return time.Duration(j.IntervalMinutes) * time.Minute
}
