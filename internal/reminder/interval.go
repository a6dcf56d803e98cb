package reminder

import (
	"math"
	"strconv"
	"time"
)

// UrgencyWindow is how close to the deadline reminders start accelerating.
const UrgencyWindow = time.Hour

// NoDeadline stands in for the time left on targets without a due date.
const NoDeadline = time.Duration(math.MaxInt64)

// BaseInterval returns the configured interval for p and the settings field it
// came from. Unknown priorities use the low tier.
func (s Settings) BaseInterval(p Priority) (int, string) {
	switch p {
	case PriorityHigh:
		return s.HighIntervalMinutes, "high_interval_minutes"
	case PriorityMedium:
		return s.MediumIntervalMinutes, "medium_interval_minutes"
	default:
		return s.LowIntervalMinutes, "low_interval_minutes"
	}
}

// ResolveInterval returns the repeat interval in minutes for a target of
// priority p with untilDue left before its deadline. Within the last
// UrgencyWindow (including overdue) the interval is divided by the urgency
// factor, never dropping below one minute.
func ResolveInterval(p Priority, s Settings, untilDue time.Duration) (int, error) {
	base, field := s.BaseInterval(p)
	if base <= 0 {
		return 0, &ConfigError{Field: field, Value: strconv.Itoa(base), Err: ErrNonPositive}
	}
	if untilDue > UrgencyWindow {
		return base, nil
	}
	if s.UrgencyFactor <= 0 {
		return 0, &ConfigError{Field: "urgency_factor", Value: strconv.Itoa(s.UrgencyFactor), Err: ErrNonPositive}
	}
	return max(1, base/s.UrgencyFactor), nil
}
