package reminder

import (
	"fmt"
	"strings"
	"time"
)

const dueLayout = "2006-01-02 15:04"

// FormatTimeLeft renders a duration as "2d 3h 15m". Anything under a minute
// reads "less than a minute"; negative durations read "overdue by ...".
func FormatTimeLeft(d time.Duration) string {
	if d < 0 {
		return "overdue by " + FormatTimeLeft(-d)
	}
	days := int(d / (24 * time.Hour))
	hours := int(d % (24 * time.Hour) / time.Hour)
	minutes := int(d % time.Hour / time.Minute)

	parts := make([]string, 0, 3)
	if days > 0 {
		parts = append(parts, fmt.Sprintf("%dd", days))
	}
	if hours > 0 {
		parts = append(parts, fmt.Sprintf("%dh", hours))
	}
	if minutes > 0 {
		parts = append(parts, fmt.Sprintf("%dm", minutes))
	}
	if len(parts) == 0 {
		return "less than a minute"
	}
	return strings.Join(parts, " ")
}

// UrgencyMark picks an emoji by time left before the deadline.
func UrgencyMark(untilDue time.Duration) string {
	switch {
	case untilDue <= time.Hour:
		return "🚨"
	case untilDue <= 3*time.Hour:
		return "⚠️"
	case untilDue <= 24*time.Hour:
		return "❗️"
	default:
		return "ℹ️"
	}
}

// EnergyBar draws one bolt per two energy points (at least one).
func EnergyBar(energy int) string {
	return strings.Repeat("⚡️", max(1, energy/2))
}

// TargetReminder is the text of a single task or plan-step reminder.
func TargetReminder(t Target, now time.Time) string {
	var b strings.Builder
	label := "Reminder"
	if t.Kind == KindPlanStep {
		label = "Plan step"
	}

	left := t.UntilDue(now)
	switch {
	case t.DueAt == nil:
		fmt.Fprintf(&b, "🔔 %s: %s", label, t.Title)
	case left <= UrgencyWindow:
		fmt.Fprintf(&b, "🚨 Urgent! %s: %s\n⏰ Time left: %s", label, t.Title, FormatTimeLeft(left))
	default:
		fmt.Fprintf(&b, "🔔 %s: %s\n⏰ Time left: %s", label, t.Title, FormatTimeLeft(left))
	}

	if t.Energy >= 7 {
		fmt.Fprintf(&b, "\n⚡️ Energy: %d/10", t.Energy)
		if t.OptimalTime != "" {
			fmt.Fprintf(&b, "\n⌚️ Best time: %s", t.OptimalTime)
		}
	}
	return b.String()
}

func formatDue(t *time.Time, loc *time.Location) string {
	if t == nil {
		return "no deadline"
	}
	return t.In(loc).Format(dueLayout)
}
