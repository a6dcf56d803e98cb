package reminder

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// defaultEnergy stands in for an unknown energy level in statistics.
const defaultEnergy = 5

var periodGroups = []struct {
	period TimeOfDay
	title  string
}{
	{Morning, "🌄 Morning"},
	{Afternoon, "☀️ Afternoon"},
	{Evening, "🌙 Evening"},
	{"", "🗂 Any time"},
}

// SortForDigest orders targets by energy (highest first), then priority rank,
// then due date (targets without one last). The sort is stable.
func SortForDigest(ts []Target) {
	sort.SliceStable(ts, func(i, j int) bool {
		a, b := ts[i], ts[j]
		if a.Energy != b.Energy {
			return a.Energy > b.Energy
		}
		if ra, rb := a.Priority.Rank(), b.Priority.Rank(); ra != rb {
			return ra < rb
		}
		switch {
		case a.DueAt == nil:
			return false
		case b.DueAt == nil:
			return true
		default:
			return a.DueAt.Before(*b.DueAt)
		}
	})
}

// GroupByPeriod buckets pending targets by optimal time of day, each bucket in
// digest order. Targets with no preference land under "".
func GroupByPeriod(ts []Target) map[TimeOfDay][]Target {
	sorted := append([]Target(nil), ts...)
	SortForDigest(sorted)
	out := make(map[TimeOfDay][]Target, len(periodGroups))
	for _, t := range sorted {
		if t.Completed {
			continue
		}
		p := t.OptimalTime
		if _, ok := ParseTimeOfDay(string(p)); !ok {
			p = ""
		}
		out[p] = append(out[p], t)
	}
	return out
}

// MorningDigest is the start-of-day plan. Returns "" when nothing is pending.
func MorningDigest(now time.Time, pending []Target) string {
	groups := GroupByPeriod(pending)
	if len(groups) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("🌅 Good morning! Here is your plan for today:\n")
	for _, g := range periodGroups {
		ts := groups[g.period]
		if len(ts) == 0 {
			continue
		}
		fmt.Fprintf(&b, "\n%s:\n", g.title)
		for _, t := range ts {
			fmt.Fprintf(&b, "%s %s\n", UrgencyMark(t.UntilDue(now)), t.Title)
			if t.Energy > 0 {
				fmt.Fprintf(&b, "%s Energy: %d/10\n", EnergyBar(t.Energy), t.Energy)
			} else {
				b.WriteString("⚡️ Energy: not set\n")
			}
			fmt.Fprintf(&b, "⏰ Due: %s\n", formatDue(t.DueAt, now.Location()))
		}
	}
	b.WriteString("\n📋 Tips:\n")
	b.WriteString("• Start with the most demanding tasks while you are fresh\n")
	b.WriteString("• Take breaks between hard tasks\n")
	b.WriteString("• Batch similar tasks together")
	return b.String()
}

// DayStats summarizes completion over a period.
type DayStats struct {
	Completed        int
	Pending          int
	CompletedEnergy  int
	TotalEnergy      int
	Productivity     float64 // percent of targets completed
	EnergyEfficiency float64 // percent of energy spent on completed targets
}

func energyOrDefault(e int) int {
	if e <= 0 {
		return defaultEnergy
	}
	return e
}

// ComputeStats aggregates completed and pending targets. Unknown energy counts
// as 5.
func ComputeStats(pending, completed []Target) DayStats {
	st := DayStats{Completed: len(completed), Pending: len(pending)}
	for _, t := range completed {
		st.CompletedEnergy += energyOrDefault(t.Energy)
	}
	st.TotalEnergy = st.CompletedEnergy
	for _, t := range pending {
		st.TotalEnergy += energyOrDefault(t.Energy)
	}
	if total := st.Completed + st.Pending; total > 0 {
		st.Productivity = float64(st.Completed) / float64(total) * 100
	}
	if st.TotalEnergy > 0 {
		st.EnergyEfficiency = float64(st.CompletedEnergy) / float64(st.TotalEnergy) * 100
	}
	return st
}

// HeavyTargets returns up to n pending targets with energy of 8 or more, in
// digest order.
func HeavyTargets(pending []Target, n int) []Target {
	sorted := append([]Target(nil), pending...)
	SortForDigest(sorted)
	out := make([]Target, 0, n)
	for _, t := range sorted {
		if len(out) == n {
			break
		}
		if energyOrDefault(t.Energy) >= 8 {
			out = append(out, t)
		}
	}
	return out
}

// EveningDigest reviews the day. Returns "" when there is nothing to report.
func EveningDigest(now time.Time, pending, completedToday []Target) string {
	return review(now, "🌙 Let's wrap up the day:\n\n", "tomorrow", pending, completedToday)
}

// WeeklyDigest reviews the last seven days.
func WeeklyDigest(now time.Time, pending, completedThisWeek []Target) string {
	return review(now, "📅 Your week in review:\n\n", "next week", pending, completedThisWeek)
}

func review(now time.Time, header, horizon string, pending, completed []Target) string {
	if len(pending) == 0 && len(completed) == 0 {
		return ""
	}
	st := ComputeStats(pending, completed)

	var b strings.Builder
	b.WriteString(header)
	if len(completed) > 0 {
		fmt.Fprintf(&b, "✅ Completed: %d\n", st.Completed)
		fmt.Fprintf(&b, "⚡️ Energy spent: %d\n\n", st.CompletedEnergy)
		b.WriteString("Done:\n")
		for _, t := range completed {
			fmt.Fprintf(&b, "• %s\n", t.Title)
		}
		b.WriteString("\n")
	}
	if len(pending) > 0 {
		b.WriteString("⏳ Still pending:\n")
		sorted := append([]Target(nil), pending...)
		SortForDigest(sorted)
		for _, t := range sorted {
			fmt.Fprintf(&b, "• %s (energy %d/10, due %s)\n", t.Title, energyOrDefault(t.Energy), formatDue(t.DueAt, now.Location()))
		}
	}

	b.WriteString("\n📊 Stats:\n")
	fmt.Fprintf(&b, "• Productivity: %.1f%%\n", st.Productivity)
	fmt.Fprintf(&b, "• Energy efficiency: %.1f%%\n", st.EnergyEfficiency)

	if heavy := HeavyTargets(pending, 3); len(heavy) > 0 {
		fmt.Fprintf(&b, "\n💡 For %s, schedule the demanding tasks early:\n", horizon)
		for _, t := range heavy {
			fmt.Fprintf(&b, "  - %s (⚡️%d/10)\n", t.Title, energyOrDefault(t.Energy))
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// EnergyDigest warns about demanding pending targets that suit the current
// period (or have no preference). Returns "" when there are none.
func EnergyDigest(now time.Time, pending []Target) string {
	period := PeriodOf(now)
	var picked []Target
	for _, t := range pending {
		if t.Completed || t.Energy < 8 {
			continue
		}
		if t.OptimalTime != "" && t.OptimalTime != period {
			continue
		}
		picked = append(picked, t)
	}
	if len(picked) == 0 {
		return ""
	}
	SortForDigest(picked)

	var b strings.Builder
	b.WriteString("⚡️ Energy check: these tasks need focus and fit right now:\n")
	for _, t := range picked {
		fmt.Fprintf(&b, "\n%s %s (%d/10)", UrgencyMark(t.UntilDue(now)), t.Title, t.Energy)
		if t.DueAt != nil {
			fmt.Fprintf(&b, "\n⏰ Time left: %s", FormatTimeLeft(t.UntilDue(now)))
		}
	}
	b.WriteString("\n\nTackle one while your energy is high, and plan a break afterwards.")
	return b.String()
}
