package planner

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"pland/internal/reminder"
)

const dueLayout = "2006-01-02 15:04"

var errNoDue = errors.New("no deadline")

// parseDue reads a deadline in the user's zone. Accepted forms:
// "2006-01-02 15:04", "15:04" (today, or tomorrow once passed),
// "tomorrow 15:04" and "+90m" / "+2h". "none" and "" yield errNoDue.
func parseDue(s string, now time.Time, loc *time.Location) (time.Time, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	now = now.In(loc)
	switch {
	case s == "" || s == "none" || s == "-":
		return time.Time{}, errNoDue
	case strings.HasPrefix(s, "+"):
		d, err := time.ParseDuration(s[1:])
		if err != nil || d <= 0 {
			return time.Time{}, fmt.Errorf("bad offset %q, try +90m or +2h", s)
		}
		return now.Add(d).Truncate(time.Minute), nil
	case strings.HasPrefix(s, "tomorrow"):
		c, err := reminder.ParseClock(strings.TrimSpace(strings.TrimPrefix(s, "tomorrow")))
		if err != nil {
			return time.Time{}, fmt.Errorf("bad time in %q, want tomorrow HH:MM", s)
		}
		return c.On(now.AddDate(0, 0, 1)), nil
	case !strings.Contains(s, "-"):
		c, err := reminder.ParseClock(s)
		if err != nil {
			return time.Time{}, fmt.Errorf("bad time %q, want HH:MM", s)
		}
		at := c.On(now)
		if !at.After(now) {
			at = c.On(now.AddDate(0, 0, 1))
		}
		return at, nil
	}
	at, err := time.ParseInLocation(dueLayout, s, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("bad date %q, want YYYY-MM-DD HH:MM", s)
	}
	return at, nil
}

// taskInput is the parsed form of "/add title; due; priority; energy; period".
type taskInput struct {
	Title    string
	Due      *time.Time
	Priority reminder.Priority
	Energy   int
	Period   reminder.TimeOfDay
}

func parseTask(text string, now time.Time, loc *time.Location) (taskInput, error) {
	fields := strings.Split(text, ";")
	in := taskInput{Title: strings.TrimSpace(fields[0]), Priority: reminder.PriorityMedium}
	if in.Title == "" {
		return in, errors.New("a title is required")
	}
	if len(fields) > 5 {
		return in, errors.New("too many fields")
	}
	if len(fields) > 1 {
		due, err := parseDue(fields[1], now, loc)
		switch {
		case errors.Is(err, errNoDue):
		case err != nil:
			return in, err
		default:
			in.Due = &due
		}
	}
	if len(fields) > 2 {
		if p := strings.TrimSpace(fields[2]); p != "" {
			pr, err := parsePriority(p)
			if err != nil {
				return in, err
			}
			in.Priority = pr
		}
	}
	if len(fields) > 3 {
		if e := strings.TrimSpace(fields[3]); e != "" {
			n, err := strconv.Atoi(e)
			if err != nil || n < 1 || n > 10 {
				return in, fmt.Errorf("energy must be 1-10, got %q", e)
			}
			in.Energy = n
		}
	}
	if len(fields) > 4 {
		if p := strings.TrimSpace(fields[4]); p != "" {
			tod, ok := reminder.ParseTimeOfDay(p)
			if !ok {
				return in, fmt.Errorf("unknown time of day %q", p)
			}
			in.Period = tod
		}
	}
	return in, nil
}

func parsePriority(s string) (reminder.Priority, error) {
	switch p := reminder.ParsePriority(s); p {
	case reminder.PriorityHigh, reminder.PriorityMedium, reminder.PriorityLow:
		return p, nil
	}
	return "", fmt.Errorf("priority must be high, medium or low, got %q", s)
}

// parsePlan reads "title; step @ due; step" into a title and plan steps.
func parsePlan(text string, now time.Time, loc *time.Location) (string, []reminder.Target, error) {
	parts := strings.Split(text, ";")
	title := strings.TrimSpace(parts[0])
	if title == "" {
		return "", nil, errors.New("a plan title is required")
	}
	var steps []reminder.Target
	for i, raw := range parts[1:] {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		name, when, hasDue := strings.Cut(raw, "@")
		st := reminder.Target{Title: strings.TrimSpace(name), Priority: reminder.PriorityMedium}
		if st.Title == "" {
			return "", nil, fmt.Errorf("step %d has no title", i+1)
		}
		if hasDue {
			due, err := parseDue(when, now, loc)
			switch {
			case errors.Is(err, errNoDue):
			case err != nil:
				return "", nil, fmt.Errorf("step %d: %w", i+1, err)
			default:
				st.DueAt = &due
			}
		}
		steps = append(steps, st)
	}
	if len(steps) == 0 {
		return "", nil, errors.New("a plan needs at least one step")
	}
	return title, steps, nil
}

// parseRef reads "12" or "#12" as a task and "s12" as a plan step.
func parseRef(s string) (reminder.Key, error) {
	s = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), "#")
	kind := reminder.KindTask
	if rest, ok := strings.CutPrefix(s, "s"); ok {
		kind, s = reminder.KindPlanStep, rest
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return reminder.Key{}, fmt.Errorf("%q is not a task id", s)
	}
	return reminder.Key{ID: id, Kind: kind}, nil
}

func formatRef(k reminder.Key) string {
	if k.Kind == reminder.KindPlanStep {
		return "s" + strconv.FormatInt(k.ID, 10)
	}
	return strconv.FormatInt(k.ID, 10)
}

func parseOnOff(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "on", "yes", "true", "1":
		return true, nil
	case "off", "no", "false", "0":
		return false, nil
	}
	return false, fmt.Errorf("want on or off, got %q", s)
}
