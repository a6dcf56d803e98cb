package reminders

import (
	"errors"
	"fmt"
	"time"

	"pland/internal/reminder"
	"pland/internal/storage"
	"pland/internal/task/trigger"
)

type Action int

const (
	ActionNotify Action = iota + 1
	ActionSuppress
	ActionCancel
	ActionBackoff
)

func (a Action) String() string {
	switch a {
	case ActionNotify:
		return "notify"
	case ActionSuppress:
		return "suppress"
	case ActionCancel:
		return "cancel"
	case ActionBackoff:
		return "backoff"
	}
	return fmt.Sprintf("action(%d)", int(a))
}

// Input is everything Decide looks at. The caller fills it from the store;
// Target is nil for per-user kinds or when TargetErr is set.
type Input struct {
	Now         time.Time
	Job         reminder.Job
	Target      *reminder.Target
	TargetErr   error
	Settings    reminder.Settings
	SettingsErr error
	// Muted is set when the user turned notifications off.
	Muted   bool
	UserErr error
	// Fallback is the location used when the user has no timezone.
	Fallback *time.Location

	StoreBackoff time.Duration
	OverdueGrace time.Duration
}

type Decision struct {
	Action          Action
	NextFireAt      time.Time
	IntervalMinutes int
	// Now is Input.Now in the user's location.
	Now    time.Time
	Reason string
}

// Decide picks what a fire should do. It has no side effects. A non-nil error
// comes with a Backoff decision and means the settings need fixing.
func Decide(in Input) (Decision, error) {
	now := in.Now
	backoff := Decision{Action: ActionBackoff, NextFireAt: now.Add(in.StoreBackoff), Now: now}
	kind := in.Job.Key.Kind

	switch {
	case in.SettingsErr != nil:
		backoff.Reason = "settings read failed"
		return backoff, nil
	case in.UserErr != nil:
		backoff.Reason = "user read failed"
		return backoff, nil
	case in.Muted:
		return Decision{Action: ActionCancel, Now: now, Reason: "notifications off"}, nil
	}
	if kind.IsTarget() {
		switch {
		case errors.Is(in.TargetErr, storage.ErrNotFound):
			return Decision{Action: ActionCancel, Now: now, Reason: "target gone"}, nil
		case in.TargetErr != nil:
			backoff.Reason = "target read failed"
			return backoff, nil
		case in.Target == nil:
			return Decision{Action: ActionCancel, Now: now, Reason: "target gone"}, nil
		case in.Target.Completed:
			return Decision{Action: ActionCancel, Now: now, Reason: "completed"}, nil
		}
	}
	if !in.Settings.KindEnabled(kind) {
		return Decision{Action: ActionCancel, Now: now, Reason: "kind disabled"}, nil
	}
	if err := in.Settings.Validate(); err != nil {
		backoff.Reason = "invalid settings"
		return backoff, err
	}
	loc, _ := in.Settings.Location(in.Fallback)
	now = now.In(loc)

	var t reminder.Target
	if kind.IsTarget() {
		t = *in.Target
		if t.DueAt == nil {
			return Decision{Action: ActionCancel, Now: now, Reason: "no deadline"}, nil
		}
		if now.Sub(*t.DueAt) > in.OverdueGrace {
			return Decision{Action: ActionCancel, Now: now, Reason: "overdue past grace"}, nil
		}
	}

	w, _ := in.Settings.QuietWindow()
	if w.Contains(now) {
		return Decision{Action: ActionSuppress, NextFireAt: w.ResumeAt(now), IntervalMinutes: in.Job.IntervalMinutes, Now: now, Reason: "quiet hours"}, nil
	}

	if kind.IsTarget() {
		minutes, err := reminder.ResolveInterval(t.Priority, in.Settings, t.UntilDue(now))
		if err != nil {
			backoff.Reason = "invalid settings"
			return backoff, err
		}
		return Decision{Action: ActionNotify, NextFireAt: now.Add(time.Duration(minutes) * time.Minute), IntervalMinutes: minutes, Now: now}, nil
	}
	next, err := NextOccurrence(kind, in.Settings, now)
	if err != nil {
		backoff.Reason = "invalid settings"
		return backoff, err
	}
	return Decision{Action: ActionNotify, NextFireAt: next, Now: now}, nil
}

// NextOccurrence is the next calendar fire strictly after `after` for a
// per-user kind. after must already be in the user's location.
func NextOccurrence(kind reminder.Kind, s reminder.Settings, after time.Time) (time.Time, error) {
	var spec string
	switch kind {
	case reminder.KindDailySummary, reminder.KindEveningSummary:
		v := s.MorningSummaryTime
		if kind == reminder.KindEveningSummary {
			v = s.EveningSummaryTime
		}
		c, err := reminder.ParseClock(v)
		if err != nil {
			return time.Time{}, err
		}
		spec = trigger.DailySpec(c)
	case reminder.KindWeeklySummary:
		c, err := reminder.ParseClock(s.WeeklySummaryTime)
		if err != nil {
			return time.Time{}, err
		}
		day, err := reminder.ParseWeekday(s.WeeklySummaryDay)
		if err != nil {
			return time.Time{}, err
		}
		spec = trigger.WeeklySpec(day, c)
	case reminder.KindEnergyCheck:
		spec = trigger.HourlySpec
	default:
		return time.Time{}, fmt.Errorf("%w: %s has no calendar schedule", ErrNotTarget, kind)
	}
	return trigger.Next(spec, after)
}

// FirstFire is when a target's first reminder is due: the deadline minus the
// lead time, never earlier than now. ok is false when the target should have
// no job at all.
func FirstFire(t reminder.Target, s reminder.Settings, now time.Time, grace time.Duration) (at time.Time, ok bool) {
	if t.Completed || t.DueAt == nil || !s.KindEnabled(t.Kind) {
		return time.Time{}, false
	}
	if now.Sub(*t.DueAt) > grace {
		return time.Time{}, false
	}
	at = t.DueAt.Add(-s.Lead(t.Energy))
	if at.Before(now) {
		at = now
	}
	return at, true
}
