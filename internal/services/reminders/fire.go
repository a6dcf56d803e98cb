package reminders

import (
	"context"
	"errors"
	"strconv"
	"time"

	"pland/internal/eventbus"
	"pland/internal/notifier"
	"pland/internal/reminder"
	"pland/internal/task/engine"
	"pland/internal/task/registry"
	logx "pland/pkg/logx"
)

// dispatch runs on the timer goroutine. Submit blocks while the engine queue
// is full so fires are never dropped.
func (s *Scheduler) dispatch(f registry.Firing) {
	s.mu.Lock()
	ctx := s.runCtx
	cfg := s.cfg
	s.mu.Unlock()
	if ctx.Err() != nil {
		return
	}

	err := s.exec.Submit(ctx, engine.Task{
		Name:    "reminder " + f.Job.Key.String(),
		Timeout: cfg.FireTimeout,
		Run:     func(ctx context.Context) error { return s.fire(ctx, f) },
	})
	if err == nil || ctx.Err() != nil {
		return
	}
	s.log.Warn("fire not submitted", logx.Stringer("key", f.Job.Key), logx.Err(err))
	next := f.Job
	next.NextFireAt = s.clock.Now().Add(cfg.StoreBackoff)
	if _, rerr := s.reg.Rearm(f, next); rerr != nil {
		s.log.Error("rearm after submit failure", logx.Stringer("key", f.Job.Key), logx.Err(rerr))
	}
}

func (s *Scheduler) fire(ctx context.Context, f registry.Firing) error {
	job := f.Job
	unlock := s.locks.Lock(job.Key)
	defer unlock()

	if !s.reg.Current(f) {
		s.log.Debug("firing superseded", logx.Stringer("key", job.Key))
		return nil
	}

	cfg := s.config()
	in := Input{
		Now:          s.clock.Now(),
		Job:          job,
		Fallback:     s.timers.Location(),
		StoreBackoff: cfg.StoreBackoff,
		OverdueGrace: cfg.OverdueGrace,
	}
	in.Settings, in.SettingsErr = s.store.GetReminderSettings(ctx, job.UserID)
	in.Muted, in.UserErr = s.muted(ctx, job.UserID)
	if job.Key.Kind.IsTarget() {
		t, err := s.store.GetTarget(ctx, job.Key)
		if err == nil {
			in.Target = &t
		}
		in.TargetErr = err
	}

	d, err := Decide(in)
	log := s.log.With(logx.Stringer("key", job.Key), logx.Int64("user_id", job.UserID))
	if err != nil {
		log.Error("invalid reminder settings", logx.Err(err))
	}
	if in.SettingsErr != nil || in.UserErr != nil || (in.TargetErr != nil && d.Action == ActionBackoff) {
		log.Warn("store read failed", logx.Err(errors.Join(in.SettingsErr, in.UserErr, in.TargetErr)))
	}
	ev := FireEvent{Key: job.Key.String(), UserID: job.UserID, At: in.Now, Reason: d.Reason}

	switch d.Action {
	case ActionCancel:
		if s.reg.Retire(f) {
			log.Debug("reminder retired", logx.String("reason", d.Reason))
			s.publish(eventbus.ReminderCancelled, ev)
		}
		return nil
	case ActionBackoff:
		ev.Next = s.rearm(f, d.NextFireAt, job.IntervalMinutes)
		s.publish(eventbus.ReminderBackoff, ev)
		return nil
	case ActionSuppress:
		ev.Next = s.rearm(f, d.NextFireAt, d.IntervalMinutes)
		log.Debug("reminder suppressed", logx.Time("resume", ev.Next))
		s.publish(eventbus.ReminderSuppressed, ev)
		return nil
	}

	text, err := s.render(ctx, in, d.Now)
	if err != nil {
		log.Warn("render failed", logx.Err(err))
		ev.Next = s.rearm(f, s.clock.Now().Add(cfg.StoreBackoff), job.IntervalMinutes)
		ev.Reason = "render failed"
		s.publish(eventbus.ReminderBackoff, ev)
		return nil
	}
	if text == "" {
		ev.Next = s.rearm(f, d.NextFireAt, d.IntervalMinutes)
		log.Debug("nothing to report", logx.Time("next", ev.Next))
		return nil
	}

	derr := s.notifier.Deliver(ctx, job.UserID, text)
	switch {
	case notifier.IsPermanent(derr):
		s.permanentFailure(ctx, job.UserID, derr)
		return nil
	case derr != nil:
		ev.Error = derr.Error()
		ev.Next = s.rearm(f, d.NextFireAt, d.IntervalMinutes)
		log.Warn("reminder delivery failed", logx.Time("next", ev.Next), logx.Err(derr))
		s.publish(eventbus.ReminderFailed, ev)
		return nil
	}
	ev.Next = s.rearm(f, d.NextFireAt, d.IntervalMinutes)
	log.Info("reminder sent", logx.Time("next", ev.Next))
	s.publish(eventbus.ReminderFired, ev)
	return nil
}

// rearm installs the follow-up fire on behalf of f and returns its time, or
// the zero time when the job was cancelled or replaced meanwhile.
func (s *Scheduler) rearm(f registry.Firing, at time.Time, interval int) time.Time {
	if now := s.clock.Now(); at.Before(now) {
		at = now
	}
	next := f.Job
	next.NextFireAt = at
	next.IntervalMinutes = interval
	ok, err := s.reg.Rearm(f, next)
	if err != nil {
		s.log.Error("rearm failed", logx.Stringer("key", f.Job.Key), logx.Err(err))
		return time.Time{}
	}
	if !ok {
		s.log.Debug("job changed while firing", logx.Stringer("key", f.Job.Key))
		return time.Time{}
	}
	return at
}

func (s *Scheduler) permanentFailure(ctx context.Context, userID int64, err error) {
	n := s.reg.CancelUser(userID)
	s.log.Warn("recipient unavailable, reminders stopped", logx.Int64("user_id", userID), logx.Int("jobs_cancelled", n), logx.Err(err))
	s.publish(eventbus.ReminderCancelled, FireEvent{
		Key:    "user:" + strconv.FormatInt(userID, 10),
		UserID: userID,
		At:     s.clock.Now(),
		Reason: "recipient unavailable",
		Error:  err.Error(),
	})
	if s.onPermanent != nil {
		s.onPermanent(ctx, userID, err)
	}
}

// render builds the message for a notify decision. now is in the user's location.
func (s *Scheduler) render(ctx context.Context, in Input, now time.Time) (string, error) {
	kind := in.Job.Key.Kind
	if kind.IsTarget() {
		return reminder.TargetReminder(*in.Target, now), nil
	}

	pending, err := s.store.ListActiveTargets(ctx, in.Job.UserID)
	if err != nil {
		return "", err
	}
	switch kind {
	case reminder.KindDailySummary:
		return reminder.MorningDigest(now, pending), nil
	case reminder.KindEnergyCheck:
		return reminder.EnergyDigest(now, pending), nil
	case reminder.KindEveningSummary:
		y, m, d := now.Date()
		done, err := s.store.ListCompletedSince(ctx, in.Job.UserID, time.Date(y, m, d, 0, 0, 0, 0, now.Location()))
		if err != nil {
			return "", err
		}
		return reminder.EveningDigest(now, pending, done), nil
	case reminder.KindWeeklySummary:
		done, err := s.store.ListCompletedSince(ctx, in.Job.UserID, now.AddDate(0, 0, -7))
		if err != nil {
			return "", err
		}
		return reminder.WeeklyDigest(now, pending, done), nil
	}
	return "", nil
}
