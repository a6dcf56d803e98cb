package reminders

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/jmhodges/clock"

	"pland/internal/eventbus"
	"pland/internal/reminder"
	"pland/internal/task/registry"
	logx "pland/pkg/logx"
)

const resyncSchedule = "reminders.resync"

// recurringKinds are the per-user jobs derived from settings.
var recurringKinds = []reminder.Kind{
	reminder.KindDailySummary,
	reminder.KindEveningSummary,
	reminder.KindWeeklySummary,
	reminder.KindEnergyCheck,
}

// Scheduler owns the job registry and drives every reminder fire.
type Scheduler struct {
	mu  sync.Mutex
	cfg Config

	store    Store
	notifier Notifier
	timers   Timers
	exec     Executor
	reg      *registry.Registry

	clock       clock.Clock
	log         logx.Logger
	bus         eventbus.Bus
	onPermanent PermanentFailureHook

	locks keyLocks

	runCtx    context.Context
	runCancel context.CancelFunc
}

type Option func(*Scheduler)

func WithClock(c clock.Clock) Option { return func(s *Scheduler) { s.clock = c } }

func WithBus(b eventbus.Bus) Option { return func(s *Scheduler) { s.bus = b } }

func WithPermanentFailureHook(fn PermanentFailureHook) Option {
	return func(s *Scheduler) { s.onPermanent = fn }
}

func New(cfg Config, store Store, n Notifier, timers Timers, exec Executor, log logx.Logger, opts ...Option) *Scheduler {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Scheduler{
		cfg:      cfg.withDefaults(),
		store:    store,
		notifier: n,
		timers:   timers,
		exec:     exec,
		clock:    clock.New(),
		log:      log.With(logx.String("comp", "reminders")),
	}
	for _, o := range opts {
		o(s)
	}
	s.bus = eventbus.OrNop(s.bus)
	s.reg = registry.New(timers, s.clock, s.log.With(logx.String("sub", "registry")), s.dispatch)
	s.runCtx, s.runCancel = context.WithCancel(context.Background())
	return s
}

func (s *Scheduler) config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// Start recovers every job from the store and registers the periodic resync.
// Fires run under ctx until Shutdown.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	s.runCancel()
	s.runCtx, s.runCancel = context.WithCancel(ctx)
	s.mu.Unlock()

	err := s.Recover(ctx)
	if rerr := s.registerResync(); rerr != nil {
		err = errors.Join(err, rerr)
	}
	return err
}

// Apply swaps the config. A changed resync period takes effect immediately.
func (s *Scheduler) Apply(cfg Config) error {
	cfg = cfg.withDefaults()
	s.mu.Lock()
	changed := s.cfg.ResyncEvery != cfg.ResyncEvery
	s.cfg = cfg
	s.mu.Unlock()
	if !changed {
		return nil
	}
	return s.registerResync()
}

func (s *Scheduler) registerResync() error {
	s.timers.Remove(resyncSchedule)
	every := s.config().ResyncEvery
	if every <= 0 {
		return nil
	}
	return s.timers.AddInterval(resyncSchedule, every, func() {
		s.mu.Lock()
		ctx := s.runCtx
		s.mu.Unlock()
		if ctx.Err() != nil {
			return
		}
		if err := s.Recover(ctx); err != nil {
			s.log.Warn("resync incomplete", logx.Err(err))
		}
	})
}

// Shutdown stops the resync and disarms every job. Fires already running finish.
// Jobs are rebuilt from the store by the next Start.
func (s *Scheduler) Shutdown() {
	s.timers.Remove(resyncSchedule)
	n := s.reg.CancelAll()
	s.mu.Lock()
	s.runCancel()
	s.mu.Unlock()
	s.log.Info("reminder scheduler stopped", logx.Int("jobs_disarmed", n))
}

func (s *Scheduler) Jobs() []reminder.Job { return s.reg.Jobs() }

func (s *Scheduler) Job(key reminder.Key) (reminder.Job, bool) { return s.reg.Get(key) }

// ScheduleTarget installs or replaces the job of a new or edited target.
// Completed, undated or long-expired targets lose their job instead.
func (s *Scheduler) ScheduleTarget(ctx context.Context, t reminder.Target) error {
	if !t.Kind.IsTarget() {
		return fmt.Errorf("%w: %s", ErrNotTarget, t.Kind)
	}
	settings, err := s.store.GetReminderSettings(ctx, t.UserID)
	if err != nil {
		return fmt.Errorf("load settings for user %d: %w", t.UserID, err)
	}
	if err := settings.Validate(); err != nil {
		return err
	}
	muted, err := s.muted(ctx, t.UserID)
	if err != nil {
		return err
	}
	if muted {
		s.CancelTarget(t.Key())
		return nil
	}
	_, err = s.scheduleTarget(t, settings, true)
	return err
}

// muted reports whether the user has notifications off, after /stop or a
// permanent delivery failure.
func (s *Scheduler) muted(ctx context.Context, userID int64) (bool, error) {
	u, err := s.store.EnsureUser(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("load user %d: %w", userID, err)
	}
	return !u.NotificationsEnabled, nil
}

// liveJob looks key up in the registry. A job whose timer went off more than
// a fire timeout ago without being rearmed or retired lost its firing (the
// engine dropped it, or the fire crashed) and is reported as missing so the
// caller installs it again.
func (s *Scheduler) liveJob(key reminder.Key, now time.Time) (job reminder.Job, fired, ok bool) {
	job, fired, ok = s.reg.Lookup(key)
	if ok && fired && now.Sub(job.NextFireAt) > s.config().FireTimeout {
		s.log.Warn("reminder firing lost, reinstalling", logx.Stringer("key", key), logx.Time("fired_at", job.NextFireAt))
		return job, false, false
	}
	return job, fired, ok
}

// scheduleTarget reports whether a job was installed or changed. With
// replace=false an existing job is left alone.
func (s *Scheduler) scheduleTarget(t reminder.Target, settings reminder.Settings, replace bool) (bool, error) {
	key := t.Key()
	cfg := s.config()
	now := s.clock.Now()
	existing, fired, exists := s.liveJob(key, now)
	if exists && !replace {
		return false, nil
	}

	at, ok := FirstFire(t, settings, now, cfg.OverdueGrace)
	if !ok {
		if s.reg.Cancel(key) {
			s.publish(eventbus.ReminderCancelled, FireEvent{Key: key.String(), UserID: t.UserID, At: now, Reason: "target not remindable"})
		}
		return false, nil
	}
	minutes, err := reminder.ResolveInterval(t.Priority, settings, t.DueAt.Sub(at))
	if err != nil {
		return false, err
	}
	// A target already in its repeat phase keeps a pending fire unless the
	// new interval brings the next reminder closer. A fired job is being
	// delivered right now, so its successor starts one interval out.
	if exists && !at.After(now) {
		at = now.Add(time.Duration(minutes) * time.Minute)
		if !fired && existing.NextFireAt.Before(at) {
			at = existing.NextFireAt
			if at.Before(now) {
				at = now
			}
		}
	}
	job := reminder.Job{Key: key, UserID: t.UserID, NextFireAt: at, IntervalMinutes: minutes}
	changed, err := s.reg.Upsert(job)
	if err != nil {
		return false, err
	}
	if changed {
		s.log.Debug("target scheduled", logx.Stringer("key", key), logx.Time("next", at), logx.Int("interval_min", minutes))
	}
	return changed, nil
}

// CancelTarget drops the job for key. Missing keys are a no-op.
func (s *Scheduler) CancelTarget(key reminder.Key) bool {
	if !s.reg.Cancel(key) {
		return false
	}
	s.publish(eventbus.ReminderCancelled, FireEvent{Key: key.String(), At: s.clock.Now(), Reason: "cancelled"})
	return true
}

// ScheduleUser re-derives every job of the user after a settings change.
// A user with notifications off keeps no jobs.
func (s *Scheduler) ScheduleUser(ctx context.Context, userID int64) error {
	muted, err := s.muted(ctx, userID)
	if err != nil {
		return err
	}
	if muted {
		s.CancelUser(userID)
		return nil
	}
	_, err = s.syncUser(ctx, userID, true)
	return err
}

// CancelUser drops every job of the user and returns how many.
func (s *Scheduler) CancelUser(userID int64) int {
	n := s.reg.CancelUser(userID)
	if n > 0 {
		s.publish(eventbus.ReminderCancelled, FireEvent{Key: "user:" + strconv.FormatInt(userID, 10), UserID: userID, At: s.clock.Now(), Reason: "user cancelled"})
	}
	return n
}

// syncUser installs the user's per-user and target jobs. With replace=false
// only missing jobs are added. It returns how many jobs were installed.
func (s *Scheduler) syncUser(ctx context.Context, userID int64, replace bool) (int, error) {
	settings, err := s.store.GetReminderSettings(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("load settings for user %d: %w", userID, err)
	}
	if err := settings.Validate(); err != nil {
		return 0, fmt.Errorf("user %d: %w", userID, err)
	}
	loc, _ := settings.Location(s.timers.Location())
	now := s.clock.Now().In(loc)

	var errs []error
	installed := 0
	for _, kind := range recurringKinds {
		key := reminder.UserKey(userID, kind)
		if !settings.KindEnabled(kind) {
			s.reg.Cancel(key)
			continue
		}
		if _, _, ok := s.liveJob(key, now); ok && !replace {
			continue
		}
		next, err := NextOccurrence(kind, settings, now)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		changed, err := s.reg.Upsert(reminder.Job{Key: key, UserID: userID, NextFireAt: next})
		if err != nil {
			errs = append(errs, err)
		} else if changed {
			installed++
		}
	}

	targets, err := s.store.ListActiveTargets(ctx, userID)
	if err != nil {
		errs = append(errs, fmt.Errorf("list targets for user %d: %w", userID, err))
		return installed, errors.Join(errs...)
	}
	for _, t := range targets {
		changed, err := s.scheduleTarget(t, settings, replace)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", t.Key(), err))
		} else if changed {
			installed++
		}
	}
	return installed, errors.Join(errs...)
}

func (s *Scheduler) publish(typ string, ev FireEvent) {
	s.bus.Publish(eventbus.Event{Type: typ, Time: ev.At, Data: ev})
}
