// Package app wires configuration, storage, Telegram transport and the
// reminder scheduler into one process and owns its lifecycle.
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmhodges/clock"

	"pland/internal/config"
	"pland/internal/eventbus"
	"pland/internal/notifier"
	"pland/internal/runtime/supervisor"
	"pland/internal/services/planner"
	"pland/internal/services/reminders"
	"pland/internal/storage"
	"pland/internal/task/engine"
	"pland/internal/task/trigger"
	"pland/internal/transport"
	telegram "pland/internal/transport/telegram/adapter"
	"pland/internal/transport/telegram/router"
	logx "pland/pkg/logx"
)

type App struct {
	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   *eventbus.Memory
	store storage.Store

	adapter *telegram.Adapter
	router  *router.Router
	trigger *trigger.Service
	engine  *engine.Service
	notif   *notifier.Service
	sched   *reminders.Scheduler
	sd      *sdNotifier

	updates chan transport.Update
}

// New loads the config and builds every component. Nothing runs until Start.
func New(ctx context.Context, cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	// Alerts need the adapter and the adapter wants a logger, so bootstrap
	// logging without alerts and attach the sender once it exists.
	logCfg := mapLogConfig(cfg)
	bootCfg := logCfg
	bootCfg.Alerts.Enabled = false
	logSvc, log := logx.New(bootCfg, nil)

	pollTimeout, err := mapPollTimeout(cfg)
	if err != nil {
		return nil, err
	}
	ad, err := telegram.New(telegram.Config{Token: cfg.Telegram.Token, PollTimeout: pollTimeout}, log)
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}
	logSvc.SetAlertSender(ad)
	logSvc.Apply(logCfg)

	a := &App{
		cfgm:    cfgm,
		log:     log.With(logx.String("comp", "app")),
		logs:    logSvc,
		bus:     eventbus.New(),
		adapter: ad,
		sd:      newSdNotifier(cfg.Systemd, log),
		updates: make(chan transport.Update, 256),
	}
	if err := a.build(ctx, cfg); err != nil {
		_ = logSvc.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context, cfg *config.Config) error {
	log := a.logs.Logger()

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return err
	}
	store, err := storage.Open(ctx, sc, log)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	a.store = store
	a.log.Info("storage opened", logx.String("driver", sc.Driver))

	engCfg, err := mapEngineConfig(cfg)
	if err != nil {
		return err
	}
	ncfg, err := mapNotifierConfig(cfg)
	if err != nil {
		return err
	}
	rcfg, err := mapSchedulerConfig(cfg)
	if err != nil {
		return err
	}

	clk := clock.New()
	a.trigger = trigger.New(mapTriggerConfig(cfg), clk, log)
	a.engine = engine.New(engCfg, log, a.bus)
	a.notif = notifier.New(ncfg, a.adapter, log, a.bus)
	a.sched = reminders.New(rcfg, store, a.notif, a.trigger, a.engine, log,
		reminders.WithClock(clk),
		reminders.WithBus(a.bus),
		reminders.WithPermanentFailureHook(a.muteUser),
	)

	plan := planner.New(store, a.sched, log, planner.WithClock(clk), planner.WithZone(a.trigger.Location))
	a.router = router.New(log, a.adapter, cfg.Telegram.AllowedUserIDs)
	a.router.Register(plan.Commands()...)
	return nil
}

// muteUser turns notifications off for a user the bot can no longer reach.
// /start turns them back on.
func (a *App) muteUser(ctx context.Context, userID int64, cause error) {
	if err := a.store.SetNotificationsEnabled(ctx, userID, false); err != nil {
		a.log.Warn("mute unreachable user failed", logx.Int64("user_id", userID), logx.Err(err))
		return
	}
	a.log.Info("user unreachable; notifications disabled", logx.Int64("user_id", userID), logx.Err(cause))
}

// Done is closed when the app context ends (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error seen by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	run := a.sup.Context()

	a.cfgm.SetLogger(a.log)
	a.cfgm.SetValidator(func(c context.Context, cfg *config.Config) error {
		if _, err := mapSchedulerConfig(cfg); err != nil {
			return err
		}
		if _, err := mapEngineConfig(cfg); err != nil {
			return err
		}
		if _, err := mapNotifierConfig(cfg); err != nil {
			return err
		}
		_, err := mapStorageConfig(cfg)
		return err
	})

	a.trigger.Start(run)
	a.engine.Start(run)
	if err := a.adapter.Start(run, a.updates); err != nil {
		return err
	}
	if err := a.router.SyncMenu(run); err != nil {
		a.log.Warn("command menu sync failed", logx.Err(err))
	}

	a.sup.Go("commands.dispatch", func(c context.Context) error {
		return a.router.DispatchLoop(c, a.updates)
	})
	a.sup.Go0("eventbus.log", a.logEvents)
	a.sup.Go0("config.reload", a.reloadLoop)
	a.sup.Go("config.watch", a.cfgm.Watch)
	a.sup.Go0("systemd.watchdog", a.sd.Watchdog)

	// Recover errors are per user; the rest keep their reminders.
	if err := a.sched.Start(run); err != nil {
		a.log.Warn("reminder recovery incomplete", logx.Err(err))
	}

	a.sd.Ready()
	a.log.Info("app started", logx.Int("jobs", len(a.sched.Jobs())))
	return nil
}

func (a *App) logEvents(ctx context.Context) {
	events, unsub := a.bus.Subscribe(128)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
		}
	}
}

func (a *App) reloadLoop(ctx context.Context) {
	sub := a.cfgm.Subscribe(8)
	defer a.cfgm.Unsubscribe(sub)
	last := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-sub:
			if !ok {
				return
			}
			// coalesce bursts
		drain:
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						cfg = newer
					}
				default:
					break drain
				}
			}
			a.applyConfig(ctx, last, cfg)
			last = cfg
		}
	}
}

func (a *App) applyConfig(ctx context.Context, prev, cfg *config.Config) {
	sections, attrs := config.SummarizeConfigChange(prev, cfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	a.sd.Reloading()
	defer a.sd.Ready()

	if restart := config.RestartRequired(sections); len(restart) > 0 {
		a.log.Warn("config change needs a restart to take effect", logx.String("sections", strings.Join(restart, ",")))
	}

	a.logs.Apply(mapLogConfig(cfg))
	a.router.SetAllowed(cfg.Telegram.AllowedUserIDs)
	a.trigger.Apply(mapTriggerConfig(cfg))

	if ec, err := mapEngineConfig(cfg); err == nil {
		if err := a.engine.Apply(ctx, ec); err != nil {
			a.log.Warn("task engine reconfigure failed", logx.Err(err))
		}
	}
	if nc, err := mapNotifierConfig(cfg); err == nil {
		a.notif.Apply(nc)
	}
	if rc, err := mapSchedulerConfig(cfg); err == nil {
		if err := a.sched.Apply(rc); err != nil {
			a.log.Warn("scheduler reconfigure failed", logx.Err(err))
		}
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

// Stop shuts components down in dependency order, each step bounded so one
// stuck component cannot hold the rest.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sd.Stopping()
	a.sup.Cancel()

	step := func(name string, limit time.Duration, fn func(context.Context) error) {
		start := time.Now()
		c, cancel := context.WithTimeout(ctx, limit)
		defer cancel()
		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(c)
		}()
		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-c.Done():
			a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		}
	}

	// disarm timers first so nothing new is submitted to the engine
	step("scheduler", time.Second, func(context.Context) error { a.sched.Shutdown(); return nil })
	step("trigger", 2*time.Second, func(c context.Context) error { a.trigger.Stop(c); return nil })
	step("taskengine", 5*time.Second, a.engine.Stop)
	step("adapter", 2*time.Second, a.adapter.Stop)
	step("supervisor", 3*time.Second, a.sup.Wait)
	step("storage", time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	return a.logs.Close()
}
