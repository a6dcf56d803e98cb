package app

import (
	"strings"
	"time"

	"pland/internal/config"
	"pland/internal/notifier"
	"pland/internal/services/reminders"
	"pland/internal/storage"
	"pland/internal/task/engine"
	"pland/internal/task/trigger"
	logx "pland/pkg/logx"
)

const defaultResync = 30 * time.Minute

func mapLogConfig(cfg *config.Config) logx.Config {
	l := cfg.Logging
	return logx.Config{
		Level:   l.Level,
		Console: l.Console,
		File:    logx.FileConfig{Enabled: l.File.Enabled, Path: l.File.Path},
		Alerts: logx.AlertConfig{
			Enabled:    l.Alerts.Enabled,
			ChatID:     l.Alerts.ChatID,
			MinLevel:   l.Alerts.MinLevel,
			RatePerSec: l.Alerts.RatePerSec,
		},
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
	if err != nil {
		return storage.Config{}, err
	}
	out := storage.Config{
		Driver:      strings.ToLower(strings.TrimSpace(sc.Driver)),
		Path:        strings.TrimSpace(sc.Path),
		DSN:         strings.TrimSpace(sc.DSN),
		BusyTimeout: busy,
		MaxConns:    sc.MaxConns,
	}
	if out.Driver == "" {
		out.Driver = "memory"
	}
	if cfg.Reminders != nil {
		out.Defaults = *cfg.Reminders
	}
	return out, nil
}

func mapEngineConfig(cfg *config.Config) (engine.Config, error) {
	te := cfg.TaskEngine
	timeout, err := config.ParseDurationField("task_engine.default_timeout", te.DefaultTimeout)
	if err != nil {
		return engine.Config{}, err
	}
	return engine.Config{
		Workers:        te.Workers,
		QueueSize:      te.QueueSize,
		DefaultTimeout: timeout,
		HistorySize:    te.HistorySize,
	}, nil
}

func mapNotifierConfig(cfg *config.Config) (notifier.Config, error) {
	nc := cfg.Notifier
	timeout, err := config.ParseDurationField("notifier.send_timeout", nc.SendTimeout)
	if err != nil {
		return notifier.Config{}, err
	}
	return notifier.Config{
		RatePerSec:  nc.RatePerSec,
		Burst:       nc.Burst,
		SendTimeout: timeout,
		HistorySize: nc.HistorySize,
	}, nil
}

func mapTriggerConfig(cfg *config.Config) trigger.Config {
	return trigger.Config{Timezone: strings.TrimSpace(cfg.Scheduler.Timezone)}
}

// mapSchedulerConfig parses the scheduler section. Zero durations fall back
// to the scheduler's defaults; the resync period has its own default here
// because 0 means "off" to the scheduler.
func mapSchedulerConfig(cfg *config.Config) (reminders.Config, error) {
	sc := cfg.Scheduler
	var out reminders.Config
	var err error
	if out.FireTimeout, err = config.ParseDurationField("scheduler.fire_timeout", sc.FireTimeout); err != nil {
		return reminders.Config{}, err
	}
	if out.StoreBackoff, err = config.ParseDurationField("scheduler.store_backoff", sc.StoreBackoff); err != nil {
		return reminders.Config{}, err
	}
	if out.OverdueGrace, err = config.ParseDurationField("scheduler.overdue_grace", sc.OverdueGrace); err != nil {
		return reminders.Config{}, err
	}
	if out.ResyncEvery, err = config.ParseDurationOrDefault("scheduler.resync_every", sc.ResyncEvery, defaultResync); err != nil {
		return reminders.Config{}, err
	}
	if sc.DisableResync {
		out.ResyncEvery = 0
	}
	out.RecoverConcurrency = sc.RecoverConcurrency
	return out, nil
}

func mapPollTimeout(cfg *config.Config) (time.Duration, error) {
	return config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
}
