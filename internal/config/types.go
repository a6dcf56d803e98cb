package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"pland/internal/reminder"
	logx "pland/pkg/logx"
)

type Config struct {
	Telegram   TelegramConfig   `json:"telegram"`
	Logging    LoggingConfig    `json:"logging"`
	Scheduler  SchedulerConfig  `json:"scheduler"`
	TaskEngine TaskEngineConfig `json:"task_engine"`
	Notifier   NotifierConfig   `json:"notifier"`
	Storage    StorageConfig    `json:"storage"`

	// Reminders is the settings template for new users. Omitted means the
	// built-in defaults.
	Reminders *reminder.Settings `json:"reminders,omitempty"`

	Systemd SystemdConfig `json:"systemd"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// AllowedUserIDs restricts who may talk to the bot. Empty allows everyone.
	AllowedUserIDs []int64 `json:"allowed_user_ids,omitempty"`
	// PollTimeout is a Go duration string (e.g. "10s").
	PollTimeout string `json:"poll_timeout,omitempty"`
}

type LoggingConfig struct {
	Level   string        `json:"level"`
	Console bool          `json:"console"`
	File    LoggingFile   `json:"file"`
	Alerts  LoggingAlerts `json:"alerts"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingAlerts forwards warn+ lines to an operator chat.
type LoggingAlerts struct {
	Enabled    bool   `json:"enabled"`
	ChatID     int64  `json:"chat_id"`
	MinLevel   string `json:"min_level,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}

// SchedulerConfig controls reminder scheduling.
//
// Durations are Go duration strings. Defaults:
//   - resync_every: "30m" ("0s" keeps the default; use disable_resync to turn it off)
//   - fire_timeout: "30s"
//   - store_backoff: "1m"
//   - overdue_grace: "24h"
//   - recover_concurrency: 8
type SchedulerConfig struct {
	// Timezone is the IANA zone for users without their own.
	Timezone           string `json:"timezone,omitempty"`
	ResyncEvery        string `json:"resync_every,omitempty"`
	DisableResync      bool   `json:"disable_resync,omitempty"`
	FireTimeout        string `json:"fire_timeout,omitempty"`
	StoreBackoff       string `json:"store_backoff,omitempty"`
	OverdueGrace       string `json:"overdue_grace,omitempty"`
	RecoverConcurrency int    `json:"recover_concurrency,omitempty"`
}

type TaskEngineConfig struct {
	Workers        int    `json:"workers,omitempty"`
	QueueSize      int    `json:"queue_size,omitempty"`
	DefaultTimeout string `json:"default_timeout,omitempty"`
	HistorySize    int    `json:"history_size,omitempty"`
}

type NotifierConfig struct {
	RatePerSec  int    `json:"rate_per_sec,omitempty"`
	Burst       int    `json:"burst,omitempty"`
	SendTimeout string `json:"send_timeout,omitempty"`
	HistorySize int    `json:"history_size,omitempty"`
}

// StorageConfig selects the store backend.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./pland.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`
	DSN         string `json:"dsn,omitempty"` // postgres; never logged
	BusyTimeout string `json:"busy_timeout,omitempty"`
	MaxConns    int32  `json:"max_conns,omitempty"`
}

// SystemdConfig controls sd_notify integration. It is a no-op outside systemd.
type SystemdConfig struct {
	Notify   bool `json:"notify"`
	Watchdog bool `json:"watchdog"`
}

var knownDrivers = map[string]bool{
	"": true, "memory": true, "file": true,
	"sqlite": true, "sqlite3": true,
	"postgres": true, "postgresql": true, "pgx": true,
}

// Validate checks everything that can be checked without touching the
// outside world and joins all problems.
func (c *Config) Validate() error {
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}
	dur := func(path, raw string) {
		_, err := ParseDurationField(path, raw)
		add(err)
	}

	if strings.TrimSpace(c.Telegram.Token) == "" {
		add(errors.New("telegram.token: required"))
	}
	dur("telegram.poll_timeout", c.Telegram.PollTimeout)

	if c.Logging.Level != "" && !logx.ValidLevel(c.Logging.Level) {
		add(fmt.Errorf("logging.level: unknown level %q", c.Logging.Level))
	}
	if c.Logging.Alerts.Enabled && c.Logging.Alerts.ChatID == 0 {
		add(errors.New("logging.alerts.chat_id: required when alerts are enabled"))
	}

	if tz := strings.TrimSpace(c.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			add(fmt.Errorf("scheduler.timezone: %w", err))
		}
	}
	dur("scheduler.resync_every", c.Scheduler.ResyncEvery)
	dur("scheduler.fire_timeout", c.Scheduler.FireTimeout)
	dur("scheduler.store_backoff", c.Scheduler.StoreBackoff)
	dur("scheduler.overdue_grace", c.Scheduler.OverdueGrace)
	if c.Scheduler.RecoverConcurrency < 0 {
		add(errors.New("scheduler.recover_concurrency: must be >= 0"))
	}

	dur("task_engine.default_timeout", c.TaskEngine.DefaultTimeout)
	dur("notifier.send_timeout", c.Notifier.SendTimeout)

	driver := strings.ToLower(strings.TrimSpace(c.Storage.Driver))
	switch {
	case !knownDrivers[driver]:
		add(fmt.Errorf("storage.driver: unknown driver %q", c.Storage.Driver))
	case (driver == "file" || strings.HasPrefix(driver, "sqlite")) && strings.TrimSpace(c.Storage.Path) == "":
		add(fmt.Errorf("storage.path: required for driver %q", driver))
	case (driver == "postgres" || driver == "postgresql" || driver == "pgx") && strings.TrimSpace(c.Storage.DSN) == "":
		add(fmt.Errorf("storage.dsn: required for driver %q", driver))
	}
	dur("storage.busy_timeout", c.Storage.BusyTimeout)

	if c.Reminders != nil {
		if err := c.Reminders.Validate(); err != nil {
			add(fmt.Errorf("reminders: %w", err))
		}
	}
	return errors.Join(errs...)
}
