package config

import (
	"reflect"
	"sort"
	"strings"

	logx "pland/pkg/logx"
)

// SummarizeConfigChange lists the sections that differ and safe attrs for
// logging them. Tokens and DSNs are never included.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 16)

	o, n := oldCfg.Telegram, newCfg.Telegram
	if o.Token != n.Token || strings.TrimSpace(o.PollTimeout) != strings.TrimSpace(n.PollTimeout) || !reflect.DeepEqual(o.AllowedUserIDs, n.AllowedUserIDs) {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.Bool("telegram.token_changed", o.Token != n.Token),
			logx.String("telegram.poll_timeout", strings.TrimSpace(n.PollTimeout)),
			logx.Int("telegram.allowed_users", len(n.AllowedUserIDs)),
		)
	}

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file", newCfg.Logging.File.Enabled),
			logx.Bool("logging.alerts", newCfg.Logging.Alerts.Enabled),
		)
	}

	if oldCfg.Scheduler != newCfg.Scheduler {
		s := newCfg.Scheduler
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.String("scheduler.timezone", strings.TrimSpace(s.Timezone)),
			logx.String("scheduler.resync_every", s.ResyncEvery),
			logx.Bool("scheduler.disable_resync", s.DisableResync),
			logx.String("scheduler.overdue_grace", s.OverdueGrace),
		)
	}

	if oldCfg.TaskEngine != newCfg.TaskEngine {
		te := newCfg.TaskEngine
		changed = append(changed, "task_engine")
		attrs = append(attrs,
			logx.Int("task_engine.workers", te.Workers),
			logx.Int("task_engine.queue_size", te.QueueSize),
			logx.String("task_engine.default_timeout", te.DefaultTimeout),
		)
	}

	if oldCfg.Notifier != newCfg.Notifier {
		nc := newCfg.Notifier
		changed = append(changed, "notifier")
		attrs = append(attrs,
			logx.Int("notifier.rate_per_sec", nc.RatePerSec),
			logx.String("notifier.send_timeout", nc.SendTimeout),
		)
	}

	if oldCfg.Storage != newCfg.Storage {
		st := newCfg.Storage
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(st.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(st.Path) != ""),
			logx.Bool("storage.dsn_set", strings.TrimSpace(st.DSN) != ""),
		)
	}

	if !reflect.DeepEqual(oldCfg.Reminders, newCfg.Reminders) {
		changed = append(changed, "reminders")
		attrs = append(attrs, logx.Bool("reminders.custom", newCfg.Reminders != nil))
	}

	if oldCfg.Systemd != newCfg.Systemd {
		changed = append(changed, "systemd")
		attrs = append(attrs,
			logx.Bool("systemd.notify", newCfg.Systemd.Notify),
			logx.Bool("systemd.watchdog", newCfg.Systemd.Watchdog),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}

// RestartRequired reports sections that only take effect on restart.
func RestartRequired(changed []string) []string {
	var out []string
	for _, s := range changed {
		switch s {
		case "telegram", "storage", "systemd":
			out = append(out, s)
		}
	}
	return out
}
