package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

const validJSON = `{
  "telegram": {"token": "123:abc", "allowed_user_ids": [42]},
  "logging": {"level": "debug", "console": true},
  "scheduler": {"timezone": "UTC", "resync_every": "15m"},
  "task_engine": {"workers": 2},
  "notifier": {"rate_per_sec": 5, "send_timeout": "5s"},
  "storage": {"driver": "sqlite", "path": "./pland.db"},
  "systemd": {"notify": true}
}`

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestLoadJSON(t *testing.T) {
	t.Parallel()
	m := NewConfigManager(writeFile(t, "pland.json", validJSON))
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if diff := cmp.Diff([]int64{42}, cfg.Telegram.AllowedUserIDs); diff != "" {
		t.Fatalf("allowed users (-want +got):\n%s", diff)
	}
	if m.Get() != cfg {
		t.Fatal("Get did not return the committed config")
	}
}

func TestLoadYAML(t *testing.T) {
	t.Parallel()
	body := `
telegram:
  token: "123:abc"
scheduler:
  overdue_grace: 12h
storage:
  driver: memory
reminders:
  default_lead_minutes: 15
  morning_summary_time: "08:00"
  evening_summary_time: "21:00"
  high_interval_minutes: 20
  medium_interval_minutes: 45
  low_interval_minutes: 90
  quiet_hours_start: "22:00"
  quiet_hours_end: "06:30"
  enabled_kinds: [all]
  urgency_factor: 3
  weekly_summary_day: fri
  weekly_summary_time: "17:00"
`
	cfg, err := NewConfigManager(writeFile(t, "pland.yaml", body)).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Reminders == nil || cfg.Reminders.DefaultLeadMinutes != 15 || cfg.Reminders.WeeklySummaryDay != "fri" {
		t.Fatalf("reminders = %+v", cfg.Reminders)
	}
	if cfg.Scheduler.OverdueGrace != "12h" {
		t.Fatalf("overdue_grace = %q", cfg.Scheduler.OverdueGrace)
	}
}

func TestLoadRejects(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		file string
		body string
		want string
	}{
		{"unknown field", "c.json", `{"telegram":{"token":"x"},"plugins":{}}`, "unknown field"},
		{"trailing data", "c.json", `{"telegram":{"token":"x"}} {}`, "trailing data"},
		{"missing token", "c.json", `{}`, "telegram.token"},
		{"bad duration", "c.json", `{"telegram":{"token":"x"},"scheduler":{"fire_timeout":"soon"}}`, "scheduler.fire_timeout"},
		{"bad driver", "c.json", `{"telegram":{"token":"x"},"storage":{"driver":"mongo"}}`, "storage.driver"},
		{"sqlite without path", "c.json", `{"telegram":{"token":"x"},"storage":{"driver":"sqlite"}}`, "storage.path"},
		{"postgres without dsn", "c.json", `{"telegram":{"token":"x"},"storage":{"driver":"postgres"}}`, "storage.dsn"},
		{"bad reminders", "c.yml", "telegram: {token: x}\nreminders: {quiet_hours_start: \"25:00\"}\n", "reminders"},
		{"empty file", "c.yaml", "  \n", "empty"},
		{"yaml list", "c.yaml", "- a\n- b\n", "mapping"},
		{"alerts without chat", "c.json", `{"telegram":{"token":"x"},"logging":{"alerts":{"enabled":true}}}`, "chat_id"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := NewConfigManager(writeFile(t, tt.file, tt.body)).Load()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("Load err = %v, want mention of %q", err, tt.want)
			}
		})
	}
}

func TestSummarizeConfigChange(t *testing.T) {
	t.Parallel()
	oldCfg := &Config{Telegram: TelegramConfig{Token: "a"}, Storage: StorageConfig{Driver: "memory"}}
	newCfg := *oldCfg
	newCfg.Telegram.Token = "b"
	newCfg.Scheduler.ResyncEvery = "5m"
	newCfg.Notifier.RatePerSec = 3

	changed, attrs := SummarizeConfigChange(oldCfg, &newCfg)
	if diff := cmp.Diff([]string{"notifier", "scheduler", "telegram"}, changed); diff != "" {
		t.Fatalf("changed (-want +got):\n%s", diff)
	}
	if len(attrs) == 0 {
		t.Fatal("no attrs")
	}
	if diff := cmp.Diff([]string{"telegram"}, RestartRequired(changed)); diff != "" {
		t.Fatalf("RestartRequired (-want +got):\n%s", diff)
	}
}

func TestParseDurationOrDefault(t *testing.T) {
	t.Parallel()
	tests := []struct {
		raw     string
		want    time.Duration
		wantErr bool
	}{
		{"", time.Minute, false},
		{"0s", time.Minute, false},
		{"90s", 90 * time.Second, false},
		{"2d", 48 * time.Hour, false},
		{"1.5d", 0, true},
		{"-1d", 0, true},
		{"-1s", 0, true},
		{"later", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseDurationOrDefault("x", tt.raw, time.Minute)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Fatalf("ParseDurationOrDefault(%q) = %v, %v; want %v, err=%v", tt.raw, got, err, tt.want, tt.wantErr)
		}
	}
}

func TestWatchPublishesReload(t *testing.T) {
	path := writeFile(t, "pland.json", validJSON)
	m := NewConfigManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatal(err)
	}
	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.Watch(ctx)
	}()
	defer func() {
		cancel()
		<-done
	}()

	updated := strings.Replace(validJSON, `"workers": 2`, `"workers": 6`, 1)
	deadline := time.After(5 * time.Second)
	tick := time.NewTicker(300 * time.Millisecond)
	defer tick.Stop()
	for {
		// rewrite until the watcher is up and sees it
		if err := os.WriteFile(path, []byte(updated), 0o600); err != nil {
			t.Fatal(err)
		}
		select {
		case cfg := <-ch:
			if cfg.TaskEngine.Workers != 6 {
				t.Fatalf("workers = %d, want 6", cfg.TaskEngine.Workers)
			}
			return
		case <-deadline:
			t.Fatal("no reload published")
		case <-tick.C:
		}
	}
}
