package reminders

import (
	"errors"
	"testing"
	"time"

	"pland/internal/reminder"
	"pland/internal/storage"
)

func TestDecide(t *testing.T) {
	t.Parallel()
	noon := time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)
	late := time.Date(2026, 5, 4, 23, 30, 0, 0, time.UTC)
	at := func(d time.Duration) *time.Time { v := noon.Add(d); return &v }
	taskJob := reminder.Job{Key: reminder.Key{ID: 1, Kind: reminder.KindTask}, UserID: 7, IntervalMinutes: 60}
	daily := reminder.Job{Key: reminder.UserKey(7, reminder.KindDailySummary), UserID: 7}

	defaults := reminder.DefaultSettings(7)
	tasksOff := defaults
	tasksOff.EnabledKinds = []string{reminder.ToggleDaily}
	broken := defaults
	broken.HighIntervalMinutes = 0

	tests := []struct {
		name       string
		now        time.Time
		job        reminder.Job
		target     *reminder.Target
		targetErr  error
		settings   reminder.Settings
		settingErr error
		muted      bool
		userErr    error
		want       Action
		wantNext   time.Time
		wantMin    int
		wantErr    bool
	}{
		{
			name: "store failure backs off", now: noon, job: taskJob,
			targetErr: errors.New("db down"), settings: defaults,
			want: ActionBackoff, wantNext: noon.Add(time.Minute),
		},
		{
			name: "settings failure backs off", now: noon, job: daily,
			settingErr: errors.New("db down"),
			want:       ActionBackoff, wantNext: noon.Add(time.Minute),
		},
		{
			name: "user read failure backs off", now: noon, job: taskJob,
			target: &reminder.Target{ID: 1, Kind: reminder.KindTask, DueAt: at(5 * time.Hour)}, settings: defaults, userErr: errors.New("db down"),
			want: ActionBackoff, wantNext: noon.Add(time.Minute),
		},
		{
			name: "muted user cancels", now: noon, job: daily,
			settings: defaults, muted: true,
			want: ActionCancel,
		},
		{
			name: "missing target cancels", now: noon, job: taskJob,
			targetErr: storage.ErrNotFound, settings: defaults,
			want: ActionCancel,
		},
		{
			name: "completed target cancels", now: noon, job: taskJob,
			target: &reminder.Target{ID: 1, Kind: reminder.KindTask, DueAt: at(time.Hour), Completed: true}, settings: defaults,
			want: ActionCancel,
		},
		{
			name: "disabled kind cancels", now: noon, job: taskJob,
			target: &reminder.Target{ID: 1, Kind: reminder.KindTask, DueAt: at(5 * time.Hour)}, settings: tasksOff,
			want: ActionCancel,
		},
		{
			name: "invalid settings back off with error", now: noon, job: taskJob,
			target: &reminder.Target{ID: 1, Kind: reminder.KindTask, Priority: reminder.PriorityHigh, DueAt: at(5 * time.Hour)}, settings: broken,
			want: ActionBackoff, wantNext: noon.Add(time.Minute), wantErr: true,
		},
		{
			name: "no deadline cancels", now: noon, job: taskJob,
			target: &reminder.Target{ID: 1, Kind: reminder.KindTask}, settings: defaults,
			want: ActionCancel,
		},
		{
			name: "overdue past grace cancels", now: noon, job: taskJob,
			target: &reminder.Target{ID: 1, Kind: reminder.KindTask, DueAt: at(-25 * time.Hour)}, settings: defaults,
			want: ActionCancel,
		},
		{
			name: "overdue within grace notifies urgently", now: noon, job: taskJob,
			target: &reminder.Target{ID: 1, Kind: reminder.KindTask, Priority: reminder.PriorityHigh, DueAt: at(-2 * time.Hour)}, settings: defaults,
			want: ActionNotify, wantNext: noon.Add(15 * time.Minute), wantMin: 15,
		},
		{
			name: "quiet hours suppress until end plus a minute", now: late, job: taskJob,
			target: &reminder.Target{ID: 1, Kind: reminder.KindTask, DueAt: at(48 * time.Hour)}, settings: defaults,
			want: ActionSuppress, wantNext: time.Date(2026, 5, 5, 7, 1, 0, 0, time.UTC), wantMin: 60,
		},
		{
			name: "regular interval", now: noon, job: taskJob,
			target: &reminder.Target{ID: 1, Kind: reminder.KindTask, Priority: reminder.PriorityMedium, DueAt: at(5 * time.Hour)}, settings: defaults,
			want: ActionNotify, wantNext: noon.Add(time.Hour), wantMin: 60,
		},
		{
			name: "unknown priority uses low tier", now: noon, job: taskJob,
			target: &reminder.Target{ID: 1, Kind: reminder.KindTask, Priority: "whenever", DueAt: at(5 * time.Hour)}, settings: defaults,
			want: ActionNotify, wantNext: noon.Add(2 * time.Hour), wantMin: 120,
		},
		{
			name: "daily summary moves to the next day", now: noon, job: daily,
			settings: defaults,
			want:     ActionNotify, wantNext: time.Date(2026, 5, 5, 9, 0, 0, 0, time.UTC),
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			d, err := Decide(Input{
				Now:          tt.now,
				Job:          tt.job,
				Target:       tt.target,
				TargetErr:    tt.targetErr,
				Settings:     tt.settings,
				SettingsErr:  tt.settingErr,
				Muted:        tt.muted,
				UserErr:      tt.userErr,
				Fallback:     time.UTC,
				StoreBackoff: time.Minute,
				OverdueGrace: 24 * time.Hour,
			})
			if (err != nil) != tt.wantErr {
				t.Fatalf("Decide err = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr && !reminder.IsConfigError(err) {
				t.Fatalf("Decide err = %v, want a ConfigError", err)
			}
			if d.Action != tt.want {
				t.Fatalf("Action = %v (%s), want %v", d.Action, d.Reason, tt.want)
			}
			if !tt.wantNext.IsZero() && !d.NextFireAt.Equal(tt.wantNext) {
				t.Fatalf("NextFireAt = %v, want %v", d.NextFireAt, tt.wantNext)
			}
			if d.Action == ActionNotify && d.IntervalMinutes != tt.wantMin {
				t.Fatalf("IntervalMinutes = %d, want %d", d.IntervalMinutes, tt.wantMin)
			}
		})
	}
}

func TestDecideUsesUserTimezone(t *testing.T) {
	t.Parallel()
	loc, err := time.LoadLocation("Asia/Tokyo")
	if err != nil {
		t.Skip("tzdata unavailable")
	}
	s := reminder.DefaultSettings(7)
	s.Timezone = "Asia/Tokyo"
	// 15:00 UTC is 00:00 in Tokyo: quiet.
	now := time.Date(2026, 5, 4, 15, 0, 0, 0, time.UTC)
	due := now.Add(48 * time.Hour)
	d, err := Decide(Input{
		Now:          now,
		Job:          reminder.Job{Key: reminder.Key{ID: 1, Kind: reminder.KindTask}, UserID: 7},
		Target:       &reminder.Target{ID: 1, Kind: reminder.KindTask, DueAt: &due},
		Settings:     s,
		Fallback:     time.UTC,
		StoreBackoff: time.Minute,
		OverdueGrace: 24 * time.Hour,
	})
	if err != nil {
		t.Fatal(err)
	}
	if d.Action != ActionSuppress {
		t.Fatalf("Action = %v, want suppress", d.Action)
	}
	if want := time.Date(2026, 5, 5, 7, 1, 0, 0, loc); !d.NextFireAt.Equal(want) {
		t.Fatalf("NextFireAt = %v, want %v", d.NextFireAt, want)
	}
}

func TestFirstFire(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)
	s := reminder.DefaultSettings(1)
	due := now.Add(5 * time.Hour)

	at, ok := FirstFire(reminder.Target{Kind: reminder.KindTask, DueAt: &due, Energy: 5}, s, now, 24*time.Hour)
	if !ok || !at.Equal(due.Add(-30*time.Minute)) {
		t.Fatalf("FirstFire = %v, %v; want due-30m", at, ok)
	}
	at, _ = FirstFire(reminder.Target{Kind: reminder.KindTask, DueAt: &due, Energy: 9}, s, now, 24*time.Hour)
	if !at.Equal(due.Add(-45 * time.Minute)) {
		t.Fatalf("high-energy FirstFire = %v, want due-45m", at)
	}
	soon := now.Add(10 * time.Minute)
	at, _ = FirstFire(reminder.Target{Kind: reminder.KindTask, DueAt: &soon}, s, now, 24*time.Hour)
	if !at.Equal(now) {
		t.Fatalf("FirstFire = %v, want clamped to now", at)
	}
	if _, ok := FirstFire(reminder.Target{Kind: reminder.KindTask}, s, now, 24*time.Hour); ok {
		t.Fatal("undated target got a job")
	}
}
