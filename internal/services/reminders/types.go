package reminders

import (
	"context"
	"errors"
	"time"

	"pland/internal/reminder"
	"pland/internal/storage"
	"pland/internal/task/engine"
	"pland/internal/task/registry"
)

var ErrNotTarget = errors.New("reminders: not a task or plan step")

type Config struct {
	// FireTimeout bounds one fire: store reads, rendering and delivery.
	FireTimeout time.Duration
	// StoreBackoff is how long to wait after a failed store read or invalid settings.
	StoreBackoff time.Duration
	// OverdueGrace is how long an overdue target keeps being reminded about.
	OverdueGrace time.Duration
	// ResyncEvery re-runs Recover periodically. 0 disables it.
	ResyncEvery        time.Duration
	RecoverConcurrency int
}

func (c Config) withDefaults() Config {
	if c.FireTimeout <= 0 {
		c.FireTimeout = 30 * time.Second
	}
	if c.StoreBackoff <= 0 {
		c.StoreBackoff = time.Minute
	}
	if c.OverdueGrace <= 0 {
		c.OverdueGrace = 24 * time.Hour
	}
	if c.RecoverConcurrency <= 0 {
		c.RecoverConcurrency = 8
	}
	return c
}

// Store is the slice of storage the scheduler reads.
type Store interface {
	EnsureUser(ctx context.Context, userID int64) (storage.User, error)
	GetTarget(ctx context.Context, key reminder.Key) (reminder.Target, error)
	GetReminderSettings(ctx context.Context, userID int64) (reminder.Settings, error)
	ListActiveTargets(ctx context.Context, userID int64) ([]reminder.Target, error)
	ListCompletedSince(ctx context.Context, userID int64, since time.Time) ([]reminder.Target, error)
	ListNotifiableUsers(ctx context.Context) ([]int64, error)
}

type Notifier interface {
	Deliver(ctx context.Context, userID int64, text string) error
}

// Timers is the trigger engine surface: one-shot timers plus the recurring
// resync schedule. *trigger.Service satisfies it.
type Timers interface {
	registry.Timers
	AddInterval(name string, every time.Duration, fn func()) error
	Remove(name string) bool
	Location() *time.Location
}

// Executor runs fires. *engine.Service satisfies it.
type Executor interface {
	Submit(ctx context.Context, t engine.Task) error
}

// PermanentFailureHook is called after a permanent delivery failure has
// cancelled every job of the user.
type PermanentFailureHook func(ctx context.Context, userID int64, err error)

// FireEvent is the payload of reminder.* bus events.
type FireEvent struct {
	Key    string    `json:"key"`
	UserID int64     `json:"user_id"`
	At     time.Time `json:"at"`
	Next   time.Time `json:"next,omitempty"`
	Reason string    `json:"reason,omitempty"`
	Error  string    `json:"error,omitempty"`
}
