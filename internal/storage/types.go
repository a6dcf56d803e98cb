package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"pland/internal/reminder"
)

var (
	ErrNotFound      = errors.New("storage: not found")
	ErrInvalidTarget = errors.New("storage: invalid target")
	ErrClosed        = errors.New("storage: closed")
)

// Config configures storage.
//
// Driver values:
//   - "memory": process-local maps, lost on exit
//   - "file": memory plus a JSON snapshot rewritten after every change
//   - "sqlite": SQLite database file at Path
//   - "postgres": PostgreSQL at DSN
type Config struct {
	Driver      string
	Path        string
	DSN         string
	BusyTimeout time.Duration // sqlite only
	MaxConns    int32         // postgres only

	// Defaults is the settings template for users without stored settings.
	// The zero value means reminder.DefaultSettings.
	Defaults reminder.Settings
}

func (c Config) defaults(userID int64) reminder.Settings {
	if c.Defaults.DefaultLeadMinutes == 0 && len(c.Defaults.EnabledKinds) == 0 {
		return reminder.DefaultSettings(userID)
	}
	return c.Defaults.ForUser(userID)
}

type User struct {
	ID                   int64
	NotificationsEnabled bool
	CreatedAt            time.Time
}

// Store is the persistence API used by the scheduler and the chat router.
type Store interface {
	EnsureUser(ctx context.Context, userID int64) (User, error)
	SetNotificationsEnabled(ctx context.Context, userID int64, enabled bool) error
	ListNotifiableUsers(ctx context.Context) ([]int64, error)

	// GetReminderSettings returns the stored settings, creating them from
	// the configured defaults on first read.
	GetReminderSettings(ctx context.Context, userID int64) (reminder.Settings, error)
	PutReminderSettings(ctx context.Context, s reminder.Settings) error

	// SaveTarget inserts a target when its ID is 0 and updates it otherwise.
	SaveTarget(ctx context.Context, t reminder.Target) (reminder.Target, error)
	// CreatePlan stores a plan and its steps atomically.
	CreatePlan(ctx context.Context, userID int64, title string, steps []reminder.Target) (int64, []reminder.Target, error)
	GetTarget(ctx context.Context, key reminder.Key) (reminder.Target, error)
	ListActiveTargets(ctx context.Context, userID int64) ([]reminder.Target, error)
	ListCompletedSince(ctx context.Context, userID int64, since time.Time) ([]reminder.Target, error)
	// CompleteTarget marks the target done. Completing twice keeps the first time.
	CompleteTarget(ctx context.Context, key reminder.Key, at time.Time) (reminder.Target, error)
	DeleteTarget(ctx context.Context, key reminder.Key) error

	Close() error
}

func validateTarget(t reminder.Target) error {
	switch {
	case !t.Kind.IsTarget():
		return fmt.Errorf("%w: kind %s", ErrInvalidTarget, t.Kind)
	case t.Kind == reminder.KindPlanStep && t.PlanID == 0:
		return fmt.Errorf("%w: plan step without plan", ErrInvalidTarget)
	}
	return validateFields(t)
}

func validateFields(t reminder.Target) error {
	switch {
	case t.UserID == 0:
		return fmt.Errorf("%w: no owner", ErrInvalidTarget)
	case strings.TrimSpace(t.Title) == "":
		return fmt.Errorf("%w: empty title", ErrInvalidTarget)
	case t.Energy < 0 || t.Energy > 10:
		return fmt.Errorf("%w: energy %d out of 0..10", ErrInvalidTarget, t.Energy)
	}
	return nil
}

// planSteps normalizes steps for a new plan owned by userID. Plan ids are
// filled in by the backend.
func planSteps(userID int64, title string, steps []reminder.Target) ([]reminder.Target, error) {
	if strings.TrimSpace(title) == "" {
		return nil, fmt.Errorf("%w: empty plan title", ErrInvalidTarget)
	}
	out := make([]reminder.Target, 0, len(steps))
	for _, st := range steps {
		st.ID = 0
		st.Kind = reminder.KindPlanStep
		st.UserID = userID
		st.Completed = false
		st.CompletedAt = nil
		if err := validateFields(st); err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, nil
}

func notFound(key reminder.Key) error {
	return fmt.Errorf("%w: %s", ErrNotFound, key)
}
