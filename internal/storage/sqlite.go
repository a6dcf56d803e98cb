package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"pland/internal/reminder"
	logx "pland/pkg/logx"
)

//go:embed migrations.sql
var sqliteSchema string

// times are stored as unix milliseconds
type sqliteStore struct {
	db  *sql.DB
	cfg Config
	log logx.Logger
}

func openSQLite(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for sqlite driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// one writer; also keeps the PRAGMAs below bound to the only connection
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	for _, pragma := range []string{
		fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()),
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("sqlite %q: %w", pragma, err)
		}
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite migrate: %w", err)
	}
	log.Info("sqlite store opened", logx.String("path", path))
	return &sqliteStore{db: db, cfg: cfg, log: log}, nil
}

func (s *sqliteStore) Close() error { return s.db.Close() }

func (s *sqliteStore) EnsureUser(ctx context.Context, userID int64) (User, error) {
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO users(id, notifications_enabled, created_at) VALUES(?, 1, ?) ON CONFLICT(id) DO NOTHING`,
		userID, time.Now().UnixMilli()); err != nil {
		return User{}, err
	}
	var u User
	var created int64
	err := s.db.QueryRowContext(ctx, `SELECT id, notifications_enabled, created_at FROM users WHERE id = ?`, userID).
		Scan(&u.ID, &u.NotificationsEnabled, &created)
	if err != nil {
		return User{}, err
	}
	u.CreatedAt = time.UnixMilli(created).UTC()
	return u, nil
}

func (s *sqliteStore) SetNotificationsEnabled(ctx context.Context, userID int64, enabled bool) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users(id, notifications_enabled, created_at) VALUES(?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET notifications_enabled = excluded.notifications_enabled`,
		userID, enabled, time.Now().UnixMilli())
	return err
}

func (s *sqliteStore) ListNotifiableUsers(ctx context.Context) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM users WHERE notifications_enabled = 1 ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s *sqliteStore) GetReminderSettings(ctx context.Context, userID int64) (reminder.Settings, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM reminder_settings WHERE user_id = ?`, userID).Scan(&data)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		rs := s.cfg.defaults(userID)
		b, err := json.Marshal(rs)
		if err != nil {
			return reminder.Settings{}, err
		}
		if _, err := s.db.ExecContext(ctx,
			`INSERT INTO reminder_settings(user_id, data, updated_at) VALUES(?, ?, ?) ON CONFLICT(user_id) DO NOTHING`,
			userID, string(b), time.Now().UnixMilli()); err != nil {
			return reminder.Settings{}, err
		}
		return rs, nil
	case err != nil:
		return reminder.Settings{}, err
	}
	return decodeSettings(userID, []byte(data))
}

func (s *sqliteStore) PutReminderSettings(ctx context.Context, rs reminder.Settings) error {
	b, err := json.Marshal(rs)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO reminder_settings(user_id, data, updated_at) VALUES(?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		rs.UserID, string(b), time.Now().UnixMilli())
	return err
}

func (s *sqliteStore) SaveTarget(ctx context.Context, t reminder.Target) (reminder.Target, error) {
	if err := validateTarget(t); err != nil {
		return reminder.Target{}, err
	}
	if t.ID == 0 {
		id, err := insertTargetSQLite(ctx, s.db, t)
		if err != nil {
			return reminder.Target{}, err
		}
		t.ID = id
		return t, nil
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE targets SET plan_id = ?, user_id = ?, title = ?, due_at = ?, priority = ?, energy = ?,
		        optimal_time = ?, completed = ?, completed_at = ?
		 WHERE id = ? AND kind = ?`,
		nullID(t.PlanID), t.UserID, t.Title, nullMillis(t.DueAt), string(t.Priority), t.Energy,
		string(t.OptimalTime), t.Completed, nullMillis(t.CompletedAt), t.ID, t.Kind.String())
	if err != nil {
		return reminder.Target{}, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return reminder.Target{}, notFound(t.Key())
	}
	return t, nil
}

type sqlExecer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertTargetSQLite(ctx context.Context, db sqlExecer, t reminder.Target) (int64, error) {
	res, err := db.ExecContext(ctx,
		`INSERT INTO targets(kind, plan_id, user_id, title, due_at, priority, energy, optimal_time, completed, completed_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.Kind.String(), nullID(t.PlanID), t.UserID, t.Title, nullMillis(t.DueAt), string(t.Priority), t.Energy,
		string(t.OptimalTime), t.Completed, nullMillis(t.CompletedAt))
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (s *sqliteStore) CreatePlan(ctx context.Context, userID int64, title string, steps []reminder.Target) (int64, []reminder.Target, error) {
	out, err := planSteps(userID, title, steps)
	if err != nil {
		return 0, nil, err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, nil, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `INSERT INTO plans(user_id, title, created_at) VALUES(?, ?, ?)`,
		userID, title, time.Now().UnixMilli())
	if err != nil {
		return 0, nil, err
	}
	planID, err := res.LastInsertId()
	if err != nil {
		return 0, nil, err
	}
	for i := range out {
		out[i].PlanID = planID
		if out[i].ID, err = insertTargetSQLite(ctx, tx, out[i]); err != nil {
			return 0, nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, nil, err
	}
	return planID, out, nil
}

const sqliteTargetCols = `id, kind, plan_id, user_id, title, due_at, priority, energy, optimal_time, completed, completed_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTargetSQLite(r rowScanner) (reminder.Target, error) {
	var (
		t                   reminder.Target
		kind, prio, optimal string
		planID, due, doneAt sql.NullInt64
	)
	if err := r.Scan(&t.ID, &kind, &planID, &t.UserID, &t.Title, &due, &prio, &t.Energy, &optimal, &t.Completed, &doneAt); err != nil {
		return reminder.Target{}, err
	}
	k, err := reminder.ParseKind(kind)
	if err != nil {
		return reminder.Target{}, err
	}
	t.Kind = k
	t.PlanID = planID.Int64
	t.Priority = reminder.Priority(prio)
	t.OptimalTime = reminder.TimeOfDay(optimal)
	t.DueAt = millisPtr(due)
	t.CompletedAt = millisPtr(doneAt)
	return t, nil
}

func (s *sqliteStore) GetTarget(ctx context.Context, key reminder.Key) (reminder.Target, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sqliteTargetCols+` FROM targets WHERE id = ? AND kind = ?`, key.ID, key.Kind.String())
	t, err := scanTargetSQLite(row)
	if errors.Is(err, sql.ErrNoRows) {
		return reminder.Target{}, notFound(key)
	}
	return t, err
}

func (s *sqliteStore) queryTargets(ctx context.Context, query string, args ...any) ([]reminder.Target, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []reminder.Target
	for rows.Next() {
		t, err := scanTargetSQLite(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *sqliteStore) ListActiveTargets(ctx context.Context, userID int64) ([]reminder.Target, error) {
	return s.queryTargets(ctx, `SELECT `+sqliteTargetCols+` FROM targets WHERE user_id = ? AND completed = 0 ORDER BY id`, userID)
}

func (s *sqliteStore) ListCompletedSince(ctx context.Context, userID int64, since time.Time) ([]reminder.Target, error) {
	return s.queryTargets(ctx,
		`SELECT `+sqliteTargetCols+` FROM targets WHERE user_id = ? AND completed = 1 AND completed_at >= ? ORDER BY id`,
		userID, since.UnixMilli())
}

func (s *sqliteStore) CompleteTarget(ctx context.Context, key reminder.Key, at time.Time) (reminder.Target, error) {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE targets SET completed = 1, completed_at = ? WHERE id = ? AND kind = ? AND completed = 0`,
		at.UnixMilli(), key.ID, key.Kind.String()); err != nil {
		return reminder.Target{}, err
	}
	return s.GetTarget(ctx, key)
}

func (s *sqliteStore) DeleteTarget(ctx context.Context, key reminder.Key) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM targets WHERE id = ? AND kind = ?`, key.ID, key.Kind.String())
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound(key)
	}
	return nil
}

func nullMillis(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}

func millisPtr(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.UnixMilli(v.Int64).UTC()
	return &t
}

func nullID(id int64) any {
	if id == 0 {
		return nil
	}
	return id
}

func decodeSettings(userID int64, data []byte) (reminder.Settings, error) {
	var rs reminder.Settings
	if err := json.Unmarshal(data, &rs); err != nil {
		return reminder.Settings{}, fmt.Errorf("decode settings for user %d: %w", userID, err)
	}
	return rs.ForUser(userID), nil
}
