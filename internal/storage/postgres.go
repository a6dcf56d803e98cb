package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"pland/internal/reminder"
	logx "pland/pkg/logx"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS users (
    id                    BIGINT PRIMARY KEY,
    notifications_enabled BOOLEAN NOT NULL DEFAULT TRUE,
    created_at            TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS reminder_settings (
    user_id    BIGINT PRIMARY KEY,
    data       JSONB NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS plans (
    id         BIGSERIAL PRIMARY KEY,
    user_id    BIGINT NOT NULL,
    title      TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS targets (
    id           BIGSERIAL PRIMARY KEY,
    kind         TEXT NOT NULL,
    plan_id      BIGINT REFERENCES plans(id) ON DELETE CASCADE,
    user_id      BIGINT NOT NULL,
    title        TEXT NOT NULL,
    due_at       TIMESTAMPTZ,
    priority     TEXT NOT NULL DEFAULT '',
    energy       SMALLINT NOT NULL DEFAULT 0,
    optimal_time TEXT NOT NULL DEFAULT '',
    completed    BOOLEAN NOT NULL DEFAULT FALSE,
    completed_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS targets_user_completed ON targets(user_id, completed);
`

// pgxConn is the part of *pgxpool.Pool the store uses; pgxmock's pool satisfies it too.
type pgxConn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error)
	Close()
}

type pgStore struct {
	conn pgxConn
	cfg  Config
	log  logx.Logger
}

func openPostgres(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("storage.dsn is required for postgres driver")
	}
	pcfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		pcfg.MaxConns = cfg.MaxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres migrate: %w", err)
	}
	log.Info("postgres store opened", logx.String("host", pcfg.ConnConfig.Host), logx.String("db", pcfg.ConnConfig.Database))
	return newPgStore(pool, cfg, log), nil
}

func newPgStore(conn pgxConn, cfg Config, log logx.Logger) *pgStore {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &pgStore{conn: conn, cfg: cfg, log: log}
}

func (s *pgStore) Close() error {
	s.conn.Close()
	return nil
}

func (s *pgStore) EnsureUser(ctx context.Context, userID int64) (User, error) {
	var u User
	err := s.conn.QueryRow(ctx,
		`INSERT INTO users(id) VALUES($1)
		 ON CONFLICT (id) DO UPDATE SET id = EXCLUDED.id
		 RETURNING id, notifications_enabled, created_at`, userID).
		Scan(&u.ID, &u.NotificationsEnabled, &u.CreatedAt)
	return u, err
}

func (s *pgStore) SetNotificationsEnabled(ctx context.Context, userID int64, enabled bool) error {
	_, err := s.conn.Exec(ctx,
		`INSERT INTO users(id, notifications_enabled) VALUES($1, $2)
		 ON CONFLICT (id) DO UPDATE SET notifications_enabled = EXCLUDED.notifications_enabled`,
		userID, enabled)
	return err
}

func (s *pgStore) ListNotifiableUsers(ctx context.Context) ([]int64, error) {
	rows, err := s.conn.Query(ctx, `SELECT id FROM users WHERE notifications_enabled ORDER BY id`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[int64])
}

func (s *pgStore) GetReminderSettings(ctx context.Context, userID int64) (reminder.Settings, error) {
	var data []byte
	err := s.conn.QueryRow(ctx, `SELECT data FROM reminder_settings WHERE user_id = $1`, userID).Scan(&data)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		rs := s.cfg.defaults(userID)
		b, err := json.Marshal(rs)
		if err != nil {
			return reminder.Settings{}, err
		}
		if _, err := s.conn.Exec(ctx,
			`INSERT INTO reminder_settings(user_id, data) VALUES($1, $2) ON CONFLICT (user_id) DO NOTHING`,
			userID, b); err != nil {
			return reminder.Settings{}, err
		}
		return rs, nil
	case err != nil:
		return reminder.Settings{}, err
	}
	return decodeSettings(userID, data)
}

func (s *pgStore) PutReminderSettings(ctx context.Context, rs reminder.Settings) error {
	b, err := json.Marshal(rs)
	if err != nil {
		return err
	}
	_, err = s.conn.Exec(ctx,
		`INSERT INTO reminder_settings(user_id, data, updated_at) VALUES($1, $2, now())
		 ON CONFLICT (user_id) DO UPDATE SET data = EXCLUDED.data, updated_at = now()`,
		rs.UserID, b)
	return err
}

type pgQueryRower interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func insertTargetPg(ctx context.Context, q pgQueryRower, t reminder.Target) (int64, error) {
	var id int64
	err := q.QueryRow(ctx,
		`INSERT INTO targets(kind, plan_id, user_id, title, due_at, priority, energy, optimal_time, completed, completed_at)
		 VALUES($1, $2, $3, $4, $5, $6, $7, $8, $9, $10) RETURNING id`,
		t.Kind.String(), nullID(t.PlanID), t.UserID, t.Title, t.DueAt, string(t.Priority), t.Energy,
		string(t.OptimalTime), t.Completed, t.CompletedAt).Scan(&id)
	return id, err
}

func (s *pgStore) SaveTarget(ctx context.Context, t reminder.Target) (reminder.Target, error) {
	if err := validateTarget(t); err != nil {
		return reminder.Target{}, err
	}
	if t.ID == 0 {
		id, err := insertTargetPg(ctx, s.conn, t)
		if err != nil {
			return reminder.Target{}, err
		}
		t.ID = id
		return t, nil
	}
	tag, err := s.conn.Exec(ctx,
		`UPDATE targets SET plan_id = $3, user_id = $4, title = $5, due_at = $6, priority = $7, energy = $8,
		        optimal_time = $9, completed = $10, completed_at = $11
		 WHERE id = $1 AND kind = $2`,
		t.ID, t.Kind.String(), nullID(t.PlanID), t.UserID, t.Title, t.DueAt, string(t.Priority), t.Energy,
		string(t.OptimalTime), t.Completed, t.CompletedAt)
	if err != nil {
		return reminder.Target{}, err
	}
	if tag.RowsAffected() == 0 {
		return reminder.Target{}, notFound(t.Key())
	}
	return t, nil
}

func (s *pgStore) CreatePlan(ctx context.Context, userID int64, title string, steps []reminder.Target) (int64, []reminder.Target, error) {
	out, err := planSteps(userID, title, steps)
	if err != nil {
		return 0, nil, err
	}
	tx, err := s.conn.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, nil, err
	}
	defer tx.Rollback(ctx)

	var planID int64
	if err := tx.QueryRow(ctx, `INSERT INTO plans(user_id, title) VALUES($1, $2) RETURNING id`, userID, title).Scan(&planID); err != nil {
		return 0, nil, err
	}
	for i := range out {
		out[i].PlanID = planID
		if out[i].ID, err = insertTargetPg(ctx, tx, out[i]); err != nil {
			return 0, nil, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, nil, err
	}
	return planID, out, nil
}

const pgTargetCols = `id, kind, plan_id, user_id, title, due_at, priority, energy, optimal_time, completed, completed_at`

func scanTargetPg(r pgx.Row) (reminder.Target, error) {
	var (
		t                   reminder.Target
		kind, prio, optimal string
		planID              pgtype.Int8
		due, doneAt         pgtype.Timestamptz
		energy              int16
	)
	if err := r.Scan(&t.ID, &kind, &planID, &t.UserID, &t.Title, &due, &prio, &energy, &optimal, &t.Completed, &doneAt); err != nil {
		return reminder.Target{}, err
	}
	k, err := reminder.ParseKind(kind)
	if err != nil {
		return reminder.Target{}, err
	}
	t.Kind = k
	t.PlanID = planID.Int64
	t.Energy = int(energy)
	t.Priority = reminder.Priority(prio)
	t.OptimalTime = reminder.TimeOfDay(optimal)
	t.DueAt = timestamptzPtr(due)
	t.CompletedAt = timestamptzPtr(doneAt)
	return t, nil
}

func timestamptzPtr(v pgtype.Timestamptz) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time.UTC()
	return &t
}

func (s *pgStore) GetTarget(ctx context.Context, key reminder.Key) (reminder.Target, error) {
	t, err := scanTargetPg(s.conn.QueryRow(ctx,
		`SELECT `+pgTargetCols+` FROM targets WHERE id = $1 AND kind = $2`, key.ID, key.Kind.String()))
	if errors.Is(err, pgx.ErrNoRows) {
		return reminder.Target{}, notFound(key)
	}
	return t, err
}

func (s *pgStore) queryTargets(ctx context.Context, query string, args ...any) ([]reminder.Target, error) {
	rows, err := s.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []reminder.Target
	for rows.Next() {
		t, err := scanTargetPg(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *pgStore) ListActiveTargets(ctx context.Context, userID int64) ([]reminder.Target, error) {
	return s.queryTargets(ctx, `SELECT `+pgTargetCols+` FROM targets WHERE user_id = $1 AND NOT completed ORDER BY id`, userID)
}

func (s *pgStore) ListCompletedSince(ctx context.Context, userID int64, since time.Time) ([]reminder.Target, error) {
	return s.queryTargets(ctx,
		`SELECT `+pgTargetCols+` FROM targets WHERE user_id = $1 AND completed AND completed_at >= $2 ORDER BY id`,
		userID, since)
}

func (s *pgStore) CompleteTarget(ctx context.Context, key reminder.Key, at time.Time) (reminder.Target, error) {
	t, err := scanTargetPg(s.conn.QueryRow(ctx,
		`UPDATE targets SET completed = TRUE, completed_at = COALESCE(completed_at, $3)
		 WHERE id = $1 AND kind = $2
		 RETURNING `+pgTargetCols, key.ID, key.Kind.String(), at))
	if errors.Is(err, pgx.ErrNoRows) {
		return reminder.Target{}, notFound(key)
	}
	return t, err
}

func (s *pgStore) DeleteTarget(ctx context.Context, key reminder.Key) error {
	tag, err := s.conn.Exec(ctx, `DELETE FROM targets WHERE id = $1 AND kind = $2`, key.ID, key.Kind.String())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return notFound(key)
	}
	return nil
}
