package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"pland/internal/reminder"
)

type planRecord struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
}

// state is everything a memStore holds. The file backend serializes it as is.
type state struct {
	NextID   int64                       `json:"next_id"`
	Users    map[int64]User              `json:"users"`
	Settings map[int64]reminder.Settings `json:"settings"`
	Targets  map[int64]reminder.Target   `json:"targets"`
	Plans    map[int64]planRecord        `json:"plans"`
}

func newState() *state {
	return &state{
		Users:    map[int64]User{},
		Settings: map[int64]reminder.Settings{},
		Targets:  map[int64]reminder.Target{},
		Plans:    map[int64]planRecord{},
	}
}

type memStore struct {
	mu     sync.Mutex
	cfg    Config
	st     *state
	closed bool

	// persist runs under mu after every mutation; nil for the pure memory driver.
	persist func(*state) error
}

func newMemory(cfg Config) *memStore {
	return &memStore{cfg: cfg, st: newState()}
}

func (s *memStore) commitLocked() error {
	if s.persist == nil {
		return nil
	}
	return s.persist(s.st)
}

func (s *memStore) lock() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	return nil
}

func (s *memStore) nextIDLocked() int64 {
	s.st.NextID++
	return s.st.NextID
}

func cloneTarget(t reminder.Target) reminder.Target {
	if t.DueAt != nil {
		d := *t.DueAt
		t.DueAt = &d
	}
	if t.CompletedAt != nil {
		c := *t.CompletedAt
		t.CompletedAt = &c
	}
	return t
}

func (s *memStore) EnsureUser(ctx context.Context, userID int64) (User, error) {
	if err := s.lock(); err != nil {
		return User{}, err
	}
	defer s.mu.Unlock()
	if u, ok := s.st.Users[userID]; ok {
		return u, nil
	}
	u := User{ID: userID, NotificationsEnabled: true, CreatedAt: time.Now().UTC()}
	s.st.Users[userID] = u
	return u, s.commitLocked()
}

func (s *memStore) SetNotificationsEnabled(ctx context.Context, userID int64, enabled bool) error {
	if err := s.lock(); err != nil {
		return err
	}
	defer s.mu.Unlock()
	u, ok := s.st.Users[userID]
	if !ok {
		u = User{ID: userID, CreatedAt: time.Now().UTC()}
	}
	u.NotificationsEnabled = enabled
	s.st.Users[userID] = u
	return s.commitLocked()
}

func (s *memStore) ListNotifiableUsers(ctx context.Context) ([]int64, error) {
	if err := s.lock(); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()
	var out []int64
	for id, u := range s.st.Users {
		if u.NotificationsEnabled {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (s *memStore) GetReminderSettings(ctx context.Context, userID int64) (reminder.Settings, error) {
	if err := s.lock(); err != nil {
		return reminder.Settings{}, err
	}
	defer s.mu.Unlock()
	if rs, ok := s.st.Settings[userID]; ok {
		return rs.ForUser(userID), nil
	}
	rs := s.cfg.defaults(userID)
	s.st.Settings[userID] = rs
	return rs.ForUser(userID), s.commitLocked()
}

func (s *memStore) PutReminderSettings(ctx context.Context, rs reminder.Settings) error {
	if err := s.lock(); err != nil {
		return err
	}
	defer s.mu.Unlock()
	s.st.Settings[rs.UserID] = rs.ForUser(rs.UserID)
	return s.commitLocked()
}

func (s *memStore) SaveTarget(ctx context.Context, t reminder.Target) (reminder.Target, error) {
	if err := validateTarget(t); err != nil {
		return reminder.Target{}, err
	}
	if err := s.lock(); err != nil {
		return reminder.Target{}, err
	}
	defer s.mu.Unlock()
	if t.ID == 0 {
		t.ID = s.nextIDLocked()
	} else if cur, ok := s.st.Targets[t.ID]; !ok || cur.Kind != t.Kind {
		return reminder.Target{}, notFound(t.Key())
	}
	s.st.Targets[t.ID] = cloneTarget(t)
	return cloneTarget(t), s.commitLocked()
}

func (s *memStore) CreatePlan(ctx context.Context, userID int64, title string, steps []reminder.Target) (int64, []reminder.Target, error) {
	out, err := planSteps(userID, title, steps)
	if err != nil {
		return 0, nil, err
	}
	if err := s.lock(); err != nil {
		return 0, nil, err
	}
	defer s.mu.Unlock()

	planID := s.nextIDLocked()
	s.st.Plans[planID] = planRecord{ID: planID, UserID: userID, Title: title, CreatedAt: time.Now().UTC()}
	for i := range out {
		out[i].PlanID = planID
		out[i].ID = s.nextIDLocked()
		s.st.Targets[out[i].ID] = cloneTarget(out[i])
	}
	return planID, out, s.commitLocked()
}

func (s *memStore) GetTarget(ctx context.Context, key reminder.Key) (reminder.Target, error) {
	if err := s.lock(); err != nil {
		return reminder.Target{}, err
	}
	defer s.mu.Unlock()
	t, ok := s.st.Targets[key.ID]
	if !ok || t.Kind != key.Kind {
		return reminder.Target{}, notFound(key)
	}
	return cloneTarget(t), nil
}

func (s *memStore) list(userID int64, keep func(reminder.Target) bool) ([]reminder.Target, error) {
	if err := s.lock(); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()
	var out []reminder.Target
	for _, t := range s.st.Targets {
		if t.UserID == userID && keep(t) {
			out = append(out, cloneTarget(t))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memStore) ListActiveTargets(ctx context.Context, userID int64) ([]reminder.Target, error) {
	return s.list(userID, func(t reminder.Target) bool { return !t.Completed })
}

func (s *memStore) ListCompletedSince(ctx context.Context, userID int64, since time.Time) ([]reminder.Target, error) {
	return s.list(userID, func(t reminder.Target) bool {
		return t.Completed && t.CompletedAt != nil && !t.CompletedAt.Before(since)
	})
}

func (s *memStore) CompleteTarget(ctx context.Context, key reminder.Key, at time.Time) (reminder.Target, error) {
	if err := s.lock(); err != nil {
		return reminder.Target{}, err
	}
	defer s.mu.Unlock()
	t, ok := s.st.Targets[key.ID]
	if !ok || t.Kind != key.Kind {
		return reminder.Target{}, notFound(key)
	}
	if t.Completed {
		return cloneTarget(t), nil
	}
	at = at.UTC()
	t.Completed = true
	t.CompletedAt = &at
	s.st.Targets[key.ID] = t
	return cloneTarget(t), s.commitLocked()
}

func (s *memStore) DeleteTarget(ctx context.Context, key reminder.Key) error {
	if err := s.lock(); err != nil {
		return err
	}
	defer s.mu.Unlock()
	t, ok := s.st.Targets[key.ID]
	if !ok || t.Kind != key.Kind {
		return notFound(key)
	}
	delete(s.st.Targets, key.ID)
	return s.commitLocked()
}

func (s *memStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
