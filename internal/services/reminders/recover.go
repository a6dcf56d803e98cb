package reminders

import (
	"context"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	logx "pland/pkg/logx"
)

// Recover re-derives the jobs of every notifiable user with bounded
// concurrency. Existing jobs are kept; jobs of users who no longer want
// notifications are dropped. One user's failure does not stop the others.
func (s *Scheduler) Recover(ctx context.Context) error {
	cfg := s.config()
	start := s.clock.Now()

	users, err := s.store.ListNotifiableUsers(ctx)
	if err != nil {
		return fmt.Errorf("list notifiable users: %w", err)
	}

	wanted := make(map[int64]bool, len(users))
	for _, u := range users {
		wanted[u] = true
	}
	for _, j := range s.reg.Jobs() {
		if !wanted[j.UserID] {
			s.reg.CancelUser(j.UserID)
		}
	}

	var installed, failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.RecoverConcurrency)
	for _, uid := range users {
		uid := uid
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			n, err := s.syncUser(gctx, uid, false)
			installed.Add(int64(n))
			if err != nil {
				failed.Add(1)
				s.log.Warn("recover user failed", logx.Int64("user_id", uid), logx.Err(err))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	s.log.Info("reminders recovered",
		logx.Int("users", len(users)),
		logx.Int64("installed", installed.Load()),
		logx.Int64("failed", failed.Load()),
		logx.Int("jobs", s.reg.Len()),
		logx.Duration("took", s.clock.Since(start)),
	)
	if n := failed.Load(); n > 0 {
		return fmt.Errorf("recover: %d of %d users failed", n, len(users))
	}
	return nil
}
