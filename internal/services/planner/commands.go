package planner

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"pland/internal/reminder"
	"pland/internal/storage"
	"pland/internal/transport/telegram/router"
	logx "pland/pkg/logx"
)

const listLayout = "Mon 02 Jan 15:04"

func (s *Service) cmdStart(ctx context.Context, req *router.Request) error {
	if _, err := s.store.EnsureUser(ctx, req.FromID); err != nil {
		return err
	}
	if err := s.store.SetNotificationsEnabled(ctx, req.FromID, true); err != nil {
		return err
	}
	if err := s.sched.ScheduleUser(ctx, req.FromID); err != nil {
		req.Logger.Warn("schedule on start failed", logx.Err(err))
	}
	return req.Reply(ctx, "👋 Hi! I'll remind you about your tasks and plans.\n\n"+
		"Add one with /add Buy milk; 18:00; high\nSee everything with /help")
}

func (s *Service) cmdStop(ctx context.Context, req *router.Request) error {
	if err := s.store.SetNotificationsEnabled(ctx, req.FromID, false); err != nil {
		return err
	}
	n := s.sched.CancelUser(req.FromID)
	req.Logger.Info("user stopped reminders", logx.Int("jobs", n))
	return req.Reply(ctx, "🔕 Reminders are off. Send /start to turn them back on.")
}

func (s *Service) cmdAdd(ctx context.Context, req *router.Request) error {
	if req.Text == "" {
		return router.Userf("Usage: /add title; YYYY-MM-DD HH:MM; priority; energy; period")
	}
	_, loc, err := s.settingsFor(ctx, req.FromID)
	if err != nil {
		return err
	}
	in, err := parseTask(req.Text, s.clock.Now(), loc)
	if err != nil {
		return router.Userf("Could not add the task: %v.", err)
	}
	t, err := s.store.SaveTarget(ctx, reminder.Target{
		Kind:        reminder.KindTask,
		UserID:      req.FromID,
		Title:       in.Title,
		DueAt:       in.Due,
		Priority:    in.Priority,
		Energy:      in.Energy,
		OptimalTime: in.Period,
	})
	if err != nil {
		return err
	}
	s.schedule(ctx, req, t)

	msg := fmt.Sprintf("✅ Task %s added: %s", formatRef(t.Key()), t.Title)
	if t.DueAt != nil {
		msg += "\n⏰ Due " + t.DueAt.In(loc).Format(listLayout)
	} else {
		msg += "\nNo deadline, so no reminders."
	}
	return req.Reply(ctx, msg)
}

func (s *Service) cmdPlan(ctx context.Context, req *router.Request) error {
	if req.Text == "" {
		return router.Userf("Usage: /plan title; step @ YYYY-MM-DD HH:MM; another step")
	}
	_, loc, err := s.settingsFor(ctx, req.FromID)
	if err != nil {
		return err
	}
	title, steps, err := parsePlan(req.Text, s.clock.Now(), loc)
	if err != nil {
		return router.Userf("Could not create the plan: %v.", err)
	}
	_, saved, err := s.store.CreatePlan(ctx, req.FromID, title, steps)
	if err != nil {
		return err
	}
	var b strings.Builder
	fmt.Fprintf(&b, "📋 Plan created: %s", title)
	for _, st := range saved {
		s.schedule(ctx, req, st)
		fmt.Fprintf(&b, "\n• %s %s", formatRef(st.Key()), st.Title)
		if st.DueAt != nil {
			b.WriteString(" (" + st.DueAt.In(loc).Format(listLayout) + ")")
		}
	}
	return req.Reply(ctx, b.String())
}

// schedule pushes a saved target to the scheduler. The target is stored
// either way, so a scheduling failure is only logged; the next resync
// picks it up.
func (s *Service) schedule(ctx context.Context, req *router.Request, t reminder.Target) {
	if err := s.sched.ScheduleTarget(ctx, t); err != nil {
		req.Logger.Warn("schedule target failed", logx.Stringer("key", t.Key()), logx.Err(err))
	}
}

func (s *Service) cmdList(ctx context.Context, req *router.Request) error {
	_, loc, err := s.settingsFor(ctx, req.FromID)
	if err != nil {
		return err
	}
	targets, err := s.store.ListActiveTargets(ctx, req.FromID)
	if err != nil {
		return err
	}
	if len(targets) == 0 {
		return req.Reply(ctx, "Nothing to do. Add a task with /add")
	}
	sort.SliceStable(targets, func(i, j int) bool {
		a, b := targets[i].DueAt, targets[j].DueAt
		switch {
		case a == nil:
			return false
		case b == nil:
			return true
		}
		return a.Before(*b)
	})

	now := s.clock.Now()
	var b strings.Builder
	b.WriteString("📝 Active:")
	for _, t := range targets {
		fmt.Fprintf(&b, "\n%s %s", formatRef(t.Key()), t.Title)
		if t.DueAt != nil {
			left := t.DueAt.Sub(now)
			fmt.Fprintf(&b, "\n   %s %s (%s)", reminder.UrgencyMark(left), t.DueAt.In(loc).Format(listLayout), reminder.FormatTimeLeft(left))
		}
		if t.Priority != "" {
			fmt.Fprintf(&b, " · %s", t.Priority)
		}
	}
	return req.Reply(ctx, b.String())
}

// ownTarget loads the target named by ref and checks the caller owns it.
func (s *Service) ownTarget(ctx context.Context, req *router.Request, ref string) (reminder.Target, error) {
	key, err := parseRef(ref)
	if err != nil {
		return reminder.Target{}, router.Userf("%v. Use the number shown by /list.", err)
	}
	t, err := s.store.GetTarget(ctx, key)
	if errors.Is(err, storage.ErrNotFound) || (err == nil && t.UserID != req.FromID) {
		return reminder.Target{}, router.Userf("No task %s.", formatRef(key))
	}
	return t, err
}

func (s *Service) cmdDone(ctx context.Context, req *router.Request) error {
	if len(req.Args) != 1 {
		return router.Userf("Usage: /done 12 (or s12 for a plan step)")
	}
	t, err := s.ownTarget(ctx, req, req.Args[0])
	if err != nil {
		return err
	}
	if _, err := s.store.CompleteTarget(ctx, t.Key(), s.clock.Now()); err != nil {
		return err
	}
	s.sched.CancelTarget(t.Key())
	return req.Reply(ctx, "🎉 Done: "+t.Title)
}

func (s *Service) cmdDelete(ctx context.Context, req *router.Request) error {
	if len(req.Args) != 1 {
		return router.Userf("Usage: /delete 12 (or s12 for a plan step)")
	}
	t, err := s.ownTarget(ctx, req, req.Args[0])
	if err != nil {
		return err
	}
	s.sched.CancelTarget(t.Key())
	if err := s.store.DeleteTarget(ctx, t.Key()); err != nil {
		return err
	}
	return req.Reply(ctx, "🗑 Deleted: "+t.Title)
}

func (s *Service) cmdDue(ctx context.Context, req *router.Request) error {
	ref, when, _ := strings.Cut(req.Text, " ")
	if ref == "" || strings.TrimSpace(when) == "" {
		return router.Userf("Usage: /due 12 YYYY-MM-DD HH:MM (or none)")
	}
	t, err := s.ownTarget(ctx, req, ref)
	if err != nil {
		return err
	}
	_, loc, err := s.settingsFor(ctx, req.FromID)
	if err != nil {
		return err
	}
	due, err := parseDue(when, s.clock.Now(), loc)
	switch {
	case errors.Is(err, errNoDue):
		t.DueAt = nil
	case err != nil:
		return router.Userf("Could not change the deadline: %v.", err)
	default:
		t.DueAt = &due
	}
	return s.saveEdited(ctx, req, t, loc)
}

func (s *Service) cmdPriority(ctx context.Context, req *router.Request) error {
	if len(req.Args) != 2 {
		return router.Userf("Usage: /priority 12 high|medium|low")
	}
	t, err := s.ownTarget(ctx, req, req.Args[0])
	if err != nil {
		return err
	}
	p, err := parsePriority(req.Args[1])
	if err != nil {
		return router.Userf("%v.", err)
	}
	t.Priority = p
	_, loc, err := s.settingsFor(ctx, req.FromID)
	if err != nil {
		return err
	}
	return s.saveEdited(ctx, req, t, loc)
}

func (s *Service) saveEdited(ctx context.Context, req *router.Request, t reminder.Target, loc *time.Location) error {
	t, err := s.store.SaveTarget(ctx, t)
	if err != nil {
		return err
	}
	s.schedule(ctx, req, t)
	msg := fmt.Sprintf("✏️ Updated %s: %s · %s", formatRef(t.Key()), t.Title, t.Priority)
	if t.DueAt != nil {
		msg += " · due " + t.DueAt.In(loc).Format(listLayout)
	}
	return req.Reply(ctx, msg)
}

func (s *Service) cmdSummary(ctx context.Context, req *router.Request) error {
	kind := "morning"
	if len(req.Args) > 0 {
		kind = strings.ToLower(req.Args[0])
	}
	_, loc, err := s.settingsFor(ctx, req.FromID)
	if err != nil {
		return err
	}
	now := s.clock.Now().In(loc)
	pending, err := s.store.ListActiveTargets(ctx, req.FromID)
	if err != nil {
		return err
	}

	var text string
	switch kind {
	case "morning", "daily":
		text = reminder.MorningDigest(now, pending)
	case "energy":
		text = reminder.EnergyDigest(now, pending)
	case "evening", "weekly":
		since := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
		if kind == "weekly" {
			since = now.AddDate(0, 0, -7)
		}
		done, err := s.store.ListCompletedSince(ctx, req.FromID, since)
		if err != nil {
			return err
		}
		if kind == "weekly" {
			text = reminder.WeeklyDigest(now, pending, done)
		} else {
			text = reminder.EveningDigest(now, pending, done)
		}
	default:
		return router.Userf("Usage: /summary [morning|evening|weekly|energy]")
	}
	if text == "" {
		text = "Nothing to report."
	}
	return req.Reply(ctx, text)
}

func (s *Service) cmdJobs(ctx context.Context, req *router.Request) error {
	_, loc, err := s.settingsFor(ctx, req.FromID)
	if err != nil {
		return err
	}
	var b strings.Builder
	n := 0
	for _, j := range s.sched.Jobs() {
		if j.UserID != req.FromID {
			continue
		}
		n++
		fmt.Fprintf(&b, "\n%s at %s", j.Key.Kind, j.NextFireAt.In(loc).Format(listLayout))
		if j.Key.Kind.IsTarget() {
			fmt.Fprintf(&b, " (task %s, every %dm)", formatRef(j.Key), j.IntervalMinutes)
		}
	}
	if n == 0 {
		return req.Reply(ctx, "No reminders scheduled.")
	}
	return req.Reply(ctx, fmt.Sprintf("⏰ %d scheduled:%s", n, b.String()))
}
