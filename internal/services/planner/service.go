// Package planner implements the chat commands that create, edit and complete
// tasks and plans, and that change a user's reminder settings. Every change
// that affects reminders is pushed to the scheduler right away.
package planner

import (
	"context"
	"time"

	"github.com/jmhodges/clock"

	"pland/internal/reminder"
	"pland/internal/storage"
	"pland/internal/transport/telegram/router"
	logx "pland/pkg/logx"
)

// Scheduler is the part of reminders.Scheduler the commands drive.
type Scheduler interface {
	ScheduleTarget(ctx context.Context, t reminder.Target) error
	CancelTarget(key reminder.Key) bool
	ScheduleUser(ctx context.Context, userID int64) error
	CancelUser(userID int64) int
	Jobs() []reminder.Job
}

type Service struct {
	store    storage.Store
	sched    Scheduler
	clock    clock.Clock
	fallback func() *time.Location
	log      logx.Logger
}

type Option func(*Service)

func WithClock(c clock.Clock) Option { return func(s *Service) { s.clock = c } }

// WithLocation sets the timezone used for users that have not picked one.
func WithLocation(loc *time.Location) Option {
	return WithZone(func() *time.Location { return loc })
}

// WithZone is WithLocation for a zone that may change at runtime.
func WithZone(fn func() *time.Location) Option { return func(s *Service) { s.fallback = fn } }

func New(store storage.Store, sched Scheduler, log logx.Logger, opts ...Option) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		store:    store,
		sched:    sched,
		clock:    clock.New(),
		fallback: func() *time.Location { return time.Local },
		log:      log.With(logx.String("comp", "planner")),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Commands returns the chat commands in menu order.
func (s *Service) Commands() []router.Command {
	return []router.Command{
		{Name: "start", Description: "register and turn reminders on", Handle: s.cmdStart},
		{Name: "stop", Description: "turn all reminders off", Handle: s.cmdStop},
		{Name: "add", Aliases: []string{"task", "new"}, Description: "add a task",
			Usage: "/add title; YYYY-MM-DD HH:MM; priority; energy 1-10; morning|afternoon|evening", Handle: s.cmdAdd},
		{Name: "plan", Description: "create a plan with steps",
			Usage: "/plan title; step @ YYYY-MM-DD HH:MM; another step @ +2h", Handle: s.cmdPlan},
		{Name: "list", Aliases: []string{"ls"}, Description: "show active tasks and plan steps", Handle: s.cmdList},
		{Name: "done", Description: "mark a task (12) or plan step (s12) done", Usage: "/done 12", Handle: s.cmdDone},
		{Name: "delete", Aliases: []string{"rm"}, Description: "delete a task or plan step", Usage: "/delete s12", Handle: s.cmdDelete},
		{Name: "due", Description: "change a deadline", Usage: "/due 12 YYYY-MM-DD HH:MM | HH:MM | +90m | none", Handle: s.cmdDue},
		{Name: "priority", Aliases: []string{"prio"}, Description: "change a priority", Usage: "/priority 12 high|medium|low", Handle: s.cmdPriority},
		{Name: "summary", Description: "show a digest now", Usage: "/summary [morning|evening|weekly|energy]", Handle: s.cmdSummary},
		{Name: "settings", Description: "show reminder settings", Handle: s.cmdSettings},
		{Name: "quiet", Description: "set quiet hours", Usage: "/quiet 23:00 07:00", Handle: s.cmdQuiet},
		{Name: "lead", Description: "minutes before a deadline for the first reminder", Usage: "/lead 30", Handle: s.cmdLead},
		{Name: "interval", Description: "repeat interval per priority", Usage: "/interval high|medium|low MINUTES", Handle: s.cmdInterval},
		{Name: "urgency", Description: "how much faster reminders repeat near a deadline", Usage: "/urgency 2", Handle: s.cmdUrgency},
		{Name: "reminders", Description: "turn reminder kinds on or off", Usage: "/reminders daily|task|energy|weekly|all on|off", Handle: s.cmdReminders},
		{Name: "times", Description: "set digest times", Usage: "/times morning 09:00 | evening 20:00 | weekly sunday 18:00", Handle: s.cmdTimes},
		{Name: "tz", Aliases: []string{"timezone"}, Description: "set your timezone", Usage: "/tz Europe/Berlin", Handle: s.cmdTimezone},
		{Name: "jobs", Description: "show scheduled reminders", Handle: s.cmdJobs},
	}
}

// userLocation resolves the user's timezone, falling back on bad values.
func (s *Service) userLocation(settings reminder.Settings) *time.Location {
	fallback := s.fallback()
	loc, err := settings.Location(fallback)
	if err != nil {
		return fallback
	}
	return loc
}

func (s *Service) settingsFor(ctx context.Context, userID int64) (reminder.Settings, *time.Location, error) {
	settings, err := s.store.GetReminderSettings(ctx, userID)
	if err != nil {
		return reminder.Settings{}, nil, err
	}
	return settings, s.userLocation(settings), nil
}
