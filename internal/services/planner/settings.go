package planner

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"pland/internal/reminder"
	"pland/internal/transport/telegram/router"
)

func (s *Service) cmdSettings(ctx context.Context, req *router.Request) error {
	settings, loc, err := s.settingsFor(ctx, req.FromID)
	if err != nil {
		return err
	}
	return req.Reply(ctx, formatSettings(settings, loc))
}

func formatSettings(st reminder.Settings, loc *time.Location) string {
	var b strings.Builder
	b.WriteString("⚙️ Reminder settings\n")
	fmt.Fprintf(&b, "\nTimezone: %s", loc)
	fmt.Fprintf(&b, "\nFirst reminder: %dm before the deadline", st.DefaultLeadMinutes)
	fmt.Fprintf(&b, "\nRepeat: high %dm, medium %dm, low %dm", st.HighIntervalMinutes, st.MediumIntervalMinutes, st.LowIntervalMinutes)
	fmt.Fprintf(&b, "\nUrgency factor: %d", st.UrgencyFactor)
	fmt.Fprintf(&b, "\nQuiet hours: %s-%s", st.QuietHoursStart, st.QuietHoursEnd)
	fmt.Fprintf(&b, "\nMorning digest: %s", st.MorningSummaryTime)
	fmt.Fprintf(&b, "\nEvening digest: %s", st.EveningSummaryTime)
	fmt.Fprintf(&b, "\nWeekly review: %s %s", st.WeeklySummaryDay, st.WeeklySummaryTime)
	b.WriteString("\n\nEnabled:")
	for _, tg := range []string{reminder.ToggleTask, reminder.ToggleDaily, reminder.ToggleEnergy, reminder.ToggleWeekly} {
		mark := "❌"
		if st.Enabled(tg) {
			mark = "✅"
		}
		fmt.Fprintf(&b, " %s %s", mark, tg)
	}
	return b.String()
}

// updateSettings applies edit, validates, stores and reschedules the user.
// Validation problems go back to the user as is.
func (s *Service) updateSettings(ctx context.Context, req *router.Request, edit func(*reminder.Settings) error) error {
	st, err := s.store.GetReminderSettings(ctx, req.FromID)
	if err != nil {
		return err
	}
	if err := edit(&st); err != nil {
		return router.Userf("%v", err)
	}
	if err := st.Validate(); err != nil {
		if reminder.IsConfigError(err) {
			return router.Userf("Invalid setting: %v", err)
		}
		return err
	}
	if err := s.store.PutReminderSettings(ctx, st); err != nil {
		return err
	}
	if err := s.sched.ScheduleUser(ctx, req.FromID); err != nil {
		return fmt.Errorf("reschedule user %d: %w", req.FromID, err)
	}
	return req.Reply(ctx, "Saved.\n\n"+formatSettings(st, s.userLocation(st)))
}

func (s *Service) cmdQuiet(ctx context.Context, req *router.Request) error {
	if len(req.Args) != 2 {
		return router.Userf("Usage: /quiet 23:00 07:00")
	}
	return s.updateSettings(ctx, req, func(st *reminder.Settings) error {
		st.QuietHoursStart, st.QuietHoursEnd = req.Args[0], req.Args[1]
		return nil
	})
}

func (s *Service) cmdLead(ctx context.Context, req *router.Request) error {
	n, err := singleInt(req.Args)
	if err != nil {
		return router.Userf("Usage: /lead MINUTES")
	}
	return s.updateSettings(ctx, req, func(st *reminder.Settings) error {
		st.DefaultLeadMinutes = n
		return nil
	})
}

func (s *Service) cmdUrgency(ctx context.Context, req *router.Request) error {
	n, err := singleInt(req.Args)
	if err != nil {
		return router.Userf("Usage: /urgency FACTOR")
	}
	return s.updateSettings(ctx, req, func(st *reminder.Settings) error {
		st.UrgencyFactor = n
		return nil
	})
}

func (s *Service) cmdInterval(ctx context.Context, req *router.Request) error {
	if len(req.Args) != 2 {
		return router.Userf("Usage: /interval high|medium|low MINUTES")
	}
	p, err := parsePriority(req.Args[0])
	if err != nil {
		return router.Userf("%v.", err)
	}
	n, err := strconv.Atoi(req.Args[1])
	if err != nil {
		return router.Userf("%q is not a number of minutes.", req.Args[1])
	}
	return s.updateSettings(ctx, req, func(st *reminder.Settings) error {
		switch p {
		case reminder.PriorityHigh:
			st.HighIntervalMinutes = n
		case reminder.PriorityMedium:
			st.MediumIntervalMinutes = n
		default:
			st.LowIntervalMinutes = n
		}
		return nil
	})
}

func (s *Service) cmdReminders(ctx context.Context, req *router.Request) error {
	if len(req.Args) == 0 {
		return s.cmdSettings(ctx, req)
	}
	if len(req.Args) != 2 {
		return router.Userf("Usage: /reminders daily|task|energy|weekly|all on|off")
	}
	toggle := strings.ToLower(req.Args[0])
	on, err := parseOnOff(req.Args[1])
	if err != nil {
		return router.Userf("%v.", err)
	}
	return s.updateSettings(ctx, req, func(st *reminder.Settings) error {
		st.EnabledKinds = setToggle(st.EnabledKinds, toggle, on)
		return nil
	})
}

var allToggles = []string{reminder.ToggleDaily, reminder.ToggleTask, reminder.ToggleEnergy, reminder.ToggleWeekly}

// setToggle switches one toggle, expanding "all" into the individual
// toggles so that single ones can then be turned off.
func setToggle(kinds []string, toggle string, on bool) []string {
	set := map[string]bool{}
	for _, k := range kinds {
		k = strings.ToLower(strings.TrimSpace(k))
		if k == reminder.ToggleAll {
			for _, t := range allToggles {
				set[t] = true
			}
			continue
		}
		set[k] = true
	}
	if toggle == reminder.ToggleAll {
		for _, t := range allToggles {
			set[t] = on
		}
	} else {
		set[toggle] = on
	}
	out := make([]string, 0, len(set))
	for _, t := range allToggles {
		if set[t] {
			out = append(out, t)
		}
		delete(set, t)
	}
	// unknown names survive so Validate can reject them
	for t, v := range set {
		if v {
			out = append(out, t)
		}
	}
	return out
}

func (s *Service) cmdTimes(ctx context.Context, req *router.Request) error {
	usage := router.Userf("Usage: /times morning 09:00 | evening 20:00 | weekly sunday 18:00")
	if len(req.Args) < 2 {
		return usage
	}
	which := strings.ToLower(req.Args[0])
	return s.updateSettings(ctx, req, func(st *reminder.Settings) error {
		switch {
		case which == "morning" && len(req.Args) == 2:
			st.MorningSummaryTime = req.Args[1]
		case which == "evening" && len(req.Args) == 2:
			st.EveningSummaryTime = req.Args[1]
		case which == "weekly" && len(req.Args) == 3:
			st.WeeklySummaryDay = strings.ToLower(req.Args[1])
			st.WeeklySummaryTime = req.Args[2]
		default:
			return errors.New(usage.Error())
		}
		return nil
	})
}

func (s *Service) cmdTimezone(ctx context.Context, req *router.Request) error {
	if len(req.Args) != 1 {
		return router.Userf("Usage: /tz Europe/Berlin")
	}
	return s.updateSettings(ctx, req, func(st *reminder.Settings) error {
		st.Timezone = req.Args[0]
		return nil
	})
}

func singleInt(args []string) (int, error) {
	if len(args) != 1 {
		return 0, errors.New("want one number")
	}
	return strconv.Atoi(args[0])
}
