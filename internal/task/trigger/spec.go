package trigger

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"pland/internal/reminder"
	logx "pland/pkg/logx"
)

// SecondOptional allows both 5-field and 6-field (with seconds) cron specs.
var parser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// DailySpec is a cron spec firing every day at c.
func DailySpec(c reminder.ClockTime) string {
	return fmt.Sprintf("%d %d * * *", c.Minute, c.Hour)
}

// WeeklySpec is a cron spec firing on day at c.
func WeeklySpec(day time.Weekday, c reminder.ClockTime) string {
	return fmt.Sprintf("%d %d * * %d", c.Minute, c.Hour, int(day))
}

// HourlySpec fires at the top of every hour.
const HourlySpec = "0 * * * *"

// Next returns the first activation of spec strictly after after, evaluated
// in after's location.
func Next(spec string, after time.Time) (time.Time, error) {
	sched, err := parser.Parse(strings.TrimSpace(spec))
	if err != nil {
		return time.Time{}, fmt.Errorf("parse schedule %q: %w", spec, err)
	}
	next := sched.Next(after)
	if next.IsZero() {
		return time.Time{}, fmt.Errorf("schedule %q never fires", spec)
	}
	return next, nil
}

// cronLogger routes robfig/cron's internal logging (recovered panics,
// schedule changes) into logx.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	if l.log.Enabled(logx.LevelDebug) {
		l.log.Debug("cron: "+msg, kvFields(keysAndValues)...)
	}
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error("cron: "+msg, append(kvFields(keysAndValues), logx.Err(err))...)
}

func kvFields(kv []interface{}) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		k, ok := kv[i].(string)
		if !ok {
			k = fmt.Sprint(kv[i])
		}
		out = append(out, logx.Any(k, kv[i+1]))
	}
	return out
}
