package trigger

import (
	"math/rand/v2"
	"time"

	"github.com/robfig/cron/v3"
)

const maxStartupSpread = 30 * time.Second

// delayedFirst is cron.Every with its first run pushed to a fixed instant.
type delayedFirst struct {
	every cron.Schedule
	first time.Time
}

func (d delayedFirst) Next(t time.Time) time.Time {
	if t.Before(d.first) {
		return d.first
	}
	return d.every.Next(t)
}

// spreadInterval schedules an interval job whose first run lands one period
// plus up to maxStartupSpread after now, so resync jobs registered together
// do not all fire on the same tick.
func spreadInterval(every time.Duration, now time.Time) (cron.Schedule, time.Duration) {
	limit := min(every, maxStartupSpread)
	if limit <= 0 {
		return cron.Every(every), 0
	}
	jitter := rand.N(limit)
	return delayedFirst{every: cron.Every(every), first: now.Add(every + jitter)}, jitter
}
