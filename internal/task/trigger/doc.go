// Package trigger owns time: one-shot timers keyed by tag and calendar/interval
// schedules backed by robfig/cron.
//
// It only decides *when* a callback runs. What the callback does (and whether
// a firing is still wanted) is the caller's concern; see task/registry.
package trigger
