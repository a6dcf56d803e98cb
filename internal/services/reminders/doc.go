// Package reminders decides when a user hears about a pending task, plan step
// or daily digest, and keeps exactly one armed job per reminder key.
//
// A timer firing is validated by the job registry, executed on the task
// engine, and turned into a Decision by the pure Decide function from fresh
// store state. The Scheduler then delivers through the notifier and re-arms or
// retires the job on behalf of that firing only.
package reminders
