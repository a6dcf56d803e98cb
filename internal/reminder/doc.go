// Package reminder holds the pure reminder domain: targets, job keys, per-user
// settings, quiet-hour windows, the interval policy, and message/digest
// formatting.
//
// Nothing here performs I/O or keeps state. Every function is deterministic
// given its inputs (including "now"), which is what lets the orchestrator's
// decision step be tested without timers.
package reminder
