// Package notifier delivers reminder text to a user's private chat.
//
// Deliver makes exactly one attempt, bounded by a per-send timeout and a
// shared rate limit, and classifies failures as transient or permanent. It
// never retries: the reminder scheduler already re-arms on its own cadence,
// and a permanent failure tells it to stop trying altogether.
//
// A small in-memory history of recent deliveries is kept for diagnostics.
package notifier
