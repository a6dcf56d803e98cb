// Package eventbus is an in-process fanout of small lifecycle signals.
//
// Publish never blocks. Each subscriber owns a buffered channel; when it
// falls behind, events for that subscriber are dropped and counted.
package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Event types published by the reminder pipeline.
const (
	ReminderFired      = "reminder.fired"
	ReminderSuppressed = "reminder.suppressed"
	ReminderCancelled  = "reminder.cancelled"
	ReminderFailed     = "reminder.failed"
	ReminderBackoff    = "reminder.backoff"

	NotifierSent   = "notifier.sent"
	NotifierFailed = "notifier.failed"

	TaskStarted  = "task.started"
	TaskFinished = "task.finished"
	TaskFailed   = "task.failed"
)

type Event struct {
	Type string
	Time time.Time
	Data any
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(Event) {}

func (Nop) Subscribe(int) (<-chan Event, func()) {
	ch := make(chan Event)
	close(ch)
	return ch, func() {}
}

// Memory is the default Bus. It starts no goroutines.
type Memory struct {
	mu      sync.RWMutex
	subs    map[uint64]*sub
	seq     atomic.Uint64
	dropped atomic.Uint64
}

type sub struct {
	mu     sync.Mutex
	ch     chan Event
	closed bool
}

func New() *Memory {
	return &Memory{subs: map[uint64]*sub{}}
}

func (b *Memory) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.mu.RLock()
	subs := make([]*sub, 0, len(b.subs))
	for _, s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.RUnlock()

	for _, s := range subs {
		s.mu.Lock()
		if !s.closed {
			select {
			case s.ch <- e:
			default:
				b.dropped.Add(1)
			}
		}
		s.mu.Unlock()
	}
}

func (b *Memory) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	s := &sub{ch: make(chan Event, buffer)}
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = s
	b.mu.Unlock()

	var once sync.Once
	return s.ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()

			s.mu.Lock()
			s.closed = true
			close(s.ch)
			s.mu.Unlock()
		})
	}
}

// Dropped reports how many deliveries were skipped because a subscriber was full.
func (b *Memory) Dropped() uint64 { return b.dropped.Load() }

// OrNop returns b, or a Nop bus when b is nil.
func OrNop(b Bus) Bus {
	if b == nil {
		return Nop{}
	}
	return b
}
