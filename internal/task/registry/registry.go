// Package registry tracks the single live reminder job per key and the timer
// armed for it.
//
// Every installed timer carries a version. A timer callback only dispatches
// when its version is still current, and follow-up mutations made on behalf
// of a firing (Rearm, Retire) only apply while that firing is current. A fire
// racing a cancel or an edit therefore never resurrects a job.
package registry

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jmhodges/clock"

	"pland/internal/reminder"
	"pland/internal/task/trigger"
	logx "pland/pkg/logx"
)

// PastTolerance absorbs the gap between a caller reading the clock and the
// install; anything older is rejected.
const PastTolerance = time.Second

var (
	ErrPastFireTime = errors.New("registry: next fire time is in the past")
	ErrInvalidJob   = errors.New("registry: invalid job")
)

// Timers arms one-shot callbacks. *trigger.Service satisfies it.
type Timers interface {
	At(tag string, at time.Time, fn func()) trigger.Handle
	Live(tag string) int
}

// Firing is one timer callback for a job. It is passed back to Rearm/Retire
// so those only act on the version that fired.
type Firing struct {
	Job     reminder.Job
	version uint64
}

type entry struct {
	job     reminder.Job
	handle  trigger.Handle
	version uint64
	fired   bool
}

type Registry struct {
	mu      sync.Mutex
	entries map[reminder.Key]*entry
	version uint64

	timers   Timers
	clock    clock.Clock
	log      logx.Logger
	dispatch func(Firing)
}

// New builds a registry. dispatch runs on the timer goroutine for every
// current firing and must hand work off quickly.
func New(timers Timers, clk clock.Clock, log logx.Logger, dispatch func(Firing)) *Registry {
	if clk == nil {
		clk = clock.New()
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Registry{
		entries:  map[reminder.Key]*entry{},
		timers:   timers,
		clock:    clk,
		log:      log,
		dispatch: dispatch,
	}
}

// Upsert installs job, replacing any job with the same key. It is a no-op
// (changed=false) when an identical job is still pending.
func (r *Registry) Upsert(job reminder.Job) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.upsertLocked(job)
}

func (r *Registry) upsertLocked(job reminder.Job) (bool, error) {
	if job.Key.Kind == 0 || job.NextFireAt.IsZero() || job.IntervalMinutes < 0 {
		return false, fmt.Errorf("%w: %s", ErrInvalidJob, job.Key)
	}
	if now := r.clock.Now(); job.NextFireAt.Before(now.Add(-PastTolerance)) {
		return false, fmt.Errorf("%w: %s at %s (now %s)", ErrPastFireTime, job.Key, job.NextFireAt.Format(time.RFC3339), now.Format(time.RFC3339))
	}

	if e, ok := r.entries[job.Key]; ok {
		if !e.fired && e.job.NextFireAt.Equal(job.NextFireAt) && e.job.IntervalMinutes == job.IntervalMinutes {
			return false, nil
		}
		e.handle.Stop()
	}
	r.installLocked(job)
	return true, nil
}

func (r *Registry) installLocked(job reminder.Job) {
	r.version++
	v := r.version
	key := job.Key
	tag := key.String()

	e := &entry{job: job, version: v}
	r.entries[key] = e
	e.handle = r.timers.At(tag, job.NextFireAt, func() { r.onTimer(key, v) })

	if n := r.timers.Live(tag); n > 1 {
		panic(fmt.Sprintf("registry: %d live timers for %s", n, tag))
	}
}

func (r *Registry) onTimer(key reminder.Key, v uint64) {
	r.mu.Lock()
	e, ok := r.entries[key]
	if !ok || e.version != v {
		r.mu.Unlock()
		r.log.Debug("stale timer dropped", logx.Stringer("key", key), logx.Uint64("version", v))
		return
	}
	e.fired = true
	f := Firing{Job: e.job, version: v}
	r.mu.Unlock()

	if r.dispatch != nil {
		r.dispatch(f)
	}
}

// Current reports whether f is still the job's live version.
func (r *Registry) Current(f Firing) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[f.Job.Key]
	return ok && e.version == f.version
}

// Rearm installs next on behalf of firing f. It reports false (and changes
// nothing) when the job was cancelled or replaced since f fired.
func (r *Registry) Rearm(f Firing, next reminder.Job) (bool, error) {
	if next.Key != f.Job.Key {
		return false, fmt.Errorf("%w: rearm %s from firing of %s", ErrInvalidJob, next.Key, f.Job.Key)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[next.Key]
	if !ok || e.version != f.version {
		return false, nil
	}
	_, err := r.upsertLocked(next)
	return err == nil, err
}

// Retire removes the job on behalf of firing f, unless it was replaced since.
func (r *Registry) Retire(f Firing) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[f.Job.Key]
	if !ok || e.version != f.version {
		return false
	}
	e.handle.Stop()
	delete(r.entries, f.Job.Key)
	return true
}

// Cancel removes the job for key. Missing keys are a no-op.
func (r *Registry) Cancel(key reminder.Key) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[key]
	if !ok {
		return false
	}
	e.handle.Stop()
	delete(r.entries, key)
	return true
}

// CancelUser removes every job owned by userID and returns how many.
func (r *Registry) CancelUser(userID int64) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for key, e := range r.entries {
		if e.job.UserID != userID {
			continue
		}
		e.handle.Stop()
		delete(r.entries, key)
		n++
	}
	return n
}

// CancelAll removes every job.
func (r *Registry) CancelAll() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := len(r.entries)
	for _, e := range r.entries {
		e.handle.Stop()
	}
	r.entries = map[reminder.Key]*entry{}
	return n
}

func (r *Registry) Get(key reminder.Key) (reminder.Job, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[key]
	if !ok {
		return reminder.Job{}, false
	}
	return e.job, true
}

// Lookup is Get plus whether the job's timer already went off. A fired job
// keeps its past NextFireAt until its firing rearms or retires it.
func (r *Registry) Lookup(key reminder.Key) (job reminder.Job, fired, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[key]
	if !ok {
		return reminder.Job{}, false, false
	}
	return e.job, e.fired, true
}

func (r *Registry) Has(key reminder.Key) bool {
	_, ok := r.Get(key)
	return ok
}

// Jobs returns a snapshot ordered by next fire time.
func (r *Registry) Jobs() []reminder.Job {
	r.mu.Lock()
	out := make([]reminder.Job, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.job)
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].NextFireAt.Equal(out[j].NextFireAt) {
			return out[i].NextFireAt.Before(out[j].NextFireAt)
		}
		return out[i].Key.String() < out[j].Key.String()
	})
	return out
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
