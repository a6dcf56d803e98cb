package registry

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jmhodges/clock"

	"pland/internal/reminder"
	"pland/internal/task/trigger"
	logx "pland/pkg/logx"
)

// fakeTimers records armed callbacks; tests fire them by hand.
type fakeTimers struct {
	mu    sync.Mutex
	seq   int
	armed map[string]map[int]*fakeTimer
	// duplicate makes Live over-report, to exercise the corruption check.
	duplicate bool
}

type fakeTimer struct {
	ft  *fakeTimers
	tag string
	id  int
	at  time.Time
	fn  func()
}

func (t *fakeTimer) Stop() bool {
	t.ft.mu.Lock()
	defer t.ft.mu.Unlock()
	if _, ok := t.ft.armed[t.tag][t.id]; !ok {
		return false
	}
	delete(t.ft.armed[t.tag], t.id)
	return true
}

func newFakeTimers() *fakeTimers { return &fakeTimers{armed: map[string]map[int]*fakeTimer{}} }

func (f *fakeTimers) At(tag string, at time.Time, fn func()) trigger.Handle {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	t := &fakeTimer{ft: f, tag: tag, id: f.seq, at: at, fn: fn}
	if f.armed[tag] == nil {
		f.armed[tag] = map[int]*fakeTimer{}
	}
	f.armed[tag][t.id] = t
	return t
}

func (f *fakeTimers) Live(tag string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := len(f.armed[tag])
	if f.duplicate {
		n++
	}
	return n
}

// fire runs the single armed timer for tag, as the trigger engine would.
func (f *fakeTimers) fire(t *testing.T, tag string) {
	t.Helper()
	f.mu.Lock()
	var tm *fakeTimer
	for _, x := range f.armed[tag] {
		tm = x
	}
	if tm != nil {
		delete(f.armed[tag], tm.id)
	}
	f.mu.Unlock()
	if tm == nil {
		t.Fatalf("no timer armed for %s", tag)
	}
	tm.fn()
}

// take returns the armed timer for tag without firing it.
func (f *fakeTimers) take(tag string) *fakeTimer {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, x := range f.armed[tag] {
		return x
	}
	return nil
}

var t0 = time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)

func setup() (*Registry, *fakeTimers, clock.FakeClock, *[]Firing) {
	clk := clock.NewFake()
	clk.Set(t0)
	ft := newFakeTimers()
	var fired []Firing
	r := New(ft, clk, logx.Nop(), func(f Firing) { fired = append(fired, f) })
	return r, ft, clk, &fired
}

func job(id int64, at time.Time, interval int) reminder.Job {
	return reminder.Job{Key: reminder.Key{ID: id, Kind: reminder.KindTask}, UserID: 100, NextFireAt: at, IntervalMinutes: interval}
}

func TestUpsertIdempotent(t *testing.T) {
	t.Parallel()
	r, ft, _, _ := setup()
	j := job(1, t0.Add(time.Hour), 30)

	changed, err := r.Upsert(j)
	if err != nil || !changed {
		t.Fatalf("first Upsert = %v, %v; want true, nil", changed, err)
	}
	changed, err = r.Upsert(j)
	if err != nil || changed {
		t.Fatalf("second Upsert = %v, %v; want false, nil", changed, err)
	}
	if got := ft.Live("task:1"); got != 1 {
		t.Fatalf("Live = %d, want 1", got)
	}
}

func TestUpsertReplaces(t *testing.T) {
	t.Parallel()
	r, ft, _, fired := setup()
	if _, err := r.Upsert(job(1, t0.Add(time.Hour), 30)); err != nil {
		t.Fatal(err)
	}
	old := ft.take("task:1")
	if _, err := r.Upsert(job(1, t0.Add(2*time.Hour), 30)); err != nil {
		t.Fatal(err)
	}
	if got := ft.Live("task:1"); got != 1 {
		t.Fatalf("Live = %d, want 1", got)
	}
	got, _ := r.Get(reminder.Key{ID: 1, Kind: reminder.KindTask})
	if !got.NextFireAt.Equal(t0.Add(2 * time.Hour)) {
		t.Fatalf("NextFireAt = %v", got.NextFireAt)
	}

	// The replaced timer's callback may still run if it raced the Stop; it must be dropped.
	old.fn()
	if len(*fired) != 0 {
		t.Fatalf("stale firing dispatched: %+v", *fired)
	}
}

func TestUpsertRejectsPast(t *testing.T) {
	t.Parallel()
	r, _, _, _ := setup()
	if _, err := r.Upsert(job(1, t0.Add(-time.Minute), 30)); !errors.Is(err, ErrPastFireTime) {
		t.Fatalf("err = %v, want ErrPastFireTime", err)
	}
	if _, err := r.Upsert(job(2, t0.Add(-500*time.Millisecond), 30)); err != nil {
		t.Fatalf("within tolerance: %v", err)
	}
	if _, err := r.Upsert(reminder.Job{NextFireAt: t0}); !errors.Is(err, ErrInvalidJob) {
		t.Fatalf("err = %v, want ErrInvalidJob", err)
	}
}

func TestCancelThenStaleFireIsDropped(t *testing.T) {
	t.Parallel()
	r, ft, _, fired := setup()
	key := reminder.Key{ID: 1, Kind: reminder.KindTask}
	if _, err := r.Upsert(job(1, t0.Add(time.Minute), 30)); err != nil {
		t.Fatal(err)
	}
	tm := ft.take("task:1")
	if !r.Cancel(key) {
		t.Fatal("Cancel = false")
	}
	if r.Cancel(key) {
		t.Fatal("second Cancel = true")
	}
	tm.fn()
	if len(*fired) != 0 || r.Len() != 0 {
		t.Fatalf("cancelled job fired or came back: fired=%d len=%d", len(*fired), r.Len())
	}
}

func TestCancelDuringFireDoesNotResurrect(t *testing.T) {
	t.Parallel()
	r, ft, clk, fired := setup()
	key := reminder.Key{ID: 1, Kind: reminder.KindTask}
	if _, err := r.Upsert(job(1, t0.Add(time.Minute), 30)); err != nil {
		t.Fatal(err)
	}
	clk.Add(time.Minute)
	ft.fire(t, "task:1")
	if len(*fired) != 1 {
		t.Fatalf("fired = %d, want 1", len(*fired))
	}
	f := (*fired)[0]

	// user completes the task while the fire is being processed
	r.Cancel(key)

	ok, err := r.Rearm(f, job(1, clk.Now().Add(30*time.Minute), 30))
	if err != nil || ok {
		t.Fatalf("Rearm after cancel = %v, %v; want false, nil", ok, err)
	}
	if r.Has(key) || ft.Live("task:1") != 0 {
		t.Fatal("job resurrected after cancel")
	}
}

func TestRearmAfterFire(t *testing.T) {
	t.Parallel()
	r, ft, clk, fired := setup()
	if _, err := r.Upsert(job(1, t0.Add(time.Minute), 30)); err != nil {
		t.Fatal(err)
	}
	clk.Add(time.Minute)
	ft.fire(t, "task:1")
	f := (*fired)[0]
	if !r.Current(f) {
		t.Fatal("fresh firing not current")
	}

	next := job(1, clk.Now().Add(30*time.Minute), 30)
	ok, err := r.Rearm(f, next)
	if err != nil || !ok {
		t.Fatalf("Rearm = %v, %v", ok, err)
	}
	if r.Current(f) {
		t.Fatal("old firing still current after rearm")
	}
	// a second rearm from the same firing is ignored
	if ok, _ := r.Rearm(f, job(1, clk.Now().Add(time.Hour), 30)); ok {
		t.Fatal("double rearm applied")
	}
	if got := ft.Live("task:1"); got != 1 {
		t.Fatalf("Live = %d, want 1", got)
	}
}

func TestEditDuringFireWins(t *testing.T) {
	t.Parallel()
	r, ft, clk, fired := setup()
	key := reminder.Key{ID: 1, Kind: reminder.KindTask}
	if _, err := r.Upsert(job(1, t0.Add(time.Minute), 30)); err != nil {
		t.Fatal(err)
	}
	clk.Add(time.Minute)
	ft.fire(t, "task:1")
	f := (*fired)[0]

	edited := job(1, clk.Now().Add(5*time.Hour), 60)
	if _, err := r.Upsert(edited); err != nil {
		t.Fatal(err)
	}
	if r.Retire(f) {
		t.Fatal("Retire removed the edited job")
	}
	got, ok := r.Get(key)
	if !ok || got.IntervalMinutes != 60 {
		t.Fatalf("edited job lost: %+v %v", got, ok)
	}
}

func TestRetire(t *testing.T) {
	t.Parallel()
	r, ft, clk, fired := setup()
	if _, err := r.Upsert(job(1, t0, 30)); err != nil {
		t.Fatal(err)
	}
	clk.Add(time.Second)
	ft.fire(t, "task:1")
	if !r.Retire((*fired)[0]) {
		t.Fatal("Retire = false")
	}
	if r.Len() != 0 {
		t.Fatalf("Len = %d, want 0", r.Len())
	}
}

func TestCancelUser(t *testing.T) {
	t.Parallel()
	r, ft, _, _ := setup()
	for i := int64(1); i <= 3; i++ {
		if _, err := r.Upsert(job(i, t0.Add(time.Hour), 30)); err != nil {
			t.Fatal(err)
		}
	}
	other := reminder.Job{Key: reminder.UserKey(200, reminder.KindDailySummary), UserID: 200, NextFireAt: t0.Add(time.Hour)}
	if _, err := r.Upsert(other); err != nil {
		t.Fatal(err)
	}

	if n := r.CancelUser(100); n != 3 {
		t.Fatalf("CancelUser = %d, want 3", n)
	}
	if r.Len() != 1 || !r.Has(other.Key) {
		t.Fatalf("other user's job affected, len=%d", r.Len())
	}
	if ft.Live("task:2") != 0 {
		t.Fatal("timer left armed for cancelled job")
	}
}

func TestJobsOrdered(t *testing.T) {
	t.Parallel()
	r, _, _, _ := setup()
	_, _ = r.Upsert(job(2, t0.Add(2*time.Hour), 30))
	_, _ = r.Upsert(job(1, t0.Add(time.Hour), 30))
	jobs := r.Jobs()
	if len(jobs) != 2 || jobs[0].Key.ID != 1 {
		t.Fatalf("Jobs order = %+v", jobs)
	}
}

func TestDuplicateTimersPanic(t *testing.T) {
	t.Parallel()
	r, ft, _, _ := setup()
	ft.duplicate = true
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on duplicate live timers")
		}
	}()
	_, _ = r.Upsert(job(1, t0.Add(time.Hour), 30))
}

func TestLookupReportsFired(t *testing.T) {
	t.Parallel()
	r, ft, clk, fired := setup()
	key := reminder.Key{ID: 1, Kind: reminder.KindTask}
	if _, _, ok := r.Lookup(key); ok {
		t.Fatal("Lookup found a job before Upsert")
	}
	if _, err := r.Upsert(job(1, t0.Add(time.Minute), 30)); err != nil {
		t.Fatal(err)
	}
	if _, isFired, ok := r.Lookup(key); !ok || isFired {
		t.Fatalf("Lookup = fired %v, ok %v; want pending", isFired, ok)
	}

	clk.Add(time.Minute)
	ft.fire(t, "task:1")
	got, isFired, ok := r.Lookup(key)
	if !ok || !isFired || !got.NextFireAt.Equal(t0.Add(time.Minute)) {
		t.Fatalf("Lookup after fire = %+v, fired %v, ok %v", got, isFired, ok)
	}

	if _, err := r.Rearm((*fired)[0], job(1, clk.Now().Add(30*time.Minute), 30)); err != nil {
		t.Fatal(err)
	}
	if _, isFired, _ := r.Lookup(key); isFired {
		t.Fatal("rearmed job still reported as fired")
	}
}
