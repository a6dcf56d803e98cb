package engine

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"

	"pland/internal/eventbus"
	logx "pland/pkg/logx"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func waitHistory(t *testing.T, s *Service, n int) []Run {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if h := s.Snapshot().History; len(h) >= n {
			return h
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("history did not reach %d entries", n)
	return nil
}

func TestSubmitRunsTask(t *testing.T) {
	bus := eventbus.New()
	events, unsub := bus.Subscribe(16)
	defer unsub()

	s := New(Config{Workers: 2}, logx.Nop(), bus)
	s.Start(context.Background())
	defer s.Stop(context.Background())

	var ran atomic.Bool
	if err := s.Submit(context.Background(), Task{Name: "ok", Run: func(ctx context.Context) error {
		ran.Store(true)
		return nil
	}}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	h := waitHistory(t, s, 1)
	if !ran.Load() || h[0].Error != "" || h[0].ID == "" {
		t.Fatalf("history = %+v, ran = %v", h, ran.Load())
	}

	var types []string
	for len(types) < 2 {
		select {
		case e := <-events:
			types = append(types, e.Type)
		case <-time.After(time.Second):
			t.Fatalf("events = %v", types)
		}
	}
	if types[0] != eventbus.TaskStarted || types[1] != eventbus.TaskFinished {
		t.Fatalf("events = %v", types)
	}
}

func TestPanicIsRecorded(t *testing.T) {
	s := New(Config{Workers: 1}, logx.Nop(), nil)
	s.Start(context.Background())
	defer s.Stop(context.Background())

	_ = s.Submit(context.Background(), Task{Name: "panics", Run: func(ctx context.Context) error { panic("kaboom") }})
	_ = s.Submit(context.Background(), Task{Name: "after", Run: func(ctx context.Context) error { return nil }})

	h := waitHistory(t, s, 2)
	if !strings.Contains(h[0].Error, "kaboom") {
		t.Fatalf("panic not recorded: %+v", h[0])
	}
	if h[1].Error != "" {
		t.Fatalf("worker broken after panic: %+v", h[1])
	}
}

func TestTimeoutCancelsTask(t *testing.T) {
	s := New(Config{Workers: 1}, logx.Nop(), nil)
	s.Start(context.Background())
	defer s.Stop(context.Background())

	_ = s.Submit(context.Background(), Task{Name: "slow", Timeout: 20 * time.Millisecond, Run: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}})
	h := waitHistory(t, s, 1)
	if !strings.Contains(h[0].Error, context.DeadlineExceeded.Error()) {
		t.Fatalf("Error = %q, want deadline exceeded", h[0].Error)
	}
}

func TestEnqueueQueueFull(t *testing.T) {
	s := New(Config{Workers: 1, QueueSize: 1}, logx.Nop(), nil)
	s.Start(context.Background())
	defer s.Stop(context.Background())

	release := make(chan struct{})
	started := make(chan struct{})
	block := Task{Name: "block", Run: func(ctx context.Context) error {
		close(started)
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil
	}}
	if err := s.Enqueue(block); err != nil {
		t.Fatal(err)
	}
	<-started
	noop := Task{Name: "noop", Run: func(context.Context) error { return nil }}
	if err := s.Enqueue(noop); err != nil {
		t.Fatalf("second Enqueue: %v", err)
	}
	if err := s.Enqueue(noop); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("third Enqueue err = %v, want ErrQueueFull", err)
	}
	if got := s.Snapshot().Dropped; got != 1 {
		t.Fatalf("Dropped = %d, want 1", got)
	}
	close(release)
}

func TestSubmitValidation(t *testing.T) {
	s := New(Config{}, logx.Nop(), nil)
	if err := s.Submit(context.Background(), Task{Name: "x", Run: func(context.Context) error { return nil }}); !errors.Is(err, ErrStopped) {
		t.Fatalf("Submit before Start = %v, want ErrStopped", err)
	}
	if err := s.Enqueue(Task{Name: "norun"}); !errors.Is(err, ErrInvalid) {
		t.Fatalf("Enqueue without Run = %v, want ErrInvalid", err)
	}

	s.Start(context.Background())
	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := s.Submit(context.Background(), Task{Name: "late", Run: func(context.Context) error { return nil }}); !errors.Is(err, ErrStopped) {
		t.Fatalf("Submit after Stop = %v, want ErrStopped", err)
	}
}

func TestStopCancelsStuckTaskAfterDeadline(t *testing.T) {
	s := New(Config{Workers: 1, DefaultTimeout: time.Minute}, logx.Nop(), nil)
	s.Start(context.Background())

	started := make(chan struct{})
	_ = s.Submit(context.Background(), Task{Name: "stuck", Run: func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}})
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if err := s.Stop(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Stop err = %v, want deadline exceeded", err)
	}
}

func TestApplyResizesPool(t *testing.T) {
	s := New(Config{Workers: 1}, logx.Nop(), nil)
	s.Start(context.Background())
	defer s.Stop(context.Background())

	if err := s.Apply(context.Background(), Config{Workers: 3}); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if got := s.Snapshot().Workers; got != 3 {
		t.Fatalf("Workers = %d, want 3", got)
	}
	if err := s.Submit(context.Background(), Task{Name: "after-apply", Run: func(context.Context) error { return nil }}); err != nil {
		t.Fatalf("Submit after Apply: %v", err)
	}
	waitHistory(t, s, 1)
}

func TestApplyCarriesQueuedTasks(t *testing.T) {
	s := New(Config{Workers: 1, QueueSize: 4}, logx.Nop(), nil)
	s.Start(context.Background())
	defer s.Stop(context.Background())

	release := make(chan struct{})
	started := make(chan struct{})
	if err := s.Enqueue(Task{Name: "busy", Run: func(ctx context.Context) error {
		close(started)
		<-release
		return nil
	}}); err != nil {
		t.Fatal(err)
	}
	<-started
	var ran atomic.Bool
	if err := s.Enqueue(Task{Name: "queued", Run: func(context.Context) error {
		ran.Store(true)
		return nil
	}}); err != nil {
		t.Fatal(err)
	}

	applied := make(chan error, 1)
	go func() { applied <- s.Apply(context.Background(), Config{Workers: 2, QueueSize: 4}) }()
	// let Apply close the old pool before the busy worker frees up
	time.Sleep(20 * time.Millisecond)
	close(release)
	if err := <-applied; err != nil {
		t.Fatalf("Apply: %v", err)
	}

	waitHistory(t, s, 2)
	if !ran.Load() {
		t.Fatal("queued task was discarded by Apply")
	}
	if got := s.Snapshot().Dropped; got != 0 {
		t.Fatalf("Dropped = %d, want 0", got)
	}
}
