package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"pland/internal/eventbus"
	rtsup "pland/internal/runtime/supervisor"
	logx "pland/pkg/logx"
)

type Service struct {
	mu  sync.Mutex
	cfg Config
	log logx.Logger
	bus eventbus.Bus

	q        chan queuedTask
	base     context.Context // Start's ctx, reused when Apply restarts the pool
	sup      *rtsup.Supervisor
	stopCh   chan struct{}
	stopping bool

	inFlight atomic.Int32
	dropped  atomic.Uint64

	hmu     sync.Mutex
	history []Run
}

type queuedTask struct {
	task       Task
	enqueuedAt time.Time
	timeout    time.Duration
}

func New(cfg Config, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg: cfg.withDefaults(),
		log: log.With(logx.String("comp", "taskengine")),
		bus: eventbus.OrNop(bus),
	}
}

// Apply swaps the config and restarts the workers when pool sizing changed.
func (s *Service) Apply(ctx context.Context, cfg Config) error {
	cfg = cfg.withDefaults()
	s.mu.Lock()
	prev := s.cfg
	s.cfg = cfg
	running := s.stopCh != nil && !s.stopping
	base := s.base
	s.mu.Unlock()

	if !running || (prev.Workers == cfg.Workers && prev.QueueSize == cfg.QueueSize) {
		return nil
	}
	pending, err := s.stop(ctx)
	s.Start(base)
	s.requeue(pending)
	return err
}

// requeue hands tasks left in a replaced pool's queue to the new one.
func (s *Service) requeue(pending []queuedTask) {
	if len(pending) == 0 {
		return
	}
	s.mu.Lock()
	queue := s.q
	s.mu.Unlock()
	lost := 0
	for _, qt := range pending {
		select {
		case queue <- qt:
		default:
			lost++
		}
	}
	if lost > 0 {
		s.dropped.Add(uint64(lost))
		s.log.Warn("tasks lost while resizing the pool", logx.Int("count", lost))
	}
	s.log.Info("queued tasks carried over", logx.Int("count", len(pending)-lost))
}

// Start launches the worker pool. It is a no-op while already running.
func (s *Service) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopCh != nil {
		return
	}
	cfg := s.cfg
	s.base = ctx
	s.q = make(chan queuedTask, cfg.QueueSize)
	s.stopCh = make(chan struct{})
	s.stopping = false
	s.sup = rtsup.New(ctx, rtsup.WithLogger(s.log))

	queue, stopCh := s.q, s.stopCh
	for i := 0; i < cfg.Workers; i++ {
		s.sup.GoRestart0(fmt.Sprintf("taskengine.worker.%d", i), func(ctx context.Context) {
			s.worker(ctx, stopCh, queue)
		})
	}
	s.log.Info("task engine started", logx.Int("workers", cfg.Workers), logx.Int("queue", cfg.QueueSize))
}

// Stop stops accepting work, lets in-flight tasks finish until ctx expires,
// then cancels whatever is still running. Queued tasks that never started are
// discarded.
func (s *Service) Stop(ctx context.Context) error {
	pending, err := s.stop(ctx)
	if n := len(pending); n > 0 {
		s.log.Warn("task engine discarded queued tasks", logx.Int("count", n))
	}
	return err
}

// stop shuts the pool down and returns the tasks still queued.
func (s *Service) stop(ctx context.Context) ([]queuedTask, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if s.stopCh == nil || s.stopping {
		s.mu.Unlock()
		return nil, nil
	}
	s.stopping = true
	close(s.stopCh)
	sup := s.sup
	queue := s.q
	s.mu.Unlock()

	err := sup.Wait(ctx)
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		s.log.Warn("task engine stop timed out; cancelling in-flight tasks", logx.Int("in_flight", int(s.inFlight.Load())))
		sup.Cancel()
		waitCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		_ = sup.Wait(waitCtx)
		cancel()
	} else {
		err = nil
	}
	sup.Cancel()

	var pending []queuedTask
	for len(queue) > 0 {
		pending = append(pending, <-queue)
	}

	s.mu.Lock()
	s.q = nil
	s.stopCh = nil
	s.sup = nil
	s.stopping = false
	s.mu.Unlock()
	return pending, err
}

func (s *Service) prepare(t Task) (queuedTask, chan queuedTask, chan struct{}, error) {
	if t.Run == nil {
		return queuedTask{}, nil, nil, fmt.Errorf("%w: %q has no Run func", ErrInvalid, t.Name)
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopCh == nil {
		return queuedTask{}, nil, nil, ErrStopped
	}
	if s.stopping {
		return queuedTask{}, nil, nil, ErrStopping
	}
	timeout := t.Timeout
	if timeout <= 0 {
		timeout = s.cfg.DefaultTimeout
	}
	return queuedTask{task: t, enqueuedAt: time.Now(), timeout: timeout}, s.q, s.stopCh, nil
}

// Submit queues t, blocking while the queue is full.
func (s *Service) Submit(ctx context.Context, t Task) error {
	qt, queue, stopCh, err := s.prepare(t)
	if err != nil {
		return err
	}
	select {
	case queue <- qt:
		return nil
	case <-stopCh:
		return ErrStopping
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Enqueue queues t without blocking and returns ErrQueueFull when there is no room.
func (s *Service) Enqueue(t Task) error {
	qt, queue, _, err := s.prepare(t)
	if err != nil {
		return err
	}
	select {
	case queue <- qt:
		return nil
	default:
		s.dropped.Add(1)
		s.log.Warn("task dropped: queue full", logx.String("task", t.Name), logx.Int("queue_cap", cap(queue)))
		return ErrQueueFull
	}
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	workers := s.cfg.Workers
	queue := s.q
	s.mu.Unlock()

	s.hmu.Lock()
	hist := make([]Run, len(s.history))
	copy(hist, s.history)
	s.hmu.Unlock()

	snap := Snapshot{
		Workers:  workers,
		InFlight: int(s.inFlight.Load()),
		Dropped:  s.dropped.Load(),
		History:  hist,
	}
	if queue != nil {
		snap.QueueLen = len(queue)
		snap.QueueCap = cap(queue)
	}
	return snap
}

func (s *Service) record(item Run) {
	s.mu.Lock()
	size := s.cfg.HistorySize
	s.mu.Unlock()

	s.hmu.Lock()
	s.history = append(s.history, item)
	if len(s.history) > size {
		s.history = s.history[len(s.history)-size:]
	}
	s.hmu.Unlock()
}
