package engine

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"pland/internal/eventbus"
	logx "pland/pkg/logx"
)

func (s *Service) worker(ctx context.Context, stopCh <-chan struct{}, queue <-chan queuedTask) {
	for {
		// a closed stopCh wins over queued work
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		default:
		}

		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case qt := <-queue:
			s.inFlight.Add(1)
			s.execOne(ctx, qt)
			s.inFlight.Add(-1)
		}
	}
}

func (s *Service) execOne(ctx context.Context, qt queuedTask) {
	run := Run{ID: qt.task.ID, Name: qt.task.Name, Start: time.Now()}
	run.Waited = max(run.Start.Sub(qt.enqueuedAt), 0)
	log := s.log.With(logx.String("task", run.Name), logx.String("id", run.ID))

	log.Debug("task started", logx.Duration("waited", run.Waited))
	s.bus.Publish(eventbus.Event{Type: eventbus.TaskStarted, Time: run.Start, Data: run})

	runCtx, cancel := context.WithTimeout(ctx, qt.timeout)
	err := runTask(runCtx, qt.task, log)
	cancel()
	run.Took = time.Since(run.Start)

	topic := eventbus.TaskFinished
	if err != nil {
		run.Error = err.Error()
		topic = eventbus.TaskFailed
		log.Warn("task failed", logx.Duration("took", run.Took), logx.Err(err))
	} else {
		log.Debug("task finished", logx.Duration("took", run.Took))
	}
	s.bus.Publish(eventbus.Event{Type: topic, Data: run})
	s.record(run)
}

// runTask converts a panic into an error so one bad task cannot take a worker down.
func runTask(ctx context.Context, t Task, log logx.Logger) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			log.Error("task panicked", logx.Any("panic", r), logx.Stack(string(debug.Stack())))
		}
	}()
	return t.Run(ctx)
}
