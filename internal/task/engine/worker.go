package engine

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"morningbot/internal/eventbus"
	logx "morningbot/pkg/logx"
)

func (s *Service) worker(ctx context.Context, stopCh <-chan struct{}, queue <-chan queuedTask) {
	for {
		// A closed stopCh wins over queued work.
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
	defer qt.task.State.release()

	start := time.Now()
	queueDelay := start.Sub(qt.enqueuedAt)
	if queueDelay < 0 {
		queueDelay = 0
	}
	if s.cfg.MaxQueueDelay > 0 && queueDelay > s.cfg.MaxQueueDelay {
		s.droppedStale.Add(1)
		s.publish(eventbus.TypeTaskDropped, TaskEvent{ID: qt.task.ID, Name: qt.task.Name, QueueDelay: queueDelay, Error: "stale_queue_delay"})
		s.log.Warn("task dropped: stale queue",
			logx.String("task", qt.task.Name), logx.Duration("queue_delay", queueDelay))
		s.record(HistoryItem{ID: qt.task.ID, Name: qt.task.Name, Started: start, QueueDelay: queueDelay, Error: "stale_queue_delay"})
		return
	}

	runCtx, cancel := context.WithTimeout(ctx, qt.timeout)
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
				s.log.Error("task panicked",
					logx.String("task", qt.task.Name), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
			}
		}()
		return qt.task.Run(runCtx)
	}()
	cancel()

	dur := time.Since(start)
	item := HistoryItem{ID: qt.task.ID, Name: qt.task.Name, Started: start, QueueDelay: queueDelay, Duration: dur}
	if err != nil {
		item.Error = err.Error()
		s.failed.Add(1)
		s.log.Warn("task failed",
			logx.String("task", qt.task.Name), logx.Err(err),
			logx.Duration("queue_delay", queueDelay), logx.Duration("dur", dur))
		s.publish(eventbus.TypeTaskFailed, TaskEvent{ID: qt.task.ID, Name: qt.task.Name, QueueDelay: queueDelay, Duration: dur, Error: item.Error})
	} else {
		s.completed.Add(1)
		s.log.Debug("task completed",
			logx.String("task", qt.task.Name), logx.Duration("queue_delay", queueDelay), logx.Duration("dur", dur))
	}
	s.record(item)
}
