// Package engine is a bounded worker pool. Tasks are enqueued without
// blocking, run once under a timeout, and never crash a worker: panics are
// recovered into errors.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"morningbot/internal/eventbus"
	rtsup "morningbot/internal/runtime/supervisor"
	logx "morningbot/pkg/logx"
)

const warnThrottleEvery = 5 * time.Second

type Service struct {
	cfg Config
	log logx.Logger
	bus eventbus.Bus

	mu     sync.Mutex
	q      chan queuedTask
	sup    *rtsup.Supervisor
	stopCh chan struct{}

	inFlight atomic.Int32
	idSeq    atomic.Uint64

	completed        atomic.Uint64
	failed           atomic.Uint64
	overlapSkipped   atomic.Uint64
	droppedQueueFull atomic.Uint64
	droppedStale     atomic.Uint64
	lastFullWarnAt   atomic.Int64

	hmu     sync.Mutex
	history []HistoryItem
}

type queuedTask struct {
	task       Task
	enqueuedAt time.Time
	timeout    time.Duration
}

// New builds a stopped engine. bus may be nil.
func New(cfg Config, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{cfg: cfg.withDefaults(), log: log, bus: bus}
}

// Start launches the workers. It is a no-op when already running.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopCh != nil {
		return
	}
	s.q = make(chan queuedTask, s.cfg.QueueSize)
	s.stopCh = make(chan struct{})
	s.sup = rtsup.New(ctx, rtsup.WithLogger(s.log))

	queue, stopCh := s.q, s.stopCh
	for i := 0; i < s.cfg.Workers; i++ {
		s.sup.GoRestart(fmt.Sprintf("worker.%d", i), func(c context.Context) error {
			s.worker(c, stopCh, queue)
			select {
			case <-stopCh:
				return nil
			default:
			}
			if c.Err() != nil {
				return nil
			}
			return errors.New("worker exited unexpectedly")
		}, rtsup.WithPublishFirstError(true))
	}
	s.log.Info("task engine started",
		logx.Int("workers", s.cfg.Workers), logx.Int("queue", s.cfg.QueueSize))
}

// Stop closes the engine to new work, cancels running tasks and waits for
// the workers, bounded by ctx. Queued tasks that never started are dropped.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	if s.stopCh == nil {
		s.mu.Unlock()
		return
	}
	close(s.stopCh)
	sup, q := s.sup, s.q
	s.q, s.stopCh, s.sup = nil, nil, nil
	s.mu.Unlock()

	sup.Cancel()
	if err := sup.Wait(ctx); err != nil && ctx.Err() != nil {
		s.log.Warn("task engine stop timed out", logx.Err(err))
		return
	}
	for {
		select {
		case qt := <-q:
			qt.task.State.release()
		default:
			s.log.Info("task engine stopped")
			return
		}
	}
}

// Enqueue adds t without blocking. It returns ErrOverlapSkip when t.State is
// held, ErrQueueFull when the queue is full and ErrStopped when the engine
// is not running.
func (s *Service) Enqueue(t Task) error {
	if t.Run == nil {
		return errors.New("task Run is nil")
	}
	t.Name = strings.TrimSpace(t.Name)
	if t.Name == "" {
		return errors.New("task Name is required")
	}
	now := time.Now()
	if strings.TrimSpace(t.ID) == "" {
		t.ID = fmt.Sprintf("tsk-%x-%x", now.UnixNano(), s.idSeq.Add(1))
	}

	s.mu.Lock()
	q, stopCh := s.q, s.stopCh
	s.mu.Unlock()
	if q == nil || stopCh == nil {
		return ErrStopped
	}

	if !t.State.tryAcquire() {
		s.overlapSkipped.Add(1)
		s.publish(eventbus.TypeTaskSkipped, TaskEvent{ID: t.ID, Name: t.Name, Error: "overlap_skip"})
		s.log.Debug("task skipped due to overlap", logx.String("task", t.Name), logx.String("id", t.ID))
		return ErrOverlapSkip
	}

	timeout := t.Timeout
	if timeout <= 0 {
		timeout = s.cfg.DefaultTimeout
	}
	select {
	case q <- queuedTask{task: t, enqueuedAt: now, timeout: timeout}:
		return nil
	case <-stopCh:
		t.State.release()
		return ErrStopped
	default:
		t.State.release()
		s.droppedQueueFull.Add(1)
		s.publish(eventbus.TypeTaskDropped, TaskEvent{ID: t.ID, Name: t.Name, Error: "queue_full"})
		if s.shouldWarn(now) {
			s.log.Warn("task dropped: queue full",
				logx.String("task", t.Name), logx.Int("queue_cap", cap(q)),
				logx.Uint64("dropped_queue_full", s.droppedQueueFull.Load()))
		}
		return ErrQueueFull
	}
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	q := s.q
	running := s.stopCh != nil
	s.mu.Unlock()

	snap := Snapshot{
		Running:          running,
		Workers:          s.cfg.Workers,
		InFlight:         int(s.inFlight.Load()),
		Completed:        s.completed.Load(),
		Failed:           s.failed.Load(),
		OverlapSkipped:   s.overlapSkipped.Load(),
		DroppedQueueFull: s.droppedQueueFull.Load(),
		DroppedStale:     s.droppedStale.Load(),
		DefaultTimeout:   s.cfg.DefaultTimeout,
	}
	if q != nil {
		snap.QueueLen, snap.QueueCap = len(q), cap(q)
	}
	s.hmu.Lock()
	snap.History = append([]HistoryItem(nil), s.history...)
	s.hmu.Unlock()
	return snap
}

func (s *Service) publish(typ string, ev TaskEvent) {
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: typ, Data: ev})
	}
}

func (s *Service) shouldWarn(now time.Time) bool {
	prev := s.lastFullWarnAt.Load()
	n := now.UnixNano()
	if prev != 0 && n-prev < int64(warnThrottleEvery) {
		return false
	}
	return s.lastFullWarnAt.CompareAndSwap(prev, n)
}

func (s *Service) record(item HistoryItem) {
	s.hmu.Lock()
	s.history = append(s.history, item)
	if len(s.history) > s.cfg.HistorySize {
		s.history = s.history[len(s.history)-s.cfg.HistorySize:]
	}
	s.hmu.Unlock()
}
