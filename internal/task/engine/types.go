package engine

import (
	"context"
	"sync"
	"time"
)

// Config controls the worker pool that executes firings.
type Config struct {
	Workers   int
	QueueSize int

	// DefaultTimeout applies when Task.Timeout is 0.
	DefaultTimeout time.Duration

	// MaxQueueDelay drops tasks that waited longer than this in the queue.
	// 0 disables stale dropping.
	MaxQueueDelay time.Duration

	HistorySize int
}

const (
	DefaultWorkers     = 4
	DefaultQueueSize   = 256
	DefaultTimeout     = 30 * time.Second
	defaultHistorySize = 100
)

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = DefaultWorkers
	}
	if c.QueueSize <= 0 {
		c.QueueSize = DefaultQueueSize
	}
	if c.DefaultTimeout <= 0 {
		c.DefaultTimeout = DefaultTimeout
	}
	if c.HistorySize <= 0 {
		c.HistorySize = defaultHistorySize
	}
	return c
}

// RunState gates overlap: a task holding it is queued or running, and a
// second task with the same state is skipped until it is released.
type RunState struct {
	mu       sync.Mutex
	inflight bool
}

func (s *RunState) tryAcquire() bool {
	if s == nil {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inflight {
		return false
	}
	s.inflight = true
	return true
}

func (s *RunState) release() {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.inflight = false
	s.mu.Unlock()
}

// Busy reports whether a task holding s is queued or running.
func (s *RunState) Busy() bool {
	if s == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inflight
}

// Task is a unit of work. Tasks run at most once; the engine never retries.
type Task struct {
	ID      string
	Name    string
	Timeout time.Duration
	Run     func(ctx context.Context) error
	// State, when set, skips the task while another task with the same
	// State is queued or running.
	State *RunState
}

type HistoryItem struct {
	ID         string
	Name       string
	Started    time.Time
	QueueDelay time.Duration
	Duration   time.Duration
	Error      string
}

// TaskEvent is published on the event bus for skipped, dropped and failed
// tasks.
type TaskEvent struct {
	ID         string        `json:"id"`
	Name       string        `json:"name"`
	QueueDelay time.Duration `json:"queue_delay"`
	Duration   time.Duration `json:"duration"`
	Error      string        `json:"error,omitempty"`
}

type Snapshot struct {
	Running  bool
	Workers  int
	QueueLen int
	QueueCap int
	InFlight int

	Completed        uint64
	Failed           uint64
	OverlapSkipped   uint64
	DroppedQueueFull uint64
	DroppedStale     uint64

	DefaultTimeout time.Duration
	History        []HistoryItem
}
