package engine

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"morningbot/internal/eventbus"
	logx "morningbot/pkg/logx"
)

func started(t *testing.T, cfg Config, bus eventbus.Bus) *Service {
	t.Helper()
	s := New(cfg, logx.Nop(), bus)
	s.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.Stop(ctx)
	})
	return s
}

func TestEnqueueRunsTask(t *testing.T) {
	s := started(t, Config{Workers: 2}, nil)
	done := make(chan struct{})
	require.NoError(t, s.Enqueue(Task{Name: "hello", Run: func(context.Context) error {
		close(done)
		return nil
	}}))
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("task did not run")
	}
	require.Eventually(t, func() bool { return s.Snapshot().Completed == 1 }, time.Second, 5*time.Millisecond)
}

func TestOverlapSkipWhileRunning(t *testing.T) {
	bus := eventbus.New()
	skipped, unsub := bus.Subscribe(4, eventbus.TypeTaskSkipped)
	defer unsub()
	s := started(t, Config{Workers: 2}, bus)

	state := &RunState{}
	release := make(chan struct{})
	var runs atomic.Int32
	task := Task{Name: "group_-1", State: state, Run: func(context.Context) error {
		runs.Add(1)
		<-release
		return nil
	}}
	require.NoError(t, s.Enqueue(task))
	require.ErrorIs(t, s.Enqueue(task), ErrOverlapSkip)
	require.True(t, state.Busy())
	require.Len(t, skipped, 1)

	close(release)
	require.Eventually(t, func() bool { return !state.Busy() }, time.Second, 5*time.Millisecond)
	require.EqualValues(t, 1, runs.Load())

	require.NoError(t, s.Enqueue(Task{Name: "group_-1", State: state, Run: func(context.Context) error { return nil }}))
}

func TestTimeoutAndPanicBecomeFailures(t *testing.T) {
	s := started(t, Config{Workers: 1, DefaultTimeout: 20 * time.Millisecond}, nil)
	var sawDeadline atomic.Bool
	require.NoError(t, s.Enqueue(Task{Name: "slow", Run: func(ctx context.Context) error {
		<-ctx.Done()
		sawDeadline.Store(errors.Is(ctx.Err(), context.DeadlineExceeded))
		return ctx.Err()
	}}))
	require.NoError(t, s.Enqueue(Task{Name: "panics", Run: func(context.Context) error { panic("boom") }}))
	var after atomic.Bool
	require.NoError(t, s.Enqueue(Task{Name: "after", Run: func(context.Context) error {
		after.Store(true)
		return nil
	}}))

	require.Eventually(t, func() bool {
		snap := s.Snapshot()
		return snap.Completed+snap.Failed == 3
	}, 2*time.Second, 5*time.Millisecond)
	require.True(t, after.Load())
	require.True(t, sawDeadline.Load())
	snap := s.Snapshot()
	require.EqualValues(t, 2, snap.Failed)
	require.Len(t, snap.History, 3)
	require.Contains(t, snap.History[1].Error, "panic: boom")
}

func TestQueueFullDrops(t *testing.T) {
	s := started(t, Config{Workers: 1, QueueSize: 1}, nil)
	block := make(chan struct{})
	defer close(block)
	running := make(chan struct{})
	require.NoError(t, s.Enqueue(Task{Name: "block", Run: func(context.Context) error {
		close(running)
		<-block
		return nil
	}}))
	<-running
	require.NoError(t, s.Enqueue(Task{Name: "queued", Run: func(context.Context) error { return nil }}))

	st := &RunState{}
	err := s.Enqueue(Task{Name: "dropped", State: st, Run: func(context.Context) error { return nil }})
	require.ErrorIs(t, err, ErrQueueFull)
	require.False(t, st.Busy())
	require.EqualValues(t, 1, s.Snapshot().DroppedQueueFull)
}

func TestEnqueueWhenStopped(t *testing.T) {
	s := New(Config{}, logx.Nop(), nil)
	require.ErrorIs(t, s.Enqueue(Task{Name: "x", Run: func(context.Context) error { return nil }}), ErrStopped)
	require.Error(t, s.Enqueue(Task{Name: "", Run: func(context.Context) error { return nil }}))
}
