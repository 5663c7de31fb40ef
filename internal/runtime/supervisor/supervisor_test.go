package supervisor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestGoRecoversPanic(t *testing.T) {
	s := New(context.Background())
	s.Go("boom", func(context.Context) error { panic("kaboom") })

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err := s.Stop(ctx)
	require.Error(t, err)
	require.Contains(t, err.Error(), "kaboom")
	require.EqualValues(t, 1, s.Counters().Panics)
}

func TestCancelOnError(t *testing.T) {
	s := New(context.Background(), WithCancelOnError(true))
	s.Go("fails", func(context.Context) error { return errors.New("bad") })
	select {
	case <-s.Context().Done():
	case <-time.After(time.Second):
		t.Fatal("context not cancelled")
	}
	require.ErrorContains(t, s.Err(), "fails: bad")
}

func TestGoRestartRestartsUntilClean(t *testing.T) {
	s := New(context.Background())
	var runs atomic.Int32
	s.GoRestart("flaky", func(context.Context) error {
		if runs.Add(1) < 3 {
			return errors.New("transient")
		}
		return nil
	}, WithRestartBackoff(time.Millisecond, 2*time.Millisecond), WithPublishFirstError(true))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.Eventually(t, func() bool { return runs.Load() == 3 }, time.Second, 5*time.Millisecond)
	err := s.Wait(ctx)
	require.ErrorContains(t, err, "transient")
	require.EqualValues(t, 2, s.Counters().Restarts)
}

func TestGoRestartMaxRestarts(t *testing.T) {
	s := New(context.Background())
	var runs atomic.Int32
	s.GoRestart("always", func(context.Context) error {
		runs.Add(1)
		return errors.New("nope")
	}, WithRestartBackoff(time.Millisecond, time.Millisecond), WithMaxRestarts(2))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Wait(ctx))
	require.EqualValues(t, 3, runs.Load())
}
