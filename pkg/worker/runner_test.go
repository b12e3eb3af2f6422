package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/freightlane/notify-api/pkg/logger"
	"github.com/freightlane/notify-api/pkg/metrics"
)

type denyLocker struct{}

func (denyLocker) Acquire(context.Context, string, time.Duration) (func(), bool, error) {
	return nil, false, nil
}

type failLocker struct{}

func (failLocker) Acquire(context.Context, string, time.Duration) (func(), bool, error) {
	return nil, false, errors.New("redis down")
}

func TestRunner_TickSkipsOverlappingRun(t *testing.T) {
	m := metrics.NewNop()
	r := NewRunner(nil, RunnerConfig{}, logger.Nop(), m)

	entered := make(chan struct{})
	unblock := make(chan struct{})
	task := &Task{Name: "scheduler", Interval: time.Second, Run: func(ctx context.Context) (int, error) {
		close(entered)
		<-unblock
		return 1, nil
	}}

	done := make(chan bool)
	go func() { done <- r.Tick(context.Background(), task) }()
	<-entered

	assert.False(t, r.Tick(context.Background(), task))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.WorkerSkippedTicks.WithLabelValues("scheduler")))

	close(unblock)
	assert.True(t, <-done)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.WorkerRuns.WithLabelValues("scheduler", "success")))
}

func TestRunner_TickRecordsFailure(t *testing.T) {
	m := metrics.NewNop()
	r := NewRunner(nil, RunnerConfig{}, logger.Nop(), m)

	task := &Task{Name: "retry", Interval: time.Second, Run: func(ctx context.Context) (int, error) {
		return 0, errors.New("db gone")
	}}

	assert.True(t, r.Tick(context.Background(), task))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.WorkerRuns.WithLabelValues("retry", "error")))

	// the guard is released after a failed run
	assert.True(t, r.Tick(context.Background(), task))
}

func TestRunner_TickHonoursLock(t *testing.T) {
	var calls atomic.Int32
	task := &Task{Name: "cleanup", Interval: time.Second, Run: func(ctx context.Context) (int, error) {
		calls.Add(1)
		return 0, nil
	}}

	m := metrics.NewNop()
	assert.False(t, NewRunner(denyLocker{}, RunnerConfig{}, logger.Nop(), m).Tick(context.Background(), task))
	assert.False(t, NewRunner(failLocker{}, RunnerConfig{}, logger.Nop(), m).Tick(context.Background(), task))
	assert.Equal(t, int32(0), calls.Load())
}

func TestRunner_LocalTaskIgnoresSharedLock(t *testing.T) {
	var calls atomic.Int32
	task := &Task{Name: "heartbeat", Interval: time.Second, Local: true, Run: func(ctx context.Context) (int, error) {
		calls.Add(1)
		return 0, nil
	}}

	r := NewRunner(denyLocker{}, RunnerConfig{}, logger.Nop(), metrics.NewNop())
	assert.True(t, r.Tick(context.Background(), task))
	assert.Equal(t, int32(1), calls.Load())
}

func TestRunner_StartRunsOnStartAndStops(t *testing.T) {
	r := NewRunner(nil, RunnerConfig{}, logger.Nop(), metrics.NewNop())
	ran := make(chan struct{}, 1)
	r.Add(&Task{Name: "boot", Interval: time.Hour, RunOnStart: true, Run: func(ctx context.Context) (int, error) {
		ran <- struct{}{}
		return 0, nil
	}})

	ctx, cancel := context.WithCancel(context.Background())
	r.Start(ctx)

	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("task did not run on start")
	}
	cancel()

	waited := make(chan struct{})
	go func() { r.Wait(); close(waited) }()
	select {
	case <-waited:
	case <-time.After(time.Second):
		t.Fatal("runner did not stop")
	}
}

func TestRunner_AddRejectsZeroInterval(t *testing.T) {
	r := NewRunner(nil, RunnerConfig{}, logger.Nop(), metrics.NewNop())
	require.Panics(t, func() { r.Add(&Task{Name: "bad"}) })
}
