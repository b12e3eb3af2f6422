package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/freightlane/notify-api/pkg/lock"
	"github.com/freightlane/notify-api/pkg/logger"
	"github.com/freightlane/notify-api/pkg/metrics"
)

// TaskFunc runs one pass of a periodic job and reports how many rows it handled.
type TaskFunc func(ctx context.Context) (int, error)

type Task struct {
	Name     string
	Interval time.Duration
	Run      TaskFunc
	// RunOnStart fires the task once before the first tick.
	RunOnStart bool
	// Local tasks work on per-process state and never take the shared lock.
	Local bool

	running atomic.Bool
}

type RunnerConfig struct {
	// LockTTL bounds how long one replica may hold a task lease.
	LockTTL time.Duration
}

// Runner drives periodic tasks. A tick that arrives while the previous run of the
// same task is still in flight is skipped.
type Runner struct {
	tasks   []*Task
	locker  lock.Locker
	config  RunnerConfig
	logger  *logger.Logger
	metrics *metrics.Metrics
	wg      sync.WaitGroup
}

func NewRunner(locker lock.Locker, config RunnerConfig, logger *logger.Logger, metrics *metrics.Metrics) *Runner {
	if locker == nil {
		locker = lock.Local{}
	}
	if config.LockTTL <= 0 {
		config.LockTTL = time.Minute
	}
	return &Runner{
		locker:  locker,
		config:  config,
		logger:  logger.With("worker"),
		metrics: metrics,
	}
}

func (r *Runner) Add(task *Task) {
	if task.Interval <= 0 {
		panic("worker: task " + task.Name + " needs a positive interval")
	}
	r.tasks = append(r.tasks, task)
}

// Start launches one ticker per task and returns immediately.
func (r *Runner) Start(ctx context.Context) {
	for _, t := range r.tasks {
		r.wg.Add(1)
		go r.loop(ctx, t)
	}
}

// Wait blocks until every task loop and in-flight run has returned.
func (r *Runner) Wait() {
	r.wg.Wait()
}

func (r *Runner) loop(ctx context.Context, t *Task) {
	defer r.wg.Done()

	r.logger.Info("Starting periodic task", "task", t.Name, "interval", t.Interval.String())
	if t.RunOnStart {
		r.Tick(ctx, t)
	}

	ticker := time.NewTicker(t.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("Shutting down periodic task", "task", t.Name)
			return
		case <-ticker.C:
			r.wg.Add(1)
			go func() {
				defer r.wg.Done()
				r.Tick(ctx, t)
			}()
		}
	}
}

// Tick runs t once unless a previous run is still active. It reports whether the
// task actually ran.
func (r *Runner) Tick(ctx context.Context, t *Task) bool {
	if !t.running.CompareAndSwap(false, true) {
		r.metrics.WorkerSkippedTicks.WithLabelValues(t.Name).Inc()
		r.logger.Debug("Skipping tick, previous run still active", "task", t.Name)
		return false
	}
	defer t.running.Store(false)

	locker := r.locker
	if t.Local {
		locker = lock.Local{}
	}
	release, ok, err := locker.Acquire(ctx, "task:"+t.Name, r.config.LockTTL)
	if err != nil {
		r.logger.Error(err, "Failed to acquire task lock", "task", t.Name)
		r.metrics.WorkerRuns.WithLabelValues(t.Name, "error").Inc()
		return false
	}
	if !ok {
		r.metrics.WorkerSkippedTicks.WithLabelValues(t.Name).Inc()
		return false
	}
	defer release()

	start := time.Now()
	n, err := t.Run(ctx)
	r.metrics.WorkerDuration.WithLabelValues(t.Name).Observe(time.Since(start).Seconds())

	if err != nil {
		r.logger.Error(err, "Periodic task failed", "task", t.Name)
		r.metrics.WorkerRuns.WithLabelValues(t.Name, "error").Inc()
		return true
	}
	r.metrics.WorkerRuns.WithLabelValues(t.Name, "success").Inc()
	if n > 0 {
		r.logger.Info("Periodic task processed rows", "task", t.Name, "count", n)
	}
	return true
}
