// Package scheduler runs background sweeps on a fixed interval.
package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Task is one periodic job. RunOnce executes a single cycle synchronously;
// Start repeats it until the context ends or Stop is called.
type Task struct {
	name     string
	interval time.Duration
	run      func(ctx context.Context) error
	logger   *zap.Logger

	mu      sync.Mutex
	stop    chan struct{}
	stopped bool
}

func New(name string, interval time.Duration, run func(ctx context.Context) error, logger *zap.Logger) *Task {
	return &Task{
		name:     name,
		interval: interval,
		run:      run,
		logger:   logger.With(zap.String("task", name)),
		stop:     make(chan struct{}),
	}
}

func (t *Task) Name() string { return t.name }

func (t *Task) RunOnce(ctx context.Context) error {
	started := time.Now()
	err := t.run(ctx)
	if err != nil {
		taskFailures.WithLabelValues(t.name).Inc()
		t.logger.Warn("scheduled task failed", zap.Error(err))
	}
	taskDuration.WithLabelValues(t.name).Observe(time.Since(started).Seconds())
	return err
}

// Start blocks, running the task every interval. A failed cycle is logged and
// the next one still runs. It returns nil on Stop or context cancellation.
func (t *Task) Start(ctx context.Context) error {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	t.logger.Info("scheduled task started", zap.Duration("interval", t.interval))
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.stop:
			return nil
		case <-ticker.C:
			_ = t.RunOnce(ctx)
		}
	}
}

func (t *Task) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return
	}
	t.stopped = true
	close(t.stop)
}
