package sched

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hpark-dev/ordernoti/internal/metrics"
)

// Locker grants short-lived cross-replica exclusivity for a key.
type Locker interface {
	Acquire(ctx context.Context, key string) (release func(), acquired bool, err error)
}

// Orchestrator drives a set of tasks on their intervals, taking a
// per-task distributed lock before each tick.
type Orchestrator struct {
	locker Locker
	tasks  []Task
	logger *zap.Logger
}

// NewOrchestrator creates a task orchestrator.
func NewOrchestrator(locker Locker, logger *zap.Logger, tasks ...Task) *Orchestrator {
	return &Orchestrator{locker: locker, tasks: tasks, logger: logger}
}

// Start launches one goroutine per task and blocks until ctx is
// cancelled and every in-flight tick has finished.
func (o *Orchestrator) Start(ctx context.Context) {
	var wg sync.WaitGroup
	for _, t := range o.tasks {
		wg.Add(1)
		go func(t Task) {
			defer wg.Done()
			o.runLoop(ctx, t)
		}(t)
	}
	wg.Wait()
}

func (o *Orchestrator) runLoop(ctx context.Context, t Task) {
	o.logger.Info("task scheduled",
		zap.String("task", t.Name),
		zap.Duration("interval", t.Interval),
	)

	ticker := time.NewTicker(t.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			o.logger.Info("task stopped", zap.String("task", t.Name))
			return
		case <-ticker.C:
			o.tick(ctx, t)
		}
	}
}

// tick runs one guarded execution of the task. A lock held elsewhere
// means another replica owns this tick; that is the normal case in a
// multi-instance deployment, not an error.
func (o *Orchestrator) tick(ctx context.Context, t Task) {
	release, acquired, err := o.locker.Acquire(ctx, "sched:"+t.Name)
	if err != nil {
		o.logger.Error("task lock error", zap.String("task", t.Name), zap.Error(err))
		metrics.RecordSchedulerTick(t.Name, "lock_error")
		return
	}
	if !acquired {
		o.logger.Debug("task tick held elsewhere", zap.String("task", t.Name))
		metrics.RecordSchedulerTick(t.Name, "skipped")
		return
	}
	defer release()

	start := time.Now()
	if err := t.Run(ctx); err != nil {
		o.logger.Error("task tick failed",
			zap.String("task", t.Name),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err),
		)
		metrics.RecordSchedulerTick(t.Name, "error")
		return
	}
	metrics.RecordSchedulerTick(t.Name, "ok")
}
