// Package sched runs the recurring background tasks of the service and
// coordinates them across replicas with a distributed lock, so each task
// tick executes on at most one instance.
package sched

import (
	"context"
	"time"
)

// Task is one recurring unit of background work.
type Task struct {
	// Name identifies the task in logs, metrics, and the lock key.
	Name string
	// Interval is the tick period.
	Interval time.Duration
	// Run executes one tick. It must be safe to call again after an
	// error; the orchestrator never stops a task over a failed tick.
	Run func(ctx context.Context) error
}
