// Package effects runs webhook side effects (analytics, notifications,
// settlement regeneration) off the request path. A failed or dropped effect
// is logged and never changes the webhook outcome.
package effects

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// taskTimeout bounds a single side effect run.
const taskTimeout = 10 * time.Second

// Task is a unit of deferred work. Name is the stable error code logged
// when the task fails.
type Task struct {
	Name string
	Run  func(ctx context.Context) error
}

// Dispatcher executes tasks on a single background worker fed by a bounded
// queue. Enqueue never blocks: when the queue is full the task is dropped.
type Dispatcher struct {
	tasks  chan Task
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewDispatcher creates a dispatcher with the given queue capacity.
func NewDispatcher(queueSize int) *Dispatcher {
	if queueSize <= 0 {
		queueSize = 256
	}
	return &Dispatcher{
		tasks:  make(chan Task, queueSize),
		stopCh: make(chan struct{}),
	}
}

// Start begins the background worker.
func (d *Dispatcher) Start(ctx context.Context) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.runLoop(ctx)
	}()
	slog.Info("effects dispatcher started", "queue_size", cap(d.tasks))
}

// Stop drains queued tasks and waits for the worker to exit.
func (d *Dispatcher) Stop() {
	close(d.stopCh)
	d.wg.Wait()
	slog.Info("effects dispatcher stopped")
}

// Enqueue submits a task for background execution. It returns false when the
// queue is full and the task was dropped.
func (d *Dispatcher) Enqueue(t Task) bool {
	select {
	case d.tasks <- t:
		return true
	default:
		slog.Warn("effects queue full, dropping task", "error_code", t.Name)
		return false
	}
}

func (d *Dispatcher) runLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-d.stopCh:
			// Drain what is already queued before exiting.
			for {
				select {
				case t := <-d.tasks:
					d.execute(ctx, t)
				default:
					return
				}
			}
		case t := <-d.tasks:
			d.execute(ctx, t)
		}
	}
}

func (d *Dispatcher) execute(ctx context.Context, t Task) {
	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), taskTimeout)
	defer cancel()

	if err := t.Run(runCtx); err != nil {
		slog.Error("side effect failed", "error_code", t.Name, "error", err)
	}
}
