// Package recurring runs background functions on a fixed interval with an
// explicit Start/Stop lifecycle.
package recurring

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"storyloom/internal/logging"
)

// Task invokes a function every interval until stopped. Runs never overlap:
// a slow run delays the next tick instead of stacking.
type Task struct {
	name      string
	interval  time.Duration
	fn        func(context.Context)
	logger    *slog.Logger
	immediate bool

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// Option configures a Task.
type Option func(*Task)

// RunImmediately makes Start invoke the function once before the first tick.
func RunImmediately() Option {
	return func(t *Task) { t.immediate = true }
}

// New constructs a stopped task.
func New(name string, interval time.Duration, fn func(context.Context), logger *slog.Logger, opts ...Option) *Task {
	task := &Task{
		name:     name,
		interval: interval,
		fn:       fn,
		logger:   logging.NewComponentLogger(logger, "recurring").With(logging.String("task", name)),
	}
	for _, opt := range opts {
		opt(task)
	}
	return task
}

// Start launches the task loop. It stops on Stop or when ctx is cancelled.
func (t *Task) Start(ctx context.Context) error {
	if t.fn == nil {
		return fmt.Errorf("task %s: no function", t.name)
	}
	if t.interval <= 0 {
		return fmt.Errorf("task %s: interval must be positive", t.name)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancel != nil {
		return errors.New("task " + t.name + " already running")
	}
	runCtx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	t.done = make(chan struct{})
	go t.loop(runCtx, t.done)
	return nil
}

// Stop cancels the loop and waits for an in-progress run to return. It is
// safe to call on a stopped task.
func (t *Task) Stop() {
	t.mu.Lock()
	cancel, done := t.cancel, t.done
	t.cancel = nil
	t.done = nil
	t.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Running reports whether the loop is active.
func (t *Task) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cancel != nil
}

func (t *Task) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	if t.immediate {
		t.invoke(ctx)
	}
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.invoke(ctx)
		}
	}
}

func (t *Task) invoke(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			logging.ErrorWithContext(t.logger, "recurring task panicked", "recurring_task_panic",
				logging.String("panic", fmt.Sprint(r)),
				logging.String(logging.FieldImpact, "run skipped; next tick proceeds"),
			)
		}
	}()
	t.fn(ctx)
}
