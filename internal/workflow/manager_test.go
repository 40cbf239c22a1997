package workflow_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"storyloom/internal/notifications"
	"storyloom/internal/queue"
	"storyloom/internal/services"
	"storyloom/internal/testsupport"
	"storyloom/internal/wakeup"
	"storyloom/internal/workflow"
)

func TestManagerCompletesJobsAndReportsOutcomes(t *testing.T) {
	f := newFixture(t)
	f.register(t, queue.JobExtractSource, func(_ context.Context, job *queue.Job) (map[string]any, error) {
		return map[string]any{"handled": job.ID}, nil
	})
	var ids []string
	for i := 0; i < 3; i++ {
		ids = append(ids, f.enqueue(t, queue.JobExtractSource, 0).ID)
	}

	f.start(t)
	waitFor(t, "three finished jobs", func() bool { return f.observer.len() == 3 })

	for _, done := range f.observer.all() {
		if !done.outcome.Completed || done.outcome.Result["handled"] != done.job.ID {
			t.Fatalf("unexpected outcome for %s: %+v", done.job.ID, done.outcome)
		}
	}
	for _, id := range ids {
		if job := f.job(t, id); job.Status != queue.JobCompleted {
			t.Fatalf("expected %s completed, got %s", id, job.Status)
		}
	}
}

func TestManagerRespectsMaxConcurrent(t *testing.T) {
	f := newFixture(t, testsupport.WithMaxConcurrent(2))
	release := make(chan struct{})
	var running, peak atomic.Int32
	f.register(t, queue.JobGenerateStory, func(ctx context.Context, _ *queue.Job) (map[string]any, error) {
		now := running.Add(1)
		for {
			old := peak.Load()
			if now <= old || peak.CompareAndSwap(old, now) {
				break
			}
		}
		defer running.Add(-1)
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return nil, nil
	})
	for i := 0; i < 4; i++ {
		f.enqueue(t, queue.JobGenerateStory, 0)
	}

	mgr := f.start(t)
	waitFor(t, "two jobs in flight", func() bool { return running.Load() == 2 })
	time.Sleep(30 * time.Millisecond)
	if status := mgr.Status(context.Background()); len(status.InFlight) != 2 {
		t.Fatalf("expected 2 in-flight jobs, got %d", len(status.InFlight))
	}
	close(release)
	waitFor(t, "all jobs finished", func() bool { return f.observer.len() == 4 })
	if peak.Load() > 2 {
		t.Fatalf("concurrency exceeded bound: peak %d", peak.Load())
	}
}

func TestManagerFailsJobsWithoutHandler(t *testing.T) {
	f := newFixture(t)
	job := f.enqueue(t, queue.JobGenerateScript, 3)

	f.start(t)
	waitFor(t, "failed job", func() bool { return f.observer.len() == 1 })

	done := f.observer.all()[0]
	if done.outcome.Failure == nil || done.outcome.Failure.Retried {
		t.Fatalf("expected a terminal failure, got %+v", done.outcome)
	}
	if !errors.Is(done.outcome.Err, services.ErrNoHandler) {
		t.Fatalf("expected ErrNoHandler, got %v", done.outcome.Err)
	}
	stored := f.job(t, job.ID)
	if stored.Status != queue.JobFailed || stored.Attempt != 1 {
		t.Fatalf("expected failed after one attempt, got %s attempt %d", stored.Status, stored.Attempt)
	}
	if f.notifier.count(notifications.EventError) != 1 {
		t.Fatal("expected an error notification for a topic-less job")
	}
}

func TestManagerCapturesHandlerPanics(t *testing.T) {
	f := newFixture(t)
	f.register(t, queue.JobExtractSource, func(context.Context, *queue.Job) (map[string]any, error) {
		panic("handler exploded")
	})
	job := f.enqueue(t, queue.JobExtractSource, 1)

	mgr := f.start(t)
	waitFor(t, "panicked job", func() bool { return f.observer.len() == 1 })

	if err := f.observer.all()[0].outcome.Err; !errors.Is(err, services.ErrHandlerPanic) {
		t.Fatalf("expected ErrHandlerPanic, got %v", err)
	}
	stored := f.job(t, job.ID)
	if stored.Status != queue.JobFailed || !strings.Contains(stored.ErrorStack, "handler exploded") {
		t.Fatalf("expected failed job carrying panic text, got %s %q", stored.Status, stored.ErrorStack)
	}
	if status := mgr.Status(context.Background()); !status.Running || status.Failed != 1 {
		t.Fatalf("expected worker running with one failure, got %+v", status)
	}
}

func TestManagerSchedulesTransientRetry(t *testing.T) {
	f := newFixture(t)
	f.register(t, queue.JobExtractSource, func(context.Context, *queue.Job) (map[string]any, error) {
		return nil, errors.New("connection reset by peer")
	})
	job := f.enqueue(t, queue.JobExtractSource, 3)

	f.start(t)
	waitFor(t, "failed attempt", func() bool { return f.observer.len() == 1 })

	outcome := f.observer.all()[0].outcome
	if outcome.Failure == nil || !outcome.Failure.Retried {
		t.Fatalf("expected a scheduled retry, got %+v", outcome)
	}
	stored := f.job(t, job.ID)
	if stored.Status != queue.JobPending || stored.LockedBy != "" || !stored.RunAfter.After(time.Now()) {
		t.Fatalf("expected unlocked pending job in the future, got %+v", stored)
	}
}

func TestManagerDiscardsCompletionOfCancelledJob(t *testing.T) {
	f := newFixture(t)
	started := make(chan struct{})
	release := make(chan struct{})
	f.register(t, queue.JobExtractSource, func(context.Context, *queue.Job) (map[string]any, error) {
		close(started)
		<-release
		return map[string]any{"late": true}, nil
	})
	job := f.enqueue(t, queue.JobExtractSource, 0)

	f.start(t)
	<-started
	if ok, err := f.store.CancelJob(context.Background(), job.ID); err != nil || !ok {
		t.Fatalf("CancelJob failed: ok=%v err=%v", ok, err)
	}
	close(release)
	waitFor(t, "finished job", func() bool { return f.observer.len() == 1 })

	if f.observer.all()[0].outcome.Completed {
		t.Fatal("completion of a cancelled job must not apply")
	}
	if stored := f.job(t, job.ID); stored.Status != queue.JobCancelled {
		t.Fatalf("expected job to stay cancelled, got %s", stored.Status)
	}
}

func TestManagerRateLimitCooldown(t *testing.T) {
	const cooldown = 150 * time.Millisecond
	f := newFixture(t, testsupport.WithMaxConcurrent(4))
	f.cfg.Workflow.RateLimitedTypes = []string{string(queue.JobGenerateNarration)}
	f.cfg.Workflow.RateLimitCooldownMS = int(cooldown / time.Millisecond)

	var (
		mu      sync.Mutex
		starts  []time.Time
		ends    []time.Time
		running atomic.Int32
		overlap atomic.Bool
	)
	f.register(t, queue.JobGenerateNarration, func(context.Context, *queue.Job) (map[string]any, error) {
		if running.Add(1) > 1 {
			overlap.Store(true)
		}
		mu.Lock()
		starts = append(starts, time.Now())
		mu.Unlock()
		time.Sleep(10 * time.Millisecond)
		mu.Lock()
		ends = append(ends, time.Now())
		mu.Unlock()
		running.Add(-1)
		return nil, nil
	})
	f.enqueue(t, queue.JobGenerateNarration, 0)
	f.enqueue(t, queue.JobGenerateNarration, 0)

	f.start(t)
	waitFor(t, "both narration jobs", func() bool { return f.observer.len() == 2 })

	if overlap.Load() {
		t.Fatal("rate-limited jobs ran concurrently")
	}
	mu.Lock()
	defer mu.Unlock()
	if gap := starts[1].Sub(ends[0]); gap < cooldown {
		t.Fatalf("expected at least %s between rate-limited jobs, got %s", cooldown, gap)
	}
}

func TestManagerWakesOnEnqueueSignal(t *testing.T) {
	f := newFixture(t)
	f.cfg.Workflow.PollIntervalMillis = int(time.Hour / time.Millisecond)
	signal := wakeup.NewLocal()
	f.store.SetEnqueueHook(wakeup.EnqueueHook(signal))
	f.register(t, queue.JobExtractSource, func(context.Context, *queue.Job) (map[string]any, error) {
		return nil, nil
	})

	f.start(t, workflow.WithSignal(signal))
	time.Sleep(20 * time.Millisecond)
	f.enqueue(t, queue.JobExtractSource, 0)

	waitFor(t, "job picked up after wakeup", func() bool { return f.observer.len() == 1 })
}

func TestManagerStartStop(t *testing.T) {
	f := newFixture(t)
	mgr := workflow.NewManager(f.cfg, f.store, f.registry, f.observer, nil, workflow.WithWorkerID("worker-a"))
	if err := mgr.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := mgr.Start(context.Background()); err == nil {
		t.Fatal("expected second Start to fail")
	}
	status := mgr.Status(context.Background())
	if !status.Running || status.WorkerID != "worker-a" {
		t.Fatalf("unexpected status: %+v", status)
	}
	mgr.Stop()
	mgr.Stop()
	if mgr.Status(context.Background()).Running {
		t.Fatal("expected manager to report stopped")
	}
}

func TestStaleSweeperResetsAbandonedJobs(t *testing.T) {
	f := newFixture(t)
	f.store.SetClock(func() time.Time { return time.Now().Add(-2 * time.Hour) })
	job := f.enqueue(t, queue.JobExtractSource, 0)
	testsupport.MustClaim(t, f.store, "crashed-worker")
	f.store.SetClock(nil)

	sweeper := workflow.NewStaleSweeper(f.store, 30*time.Minute, time.Hour, nil)
	reset, err := sweeper.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}
	if reset != 1 {
		t.Fatalf("expected one reset job, got %d", reset)
	}
	if stored := f.job(t, job.ID); stored.Status != queue.JobPending || stored.LockedBy != "" {
		t.Fatalf("expected unlocked pending job, got %s locked by %q", stored.Status, stored.LockedBy)
	}
}
