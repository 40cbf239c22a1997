package workflow

import (
	"context"
	"errors"
	"time"

	"storyloom/internal/logging"
	"storyloom/internal/queue"
)

// Start runs the stale sweep once, then begins claiming jobs in the
// background until Stop or ctx cancellation.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return errors.New("workflow already running")
	}
	if m.registry == nil {
		m.mu.Unlock()
		return errors.New("workflow handler registry not configured")
	}
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.running = true
	m.loopDone = make(chan struct{})
	m.mu.Unlock()

	if err := m.sweeper.Start(runCtx); err != nil {
		m.logger.Warn("stale sweep not started; abandoned jobs will not be reclaimed",
			logging.Error(err),
			logging.String(logging.FieldEventType, "stale_sweep_disabled"),
			logging.String(logging.FieldErrorHint, "check workflow.stale_sweep_seconds"),
		)
	}

	m.logger.Info("worker started",
		logging.String(logging.FieldEventType, "worker_start"),
		logging.String(logging.FieldWorkerID, m.workerID),
		logging.Int("max_concurrent", m.maxConcurrent),
		logging.Duration("poll_interval", m.pollInterval),
	)
	go m.loop(runCtx, m.loopDone)
	return nil
}

// Stop cancels the loop and waits for in-flight jobs to return. Jobs whose
// handlers were interrupted stay processing; the stale sweep requeues them.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	cancel := m.cancel
	done := m.loopDone
	m.running = false
	m.cancel = nil
	m.mu.Unlock()

	cancel()
	<-done
	m.jobs.Wait()
	m.sweeper.Stop()
	m.logger.Info("worker stopped", logging.String(logging.FieldEventType, "worker_stop"))
}

func (m *Manager) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		if ctx.Err() != nil {
			return
		}
		if err := m.fill(ctx); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			m.handleClaimError(ctx, err)
			continue
		}
		m.wait(ctx)
	}
}

// fill claims jobs until the concurrency bound is reached or nothing is
// eligible.
func (m *Manager) fill(ctx context.Context) error {
	for m.inFlightCount() < m.maxConcurrent {
		job, err := m.store.ClaimNext(ctx, m.workerID, queue.ClaimOptions{ExcludeTypes: m.gate.blocked()})
		if err != nil {
			return err
		}
		if job == nil {
			return nil
		}
		m.dispatch(ctx, job)
	}
	return nil
}

func (m *Manager) dispatch(ctx context.Context, job *queue.Job) {
	m.gate.acquire(job.Type)
	m.mu.Lock()
	m.inFlight[job.ID] = job
	m.mu.Unlock()

	m.jobs.Add(1)
	go func() {
		defer m.jobs.Done()
		defer m.finish(job)
		m.executeJob(ctx, job)
	}()
}

func (m *Manager) finish(job *queue.Job) {
	m.gate.release(job.Type)
	m.mu.Lock()
	delete(m.inFlight, job.ID)
	m.mu.Unlock()
	select {
	case m.freed <- struct{}{}:
	default:
	}
}

// wait blocks until the poll interval elapses, a job is enqueued, a slot
// frees up, or a rate-limit cooldown ends.
func (m *Manager) wait(ctx context.Context) {
	delay := m.pollInterval
	if next := m.gate.nextOpen(); !next.IsZero() {
		if until := time.Until(next); until < delay {
			delay = until
		}
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	case <-m.signal.C():
	case <-m.freed:
	}
}

func (m *Manager) handleClaimError(ctx context.Context, err error) {
	m.setLastError(err)
	logging.ErrorWithContext(m.logger, "failed to claim next job", "queue_claim_failed",
		logging.Error(err),
		logging.String(logging.FieldErrorHint, "check queue database access"),
		logging.Duration("retry_in", m.errorRetry),
	)
	select {
	case <-ctx.Done():
	case <-time.After(m.errorRetry):
	}
}

func (m *Manager) inFlightCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.inFlight)
}
