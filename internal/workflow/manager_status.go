package workflow

import (
	"context"

	"storyloom/internal/logging"
	"storyloom/internal/queue"
	"storyloom/internal/stage"
)

// StatusSummary represents lightweight worker diagnostics.
type StatusSummary struct {
	Running       bool
	WorkerID      string
	MaxConcurrent int
	InFlight      []queue.Job
	Completed     int64
	Failed        int64
	LastError     string
	LastJob       *queue.Job
	CoolingTypes  []queue.JobType
	QueueStats    queue.Stats
	HandlerHealth []stage.Health
}

// Status returns the latest worker information.
func (m *Manager) Status(ctx context.Context) StatusSummary {
	m.mu.RLock()
	summary := StatusSummary{
		Running:       m.running,
		WorkerID:      m.workerID,
		MaxConcurrent: m.maxConcurrent,
		Completed:     m.completed,
		Failed:        m.failed,
	}
	for _, job := range m.inFlight {
		summary.InFlight = append(summary.InFlight, *job)
	}
	if m.lastErr != nil {
		summary.LastError = m.lastErr.Error()
	}
	if m.lastJob != nil {
		copy := *m.lastJob
		summary.LastJob = &copy
	}
	m.mu.RUnlock()

	summary.CoolingTypes = m.gate.blocked()
	stats, err := m.store.Stats(ctx, queue.StatsFilter{})
	if err != nil {
		m.logger.Warn("failed to read queue stats", logging.Error(err))
	}
	summary.QueueStats = stats
	summary.HandlerHealth = m.registry.Health(ctx)
	return summary
}

func (m *Manager) setLastError(err error) {
	m.mu.Lock()
	m.lastErr = err
	m.mu.Unlock()
}

func (m *Manager) recordCompletion(job *queue.Job) {
	m.mu.Lock()
	copy := *job
	m.lastJob = &copy
	m.completed++
	m.mu.Unlock()
}

func (m *Manager) recordFailure() {
	m.mu.Lock()
	m.failed++
	m.mu.Unlock()
}
