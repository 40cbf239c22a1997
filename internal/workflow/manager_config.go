package workflow

import (
	"time"

	"storyloom/internal/queue"
)

const (
	fallbackPollInterval = time.Second
	fallbackErrorRetry   = 10 * time.Second
)

func (m *Manager) applyConfig() {
	m.pollInterval = m.cfg.PollInterval()
	if m.pollInterval <= 0 {
		m.pollInterval = fallbackPollInterval
	}
	m.errorRetry = time.Duration(m.cfg.Workflow.ErrorRetrySeconds) * time.Second
	if m.errorRetry <= 0 {
		m.errorRetry = fallbackErrorRetry
	}
	m.maxConcurrent = m.cfg.Workflow.MaxConcurrent
	if m.maxConcurrent < 1 {
		m.maxConcurrent = 1
	}

	var limited []queue.JobType
	for _, name := range m.cfg.Workflow.RateLimitedTypes {
		if jobType, ok := queue.ParseJobType(name); ok {
			limited = append(limited, jobType)
		}
	}
	m.gate = newRateGate(limited, m.cfg.RateLimitCooldown())
}
