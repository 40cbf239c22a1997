package workflow

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"storyloom/internal/logging"
	"storyloom/internal/queue"
	"storyloom/internal/recurring"
)

// StaleSweeper returns processing jobs whose lock outlived staleAfter to the
// queue. It runs once at start and then on a fixed cadence.
type StaleSweeper struct {
	store      *queue.Store
	logger     *slog.Logger
	staleAfter time.Duration
	task       *recurring.Task
}

// NewStaleSweeper creates a sweeper; it does nothing until Start.
func NewStaleSweeper(store *queue.Store, staleAfter, interval time.Duration, logger *slog.Logger) *StaleSweeper {
	s := &StaleSweeper{
		store:      store,
		logger:     logging.NewComponentLogger(logger, "stale-sweep"),
		staleAfter: staleAfter,
	}
	s.task = recurring.New("stale-sweep", interval, s.run, logger, recurring.RunImmediately())
	return s
}

// Start begins sweeping. A non-positive staleAfter disables the sweeper.
func (s *StaleSweeper) Start(ctx context.Context) error {
	if s.staleAfter <= 0 {
		return nil
	}
	return s.task.Start(ctx)
}

// Stop halts the sweep loop.
func (s *StaleSweeper) Stop() {
	s.task.Stop()
}

// Sweep runs one reclamation pass and returns the number of reset jobs.
func (s *StaleSweeper) Sweep(ctx context.Context) (int64, error) {
	if s.staleAfter <= 0 {
		return 0, nil
	}
	reset, err := s.store.ResetStaleJobs(ctx, s.staleAfter)
	if err != nil {
		return 0, err
	}
	if reset > 0 {
		s.logger.Info("reclaimed stale jobs",
			logging.Int64("count", reset),
			logging.Duration("stale_after", s.staleAfter),
			logging.String(logging.FieldEventType, "stale_jobs_reset"),
		)
	}
	return reset, nil
}

func (s *StaleSweeper) run(ctx context.Context) {
	if _, err := s.Sweep(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		logging.WarnWithContext(s.logger, "stale job sweep failed", "stale_sweep_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check queue database access"),
			logging.String(logging.FieldImpact, "abandoned jobs stay processing until the next sweep"),
		)
	}
}
