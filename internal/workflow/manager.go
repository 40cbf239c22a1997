package workflow

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"storyloom/internal/config"
	"storyloom/internal/logging"
	"storyloom/internal/notifications"
	"storyloom/internal/pipeline"
	"storyloom/internal/queue"
	"storyloom/internal/stage"
	"storyloom/internal/wakeup"
)

// Observer is told about every job the manager finishes.
type Observer interface {
	OnJobFinished(ctx context.Context, job *queue.Job, outcome pipeline.Outcome)
}

// Manager claims queued jobs and runs them through registered handlers.
type Manager struct {
	cfg      *config.Config
	store    *queue.Store
	registry *stage.Registry
	observer Observer
	signal   wakeup.Signal
	notifier notifications.Service
	logger   *slog.Logger
	workerID string

	pollInterval  time.Duration
	errorRetry    time.Duration
	maxConcurrent int
	gate          *rateGate
	sweeper       *StaleSweeper

	freed chan struct{}

	mu        sync.RWMutex
	running   bool
	cancel    context.CancelFunc
	loopDone  chan struct{}
	jobs      sync.WaitGroup
	inFlight  map[string]*queue.Job
	lastErr   error
	lastJob   *queue.Job
	completed int64
	failed    int64
}

// ManagerOption configures optional Manager behavior.
type ManagerOption func(*Manager)

// WithSignal wakes the loop early when jobs are enqueued.
func WithSignal(signal wakeup.Signal) ManagerOption {
	return func(m *Manager) { m.signal = signal }
}

// WithNotifier sets the service used for worker-level error alerts.
func WithNotifier(notifier notifications.Service) ManagerOption {
	return func(m *Manager) { m.notifier = notifier }
}

// WithWorkerID overrides the generated worker identity.
func WithWorkerID(id string) ManagerOption {
	return func(m *Manager) { m.workerID = id }
}

// NewManager constructs a stopped worker manager.
func NewManager(cfg *config.Config, store *queue.Store, registry *stage.Registry, observer Observer, logger *slog.Logger, opts ...ManagerOption) *Manager {
	m := &Manager{
		cfg:      cfg,
		store:    store,
		registry: registry,
		observer: observer,
		signal:   wakeup.NewLocal(),
		notifier: notifications.NewService(cfg),
		workerID: defaultWorkerID(),
		freed:    make(chan struct{}, 1),
		inFlight: make(map[string]*queue.Job),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = logging.NewComponentLogger(logger, "workflow")
	m.applyConfig()
	m.sweeper = NewStaleSweeper(store, cfg.StaleAfter(), cfg.StaleSweepInterval(), m.logger)
	return m
}

// WorkerID returns the identity used to lock claimed jobs.
func (m *Manager) WorkerID() string {
	return m.workerID
}

func defaultWorkerID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "worker"
	}
	return host + "-" + uuid.NewString()[:8]
}
