package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"

	"github.com/gofrs/flock"

	"storyloom/internal/config"
	"storyloom/internal/engine"
	"storyloom/internal/logging"
	"storyloom/internal/pipeline"
	"storyloom/internal/queue"
	"storyloom/internal/recurring"
	"storyloom/internal/workflow"
)

// Daemon coordinates the worker manager, the engine leader lock, and the API.
type Daemon struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    *queue.Store
	workflow *workflow.Manager
	orch     *pipeline.Orchestrator
	engine   *engine.Engine
	api      *apiServer

	lockPath string
	lock     *flock.Flock
	lockTask *recurring.Task
	leader   atomic.Bool

	mu      sync.Mutex
	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool
	PID          int
	EngineLeader bool
	Workflow     workflow.StatusSummary
	QueueDBPath  string
	LockFilePath string
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, store *queue.Store, logger *slog.Logger, wf *workflow.Manager, orch *pipeline.Orchestrator, eng *engine.Engine) (*Daemon, error) {
	if cfg == nil || store == nil || wf == nil || orch == nil || eng == nil {
		return nil, errors.New("daemon requires config, store, workflow manager, orchestrator, and engine")
	}
	lockPath := cfg.EngineLockPath()
	d := &Daemon{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		store:    store,
		workflow: wf,
		orch:     orch,
		engine:   eng,
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}
	d.api = newAPIServer(cfg, d, logger)
	return d, nil
}

// Start launches the workers, the API server, and the engine lock loop.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running.Load() {
		return errors.New("daemon already running")
	}
	if err := os.MkdirAll(d.cfg.Paths.DataDir, 0o755); err != nil {
		return fmt.Errorf("ensure data directory: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	if err := d.workflow.Start(runCtx); err != nil {
		cancel()
		return fmt.Errorf("start workflow: %w", err)
	}
	if err := d.api.start(runCtx); err != nil {
		d.workflow.Stop()
		cancel()
		return err
	}
	if d.cfg.Engine.Enabled {
		d.tryLead(runCtx)
		d.lockTask = recurring.New("engine-lock", d.cfg.EngineInterval(), d.tryLead, d.logger)
		if err := d.lockTask.Start(runCtx); err != nil {
			d.releaseLeadership()
			d.api.stop()
			d.workflow.Stop()
			cancel()
			return fmt.Errorf("start engine lock loop: %w", err)
		}
	}

	d.ctx = runCtx
	d.cancel = cancel
	d.running.Store(true)
	d.logger.Info("storyloom daemon started",
		logging.String(logging.FieldEventType, "daemon_started"),
		logging.String("lock", d.lockPath),
		logging.String(logging.FieldWorkerID, d.workflow.WorkerID()),
	)
	return nil
}

// tryLead takes the engine lock when it is free and starts the engine timer.
func (d *Daemon) tryLead(ctx context.Context) {
	if d.leader.Load() {
		return
	}
	ok, err := d.lock.TryLock()
	if err != nil {
		logging.WarnWithContext(d.logger, "engine lock unavailable", "engine_lock_error",
			logging.Error(err),
			logging.String("lock", d.lockPath),
			logging.String(logging.FieldErrorHint, "check permissions on the data directory"),
		)
		return
	}
	if !ok {
		d.logger.Debug("engine lock held elsewhere; standing by", logging.String("lock", d.lockPath))
		return
	}
	if err := d.engine.Start(ctx); err != nil {
		_ = d.lock.Unlock()
		logging.ErrorWithContext(d.logger, "engine start failed", "engine_start_failed", logging.Error(err))
		return
	}
	d.leader.Store(true)
	d.logger.Info("engine leadership acquired",
		logging.String(logging.FieldEventType, "engine_leader_acquired"),
		logging.String("lock", d.lockPath),
	)
}

// Stop halts every background service and releases the engine lock.
func (d *Daemon) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running.Load() {
		return
	}
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	if d.lockTask != nil {
		d.lockTask.Stop()
		d.lockTask = nil
	}
	d.releaseLeadership()
	d.api.stop()
	d.workflow.Stop()
	d.ctx = nil
	d.running.Store(false)
	d.logger.Info("storyloom daemon stopped", logging.String(logging.FieldEventType, "daemon_stopped"))
}

func (d *Daemon) releaseLeadership() {
	d.engine.Stop()
	if !d.leader.Load() {
		return
	}
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release engine lock", logging.Error(err))
	}
	d.leader.Store(false)
}

// Close stops the daemon. The store is owned by the caller.
func (d *Daemon) Close() error {
	d.Stop()
	return nil
}

// EngineLeader reports whether this process runs the content engine.
func (d *Daemon) EngineLeader() bool {
	return d.leader.Load()
}

// APIAddr returns the address the control API listens on, or "" when the
// API is disabled or not started.
func (d *Daemon) APIAddr() string {
	return d.api.addr()
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) Status {
	return Status{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		EngineLeader: d.leader.Load(),
		Workflow:     d.workflow.Status(ctx),
		QueueDBPath:  d.store.Path(),
		LockFilePath: d.lockPath,
	}
}
