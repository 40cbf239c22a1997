package daemonrun

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"storyloom/internal/artifacts"
	"storyloom/internal/config"
	"storyloom/internal/daemon"
	"storyloom/internal/engine"
	"storyloom/internal/logging"
	"storyloom/internal/notifications"
	"storyloom/internal/pipeline"
	"storyloom/internal/preflight"
	"storyloom/internal/queue"
	"storyloom/internal/stage"
	"storyloom/internal/wakeup"
	"storyloom/internal/workflow"
)

// Options configures process runtime behavior.
type Options struct {
	LogLevel    string
	Development bool
	// WorkerID overrides the generated worker identity.
	WorkerID string
}

// PIDPath returns the daemon pid file location for cfg.
func PIDPath(cfg *config.Config) string {
	return filepath.Join(cfg.Paths.LogDir, "storyloom.pid")
}

// Components holds the services shared by the daemon and worker processes.
type Components struct {
	Store        *queue.Store
	Registry     *stage.Registry
	Orchestrator *pipeline.Orchestrator
	Manager      *workflow.Manager
	Notifier     notifications.Service
	Signal       wakeup.Signal

	logger *slog.Logger
}

// Close releases the wakeup signal and the store.
func (c *Components) Close() error {
	var errs []error
	if c.Signal != nil {
		errs = append(errs, c.Signal.Close())
	}
	if c.Store != nil {
		errs = append(errs, c.Store.Close())
	}
	return errors.Join(errs...)
}

// Build opens the store and constructs the handler registry, orchestrator,
// and worker manager from cfg.
func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts Options) (*Components, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	registry, err := stage.NewRegistryFromConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("build handler registry: %w", err)
	}
	resolver, err := artifacts.NewResolver(cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("artifact storage: %w", err)
	}
	store, err := queue.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("open queue store: %w", err)
	}

	sig, err := wakeup.New(ctx, cfg.Redis, logger)
	if err != nil {
		logging.WarnWithContext(logger, "redis wakeup unavailable; using local polling", "wakeup_degraded",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check redis.addr and credentials"),
			logging.String(logging.FieldImpact, "workers in other processes wake on their poll interval"),
		)
		sig = wakeup.NewLocal()
	}
	store.SetEnqueueHook(wakeup.EnqueueHook(sig))

	notifier := notifications.NewService(cfg)
	orch := pipeline.New(store, logger,
		pipeline.WithResolver(resolver),
		pipeline.WithNotifier(notifier),
	)
	managerOpts := []workflow.ManagerOption{
		workflow.WithSignal(sig),
		workflow.WithNotifier(notifier),
	}
	if opts.WorkerID != "" {
		managerOpts = append(managerOpts, workflow.WithWorkerID(opts.WorkerID))
	}
	manager := workflow.NewManager(cfg, store, registry, orch, logger, managerOpts...)

	return &Components{
		Store:        store,
		Registry:     registry,
		Orchestrator: orch,
		Manager:      manager,
		Notifier:     notifier,
		Signal:       sig,
		logger:       logger,
	}, nil
}

// LogPreflight runs the preflight checks and logs each failure.
func (c *Components) LogPreflight(ctx context.Context, cfg *config.Config) {
	results := preflight.RunAll(ctx, cfg, c.Registry)
	for _, result := range results {
		if result.Passed {
			c.logger.Debug("preflight check passed",
				logging.String("check", result.Name),
				logging.String("detail", result.Detail),
			)
			continue
		}
		logging.WarnWithContext(c.logger, "preflight check failed", "preflight_failed",
			logging.String("check", result.Name),
			logging.String("detail", result.Detail),
			logging.String(logging.FieldErrorHint, "run storyloom status for the full report"),
		)
	}
	if missing := c.Registry.Missing(); len(missing) > 0 {
		names := make([]string, 0, len(missing))
		for _, jobType := range missing {
			names = append(names, string(jobType))
		}
		logging.WarnWithContext(c.logger, "job types without handlers", "handlers_missing",
			logging.Any("job_types", names),
			logging.String(logging.FieldImpact, "claimed jobs of these types fail permanently"),
		)
	}
}

// RunDaemon runs the full daemon until cmdCtx is cancelled or the process
// receives SIGINT or SIGTERM.
func RunDaemon(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	ctx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger, err := newLogger(cfg, "daemon", opts)
	if err != nil {
		return err
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}
	pidPath := PIDPath(cfg)
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	components, err := Build(ctx, cfg, logger, opts)
	if err != nil {
		logging.ErrorWithContext(logger, "daemon setup failed", "daemon_setup_failed", logging.Error(err))
		return err
	}
	defer components.Close()
	components.LogPreflight(ctx, cfg)

	eng := engine.New(cfg, components.Store, components.Orchestrator, logger,
		engine.WithGenerator(engine.NewGenerator(cfg, components.Registry)),
	)
	d, err := daemon.New(cfg, components.Store, logger, components.Manager, components.Orchestrator, eng)
	if err != nil {
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Close()

	if err := d.Start(ctx); err != nil {
		logging.ErrorWithContext(logger, "daemon start failed", "daemon_start_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check api.bind and queue database access"),
		)
		return err
	}

	<-ctx.Done()
	logger.Info("storyloom daemon shutting down", logging.String(logging.FieldEventType, "daemon_shutdown"))
	return nil
}

// RunWorker runs only the worker loop and stale sweep against the shared
// database.
func RunWorker(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	ctx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger, err := newLogger(cfg, "worker", opts)
	if err != nil {
		return err
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}
	components, err := Build(ctx, cfg, logger, opts)
	if err != nil {
		logging.ErrorWithContext(logger, "worker setup failed", "worker_setup_failed", logging.Error(err))
		return err
	}
	defer components.Close()
	components.LogPreflight(ctx, cfg)

	if err := components.Manager.Start(ctx); err != nil {
		return fmt.Errorf("start worker: %w", err)
	}
	defer components.Manager.Stop()
	logger.Info("storyloom worker started",
		logging.String(logging.FieldEventType, "worker_started"),
		logging.String(logging.FieldWorkerID, components.Manager.WorkerID()),
	)

	<-ctx.Done()
	logger.Info("storyloom worker shutting down", logging.String(logging.FieldEventType, "worker_shutdown"))
	return nil
}

func newLogger(cfg *config.Config, process string, opts Options) (*slog.Logger, error) {
	if opts.LogLevel != "" {
		cfg.Logging.Level = opts.LogLevel
	}
	var (
		logger *slog.Logger
		err    error
	)
	if opts.Development {
		logger, err = logging.New(logging.Options{
			Level:       cfg.Logging.Level,
			Format:      "console",
			OutputPaths: []string{"stdout"},
			Development: true,
		})
	} else {
		logger, err = logging.NewFromConfig(cfg, process)
	}
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	current := filepath.Join(cfg.Paths.LogDir, process+".log")
	if removed := logging.PruneLogs(logger, cfg.Paths.LogDir, cfg.Logging.RetentionDays, current); removed > 0 {
		logger.Debug("pruned old logs", logging.Int("removed", removed))
	}
	return logger, nil
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}
