package wakeup

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"storyloom/internal/config"
	"storyloom/internal/logging"
	"storyloom/internal/queue"
)

const publishTimeout = 2 * time.Second

// Signal delivers enqueue notifications to idle workers.
type Signal interface {
	// Notify announces that a job of jobType became claimable.
	Notify(ctx context.Context, jobType queue.JobType)
	// C returns a channel that receives after Notify, coalescing bursts.
	C() <-chan struct{}
	Close() error
}

// EnqueueHook adapts s to queue.Store.SetEnqueueHook.
func EnqueueHook(s Signal) func(queue.Job) {
	return func(job queue.Job) {
		s.Notify(context.Background(), job.Type)
	}
}

// New returns a Redis signal when an address is configured and a local one
// otherwise.
func New(ctx context.Context, cfg config.Redis, logger *slog.Logger) (Signal, error) {
	if strings.TrimSpace(cfg.Addr) == "" {
		return NewLocal(), nil
	}
	return NewRedis(ctx, cfg, logger)
}

// Local is an in-process signal.
type Local struct {
	ch chan struct{}
}

// NewLocal constructs a Local signal.
func NewLocal() *Local {
	return &Local{ch: make(chan struct{}, 1)}
}

// Notify wakes one waiting receiver without blocking.
func (l *Local) Notify(context.Context, queue.JobType) {
	select {
	case l.ch <- struct{}{}:
	default:
	}
}

// C returns the wakeup channel.
func (l *Local) C() <-chan struct{} { return l.ch }

// Close is a no-op.
func (l *Local) Close() error { return nil }

// Redis publishes enqueue notifications on a pub/sub channel and forwards
// every received message to the local wakeup channel.
type Redis struct {
	client  *redis.Client
	pubsub  *redis.PubSub
	channel string
	logger  *slog.Logger
	local   *Local

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRedis connects to Redis, verifies it with a ping, and subscribes to the
// configured channel.
func NewRedis(ctx context.Context, cfg config.Redis, logger *slog.Logger) (*Redis, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	pingCtx, cancelPing := context.WithTimeout(ctx, 5*time.Second)
	defer cancelPing()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	channel := strings.TrimSpace(cfg.Channel)
	if channel == "" {
		channel = config.Default().Redis.Channel
	}
	pubsub := client.Subscribe(ctx, channel)
	if _, err := pubsub.Receive(pingCtx); err != nil {
		pubsub.Close()
		client.Close()
		return nil, fmt.Errorf("redis subscribe %s: %w", channel, err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	r := &Redis{
		client:  client,
		pubsub:  pubsub,
		channel: channel,
		logger:  logger.With(logging.String(logging.FieldComponent, "wakeup")),
		local:   NewLocal(),
		cancel:  cancel,
	}
	r.wg.Add(1)
	go r.forward(runCtx)
	return r, nil
}

func (r *Redis) forward(ctx context.Context) {
	defer r.wg.Done()
	messages := r.pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-messages:
			if !ok {
				return
			}
			r.logger.Debug("wakeup received", logging.String(logging.FieldJobType, msg.Payload))
			r.local.Notify(ctx, queue.JobType(msg.Payload))
		}
	}
}

// Notify publishes jobType. Publish failures are logged; workers still poll.
func (r *Redis) Notify(ctx context.Context, jobType queue.JobType) {
	pubCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	if err := r.client.Publish(pubCtx, r.channel, string(jobType)).Err(); err != nil {
		r.logger.Warn("wakeup publish failed; workers fall back to polling",
			logging.Error(err),
			logging.String(logging.FieldEventType, "wakeup_publish_failed"),
			logging.String(logging.FieldErrorHint, "check redis connectivity"),
		)
		r.local.Notify(ctx, jobType)
	}
}

// C returns the wakeup channel.
func (r *Redis) C() <-chan struct{} { return r.local.C() }

// Ping checks the Redis connection.
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close unsubscribes and closes the client.
func (r *Redis) Close() error {
	r.cancel()
	err := r.pubsub.Close()
	r.wg.Wait()
	if cerr := r.client.Close(); err == nil {
		err = cerr
	}
	return err
}
