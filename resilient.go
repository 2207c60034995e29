// Package resilient is the network-resilience and client-state-caching layer
// wrapped around a caller's remote operations: connection-quality monitoring,
// failure classification, bounded-backoff retries, an offline replay queue,
// and a deduplicating response cache.
package resilient

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/vietddude/resilient/internal/cache"
	"github.com/vietddude/resilient/internal/classify"
	"github.com/vietddude/resilient/internal/core/config"
	"github.com/vietddude/resilient/internal/core/domain"
	"github.com/vietddude/resilient/internal/infra/postgres"
	"github.com/vietddude/resilient/internal/infra/redisstore"
	"github.com/vietddude/resilient/internal/monitor"
	"github.com/vietddude/resilient/internal/queue"
	"github.com/vietddude/resilient/internal/retry"
	"github.com/vietddude/resilient/internal/runner"
)

// Re-exported domain types; callers should not reach into internal packages.
type (
	ConnectionState = domain.ConnectionState
	Quality         = domain.Quality
	ClassifiedError = domain.ClassifiedError
	ErrorCategory   = domain.ErrorCategory
	Severity        = domain.Severity
	QueuedOperation = domain.QueuedOperation

	RetryPolicy = retry.Policy
	RunOptions  = runner.Options
	RunResult   = runner.Result
	ReplayFunc  = queue.ReplayFunc
	DrainReport = queue.DrainReport
	Operation   = runner.Operation
)

const (
	QualityFast    = domain.QualityFast
	QualitySlow    = domain.QualitySlow
	QualityOffline = domain.QualityOffline

	CategoryNetwork    = domain.CategoryNetwork
	CategoryTimeout    = domain.CategoryTimeout
	CategoryPermission = domain.CategoryPermission
	CategoryValidation = domain.CategoryValidation
	CategoryServer     = domain.CategoryServer
	CategoryClient     = domain.CategoryClient
	CategoryUnknown    = domain.CategoryUnknown

	SeverityFatal   = domain.SeverityFatal
	SeverityWarning = domain.SeverityWarning
	SeverityInfo    = domain.SeverityInfo

	RunSucceeded = runner.StatusSucceeded
	RunFailed    = runner.StatusFailed
	RunDeferred  = runner.StatusDeferred
)

// ErrStoreUnavailable is returned when an offline deferral could not be
// safely persisted.
var ErrStoreUnavailable = queue.ErrStoreUnavailable

// Config is the top-level configuration. Zero value gives an in-memory,
// probe-less client suitable for tests and simple embedding.
type Config = config.AppConfig

// LoadConfig reads configuration from a YAML file with environment-variable
// expansion.
func LoadConfig(path string) (*Config, error) {
	return config.Load(path)
}

// Client is the explicitly constructed context object holding the shared
// monitor, queue, and cache. Construct once, Start, and inject where needed;
// Stop releases the timers and subscriptions.
type Client struct {
	monitor *monitor.Monitor
	queue   *queue.Queue
	cache   *cache.Cache
	runner  *runner.Runner
	policy  retry.Policy
	log     *slog.Logger

	redisClient *redisstore.Client
	db          *postgres.DB
}

// New builds a client from config. The queue store is selected the same way
// on every start: postgres when a database URL is configured, else redis
// when a redis URL is configured, else in-memory with a logged warning that
// queued operations will not survive a restart.
func New(cfg *Config, replay ReplayFunc) (*Client, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	log := slog.Default()

	c := &Client{
		policy: cfg.Retry.Policy(),
		log:    log,
	}

	var store queue.Store
	switch {
	case cfg.Database.URL != "":
		db, err := postgres.NewDB(context.Background(), cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to init db: %w", err)
		}
		c.db = db
		store = postgres.NewQueueStore(db)
		log.Info("Using PostgreSQL queue store")
	case cfg.Redis.URL != "":
		rc, err := redisstore.NewClient(cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("failed to init redis: %w", err)
		}
		c.redisClient = rc
		store = redisstore.NewQueueStore(rc, cfg.Queue.Namespace)
		log.Info("Using Redis queue store", "namespace", cfg.Queue.Namespace)
	default:
		store = queue.NewMemoryStore()
		log.Warn("No queue storage configured, queued operations will not survive a restart")
	}

	c.monitor = monitor.New(cfg.Monitor)
	c.queue = queue.New(store, log)
	c.cache = cache.New(cfg.Cache, log)
	c.runner = runner.New(c.monitor, c.queue, c.cache, c.policy, replay, log)

	return c, nil
}

// Start begins connectivity probing.
func (c *Client) Start(ctx context.Context) {
	c.monitor.Start(ctx)
}

// Stop tears the client down: detaches the runner, stops the monitor and
// cache sweep, and closes storage connections.
func (c *Client) Stop() error {
	c.runner.Close()
	c.monitor.Stop()
	c.cache.Close()

	if c.redisClient != nil {
		if err := c.redisClient.Close(); err != nil {
			return err
		}
	}
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// Run executes a remote operation through the resilience pipeline.
func (c *Client) Run(ctx context.Context, op Operation, opts RunOptions) (RunResult, error) {
	return c.runner.Run(ctx, op, opts)
}

// Schedule prepares a retryable operation without executing it.
func Schedule[T any](op func(ctx context.Context) (T, error), policy RetryPolicy) *retry.Operation[T] {
	return retry.Schedule(retry.Func[T](op), policy)
}

// Classify maps any failure value to its category, severity, and
// retryability. It accepts literally anything without panicking.
func Classify(v any) *ClassifiedError {
	return classify.Classify(v)
}

// GetOrFetch reads through the response cache with per-key deduplication and
// stale-while-revalidate semantics.
func (c *Client) GetOrFetch(ctx context.Context, key string, fetch func(ctx context.Context) (any, error), ttl time.Duration) (any, error) {
	return c.cache.GetOrFetch(ctx, key, fetch, ttl)
}

// Invalidate force-expires a cached key.
func (c *Client) Invalidate(key string) {
	c.cache.Invalidate(key)
}

// InvalidatePrefix force-expires every cached key with the prefix.
func (c *Client) InvalidatePrefix(prefix string) {
	c.cache.InvalidatePrefix(prefix)
}

// Enqueue adds an operation to the offline queue directly.
func (c *Client) Enqueue(ctx context.Context, op *QueuedOperation) error {
	return c.queue.Enqueue(ctx, op)
}

// Drain replays queued operations now, regardless of connection state.
func (c *Client) Drain(ctx context.Context, replay ReplayFunc) (DrainReport, error) {
	return c.queue.Drain(ctx, replay)
}

// Connection returns the last-known connection state without blocking.
func (c *Client) Connection() ConnectionState {
	return c.monitor.Current()
}

// OnConnectionChange subscribes to connection-state samples and returns the
// disposer that unsubscribes.
func (c *Client) OnConnectionChange(cb func(ConnectionState)) func() {
	return c.monitor.Subscribe(cb)
}

// SetOnline feeds an explicit connectivity transition into the monitor.
func (c *Client) SetOnline(online bool) {
	c.monitor.SetOnline(online)
}

// SetNetworkHints feeds declared bandwidth class and save-data preference
// into the monitor.
func (c *Client) SetNetworkHints(bandwidthClass string, saveData bool) {
	c.monitor.SetNetworkHints(bandwidthClass, saveData)
}

// QueueLen reports how many operations await replay.
func (c *Client) QueueLen(ctx context.Context) (int, error) {
	return c.queue.Len(ctx)
}
