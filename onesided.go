package onesided

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/aretw0/onesided/internal/arena"
	"github.com/aretw0/onesided/internal/logging"
	"github.com/aretw0/onesided/pkg/adapters/memory"
	"github.com/aretw0/onesided/pkg/adapters/redis"
	"github.com/aretw0/onesided/pkg/config"
	"github.com/aretw0/onesided/pkg/domain"
	"github.com/aretw0/onesided/pkg/observability"
	"github.com/aretw0/onesided/pkg/ports"
	"github.com/aretw0/onesided/pkg/registry"
	"github.com/aretw0/onesided/pkg/rma"
	"github.com/prometheus/client_golang/prometheus"
	backend "github.com/redis/go-redis/v9"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

// Runtime is the high-level entry point of the library. It owns the transports of the
// ranks hosted by this process and the observability shared by their windows.
type Runtime struct {
	cfg         config.Config
	logger      *slog.Logger
	hooks       domain.LifecycleHooks
	registry    *registry.Registry
	registerer  prometheus.Registerer
	redisClient *backend.Client
	allRanks    bool

	transports []ports.Transport
	client     *backend.Client
	ownsClient bool
}

// Option defines a functional option for configuring the Runtime.
type Option func(*Runtime)

// WithConfig replaces the default configuration.
func WithConfig(cfg config.Config) Option {
	return func(r *Runtime) {
		r.cfg = cfg
	}
}

// WithLogger sets a custom structured logger for the runtime and its windows.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runtime) {
		r.logger = logger
	}
}

// WithLifecycleHooks registers observability hooks on every window.
func WithLifecycleHooks(hooks domain.LifecycleHooks) Option {
	return func(r *Runtime) {
		r.hooks = r.hooks.Merge(hooks)
	}
}

// WithRegistry publishes every window in reg instead of the runtime's own registry.
func WithRegistry(reg *registry.Registry) Option {
	return func(r *Runtime) {
		r.registry = reg
	}
}

// WithMetrics registers the runtime's Prometheus collectors with reg.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(r *Runtime) {
		r.registerer = reg
	}
}

// WithRedisClient makes the redis transport use client. The runtime does not close it.
func WithRedisClient(client *backend.Client) Option {
	return func(r *Runtime) {
		r.redisClient = client
	}
}

// WithAllRanks hosts every rank of the scope in this process, also with the redis
// transport. The memory transport always does.
func WithAllRanks() Option {
	return func(r *Runtime) {
		r.allRanks = true
	}
}

// New creates a runtime from the configuration.
func New(opts ...Option) (*Runtime, error) {
	r := &Runtime{
		cfg:      config.Default(),
		logger:   logging.NewNop(),
		registry: registry.NewRegistry(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if err := r.cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	if r.registerer != nil {
		metrics, err := observability.NewMetrics(r.registerer)
		if err != nil {
			return nil, fmt.Errorf("failed to register metrics: %w", err)
		}
		r.hooks = r.hooks.Merge(metrics.Hooks())
	}

	switch r.cfg.Transport {
	case config.TransportMemory:
		world := memory.NewWorld(r.cfg.Size, memory.WithMaxBytes(r.cfg.Arena.MaxBytes))
		r.transports = world.Transports()
	case config.TransportRedis:
		if err := r.connectRedis(); err != nil {
			return nil, err
		}
	}

	r.logger.Debug("runtime ready",
		"transport", r.cfg.Transport,
		"size", r.cfg.Size,
		"local_ranks", len(r.transports),
	)
	return r, nil
}

func (r *Runtime) connectRedis() error {
	client := r.redisClient
	if client == nil {
		client = backend.NewClient(&backend.Options{
			Addr:     r.cfg.Redis.Addr,
			Password: r.cfg.Redis.Password,
			DB:       r.cfg.Redis.DB,
		})
		r.ownsClient = true
	}
	r.client = client

	opts := []redis.Option{
		redis.WithPrefix(r.cfg.Redis.Prefix),
		redis.WithLockTTL(r.cfg.Redis.LockTTL),
		redis.WithPollInterval(r.cfg.Redis.PollInterval),
		redis.WithArena(arena.New(r.cfg.Arena.MaxBytes)),
		redis.WithLogger(r.logger),
	}

	ranks := []domain.Rank{domain.Rank(r.cfg.Rank)}
	if r.allRanks {
		ranks = domain.RangeGroup(r.cfg.Size).Ranks()
	}
	for _, rank := range ranks {
		t, err := redis.NewFromClient(client, rank, r.cfg.Size, opts...)
		if err != nil {
			return multierr.Append(err, r.Close())
		}
		r.transports = append(r.transports, t)
	}
	return nil
}

// Config returns the effective configuration.
func (r *Runtime) Config() config.Config {
	return r.cfg
}

// Size returns the number of ranks in the scope.
func (r *Runtime) Size() int {
	return r.cfg.Size
}

// Transports returns the transports of the ranks hosted by this process, in rank order.
func (r *Runtime) Transports() []ports.Transport {
	return append([]ports.Transport(nil), r.transports...)
}

// Transport returns the transport of a locally hosted rank.
func (r *Runtime) Transport(rank domain.Rank) (ports.Transport, error) {
	for _, t := range r.transports {
		if t.Rank() == rank {
			return t, nil
		}
	}
	return nil, fmt.Errorf("%w: %s is not hosted by this process", domain.ErrOutOfRange, rank)
}

// Registry returns the registry the runtime's windows are published in.
func (r *Runtime) Registry() *registry.Registry {
	return r.registry
}

// Logger returns the runtime logger.
func (r *Runtime) Logger() *slog.Logger {
	return r.logger
}

// WindowOptions returns the options that wire a window into the runtime's logging,
// hooks and registry.
func (r *Runtime) WindowOptions() []rma.Option {
	return []rma.Option{
		rma.WithLogger(r.logger),
		rma.WithHooks(r.hooks),
		rma.WithRegistry(r.registry),
	}
}

// Run calls fn concurrently for every locally hosted rank and waits for all of them.
// The first error cancels the context passed to the others.
func (r *Runtime) Run(ctx context.Context, fn func(ctx context.Context, tr ports.Transport) error) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, tr := range r.transports {
		g.Go(func() error {
			if err := fn(ctx, tr); err != nil {
				return fmt.Errorf("%s: %w", tr.Rank(), err)
			}
			return nil
		})
	}
	return g.Wait()
}

// Close shuts the transports down. Windows should be released first.
func (r *Runtime) Close() error {
	var err error
	for _, t := range r.transports {
		err = multierr.Append(err, t.Close())
	}
	// The transports share the client and leave it open.
	if r.ownsClient {
		err = multierr.Append(err, r.client.Close())
		r.ownsClient = false
	}
	return err
}

// Attach exposes buf as a window on tr, wired into the runtime.
func Attach[T domain.Element](ctx context.Context, r *Runtime, tr ports.Transport, name string, buf []T) (*rma.Window[T], error) {
	return rma.Attach(ctx, tr, name, buf, r.WindowOptions()...)
}

// Allocate creates a window of length elements of runtime memory on tr, wired into
// the runtime.
func Allocate[T domain.Element](ctx context.Context, r *Runtime, tr ports.Transport, name string, length int) (*rma.Window[T], error) {
	return rma.Allocate[T](ctx, tr, name, length, r.WindowOptions()...)
}

// LoadConfig reads path (may be empty) and applies the environment overrides.
func LoadConfig(path string) (config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, err
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}
