package rma

import (
	"log/slog"

	"github.com/aretw0/onesided/internal/logging"
	"github.com/aretw0/onesided/pkg/domain"
	"github.com/aretw0/onesided/pkg/registry"
)

type options struct {
	logger   *slog.Logger
	hooks    domain.LifecycleHooks
	registry *registry.Registry
}

// Option configures a Window.
type Option func(*options)

// WithLogger sets the logger for lifecycle and epoch events.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithHooks registers observability hooks.
func WithHooks(hooks domain.LifecycleHooks) Option {
	return func(o *options) {
		o.hooks = hooks
	}
}

// WithRegistry publishes the window in r while it is alive.
func WithRegistry(r *registry.Registry) Option {
	return func(o *options) {
		o.registry = r
	}
}

func buildOptions(opts []Option) options {
	o := options{logger: logging.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

type fenceConfig struct {
	noPrecede bool
	noSucceed bool
}

// FenceOption asserts properties of a fence call.
type FenceOption func(*fenceConfig)

// NoPrecede asserts that no transfers were issued since the previous fence.
// Fence then fails if transfers are pending.
func NoPrecede() FenceOption {
	return func(c *fenceConfig) {
		c.noPrecede = true
	}
}

// NoSucceed closes the fence phase: no epoch is opened after this fence, so another
// protocol may be used next.
func NoSucceed() FenceOption {
	return func(c *fenceConfig) {
		c.noSucceed = true
	}
}
