package cli

import (
	"fmt"
	"io"
	"sync"

	"github.com/aretw0/onesided"
	"github.com/aretw0/onesided/internal/logging"
	"github.com/aretw0/onesided/pkg/config"
	"github.com/aretw0/onesided/pkg/observability"
	"github.com/prometheus/client_golang/prometheus"
)

// RunOptions contains the command line overrides shared by all commands. Zero values
// leave the configuration file untouched.
type RunOptions struct {
	ConfigPath  string
	LogLevel    string
	LogFormat   string
	Transport   string
	Size        int
	Rank        int
	RankSet     bool
	RedisAddr   string
	MetricsAddr string
	AllRanks    bool
}

// LoadConfig reads the configuration file and environment, then applies opts.
func LoadConfig(opts RunOptions) (config.Config, error) {
	cfg, err := onesided.LoadConfig(opts.ConfigPath)
	if err != nil {
		return config.Config{}, err
	}
	if opts.LogLevel != "" {
		cfg.Log.Level = opts.LogLevel
	}
	if opts.LogFormat != "" {
		cfg.Log.Format = opts.LogFormat
	}
	if opts.Transport != "" {
		cfg.Transport = opts.Transport
	}
	if opts.Size > 0 {
		cfg.Size = opts.Size
	}
	if opts.RankSet {
		cfg.Rank = opts.Rank
	}
	if opts.RedisAddr != "" {
		cfg.Redis.Addr = opts.RedisAddr
	}
	if opts.MetricsAddr != "" {
		cfg.Metrics.Addr = opts.MetricsAddr
	}
	return cfg, cfg.Validate()
}

// NewRuntime builds the runtime described by opts. Window events are logged with the
// configured logger and metrics are registered with reg when it is not nil.
func NewRuntime(opts RunOptions, reg prometheus.Registerer, extra ...onesided.Option) (*onesided.Runtime, error) {
	cfg, err := LoadConfig(opts)
	if err != nil {
		return nil, err
	}
	logger, err := logging.NewFor(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, err
	}

	rtOpts := []onesided.Option{
		onesided.WithConfig(cfg),
		onesided.WithLogger(logger),
		onesided.WithLifecycleHooks(observability.LogHooks(logger)),
	}
	if reg != nil {
		rtOpts = append(rtOpts, onesided.WithMetrics(reg))
	}
	if opts.AllRanks {
		rtOpts = append(rtOpts, onesided.WithAllRanks())
	}
	rtOpts = append(rtOpts, extra...)
	return onesided.New(rtOpts...)
}

// lockedWriter serializes the output of concurrently running ranks.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Printf(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintf(l.w, format, args...)
}
