// Package config loads the runtime configuration of onesided processes.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/aretw0/onesided/internal/logging"
	"gopkg.in/yaml.v3"
)

const (
	TransportMemory = "memory"
	TransportRedis  = "redis"
)

// Environment variables that override the file.
const (
	EnvRank      = "ONESIDED_RANK"
	EnvSize      = "ONESIDED_SIZE"
	EnvRedisAddr = "ONESIDED_REDIS_ADDR"
)

// Config is the root of onesided.yaml.
type Config struct {
	Transport string        `yaml:"transport"`
	Size      int           `yaml:"size"`
	Rank      int           `yaml:"rank"`
	Redis     RedisConfig   `yaml:"redis"`
	Arena     ArenaConfig   `yaml:"arena"`
	Metrics   MetricsConfig `yaml:"metrics"`
	Log       LogConfig     `yaml:"log"`
}

type RedisConfig struct {
	Addr         string        `yaml:"addr"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	Prefix       string        `yaml:"prefix"`
	LockTTL      time.Duration `yaml:"lock_ttl"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

type ArenaConfig struct {
	// MaxBytes caps managed window memory per process. Zero means no cap.
	MaxBytes int `yaml:"max_bytes"`
}

type MetricsConfig struct {
	// Addr is the listen address of the introspection server.
	Addr string `yaml:"addr"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration of a single-rank in-process runtime.
func Default() Config {
	return Config{
		Transport: TransportMemory,
		Size:      1,
		Redis: RedisConfig{
			Addr:         "localhost:6379",
			Prefix:       "onesided:",
			LockTTL:      30 * time.Second,
			PollInterval: 20 * time.Millisecond,
		},
		Log: LogConfig{Level: "info", Format: "text"},
	}
}

// Load reads path over the defaults. An empty path yields the defaults.
// Environment overrides are not applied; see ApplyEnv.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return cfg, nil
}

// ApplyEnv overrides fields from the environment through lookup (os.LookupEnv in
// production).
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvRank); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvRank, err)
		}
		c.Rank = n
	}
	if v, ok := lookup(EnvSize); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvSize, err)
		}
		c.Size = n
	}
	if v, ok := lookup(EnvRedisAddr); ok {
		c.Redis.Addr = v
	}
	return nil
}

// Validate reports every inconsistency at once.
func (c Config) Validate() error {
	var errs []error
	switch c.Transport {
	case TransportMemory, TransportRedis:
	default:
		errs = append(errs, fmt.Errorf("transport: unknown %q", c.Transport))
	}
	if c.Size < 1 {
		errs = append(errs, fmt.Errorf("size: must be positive, got %d", c.Size))
	}
	if c.Rank < 0 || c.Rank >= c.Size {
		errs = append(errs, fmt.Errorf("rank: %d outside [0,%d)", c.Rank, c.Size))
	}
	if c.Transport == TransportRedis {
		if c.Redis.Addr == "" {
			errs = append(errs, errors.New("redis.addr: required by the redis transport"))
		}
		if c.Redis.LockTTL <= 0 {
			errs = append(errs, errors.New("redis.lock_ttl: must be positive"))
		}
		if c.Redis.PollInterval <= 0 {
			errs = append(errs, errors.New("redis.poll_interval: must be positive"))
		}
	}
	if c.Arena.MaxBytes < 0 {
		errs = append(errs, fmt.Errorf("arena.max_bytes: negative %d", c.Arena.MaxBytes))
	}
	if _, err := logging.NewFor(c.Log.Level, c.Log.Format); err != nil {
		errs = append(errs, fmt.Errorf("log: %w", err))
	}
	return errors.Join(errs...)
}
