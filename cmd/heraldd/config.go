package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/xraph/herald"
)

// fileConfig is the heraldd configuration. It is read from an optional
// YAML file and HERALD_* environment variables, env winning.
type fileConfig struct {
	Listen string `mapstructure:"listen"`

	Log struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
	} `mapstructure:"log"`

	Store struct {
		// Driver is "memory" or "redis".
		Driver   string `mapstructure:"driver"`
		RedisURL string `mapstructure:"redis_url"`
	} `mapstructure:"store"`

	// CatalogFile optionally extends the built-in event types.
	CatalogFile string `mapstructure:"catalog_file"`

	Delivery deliveryConfig `mapstructure:"delivery"`
}

type deliveryConfig struct {
	Concurrency          int             `mapstructure:"concurrency"`
	QueueSize            int             `mapstructure:"queue_size"`
	SweepInterval        time.Duration   `mapstructure:"sweep_interval"`
	BatchSize            int             `mapstructure:"batch_size"`
	ClaimLease           time.Duration   `mapstructure:"claim_lease"`
	ParkInterval         time.Duration   `mapstructure:"park_interval"`
	RetrySchedule        []time.Duration `mapstructure:"retry_schedule"`
	SuspendThreshold     int             `mapstructure:"suspend_threshold"`
	BlockPrivateNetworks bool            `mapstructure:"block_private_networks"`
}

func setDefaults(v *viper.Viper) {
	def := herald.DefaultConfig()
	v.SetDefault("listen", ":8080")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("store.driver", "memory")
	v.SetDefault("store.redis_url", "redis://localhost:6379/0")
	v.SetDefault("catalog_file", "")
	v.SetDefault("delivery.concurrency", def.Concurrency)
	v.SetDefault("delivery.queue_size", def.QueueSize)
	v.SetDefault("delivery.sweep_interval", def.SweepInterval)
	v.SetDefault("delivery.batch_size", def.BatchSize)
	v.SetDefault("delivery.claim_lease", def.ClaimLease)
	v.SetDefault("delivery.park_interval", def.ParkInterval)
	v.SetDefault("delivery.retry_schedule", def.RetrySchedule)
	v.SetDefault("delivery.suspend_threshold", def.SuspendThreshold)
	v.SetDefault("delivery.block_private_networks", true)
}

// loadConfig reads path (if non-empty) and the environment into a
// fileConfig.
func loadConfig(v *viper.Viper, path string) (*fileConfig, error) {
	setDefaults(v)
	v.SetEnvPrefix("HERALD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg fileConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config data: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *fileConfig) validate() error {
	switch c.Store.Driver {
	case "memory", "redis":
	default:
		return fmt.Errorf("unsupported store driver %q (want memory or redis)", c.Store.Driver)
	}
	switch c.Log.Format {
	case "json", "text":
	default:
		return fmt.Errorf("unsupported log format %q", c.Log.Format)
	}
	if c.Listen == "" {
		return errors.New("listen address is required")
	}
	return nil
}

// options converts the delivery section into herald options. Zero values
// keep the library defaults.
func (c *fileConfig) options() []herald.Option {
	d := c.Delivery
	var opts []herald.Option

	if d.Concurrency > 0 {
		opts = append(opts, herald.WithConcurrency(d.Concurrency))
	}
	if d.QueueSize > 0 {
		opts = append(opts, herald.WithQueueSize(d.QueueSize))
	}
	if d.SweepInterval > 0 {
		opts = append(opts, herald.WithSweepInterval(d.SweepInterval))
	}
	if d.BatchSize > 0 {
		opts = append(opts, herald.WithBatchSize(d.BatchSize))
	}
	if d.ClaimLease > 0 {
		opts = append(opts, herald.WithClaimLease(d.ClaimLease))
	}
	if d.ParkInterval > 0 {
		opts = append(opts, herald.WithParkInterval(d.ParkInterval))
	}
	if len(d.RetrySchedule) > 0 {
		opts = append(opts, herald.WithRetrySchedule(d.RetrySchedule))
	}
	if d.SuspendThreshold > 0 {
		opts = append(opts, herald.WithSuspendThreshold(d.SuspendThreshold))
	}
	opts = append(opts, herald.WithBlockPrivateNetworks(d.BlockPrivateNetworks))
	return opts
}

// newLogger builds the process logger from the log section.
func newLogger(w io.Writer, level, format string) *slog.Logger {
	if w == nil {
		w = os.Stderr
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	hopts := &slog.HandlerOptions{Level: lvl}
	if format == "text" {
		return slog.New(slog.NewTextHandler(w, hopts))
	}
	return slog.New(slog.NewJSONHandler(w, hopts))
}
