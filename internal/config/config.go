// Package config loads and validates the activity gateway's
// configuration: a single nested struct unmarshaled by viper from a
// YAML file and environment variables, mirroring the teacher's
// LoadConfig/LoadConfigFromEnv/setDefaults/Validate shape but rebuilt
// around this system's components (C1-C11) instead of the alerting
// stack's server/database/redis/webhook sections.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/cdeskio/activity-gateway/internal/breaker"
	"github.com/cdeskio/activity-gateway/internal/cache"
	"github.com/cdeskio/activity-gateway/internal/core"
	"github.com/cdeskio/activity-gateway/internal/ingest"
	"github.com/cdeskio/activity-gateway/internal/logging"
	"github.com/cdeskio/activity-gateway/internal/pool"
	"github.com/cdeskio/activity-gateway/internal/ticket"
)

// Config is the gateway's top-level configuration.
type Config struct {
	Server  ServerConfig    `mapstructure:"server"`
	Log     logging.Config  `mapstructure:"log"`
	Ingest  ingest.Config   `mapstructure:"ingest"`
	Cache   cache.Config    `mapstructure:"cache"`
	Pool    pool.Config     `mapstructure:"pool"`
	Breaker breaker.Config  `mapstructure:"breaker"`
	Ticket  ticket.Config   `mapstructure:"ticket"`
	Metrics MetricsConfig   `mapstructure:"metrics"`

	// Accounts lists the warehouse credentials the vault (C3) ranks by
	// Priority. At least one enabled account is required at startup.
	Accounts []core.AccountConfig `mapstructure:"accounts"`
}

// ServerConfig holds the gateway's own HTTP listener settings.
type ServerConfig struct {
	Port                    int           `mapstructure:"port"`
	Host                    string        `mapstructure:"host"`
	ReadTimeout             time.Duration `mapstructure:"read_timeout"`
	WriteTimeout            time.Duration `mapstructure:"write_timeout"`
	IdleTimeout             time.Duration `mapstructure:"idle_timeout"`
	GracefulShutdownTimeout time.Duration `mapstructure:"graceful_shutdown_timeout"`
}

// MetricsConfig controls the C11 metrics core's rollup cadence and the
// Prometheus namespace every component's counters register under.
type MetricsConfig struct {
	Namespace      string        `mapstructure:"namespace"`
	RollupInterval time.Duration `mapstructure:"rollup_interval"`
}

// Load reads configuration from configPath (if non-empty and present)
// and environment variables, applying defaults for anything left
// unset, then validates the result.
func Load(configPath string) (*Config, error) {
	setDefaults()

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if configPath != "" {
		viper.SetConfigFile(configPath)
		viper.SetConfigType("yaml")

		if err := viper.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

func setDefaults() {
	viper.SetDefault("server.port", 8090)
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.read_timeout", "10s")
	viper.SetDefault("server.write_timeout", "10s")
	viper.SetDefault("server.idle_timeout", "120s")
	viper.SetDefault("server.graceful_shutdown_timeout", "30s")

	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "json")
	viper.SetDefault("log.output", "stdout")
	viper.SetDefault("log.filename", "")
	viper.SetDefault("log.max_size", 100)
	viper.SetDefault("log.max_backups", 3)
	viper.SetDefault("log.max_age", 28)
	viper.SetDefault("log.compress", true)

	d := ingest.DefaultConfig("")
	viper.SetDefault("ingest.dir", "/data/activity-gateway/log")
	viper.SetDefault("ingest.max_bytes", d.MaxBytes)
	viper.SetDefault("ingest.max_age", d.MaxAge.String())
	viper.SetDefault("ingest.max_events", d.MaxEvents)
	viper.SetDefault("ingest.flush_batch", d.FlushBatch)
	viper.SetDefault("ingest.flush_interval", d.FlushInterval.String())

	c := cache.DefaultConfig()
	viper.SetDefault("cache.max_entries", c.MaxEntries)
	viper.SetDefault("cache.ttl", c.TTL.String())
	viper.SetDefault("cache.negative_filter_cardinality", c.NegativeFilterCardinality)
	viper.SetDefault("cache.negative_filter_fpr", c.NegativeFilterFPR)

	p := pool.DefaultConfig()
	viper.SetDefault("pool.min_size", p.MinSize)
	viper.SetDefault("pool.connect_timeout", p.ConnectTimeout.String())
	viper.SetDefault("pool.health_interval", p.HealthInterval.String())
	viper.SetDefault("pool.health_timeout", p.HealthTimeout.String())
	viper.SetDefault("pool.max_idle", p.MaxIdle)

	b := breaker.DefaultConfig()
	viper.SetDefault("breaker.failure_threshold", b.FailureThreshold)
	viper.SetDefault("breaker.window", b.Window.String())
	viper.SetDefault("breaker.cooldown", b.Cooldown.String())
	viper.SetDefault("breaker.max_backoff", b.MaxBackoff.String())
	viper.SetDefault("breaker.success_threshold", b.SuccessThreshold)
	viper.SetDefault("breaker.probe_timeout", b.ProbeTimeout.String())

	t := ticket.DefaultConfig()
	viper.SetDefault("ticket.max_concurrent", t.MaxConcurrent)
	viper.SetDefault("ticket.deadline", t.Deadline.String())
	viper.SetDefault("ticket.retention", t.Retention.String())
	viper.SetDefault("ticket.headroom", t.Headroom)

	viper.SetDefault("metrics.namespace", "cdesk")
	viper.SetDefault("metrics.rollup_interval", "1m")
}

// Validate checks invariants that viper's unmarshal step can't enforce
// on its own: port ranges, a non-empty account list, and at least one
// enabled account (the vault refuses to start selecting otherwise).
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.Host == "" {
		return fmt.Errorf("server host cannot be empty")
	}
	if c.Log.Level == "" {
		return fmt.Errorf("log level cannot be empty")
	}
	if c.Ingest.Dir == "" {
		return fmt.Errorf("ingest.dir cannot be empty")
	}
	if len(c.Accounts) == 0 {
		return fmt.Errorf("at least one warehouse account must be configured")
	}

	enabled := 0
	seen := make(map[string]bool, len(c.Accounts))
	for _, a := range c.Accounts {
		if a.Username == "" {
			return fmt.Errorf("account username cannot be empty")
		}
		if seen[a.Username] {
			return fmt.Errorf("duplicate account username: %s", a.Username)
		}
		seen[a.Username] = true
		if !a.Disabled {
			enabled++
		}
	}
	if enabled == 0 {
		return fmt.Errorf("at least one account must be enabled")
	}

	return nil
}

// IsDevelopment reports whether the logging level suggests a
// development run (debug logging implies local iteration).
func (c *Config) IsDevelopment() bool {
	return strings.EqualFold(c.Log.Level, "debug")
}
