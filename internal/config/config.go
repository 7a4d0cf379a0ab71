// Package config loads Foreman configuration from a YAML file and
// FOREMAN_-prefixed environment variables, with environment variables
// taking precedence.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/foreman-dev/foreman/pkg/database"
	"github.com/foreman-dev/foreman/pkg/queue"
)

// APIConfig defines the HTTP server configuration
type APIConfig struct {
	ListenAddress  string        `mapstructure:"listen_address"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	IdleTimeout    time.Duration `mapstructure:"idle_timeout"`
	EnableCORS     bool          `mapstructure:"enable_cors"`
	RateLimitRPS   float64       `mapstructure:"rate_limit_rps"`
	RateLimitBurst int           `mapstructure:"rate_limit_burst"`
	// ConfigCacheTTL bounds staleness of the read-through config cache
	ConfigCacheTTL time.Duration `mapstructure:"config_cache_ttl"`
}

// WorkerConfig defines the queue consumer configuration
type WorkerConfig struct {
	// Consumer is the consumer name registered with the broker group.
	// Empty means hostname.
	Consumer string `mapstructure:"consumer"`
	// Concurrency is the number of jobs processed in parallel
	Concurrency int `mapstructure:"concurrency"`
	// BlockTimeout is how long a read blocks waiting for new jobs
	BlockTimeout time.Duration `mapstructure:"block_timeout"`
	// ClaimInterval is how often stale pending jobs are scanned for
	ClaimInterval time.Duration `mapstructure:"claim_interval"`
	// ClaimMinIdle is how long a delivery must sit unacknowledged
	// before another consumer may claim it
	ClaimMinIdle time.Duration `mapstructure:"claim_min_idle"`
}

// Config holds the complete application configuration
type Config struct {
	Environment string          `mapstructure:"environment"`
	API         APIConfig       `mapstructure:"api"`
	Database    database.Config `mapstructure:"database"`
	Queue       queue.Config    `mapstructure:"queue"`
	Worker      WorkerConfig    `mapstructure:"worker"`
}

// Load reads configuration from file and environment variables
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	configFile := os.Getenv("FOREMAN_CONFIG_FILE")
	if configFile == "" {
		configFile = "configs/config.yaml"
	}
	v.SetConfigFile(configFile)

	v.SetEnvPrefix("FOREMAN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	v.AllowEmptyEnv(true)

	// Common Docker-style variables that don't follow the FOREMAN_ prefix
	_ = v.BindEnv("database.host", "DATABASE_HOST")
	_ = v.BindEnv("database.rls_password", "DATABASE_RLS_PASSWORD")
	_ = v.BindEnv("database.root_password", "DATABASE_ROOT_PASSWORD")
	_ = v.BindEnv("queue.host", "REDIS_HOST")
	_ = v.BindEnv("queue.password", "REDIS_PASSWORD")

	if err := v.ReadInConfig(); err != nil {
		// Config file is optional when environment variables are set
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("error reading config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks settings that have no sensible fallback
func (c *Config) Validate() error {
	if c.Database.Database == "" {
		return fmt.Errorf("database.database is required")
	}
	if c.Database.RLSUser == "" || c.Database.RootUser == "" {
		return fmt.Errorf("database.rls_user and database.root_user are required")
	}
	if c.Worker.Concurrency < 1 {
		return fmt.Errorf("worker.concurrency must be at least 1")
	}
	return nil
}

// IsProduction reports whether the service runs in production mode
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")

	v.SetDefault("api.listen_address", ":8080")
	v.SetDefault("api.read_timeout", 30*time.Second)
	v.SetDefault("api.write_timeout", 30*time.Second)
	v.SetDefault("api.idle_timeout", 90*time.Second)
	v.SetDefault("api.enable_cors", true)
	v.SetDefault("api.rate_limit_rps", 100.0)
	v.SetDefault("api.rate_limit_burst", 200)
	v.SetDefault("api.config_cache_ttl", 5*time.Minute)

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.database", "foreman")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.rls_user", "rls_user")
	v.SetDefault("database.root_user", "unrestricted_user")
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.max_idle_conns", 5)

	qd := queue.DefaultConfig()
	v.SetDefault("queue.host", qd.Host)
	v.SetDefault("queue.port", qd.Port)
	v.SetDefault("queue.task_stream", qd.TaskStream)
	v.SetDefault("queue.result_stream", qd.ResultStream)
	v.SetDefault("queue.group", qd.Group)
	v.SetDefault("queue.dial_timeout", qd.DialTimeout)
	v.SetDefault("queue.read_timeout", qd.ReadTimeout)
	v.SetDefault("queue.write_timeout", qd.WriteTimeout)
	v.SetDefault("queue.pool_size", qd.PoolSize)

	v.SetDefault("worker.concurrency", 4)
	v.SetDefault("worker.block_timeout", 5*time.Second)
	v.SetDefault("worker.claim_interval", 30*time.Second)
	v.SetDefault("worker.claim_min_idle", time.Minute)
}
