// Package config provides configuration loading for the deployer CLI.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable, e.g.
// DEPLOYER_RPC_URL or DEPLOYER_JOURNAL_BACKEND.
const EnvPrefix = "DEPLOYER"

// Journal backends.
const (
	BackendMemory   = "memory"
	BackendBadger   = "badger"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

// ErrInvalid is returned by Validate for unusable configuration.
var ErrInvalid = errors.New("config: invalid configuration")

// Config holds all configuration for the deployer CLI.
type Config struct {
	RPCURL  string        `mapstructure:"rpc_url"`
	Plan    PlanConfig    `mapstructure:"plan"`
	Signer  SignerConfig  `mapstructure:"signer"`
	Journal JournalConfig `mapstructure:"journal"`
	Engine  EngineConfig  `mapstructure:"engine"`
	Gas     GasConfig     `mapstructure:"gas"`
	Log     LogConfig     `mapstructure:"log"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// PlanConfig locates the inputs of a deployment.
type PlanConfig struct {
	ID           string `mapstructure:"id"`
	Module       string `mapstructure:"module"`
	Declarations string `mapstructure:"declarations"`
	Artifacts    string `mapstructure:"artifacts"`
	Parameters   string `mapstructure:"parameters"`
}

// SignerConfig selects the keys used to sign transactions. Exactly one of
// Keys, Keystore or Dev should be set.
type SignerConfig struct {
	Keys       []string `mapstructure:"keys"`
	Keystore   string   `mapstructure:"keystore"`
	Passphrase string   `mapstructure:"passphrase"`
	Dev        bool     `mapstructure:"dev"`
}

// JournalConfig selects and configures the journal backend.
type JournalConfig struct {
	Backend       string `mapstructure:"backend"` // memory, badger, postgres, redis
	Dir           string `mapstructure:"dir"`
	PostgresDSN   string `mapstructure:"postgres_dsn"`
	PostgresTable string `mapstructure:"postgres_table"`
	RedisURL      string `mapstructure:"redis_url"`
	RedisPrefix   string `mapstructure:"redis_prefix"`
}

// EngineConfig holds execution settings.
type EngineConfig struct {
	From          string        `mapstructure:"from"`
	Concurrency   int           `mapstructure:"concurrency"`
	ActionTimeout time.Duration `mapstructure:"action_timeout"`
	PollInterval  time.Duration `mapstructure:"poll_interval"`
	DrainTimeout  time.Duration `mapstructure:"drain_timeout"`
}

// GasConfig holds transaction gas settings.
type GasConfig struct {
	BufferPercent uint64 `mapstructure:"buffer_percent"`
	Limit         uint64 `mapstructure:"limit"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // text, json
}

// MetricsConfig holds the optional Prometheus endpoint.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// New returns a viper instance with defaults and environment binding set up.
// Callers bind their flags to it before calling Load.
func New() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	return v
}

// Load reads the optional config file and unmarshals the merged settings.
// An empty file means no config file.
func Load(v *viper.Viper, file string) (*Config, error) {
	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.Journal.Backend = strings.ToLower(cfg.Journal.Backend)
	return &cfg, nil
}

// Validate checks the settings needed to run a deployment. Commands that
// don't touch the network use ValidateJournal instead.
func (c *Config) Validate() error {
	if c.RPCURL == "" {
		return fmt.Errorf("%w: rpc_url is required", ErrInvalid)
	}
	if c.Plan.Declarations == "" {
		return fmt.Errorf("%w: plan.declarations is required", ErrInvalid)
	}
	sources := 0
	if len(c.Signer.Keys) > 0 {
		sources++
	}
	if c.Signer.Keystore != "" {
		sources++
	}
	if c.Signer.Dev {
		sources++
	}
	if sources > 1 {
		return fmt.Errorf("%w: signer.keys, signer.keystore and signer.dev are mutually exclusive", ErrInvalid)
	}
	if c.Engine.Concurrency < 1 {
		return fmt.Errorf("%w: engine.concurrency must be at least 1", ErrInvalid)
	}
	return c.ValidateJournal()
}

// ValidateJournal checks the journal backend settings.
func (c *Config) ValidateJournal() error {
	switch c.Journal.Backend {
	case BackendMemory:
	case BackendBadger:
		if c.Journal.Dir == "" {
			return fmt.Errorf("%w: journal.dir is required for the badger backend", ErrInvalid)
		}
	case BackendPostgres:
		if c.Journal.PostgresDSN == "" {
			return fmt.Errorf("%w: journal.postgres_dsn is required for the postgres backend", ErrInvalid)
		}
	case BackendRedis:
		if c.Journal.RedisURL == "" {
			return fmt.Errorf("%w: journal.redis_url is required for the redis backend", ErrInvalid)
		}
	default:
		return fmt.Errorf("%w: unknown journal backend %q", ErrInvalid, c.Journal.Backend)
	}
	return nil
}

// setDefaults configures default values for all settings. Every key needs
// a default so that AutomaticEnv applies to it on Unmarshal.
func setDefaults(v *viper.Viper) {
	v.SetDefault("rpc_url", "")

	v.SetDefault("plan.id", "")
	v.SetDefault("plan.module", "Main")
	v.SetDefault("plan.declarations", "")
	v.SetDefault("plan.artifacts", "")
	v.SetDefault("plan.parameters", "")

	v.SetDefault("signer.keys", []string{})
	v.SetDefault("signer.keystore", "")
	v.SetDefault("signer.passphrase", "")
	v.SetDefault("signer.dev", false)

	v.SetDefault("journal.backend", BackendBadger)
	v.SetDefault("journal.dir", ".deployer")
	v.SetDefault("journal.postgres_dsn", "")
	v.SetDefault("journal.postgres_table", "deployer_journal")
	v.SetDefault("journal.redis_url", "")
	v.SetDefault("journal.redis_prefix", "deployer:journal:")

	v.SetDefault("engine.from", "")
	v.SetDefault("engine.concurrency", 1)
	v.SetDefault("engine.action_timeout", "5m")
	v.SetDefault("engine.poll_interval", "1s")
	v.SetDefault("engine.drain_timeout", "30s")

	v.SetDefault("gas.buffer_percent", 20)
	v.SetDefault("gas.limit", 0)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("metrics.addr", "")
}
