package deployer

import (
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// DefaultModule prefixes future IDs when WithModule is not given.
const DefaultModule = "Main"

// BuilderOption configures a Builder.
type BuilderOption func(*builderConfig)

// builderConfig holds configuration for the Builder.
type builderConfig struct {
	artifacts  ArtifactSource
	parameters map[string]any
	planID     string
	module     string
}

// defaultBuilderConfig returns the default builder configuration.
func defaultBuilderConfig() *builderConfig {
	return &builderConfig{
		artifacts:  NewArtifacts(),
		parameters: map[string]any{},
		module:     DefaultModule,
	}
}

// WithArtifacts sets where contract names are resolved to ABI and bytecode.
func WithArtifacts(src ArtifactSource) BuilderOption {
	return func(c *builderConfig) {
		c.artifacts = src
	}
}

// WithParameters supplies values for Param placeholders.
func WithParameters(params map[string]any) BuilderOption {
	return func(c *builderConfig) {
		for k, v := range params {
			c.parameters[k] = v
		}
	}
}

// WithPlanID sets the plan identity used to key journal records.
// By default the module name is used.
func WithPlanID(id string) BuilderOption {
	return func(c *builderConfig) {
		c.planID = id
	}
}

// WithModule sets the module name used in future IDs ("<module>#<name>").
// Default is "Main".
func WithModule(name string) BuilderOption {
	return func(c *builderConfig) {
		if name != "" {
			c.module = name
		}
	}
}

// EngineOption configures an Engine.
type EngineOption func(*engineConfig)

// engineConfig holds configuration for the Engine.
type engineConfig struct {
	logger        *slog.Logger
	actionTimeout time.Duration
	pollInterval  time.Duration
	drainTimeout  time.Duration
	sender        *common.Address
	concurrency   int
	metrics       *Metrics
	observer      func(Event)
	runID         string
}

// defaultEngineConfig returns the default engine configuration.
func defaultEngineConfig() *engineConfig {
	return &engineConfig{
		logger:        slog.Default(),
		actionTimeout: 5 * time.Minute,
		pollInterval:  time.Second,
		drainTimeout:  30 * time.Second,
		concurrency:   1,
	}
}

// WithLogger sets the structured logger. Default is slog.Default().
func WithLogger(logger *slog.Logger) EngineOption {
	return func(c *engineConfig) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithActionTimeout bounds how long a single action may take, from
// submission to receipt. Default is 5 minutes.
func WithActionTimeout(d time.Duration) EngineOption {
	return func(c *engineConfig) {
		if d > 0 {
			c.actionTimeout = d
		}
	}
}

// WithPollInterval sets how often receipts are polled. Default is 1 second.
func WithPollInterval(d time.Duration) EngineOption {
	return func(c *engineConfig) {
		if d > 0 {
			c.pollInterval = d
		}
	}
}

// WithDrainTimeout sets how long in-flight transactions are still polled
// after the run context is cancelled. Default is 30 seconds; zero records
// in-flight futures as Unknown immediately.
func WithDrainTimeout(d time.Duration) EngineOption {
	return func(c *engineConfig) {
		if d >= 0 {
			c.drainTimeout = d
		}
	}
}

// WithDefaultSender sets the sender for futures that don't declare one.
func WithDefaultSender(addr common.Address) EngineOption {
	return func(c *engineConfig) {
		c.sender = &addr
	}
}

// WithConcurrency allows up to n independent futures in flight at once.
// Submissions from the same sender are still serialized. Default is 1.
func WithConcurrency(n int) EngineOption {
	return func(c *engineConfig) {
		if n < 1 {
			n = 1
		}
		c.concurrency = n
	}
}

// WithMetrics records engine activity on the given collectors.
func WithMetrics(m *Metrics) EngineOption {
	return func(c *engineConfig) {
		c.metrics = m
	}
}

// WithObserver registers a callback invoked on every state transition.
// The callback must not block; it is called from engine goroutines.
func WithObserver(fn func(Event)) EngineOption {
	return func(c *engineConfig) {
		c.observer = fn
	}
}

// WithRunID sets the run identifier stored in journal records.
// By default a random UUID is generated per Run.
func WithRunID(id string) EngineOption {
	return func(c *engineConfig) {
		c.runID = id
	}
}
