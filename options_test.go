package deployer

import (
	"log/slog"
	"testing"
	"time"
)

func TestDefaultBuilderConfig(t *testing.T) {
	config := defaultBuilderConfig()

	t.Run("module is Main by default", func(t *testing.T) {
		if config.module != "Main" {
			t.Errorf("Expected module Main, got %s", config.module)
		}
	})

	t.Run("plan ID is empty by default", func(t *testing.T) {
		if config.planID != "" {
			t.Errorf("Expected empty plan ID, got %s", config.planID)
		}
	})

	t.Run("artifacts are empty by default", func(t *testing.T) {
		if _, ok := config.artifacts.Artifact("TetherToken"); ok {
			t.Error("Expected no artifacts")
		}
	})
}

func TestWithModule(t *testing.T) {
	config := defaultBuilderConfig()
	WithModule("Token")(config)
	if config.module != "Token" {
		t.Errorf("Expected module Token, got %s", config.module)
	}

	WithModule("")(config)
	if config.module != "Token" {
		t.Error("Empty module should be ignored")
	}
}

func TestWithParametersMerges(t *testing.T) {
	config := defaultBuilderConfig()
	WithParameters(map[string]any{"a": 1})(config)
	WithParameters(map[string]any{"b": 2, "a": 3})(config)

	if config.parameters["a"] != 3 || config.parameters["b"] != 2 {
		t.Errorf("Expected merged parameters, got %v", config.parameters)
	}
}

func TestDefaultEngineConfig(t *testing.T) {
	config := defaultEngineConfig()

	if config.actionTimeout != 5*time.Minute {
		t.Errorf("Expected action timeout 5m, got %s", config.actionTimeout)
	}
	if config.pollInterval != time.Second {
		t.Errorf("Expected poll interval 1s, got %s", config.pollInterval)
	}
	if config.drainTimeout != 30*time.Second {
		t.Errorf("Expected drain timeout 30s, got %s", config.drainTimeout)
	}
	if config.concurrency != 1 {
		t.Errorf("Expected sequential execution by default, got %d", config.concurrency)
	}
	if config.sender != nil {
		t.Error("Expected no default sender")
	}
	if config.logger == nil {
		t.Error("Expected a default logger")
	}
}

func TestEngineOptions(t *testing.T) {
	t.Run("non-positive durations are ignored", func(t *testing.T) {
		config := defaultEngineConfig()
		WithActionTimeout(0)(config)
		WithPollInterval(-time.Second)(config)
		if config.actionTimeout != 5*time.Minute || config.pollInterval != time.Second {
			t.Error("Expected defaults to be kept")
		}
	})

	t.Run("zero drain timeout is allowed", func(t *testing.T) {
		config := defaultEngineConfig()
		WithDrainTimeout(0)(config)
		if config.drainTimeout != 0 {
			t.Errorf("Expected zero drain timeout, got %s", config.drainTimeout)
		}
	})

	t.Run("concurrency floor", func(t *testing.T) {
		config := defaultEngineConfig()
		WithConcurrency(0)(config)
		if config.concurrency != 1 {
			t.Errorf("Expected concurrency 1, got %d", config.concurrency)
		}
		WithConcurrency(4)(config)
		if config.concurrency != 4 {
			t.Errorf("Expected concurrency 4, got %d", config.concurrency)
		}
	})

	t.Run("default sender", func(t *testing.T) {
		config := defaultEngineConfig()
		WithDefaultSender(addrA)(config)
		if config.sender == nil || *config.sender != addrA {
			t.Error("Expected default sender to be set")
		}
	})

	t.Run("nil logger is ignored", func(t *testing.T) {
		config := defaultEngineConfig()
		WithLogger(nil)(config)
		if config.logger == nil {
			t.Error("Expected logger to be kept")
		}
		custom := slog.New(slog.DiscardHandler)
		WithLogger(custom)(config)
		if config.logger != custom {
			t.Error("Expected custom logger")
		}
	})

	t.Run("run ID", func(t *testing.T) {
		config := defaultEngineConfig()
		WithRunID("run-1")(config)
		if config.runID != "run-1" {
			t.Errorf("Expected run-1, got %s", config.runID)
		}
	})
}

func TestOptionTypes(t *testing.T) {
	var _ BuilderOption = WithPlanID("x")
	var _ EngineOption = WithObserver(func(Event) {})
	var _ EngineOption = WithMetrics(nil)
}
