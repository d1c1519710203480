// Package config loads and merges Ralph Factory configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// SlotConfig describes the concurrency capacity configured for a single
// provider:model pair.
type SlotConfig struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
	Capacity int    `yaml:"capacity"`
}

// TokenLimits holds per-model token ceilings passed to provider invocations.
type TokenLimits struct {
	Opus    int `yaml:"opus"`
	Sonnet  int `yaml:"sonnet"`
	Haiku   int `yaml:"haiku"`
}

// DefaultTokenLimits mirrors the teacher's conservative defaults.
func DefaultTokenLimits() TokenLimits {
	return TokenLimits{Opus: 16000, Sonnet: 8000, Haiku: 4000}
}

// FactoryConfig is the full set of knobs for the Factory orchestrator
// (spec §6, CLI surface). Cobra flags populate a FactoryConfig value which
// is then merged field-by-field over whatever was loaded from YAML.
type FactoryConfig struct {
	// MaxTotalWorkers bounds concurrent worker executions (spec §4.F).
	MaxTotalWorkers int `yaml:"max_workers"`

	// RetryLimit is the number of re-queues allowed before a task is dropped.
	RetryLimit int `yaml:"retry_limit"`

	// Slots configures per (provider, model) concurrency caps.
	Slots []SlotConfig `yaml:"slots"`

	// PlannerInterval is the minimum wall-clock gap between planner
	// evaluations (spec §4.H).
	PlannerInterval time.Duration `yaml:"planner_interval"`

	// PlannerModel names which configured slot's model the planner uses.
	PlannerProvider string `yaml:"planner_provider"`
	PlannerModel    string `yaml:"planner_model"`

	// RefillThreshold is the pending-task count below which the planner
	// is asked to top up the backlog.
	RefillThreshold int `yaml:"refill_threshold"`

	// AutoRoute enables the Complexity Router; when false every task is
	// routed at its hinted/default tier without rescoring.
	AutoRoute bool `yaml:"auto_route"`

	// EscalateOnRetry raises a task's tier on every re-queue.
	EscalateOnRetry bool `yaml:"escalate_on_retry"`

	// Cleanup removes worker worktrees on shutdown when true.
	Cleanup bool `yaml:"cleanup"`

	// SpecURLs are reference-specification URLs the planner ingests at
	// startup (spec §4.H).
	SpecURLs []string `yaml:"spec_urls"`

	// PRDFiles are the backlog files the orchestrator reads/writes.
	PRDFiles []string `yaml:"prd_files"`

	// MainRepo is the path to the trunk repository.
	MainRepo string `yaml:"main_repo"`

	// WorktreeDir is the root directory under which worker worktrees live.
	WorktreeDir string `yaml:"worktree_dir"`

	// SkipValidation globally disables the validation gate.
	SkipValidation bool `yaml:"skip_validation"`

	// ProviderTimeout bounds a single provider CLI invocation.
	ProviderTimeout time.Duration `yaml:"provider_timeout"`

	// TokenLimits are per-model ceilings passed to provider invocations.
	TokenLimits TokenLimits `yaml:"token_limits"`

	// MetricsAddr, when non-empty, serves Prometheus metrics (SPEC_FULL §D).
	MetricsAddr string `yaml:"metrics_addr"`

	// SummaryInterval controls how often the live console summary renders;
	// zero disables it (SPEC_FULL §D).
	SummaryInterval time.Duration `yaml:"summary_interval"`
}

// DefaultFactoryConfig returns the spec's documented defaults.
func DefaultFactoryConfig() FactoryConfig {
	return FactoryConfig{
		MaxTotalWorkers: 4,
		RetryLimit:      3,
		Slots: []SlotConfig{
			{Provider: "claude", Model: "opus", Capacity: 1},
			{Provider: "claude", Model: "sonnet", Capacity: 2},
			{Provider: "claude", Model: "haiku", Capacity: 2},
			{Provider: "gemini", Model: "pro", Capacity: 1},
			{Provider: "gemini", Model: "flash", Capacity: 1},
			{Provider: "codex", Model: "default", Capacity: 1},
			{Provider: "cursor", Model: "default", Capacity: 1},
		},
		PlannerInterval: 5 * time.Minute,
		PlannerProvider: "claude",
		PlannerModel:    "sonnet",
		RefillThreshold: 2,
		AutoRoute:       true,
		EscalateOnRetry: true,
		Cleanup:         true,
		WorktreeDir:     ".ralph/worktrees",
		ProviderTimeout: 20 * time.Minute,
		TokenLimits:     DefaultTokenLimits(),
	}
}

// Load reads a YAML config file and overlays it on the documented defaults.
// A missing file is not an error: the defaults are returned unchanged.
func Load(path string) (FactoryConfig, error) {
	cfg := DefaultFactoryConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}

	return cfg, nil
}

// SlotCapacity returns the configured capacity for provider:model, or 0 if
// the pair is not configured.
func (c FactoryConfig) SlotCapacity(provider, model string) int {
	for _, s := range c.Slots {
		if s.Provider == provider && s.Model == model {
			return s.Capacity
		}
	}
	return 0
}

// TokenLimitFor returns the configured token ceiling for a provider/model
// pair, per spec §4.E ("Per-provider token limits").
func (c FactoryConfig) TokenLimitFor(provider, model string) int {
	if provider == "claude" {
		switch model {
		case "opus":
			return c.TokenLimits.Opus
		case "haiku":
			return c.TokenLimits.Haiku
		}
	}
	return c.TokenLimits.Sonnet
}
