package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"ralph/internal/config"
	"ralph/internal/factory"
	"ralph/internal/logger"
	"ralph/internal/metrics"
)

// NewFactoryCommand builds the "ralph factory" subcommand: every flag maps
// onto a config.FactoryConfig field (spec §6).
func NewFactoryCommand() *cobra.Command {
	cfg := config.DefaultFactoryConfig()
	var configPath string
	var mainRepo string
	var prdFiles []string
	var opusSlots, sonnetSlots, haikuSlots, geminiProSlots, geminiFlashSlots, codexSlots, cursorSlots int
	var logLevel string
	var metricsAddr string

	cmd := &cobra.Command{
		Use:   "factory",
		Short: "Run the factory orchestrator against a backlog",
		RunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := config.Load(configPath)
			if err != nil {
				return err
			}
			loaded.MainRepo = firstNonEmpty(mainRepo, loaded.MainRepo, ".")
			if len(prdFiles) > 0 {
				loaded.PRDFiles = prdFiles
			}
			applyFlagOverrides(&loaded, cmd, cfg)
			applySlotOverrides(&loaded, cmd, opusSlots, sonnetSlots, haikuSlots, geminiProSlots, geminiFlashSlots, codexSlots, cursorSlots)

			log := logger.New(os.Stderr, logLevel)

			loaded.MetricsAddr = firstNonEmpty(metricsAddr, loaded.MetricsAddr)
			var met *metrics.Metrics
			if loaded.MetricsAddr != "" {
				met = metrics.New()
				go func() { _ = met.Serve(loaded.MetricsAddr) }()
			}

			ctx := context.Background()
			orch, err := factory.New(ctx, loaded, log, met)
			if err != nil {
				return fmt.Errorf("initialize factory: %w", err)
			}
			return orch.Run(ctx)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&configPath, "config", "", "path to a YAML factory config file")
	flags.StringVar(&mainRepo, "repo", "", "path to the trunk repository (default: current directory)")
	flags.StringSliceVar(&prdFiles, "prd", nil, "PRD backlog files to read/write (repeatable)")
	flags.IntVar(&cfg.MaxTotalWorkers, "max-workers", cfg.MaxTotalWorkers, "maximum concurrent worker executions")
	flags.IntVar(&cfg.RetryLimit, "retry-limit", cfg.RetryLimit, "re-queues allowed before a task is dropped")
	flags.IntVar(&opusSlots, "opus-slots", cfg.SlotCapacity("claude", "opus"), "concurrency cap for claude:opus")
	flags.IntVar(&sonnetSlots, "sonnet-slots", cfg.SlotCapacity("claude", "sonnet"), "concurrency cap for claude:sonnet")
	flags.IntVar(&haikuSlots, "haiku-slots", cfg.SlotCapacity("claude", "haiku"), "concurrency cap for claude:haiku")
	flags.IntVar(&geminiProSlots, "gemini-pro-slots", cfg.SlotCapacity("gemini", "pro"), "concurrency cap for gemini:pro")
	flags.IntVar(&geminiFlashSlots, "gemini-flash-slots", cfg.SlotCapacity("gemini", "flash"), "concurrency cap for gemini:flash")
	flags.IntVar(&codexSlots, "codex-slots", cfg.SlotCapacity("codex", "default"), "concurrency cap for codex:default")
	flags.IntVar(&cursorSlots, "cursor-slots", cfg.SlotCapacity("cursor", "default"), "concurrency cap for cursor:default")
	flags.DurationVar(&cfg.PlannerInterval, "planner-interval", cfg.PlannerInterval, "minimum gap between planner evaluations")
	flags.StringVar(&cfg.PlannerProvider, "planner-provider", cfg.PlannerProvider, "provider the planner uses")
	flags.StringVar(&cfg.PlannerModel, "planner-model", cfg.PlannerModel, "model the planner uses")
	flags.BoolVar(&cfg.AutoRoute, "auto-route", cfg.AutoRoute, "enable the complexity router")
	flags.BoolVar(&cfg.EscalateOnRetry, "escalate-on-retry", cfg.EscalateOnRetry, "raise a task's tier on every re-queue")
	flags.BoolVar(&cfg.Cleanup, "cleanup", cfg.Cleanup, "remove worker worktrees on shutdown")
	flags.StringArrayVar(&cfg.SpecURLs, "spec-url", nil, "reference specification URL for the planner (repeatable)")
	flags.StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
	flags.StringVar(&metricsAddr, "metrics-addr", "", "address to serve Prometheus metrics on (disabled if empty)")

	return cmd
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// applyFlagOverrides copies the scalar FactoryConfig fields cobra bound
// directly onto cfg back onto loaded, so YAML-file values still win for
// fields the user never passed a flag for while explicit flags always win.
func applyFlagOverrides(loaded *config.FactoryConfig, cmd *cobra.Command, cfg config.FactoryConfig) {
	if cmd.Flags().Changed("max-workers") {
		loaded.MaxTotalWorkers = cfg.MaxTotalWorkers
	}
	if cmd.Flags().Changed("retry-limit") {
		loaded.RetryLimit = cfg.RetryLimit
	}
	if cmd.Flags().Changed("planner-interval") {
		loaded.PlannerInterval = cfg.PlannerInterval
	}
	if cmd.Flags().Changed("planner-provider") {
		loaded.PlannerProvider = cfg.PlannerProvider
	}
	if cmd.Flags().Changed("planner-model") {
		loaded.PlannerModel = cfg.PlannerModel
	}
	if cmd.Flags().Changed("auto-route") {
		loaded.AutoRoute = cfg.AutoRoute
	}
	if cmd.Flags().Changed("escalate-on-retry") {
		loaded.EscalateOnRetry = cfg.EscalateOnRetry
	}
	if cmd.Flags().Changed("cleanup") {
		loaded.Cleanup = cfg.Cleanup
	}
	if cmd.Flags().Changed("spec-url") {
		loaded.SpecURLs = cfg.SpecURLs
	}
}

func applySlotOverrides(loaded *config.FactoryConfig, cmd *cobra.Command, opus, sonnet, haiku, geminiPro, geminiFlash, codex, cursor int) {
	overrides := []struct {
		flag           string
		provider, model string
		capacity       int
	}{
		{"opus-slots", "claude", "opus", opus},
		{"sonnet-slots", "claude", "sonnet", sonnet},
		{"haiku-slots", "claude", "haiku", haiku},
		{"gemini-pro-slots", "gemini", "pro", geminiPro},
		{"gemini-flash-slots", "gemini", "flash", geminiFlash},
		{"codex-slots", "codex", "default", codex},
		{"cursor-slots", "cursor", "default", cursor},
	}

	for _, o := range overrides {
		if !cmd.Flags().Changed(o.flag) {
			continue
		}
		found := false
		for i := range loaded.Slots {
			if loaded.Slots[i].Provider == o.provider && loaded.Slots[i].Model == o.model {
				loaded.Slots[i].Capacity = o.capacity
				found = true
				break
			}
		}
		if !found {
			loaded.Slots = append(loaded.Slots, config.SlotConfig{Provider: o.provider, Model: o.model, Capacity: o.capacity})
		}
	}
}
