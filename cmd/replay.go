// cmd/replay.go
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/webpilot-ai/webpilot/internal/agent"
	"github.com/webpilot-ai/webpilot/internal/browser"
	"github.com/webpilot-ai/webpilot/internal/controller"
	"github.com/webpilot-ai/webpilot/internal/observability"
	"github.com/webpilot-ai/webpilot/internal/telemetry"
)

// newReplayCmd creates the `replay` command: re-execute a saved history
// against a freshly loaded page, re-resolving elements by fingerprint.
func newReplayCmd() *cobra.Command {
	replayCmd := &cobra.Command{
		Use:   "replay <history-file>",
		Short: "Replay a previously recorded run against a live page",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()
			cfg := appCfg

			if cmd.Flags().Changed("skip-failures") {
				cfg.Replay.SkipFailures, _ = cmd.Flags().GetBool("skip-failures")
			}
			if cmd.Flags().Changed("max-retries") {
				cfg.Replay.MaxRetries, _ = cmd.Flags().GetInt("max-retries")
			}

			history, err := agent.LoadHistory(args[0])
			if err != nil {
				return err
			}
			if history.Len() == 0 {
				return fmt.Errorf("history file %s contains no steps", args[0])
			}

			driver, err := browser.NewChromeDriver(ctx, cfg.Browser, logger)
			if err != nil {
				return fmt.Errorf("failed to start browser: %w", err)
			}
			defer func() {
				if err := driver.Close(); err != nil {
					logger.Warn("Browser shutdown failed", zap.Error(err))
				}
			}()

			registry := controller.NewRegistry(logger)
			if err := controller.RegisterDefaults(registry); err != nil {
				return fmt.Errorf("failed to register actions: %w", err)
			}

			bus := telemetry.NewBus(logger, 64, telemetry.NewZapSink(logger))
			defer bus.Close()

			// Start where the recording started.
			if start := firstPageURL(history); start != "" {
				if err := driver.Navigate(ctx, start); err != nil {
					return fmt.Errorf("failed to open the recorded start page: %w", err)
				}
			}

			replayer := agent.NewReplayer(cfg.Replay, driver, registry, bus, logger)
			results, err := replayer.Run(ctx, history)
			fmt.Printf("\nReplayed %d actions from %d recorded steps\n", len(results), history.Len())
			if err != nil {
				return err
			}
			return nil
		},
	}

	replayCmd.Flags().Bool("skip-failures", false, "Skip steps that cannot be re-resolved instead of failing (overrides config)")
	replayCmd.Flags().Int("max-retries", 0, "Per-step replay attempts (overrides config)")

	return replayCmd
}

// firstPageURL finds the earliest recorded page URL worth navigating to.
func firstPageURL(history *agent.HistoryList) string {
	for _, item := range history.Items {
		if item.Page.URL != "" && item.Page.URL != "about:blank" {
			return item.Page.URL
		}
	}
	return ""
}
