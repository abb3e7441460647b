// cmd/run.go
package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/webpilot-ai/webpilot/internal/agent"
	"github.com/webpilot-ai/webpilot/internal/browser"
	"github.com/webpilot-ai/webpilot/internal/controller"
	"github.com/webpilot-ai/webpilot/internal/llmclient"
	"github.com/webpilot-ai/webpilot/internal/observability"
	"github.com/webpilot-ai/webpilot/internal/telemetry"
)

// newRunCmd creates the `run` command: execute one task to completion.
func newRunCmd() *cobra.Command {
	var (
		outputDir string
		startURL  string
	)

	runCmd := &cobra.Command{
		Use:   "run [task...]",
		Short: "Run a task against a live browser until it completes",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()
			cfg := appCfg

			// Flags override the loaded configuration when set.
			if cmd.Flags().Changed("max-steps") {
				cfg.Agent.MaxSteps, _ = cmd.Flags().GetInt("max-steps")
			}
			if cmd.Flags().Changed("headless") {
				cfg.Browser.Headless, _ = cmd.Flags().GetBool("headless")
			}
			if cmd.Flags().Changed("vision") {
				cfg.Agent.UseVision, _ = cmd.Flags().GetBool("vision")
			}

			task := strings.Join(args, " ")
			if outputDir == "" {
				outputDir = filepath.Join("webpilot-runs", time.Now().Format("20060102-150405"))
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

			llm, err := llmclient.NewClient(ctx, cfg.LLM, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize model clients: %w", err)
			}

			registry := controller.NewRegistry(logger)
			if err := controller.RegisterDefaults(registry); err != nil {
				return fmt.Errorf("failed to register actions: %w", err)
			}

			bus := telemetry.NewBus(logger, 64, telemetry.NewZapSink(logger))
			defer bus.Close()

			a, err := agent.NewAgent(task, cfg.Agent, driver, llm, registry, bus, outputDir, logger)
			if err != nil {
				return err
			}

			// SIGUSR1 toggles pause/resume; SIGINT/SIGTERM still stop the run
			// through the command context.
			pauseCh := make(chan os.Signal, 1)
			signal.Notify(pauseCh, syscall.SIGUSR1)
			defer func() {
				signal.Stop(pauseCh)
				close(pauseCh)
			}()
			go func() {
				paused := false
				for range pauseCh {
					if paused {
						logger.Info("Resume requested")
						a.Resume()
					} else {
						logger.Info("Pause requested; the agent blocks at its next checkpoint")
						a.Pause()
					}
					paused = !paused
				}
			}()

			if startURL != "" {
				if err := driver.Navigate(ctx, startURL); err != nil {
					return fmt.Errorf("failed to open start URL: %w", err)
				}
			}

			history, runErr := a.Run(ctx)

			historyPath := filepath.Join(outputDir, "history.json")
			if err := history.Save(historyPath); err != nil {
				logger.Error("Failed to persist run history", zap.Error(err))
			} else {
				logger.Info("Run history saved", zap.String("path", historyPath))
			}

			printRunSummary(history)
			if runErr != nil {
				return fmt.Errorf("run ended abnormally: %w", runErr)
			}
			return nil
		},
	}

	runCmd.Flags().StringVarP(&outputDir, "output-dir", "o", "", "Directory for history and screenshots (default webpilot-runs/<timestamp>)")
	runCmd.Flags().StringVarP(&startURL, "url", "u", "", "URL to open before the first step")
	runCmd.Flags().Int("max-steps", 0, "Maximum number of steps (overrides config)")
	runCmd.Flags().Bool("headless", true, "Run the browser headless (overrides config)")
	runCmd.Flags().Bool("vision", false, "Persist page screenshots alongside the history (overrides config)")

	return runCmd
}

func printRunSummary(history *agent.HistoryList) {
	fmt.Printf("\nSteps executed: %d\n", history.Len())
	switch success := history.IsSuccessful(); {
	case !history.IsDone():
		fmt.Println("Outcome: did not finish")
	case success != nil && *success:
		fmt.Println("Outcome: success")
	default:
		fmt.Println("Outcome: finished unsuccessfully")
	}
	if result := history.FinalResult(); result != "" {
		fmt.Printf("\n%s\n", result)
	}
	if errs := history.Errors(); len(errs) > 0 {
		fmt.Printf("\nErrors encountered: %d (see history file)\n", len(errs))
	}
}
