// internal/agent/replay.go
package agent

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/webpilot-ai/webpilot/internal/browser"
	"github.com/webpilot-ai/webpilot/internal/config"
	"github.com/webpilot-ai/webpilot/internal/controller"
	"github.com/webpilot-ai/webpilot/internal/dom"
	"github.com/webpilot-ai/webpilot/internal/telemetry"
)

// Replayer re-executes a recorded history against a freshly loaded page.
// Element indices recorded at run time are meaningless now; every
// index-carrying action is re-resolved through its recorded fingerprint and
// rewritten before execution.
type Replayer struct {
	logger   *zap.Logger
	cfg      config.ReplayConfig
	driver   browser.Driver
	registry *controller.Registry
	bus      *telemetry.Bus
}

func NewReplayer(cfg config.ReplayConfig, driver browser.Driver, registry *controller.Registry, bus *telemetry.Bus, logger *zap.Logger) *Replayer {
	return &Replayer{
		logger:   logger.Named("replayer"),
		cfg:      cfg,
		driver:   driver,
		registry: registry,
		bus:      bus,
	}
}

// Run replays every recorded step in order. Steps are retried up to the
// configured attempt count; with SkipFailures set, an exhausted step is
// skipped instead of failing the replay.
func (r *Replayer) Run(ctx context.Context, history *HistoryList) ([]*controller.ActionResult, error) {
	var all []*controller.ActionResult
	skipped := 0

	for i, item := range history.Items {
		if item.ModelOutput == nil || len(item.ModelOutput.Action) == 0 {
			r.logger.Debug("Skipping step without a recorded decision", zap.Int("step", i))
			continue
		}

		results, err := r.replayStep(ctx, item)
		all = append(all, results...)
		if err != nil {
			if r.cfg.SkipFailures {
				skipped++
				r.logger.Warn("Skipping unreplayable step",
					zap.Int("step", i),
					zap.Error(err))
				continue
			}
			r.publish(history.RunID, len(all), skipped, true)
			return all, fmt.Errorf("replay failed at step %d: %w", i, err)
		}

		if r.cfg.DelayBetweenActions > 0 && i < len(history.Items)-1 {
			select {
			case <-time.After(r.cfg.DelayBetweenActions):
			case <-ctx.Done():
				return all, ctx.Err()
			}
		}
	}

	r.publish(history.RunID, len(all), skipped, false)
	return all, nil
}

func (r *Replayer) publish(runID string, steps, skipped int, failed bool) {
	if r.bus == nil {
		return
	}
	r.bus.Publish(telemetry.ReplayCompletedEvent{
		RunID:     runID,
		Steps:     steps,
		Skipped:   skipped,
		Failed:    failed,
		Timestamp: time.Now(),
	})
}

// replayStep re-resolves and executes one recorded step's action batch,
// retrying the whole step on failure.
func (r *Replayer) replayStep(ctx context.Context, item *HistoryItem) ([]*controller.ActionResult, error) {
	// Every step gets at least one attempt even with a zeroed config;
	// skipping execution must never read as success.
	attempts := r.cfg.MaxRetries
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		results, err := r.tryStep(ctx, item)
		if err == nil {
			return results, nil
		}
		if ctx.Err() != nil {
			return results, ctx.Err()
		}
		lastErr = err
		r.logger.Warn("Replay attempt failed",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", attempts),
			zap.Error(err))
	}
	return nil, lastErr
}

func (r *Replayer) tryStep(ctx context.Context, item *HistoryItem) ([]*controller.ActionResult, error) {
	page, err := r.driver.Observe(ctx)
	if err != nil {
		return nil, fmt.Errorf("observation failed: %w", err)
	}

	actions, err := resolveActions(item, page.DOM)
	if err != nil {
		return nil, err
	}

	var results []*controller.ActionResult
	for _, action := range actions {
		result, err := r.registry.Execute(ctx, action, &controller.Deps{
			Driver: r.driver,
			Page:   page,
		})
		if err != nil {
			return results, err
		}
		results = append(results, result)
		if result.Failed() {
			return results, fmt.Errorf("action %s failed: %s", action.Name, result.Error)
		}
	}
	return results, nil
}

// resolveActions rewrites each recorded action's element index to the
// index the same logical element holds in the current page. An element that
// cannot be re-identified fails the step; acting on a guessed index is
// never acceptable.
func resolveActions(item *HistoryItem, state *dom.State) ([]controller.Action, error) {
	actions := make([]controller.Action, len(item.ModelOutput.Action))
	copy(actions, item.ModelOutput.Action)

	for i := range actions {
		if actions[i].Index() == nil {
			continue
		}
		var recorded *dom.HistoryElement
		if i < len(item.Page.InteractedElements) {
			recorded = item.Page.InteractedElements[i]
		}
		if recorded == nil {
			return nil, fmt.Errorf("action %d (%s) has no recorded element fingerprint", i, actions[i].Name)
		}

		match, found := dom.FindHistoryElement(recorded, state)
		if !found || match.HighlightIndex == nil {
			return nil, fmt.Errorf("element for action %d (%s) could not be re-identified on the current page", i, actions[i].Name)
		}
		if err := actions[i].SetIndex(*match.HighlightIndex); err != nil {
			return nil, err
		}
	}
	return actions, nil
}
