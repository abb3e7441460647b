// internal/agent/agent.go
package agent

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/webpilot-ai/webpilot/api/schemas"
	"github.com/webpilot-ai/webpilot/internal/browser"
	"github.com/webpilot-ai/webpilot/internal/config"
	"github.com/webpilot-ai/webpilot/internal/controller"
	"github.com/webpilot-ai/webpilot/internal/llmclient"
	"github.com/webpilot-ai/webpilot/internal/telemetry"
	"github.com/webpilot-ai/webpilot/internal/tokencost"
)

// Agent drives one task against one browser session: observe the page, ask
// the model for the next action batch, execute it, record the outcome, and
// repeat until done or out of budget. Exactly one step is in flight at a
// time; all run state is owned by the agent.
type Agent struct {
	logger *zap.Logger
	cfg    config.AgentConfig

	task  string
	runID string

	driver     browser.Driver
	llm        schemas.LLMClient
	registry   *controller.Registry
	dispatcher *Dispatcher
	messages   *MessageManager
	redactor   *Redactor
	gate       *ControlGate
	bus        *telemetry.Bus
	tokens     *tokencost.Counter

	history *HistoryList
	state   State

	// outputDir receives screenshots and the saved history. Empty disables
	// artifact persistence.
	outputDir string

	startedAt time.Time
	costUSD   float64
}

// NewAgent wires an agent for one task. The bus may be nil when no
// telemetry sink is attached.
func NewAgent(task string, cfg config.AgentConfig, driver browser.Driver, llm schemas.LLMClient, registry *controller.Registry, bus *telemetry.Bus, outputDir string, logger *zap.Logger) (*Agent, error) {
	if strings.TrimSpace(task) == "" {
		return nil, fmt.Errorf("task must not be empty")
	}
	redactor, err := NewRedactor(cfg.SensitiveData)
	if err != nil {
		return nil, fmt.Errorf("invalid sensitive data configuration: %w", err)
	}

	runID := uuid.NewString()
	instructions := BuildSystemPrompt(registry.Descriptions(""), cfg.MaxActionsPerStep, redactor.Keys())

	return &Agent{
		logger:     logger.Named("agent").With(zap.String("run_id", runID)),
		cfg:        cfg,
		task:       task,
		runID:      runID,
		driver:     driver,
		llm:        llm,
		registry:   registry,
		dispatcher: NewDispatcher(logger, driver, registry, redactor, cfg.WaitBetweenActions),
		messages:   NewMessageManager(logger, task, instructions, cfg.MaxHistoryItems, redactor),
		redactor:   redactor,
		gate:       NewControlGate(),
		bus:        bus,
		tokens:     tokencost.NewCounter(),
		history:    NewHistoryList(task, runID),
		state:      State{Status: StatusIdle},
		outputDir:  outputDir,
	}, nil
}

// RunID identifies this run in history files and telemetry.
func (a *Agent) RunID() string { return a.runID }

// Pause asks the agent to block at its next checkpoint.
func (a *Agent) Pause() { a.gate.Pause() }

// Resume wakes a paused agent.
func (a *Agent) Resume() { a.gate.Resume() }

// Stop asks the agent to terminate; the in-flight step unwinds without
// committing a normal result.
func (a *Agent) Stop() { a.gate.Stop() }

// History exposes the run record; callers must treat it as read-only.
func (a *Agent) History() *HistoryList { return a.history }

func (a *Agent) setStatus(s Status) {
	a.state.Status = s
}

// checkpoint polls the control gate; ErrInterrupted unwinds the step.
func (a *Agent) checkpoint(ctx context.Context) error {
	if ctx.Err() != nil || a.gate.Interrupted() {
		return ErrInterrupted
	}
	return nil
}

// Run executes steps until the task completes, a budget is exhausted, the
// browser dies, or a stop is requested. Interrupted runs return a normal,
// inspectable history rather than an error.
func (a *Agent) Run(ctx context.Context) (*HistoryList, error) {
	a.startedAt = time.Now()
	a.logger.Info("Run started",
		zap.String("task", a.redactor.Redact(a.task, "")),
		zap.Int("max_steps", a.cfg.MaxSteps))

	var runErr error

	for a.state.StepNumber < a.cfg.MaxSteps {
		if err := a.gate.Wait(ctx); err != nil {
			a.logger.Info("Run stopped by request", zap.Int("step", a.state.StepNumber))
			break
		}

		err := a.step(ctx)
		if errors.Is(err, ErrInterrupted) {
			a.recordInterrupted()
			continue
		}
		if err != nil {
			runErr = err
			a.recordRunFailure(err.Error())
			break
		}

		if a.history.IsDone() {
			a.setStatus(StatusDone)
			break
		}
		if a.state.ConsecutiveFailures >= a.cfg.MaxConsecutiveFailures {
			a.recordRunFailure(fmt.Sprintf("aborted after %d consecutive step failures", a.state.ConsecutiveFailures))
			break
		}
	}

	if !a.history.IsDone() && a.state.Status != StatusFailed && a.state.StepNumber >= a.cfg.MaxSteps {
		a.recordRunFailure(fmt.Sprintf("maximum step budget of %d reached", a.cfg.MaxSteps))
	}

	a.emitRunFinished()
	return a.history, runErr
}

// step runs one full Observe → Plan → Act → Record cycle. ErrInterrupted
// means the step unwound at a checkpoint and must not advance the counter;
// other errors are run-fatal. Step-local failures are recorded into history
// and return nil.
func (a *Agent) step(ctx context.Context) error {
	stepStart := time.Now()
	stepLogger := a.logger.With(zap.Int("step", a.state.StepNumber))

	if err := a.checkpoint(ctx); err != nil {
		return err
	}

	a.setStatus(StatusObserving)
	page, err := a.driver.Observe(ctx)
	if err != nil {
		if isRunFatal(err) {
			return err
		}
		a.recordStepFailure(stepStart, nil, fmt.Sprintf("page observation failed: %v", err))
		return nil
	}

	if err := a.checkpoint(ctx); err != nil {
		return err
	}

	a.messages.SetPageURL(page.URL)
	a.messages.SetObservation(a.buildObservation(page))
	defer a.messages.RemoveObservation()

	a.setStatus(StatusPlanning)
	output, inputTokens, err := a.plan(ctx)
	if err != nil {
		a.recordStepFailure(stepStart, page, fmt.Sprintf("planning failed: %v", err))
		return nil
	}

	// Last checkpoint before the model's decision is committed to history.
	if err := a.checkpoint(ctx); err != nil {
		return err
	}
	a.messages.RemoveObservation()

	if len(output.Action) > a.cfg.MaxActionsPerStep {
		stepLogger.Warn("Truncating oversized action batch",
			zap.Int("requested", len(output.Action)),
			zap.Int("limit", a.cfg.MaxActionsPerStep))
		output.Action = output.Action[:a.cfg.MaxActionsPerStep]
	}

	a.setStatus(StatusActing)
	results, err := a.dispatcher.ExecuteBatch(ctx, output.Action, page)
	if err != nil {
		if isRunFatal(err) {
			return err
		}
		if ctx.Err() != nil {
			return ErrInterrupted
		}
		a.recordStepFailure(stepStart, page, fmt.Sprintf("action dispatch failed: %v", err))
		return nil
	}

	a.setStatus(StatusRecording)
	a.record(stepStart, output, results, page, inputTokens)
	a.setStatus(StatusIdle)
	return nil
}

// buildObservation renders the current page snapshot plus any transient
// result text from the previous step.
func (a *Agent) buildObservation(page *browser.StateSummary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Current URL: %s\nPage title: %s\n", page.URL, page.Title)

	if len(page.Tabs) > 1 {
		b.WriteString("Open tabs:\n")
		for _, tab := range page.Tabs {
			fmt.Fprintf(&b, "  [%d] %s (%s)\n", tab.Index, tab.Title, tab.URL)
		}
	}

	b.WriteString("\nInteractive elements:\n")
	elements := page.DOM.ClickableElementsToString(nil)
	if elements == "" {
		b.WriteString("(none found)\n")
	} else {
		b.WriteString(elements)
		b.WriteString("\n")
	}

	// Domain-restricted actions matching this page ride along with the
	// observation; the fixed prompt only lists unrestricted actions.
	if extra := a.registry.Descriptions(page.URL); extra != "" {
		b.WriteString("\nAdditional actions available on this page:\n")
		b.WriteString(extra)
		b.WriteString("\n")
	}

	// Transient extracted content from the previous step rides along once
	// and is never retained; only long-term memory survives.
	for _, r := range a.state.LastResults {
		if r.ExtractedContent != "" && !r.IncludeInMemory {
			fmt.Fprintf(&b, "\nResult of previous action: %s\n", r.ExtractedContent)
		}
		if r.Failed() {
			fmt.Fprintf(&b, "\nPrevious action error: %s\n", r.Error)
		}
	}
	return b.String()
}

// plan invokes the model and parses its decision. A malformed or empty
// response is retried once with a corrective message; if that also fails, a
// safe done(success=false) is synthesized instead of crashing the run.
func (a *Agent) plan(ctx context.Context) (*Output, int, error) {
	msgs := a.messages.Messages()
	inputTokens := a.tokens.CountMessages("", msgs)

	output, model, promptTokens, err := a.invokeModel(ctx, msgs)
	if err != nil {
		var parseErr *parseError
		if !errors.As(err, &parseErr) {
			return nil, inputTokens, err
		}
		a.logger.Warn("Model response was malformed, retrying once", zap.Error(err))
		if a.cfg.RetryDelay > 0 {
			select {
			case <-time.After(a.cfg.RetryDelay):
			case <-ctx.Done():
				return nil, inputTokens, ctx.Err()
			}
		}
		retryMsgs := append(append([]schemas.Message{}, msgs...), schemas.Message{
			Role:    schemas.RoleUser,
			Content: correctiveMessage,
		})
		output, model, promptTokens, err = a.invokeModel(ctx, retryMsgs)
		if err != nil {
			if !errors.As(err, &parseErr) {
				return nil, inputTokens, err
			}
			a.logger.Error("Model response malformed after corrective retry, synthesizing done(success=false)", zap.Error(err))
			output = fallbackOutput()
		}
	}

	if promptTokens > 0 {
		inputTokens = promptTokens
	}
	if model != "" {
		a.costUSD += tokencost.Cost(model, inputTokens, 0)
	}
	return output, inputTokens, nil
}

// parseError marks a response that arrived but could not be used; transport
// errors are not wrapped in it and are step-fatal without retry here.
type parseError struct{ err error }

func (e *parseError) Error() string { return e.err.Error() }
func (e *parseError) Unwrap() error { return e.err }

func (a *Agent) invokeModel(ctx context.Context, msgs []schemas.Message) (*Output, string, int, error) {
	resp, err := a.llm.Generate(ctx, schemas.GenerationRequest{
		Messages: msgs,
		Tier:     schemas.TierPowerful,
		Options:  schemas.GenerationOptions{ForceJSONFormat: true},
	})
	if err != nil {
		return nil, "", 0, fmt.Errorf("model invocation failed: %w", err)
	}

	raw, err := llmclient.ExtractJSON(resp.Content)
	if err != nil {
		return nil, resp.Model, resp.PromptTokens, &parseError{err}
	}
	var output Output
	if err := json.Unmarshal([]byte(raw), &output); err != nil {
		return nil, resp.Model, resp.PromptTokens, &parseError{fmt.Errorf("response does not match the expected shape: %w", err)}
	}
	if len(output.Action) == 0 {
		return nil, resp.Model, resp.PromptTokens, &parseError{fmt.Errorf("response contained no actions")}
	}
	return &output, resp.Model, resp.PromptTokens, nil
}

// fallbackOutput is the synthesized safe no-op used when the model cannot
// produce a usable decision.
func fallbackOutput() *Output {
	return &Output{
		CurrentState: Brain{
			EvaluationPreviousGoal: "Failed",
			Memory:                 "The model did not return a usable decision",
			NextGoal:               "Abort the task",
		},
		Action: []controller.Action{{
			Name:   controller.DoneActionName,
			Params: []byte(`{"text": "The model failed to produce a valid decision.", "success": false}`),
		}},
	}
}

// record appends the step's history item, updates the failure counters, and
// feeds the rolling context. Recording happens on every completed step.
func (a *Agent) record(stepStart time.Time, output *Output, results []*controller.ActionResult, page *browser.StateSummary, inputTokens int) {
	item := &HistoryItem{
		ModelOutput: output,
		Results:     results,
		Page: PageSnapshot{
			URL:                page.URL,
			Title:              page.Title,
			Tabs:               page.Tabs,
			InteractedElements: InteractedElements(output.Action, page),
			ScreenshotPath:     a.saveScreenshot(page),
		},
		Metadata: StepMetadata{
			StepNumber:  a.state.StepNumber,
			StartedAt:   stepStart,
			FinishedAt:  time.Now(),
			InputTokens: inputTokens,
		},
	}
	a.redactItem(item, page.URL)
	a.history.Append(item)

	failed := false
	for _, r := range results {
		if r.Failed() && !r.Retryable {
			failed = true
		}
	}
	if failed {
		a.state.ConsecutiveFailures++
	} else {
		a.state.ConsecutiveFailures = 0
	}

	a.messages.AddHistoryItem(a.historyLine(item))
	a.state.LastResults = results
	a.state.LastOutput = output
	a.state.StepNumber++

	a.publish(telemetry.StepCompletedEvent{
		RunID:       a.runID,
		Step:        item.Metadata.StepNumber,
		ActionCount: len(results),
		InputTokens: inputTokens,
		Duration:    item.Metadata.Duration(),
		HadError:    failed,
		Timestamp:   time.Now(),
	})
}

// historyLine condenses one step into the rolling context block.
func (a *Agent) historyLine(item *HistoryItem) string {
	var parts []string
	parts = append(parts, fmt.Sprintf("Step %d:", item.Metadata.StepNumber+1))
	if item.ModelOutput != nil {
		brain := item.ModelOutput.CurrentState
		if brain.EvaluationPreviousGoal != "" {
			parts = append(parts, fmt.Sprintf("eval: %s.", brain.EvaluationPreviousGoal))
		}
		if brain.Memory != "" {
			parts = append(parts, fmt.Sprintf("memory: %s.", brain.Memory))
		}
		if brain.NextGoal != "" {
			parts = append(parts, fmt.Sprintf("goal: %s.", brain.NextGoal))
		}
	}
	for _, r := range item.Results {
		switch {
		case r.Failed():
			parts = append(parts, fmt.Sprintf("error: %s.", r.Error))
		case r.LongTermMemory != "":
			parts = append(parts, r.LongTermMemory+".")
		case r.IncludeInMemory && r.ExtractedContent != "":
			parts = append(parts, r.ExtractedContent+".")
		}
	}
	return strings.Join(parts, " ")
}

// redactItem scrubs secret values from every retained text field.
func (a *Agent) redactItem(item *HistoryItem, pageURL string) {
	if !a.redactor.HasSecrets() {
		return
	}
	if item.ModelOutput != nil {
		brain := &item.ModelOutput.CurrentState
		brain.EvaluationPreviousGoal = a.redactor.Redact(brain.EvaluationPreviousGoal, pageURL)
		brain.Memory = a.redactor.Redact(brain.Memory, pageURL)
		brain.NextGoal = a.redactor.Redact(brain.NextGoal, pageURL)
		brain.Thinking = a.redactor.Redact(brain.Thinking, pageURL)
		for i := range item.ModelOutput.Action {
			action := &item.ModelOutput.Action[i]
			action.Params = []byte(a.redactor.Redact(string(action.Params), pageURL))
		}
	}
	for _, r := range item.Results {
		r.ExtractedContent = a.redactor.Redact(r.ExtractedContent, pageURL)
		r.LongTermMemory = a.redactor.Redact(r.LongTermMemory, pageURL)
		r.Error = a.redactor.Redact(r.Error, pageURL)
	}
}

// recordStepFailure appends a failure entry; the step still counts.
func (a *Agent) recordStepFailure(stepStart time.Time, page *browser.StateSummary, msg string) {
	a.logger.Warn("Step failed", zap.Int("step", a.state.StepNumber), zap.String("reason", msg))
	snapshot := PageSnapshot{}
	pageURL := ""
	if page != nil {
		snapshot = PageSnapshot{URL: page.URL, Title: page.Title, Tabs: page.Tabs}
		pageURL = page.URL
	}
	item := &HistoryItem{
		Results: []*controller.ActionResult{{Error: msg, IncludeInMemory: true}},
		Page:    snapshot,
		Metadata: StepMetadata{
			StepNumber: a.state.StepNumber,
			StartedAt:  stepStart,
			FinishedAt: time.Now(),
		},
	}
	a.redactItem(item, pageURL)
	a.history.Append(item)
	a.state.ConsecutiveFailures++
	a.messages.AddHistoryItem(fmt.Sprintf("Step %d failed: %s", a.state.StepNumber+1, msg))
	a.state.LastResults = item.Results
	a.state.StepNumber++
}

// recordInterrupted appends the single interrupted-marker entry. The step
// counter does not advance: after a resume, the same step index runs again.
func (a *Agent) recordInterrupted() {
	a.logger.Info("Step interrupted", zap.Int("step", a.state.StepNumber))
	a.history.Append(&HistoryItem{
		Results: []*controller.ActionResult{{Error: interruptedMarker, Retryable: true}},
		Metadata: StepMetadata{
			StepNumber: a.state.StepNumber,
			StartedAt:  time.Now(),
			FinishedAt: time.Now(),
		},
	})
}

// recordRunFailure terminates the run with a final non-done entry carrying
// the reason.
func (a *Agent) recordRunFailure(reason string) {
	a.setStatus(StatusFailed)
	a.logger.Error("Run failed", zap.String("reason", reason))
	a.history.Append(&HistoryItem{
		Results: []*controller.ActionResult{{Error: reason, IncludeInMemory: true}},
		Metadata: StepMetadata{
			StepNumber: a.state.StepNumber,
			StartedAt:  time.Now(),
			FinishedAt: time.Now(),
		},
	})
	a.publish(telemetry.RunFailedEvent{
		RunID:     a.runID,
		Task:      a.task,
		Steps:     a.state.StepNumber,
		Reason:    reason,
		Timestamp: time.Now(),
	})
}

func (a *Agent) emitRunFinished() {
	success := false
	if s := a.history.IsSuccessful(); s != nil {
		success = *s
	}
	a.logger.Info("Run finished",
		zap.Bool("done", a.history.IsDone()),
		zap.Bool("success", success),
		zap.Int("steps", a.state.StepNumber),
		zap.Int("input_tokens", a.history.TotalInputTokens()),
		zap.Float64("estimated_cost_usd", a.costUSD),
		zap.Duration("duration", time.Since(a.startedAt)))

	a.publish(telemetry.RunCompletedEvent{
		RunID:       a.runID,
		Task:        a.task,
		Steps:       a.state.StepNumber,
		IsDone:      a.history.IsDone(),
		IsSuccess:   success,
		TotalTokens: a.history.TotalInputTokens(),
		CostUSD:     a.costUSD,
		Duration:    time.Since(a.startedAt),
		Timestamp:   time.Now(),
	})
}

func (a *Agent) publish(event telemetry.Event) {
	if a.bus != nil {
		a.bus.Publish(event)
	}
}

// saveScreenshot persists the observation screenshot next to the history
// file and returns its relative path, or "" when disabled or unavailable.
func (a *Agent) saveScreenshot(page *browser.StateSummary) string {
	if a.outputDir == "" || !a.cfg.UseVision || len(page.Screenshot) == 0 {
		return ""
	}
	dir := filepath.Join(a.outputDir, "screenshots")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		a.logger.Warn("Failed to create screenshot directory", zap.Error(err))
		return ""
	}
	name := fmt.Sprintf("step_%03d.png", a.state.StepNumber)
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, page.Screenshot, 0o644); err != nil {
		a.logger.Warn("Failed to write screenshot", zap.Error(err))
		return ""
	}
	return filepath.Join("screenshots", name)
}
