// internal/agent/common_test.go
package agent

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/webpilot-ai/webpilot/api/schemas"
	"github.com/webpilot-ai/webpilot/internal/browser"
	"github.com/webpilot-ai/webpilot/internal/config"
	"github.com/webpilot-ai/webpilot/internal/controller"
	"github.com/webpilot-ai/webpilot/internal/dom"
)

// buildPage parses a fixture into the snapshot a driver observation yields.
func buildPage(t *testing.T, html, url string) *browser.StateSummary {
	t.Helper()
	state, err := dom.BuildState(html, url)
	require.NoError(t, err)
	return &browser.StateSummary{
		URL:     url,
		Title:   "fixture",
		DOM:     state,
		RawHTML: html,
	}
}

// scriptedDriver serves a queue of page snapshots: each Observe pops the
// next one and the last page repeats forever. All actions are recorded.
type scriptedDriver struct {
	mu    sync.Mutex
	pages []*browser.StateSummary

	observations int
	clicked      []*dom.ElementNode
	typed        []string
	navigated    []string
	failWith     error
}

func (d *scriptedDriver) Observe(context.Context) (*browser.StateSummary, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failWith != nil {
		return nil, d.failWith
	}
	if len(d.pages) == 0 {
		return nil, fmt.Errorf("no pages scripted")
	}
	d.observations++
	page := d.pages[0]
	if len(d.pages) > 1 {
		d.pages = d.pages[1:]
	}
	return page, nil
}

func (d *scriptedDriver) Navigate(_ context.Context, url string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.navigated = append(d.navigated, url)
	return d.failWith
}

func (d *scriptedDriver) GoBack(context.Context) error { return d.failWith }

func (d *scriptedDriver) Click(_ context.Context, el *dom.ElementNode) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.clicked = append(d.clicked, el)
	return d.failWith
}

func (d *scriptedDriver) InputText(_ context.Context, el *dom.ElementNode, text string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.clicked = append(d.clicked, el)
	d.typed = append(d.typed, text)
	return d.failWith
}

func (d *scriptedDriver) SendKeys(context.Context, string) error { return d.failWith }
func (d *scriptedDriver) ScrollBy(context.Context, int) error    { return d.failWith }
func (d *scriptedDriver) SwitchTab(context.Context, int) error   { return d.failWith }
func (d *scriptedDriver) Close() error                           { return nil }

// scriptedLLM returns canned responses in order, repeating the last one.
// Hooks run before each response is returned, letting tests inject control
// signals at the planning suspension point.
type scriptedLLM struct {
	mu        sync.Mutex
	responses []string
	calls     int
	hooks     []func(call int)
}

func (s *scriptedLLM) Generate(_ context.Context, _ schemas.GenerationRequest) (*schemas.GenerationResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	call := s.calls
	s.calls++
	for _, hook := range s.hooks {
		hook(call)
	}
	idx := call
	if idx >= len(s.responses) {
		idx = len(s.responses) - 1
	}
	if idx < 0 {
		return nil, fmt.Errorf("no responses scripted")
	}
	return &schemas.GenerationResponse{Content: s.responses[idx], Model: "gpt-4o"}, nil
}

// modelResponse renders a well-formed planning response.
func modelResponse(goal string, actions string) string {
	return fmt.Sprintf(`{
		"current_state": {
			"evaluation_previous_goal": "Unknown",
			"memory": "in progress",
			"next_goal": %q
		},
		"action": [%s]
	}`, goal, actions)
}

func doneResponse(text string, success bool) string {
	return modelResponse("finish", fmt.Sprintf(`{"done": {"text": %q, "success": %t}}`, text, success))
}

func testAgentConfig() config.AgentConfig {
	return config.AgentConfig{
		MaxSteps:               10,
		MaxConsecutiveFailures: 3,
		MaxActionsPerStep:      4,
		MaxHistoryItems:        10,
	}
}

// newTestAgent wires an agent against the scripted collaborators.
func newTestAgent(t *testing.T, cfg config.AgentConfig, driver browser.Driver, llm schemas.LLMClient) *Agent {
	t.Helper()
	registry := controller.NewRegistry(zaptest.NewLogger(t))
	require.NoError(t, controller.RegisterDefaults(registry))
	a, err := NewAgent("test task", cfg, driver, llm, registry, nil, "", zaptest.NewLogger(t))
	require.NoError(t, err)
	return a
}

const loginFixture = `<html><body>
	<form>
		<input type="text" name="username" placeholder="Username">
		<input type="password" name="password" placeholder="Password">
		<button type="submit">Sign in</button>
	</form>
	<a href="/help">Help</a>
</body></html>`
