// internal/agent/dispatcher_test.go
package agent

import (
	"context"
	encjson "encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/webpilot-ai/webpilot/internal/browser"
	"github.com/webpilot-ai/webpilot/internal/controller"
)

func newTestDispatcher(t *testing.T, driver browser.Driver, sensitive map[string]interface{}) *Dispatcher {
	t.Helper()
	registry := controller.NewRegistry(zaptest.NewLogger(t))
	require.NoError(t, controller.RegisterDefaults(registry))
	redactor, err := NewRedactor(sensitive)
	require.NoError(t, err)
	return NewDispatcher(zaptest.NewLogger(t), driver, registry, redactor, 0)
}

func clickAction(index int) controller.Action {
	return controller.Action{
		Name:   "click_element_by_index",
		Params: encjson.RawMessage(fmtIndex(index)),
	}
}

func fmtIndex(index int) string {
	data, _ := encjson.Marshal(map[string]int{"index": index})
	return string(data)
}

const threeButtonFixture = `<html><body>
	<button id="alpha">Alpha</button>
	<button id="beta">Beta</button>
	<button id="gamma">Gamma</button>
</body></html>`

func TestBatchExecutesFullyOnStablePage(t *testing.T) {
	page := buildPage(t, threeButtonFixture, "https://stable.example/")
	// Re-observation between actions yields the identical page.
	driver := &scriptedDriver{pages: []*browser.StateSummary{page}}
	d := newTestDispatcher(t, driver, nil)

	results, err := d.ExecuteBatch(context.Background(),
		[]controller.Action{clickAction(0), clickAction(1), clickAction(2)}, page)
	require.NoError(t, err)
	require.Len(t, results, 3)
	for _, r := range results {
		assert.False(t, r.Failed())
	}
	assert.Len(t, driver.clicked, 3)
}

func TestBatchAbortsWhenTargetFingerprintChanges(t *testing.T) {
	planned := buildPage(t, threeButtonFixture, "https://shifting.example/")
	// After action 1 the second button is replaced: same position, new
	// attributes, so index 1 now names a different logical element.
	mutated := buildPage(t, `<html><body>
		<button id="alpha">Alpha</button>
		<button id="delta">Delta</button>
		<button id="gamma">Gamma</button>
	</body></html>`, "https://shifting.example/")

	driver := &scriptedDriver{pages: []*browser.StateSummary{mutated}}
	d := newTestDispatcher(t, driver, nil)

	results, err := d.ExecuteBatch(context.Background(),
		[]controller.Action{clickAction(0), clickAction(1), clickAction(2)}, planned)
	require.NoError(t, err)

	// Exactly two results: action 1's outcome, then the abort notice.
	require.Len(t, results, 2)
	assert.False(t, results[0].Failed())
	assert.True(t, results[1].Failed())
	assert.True(t, results[1].Retryable)
	assert.Contains(t, results[1].Error, "Page changed")
	// Only the first click ever reached the browser.
	assert.Len(t, driver.clicked, 1)
}

func TestBatchAbortsWhenNewElementsAppear(t *testing.T) {
	planned := buildPage(t, threeButtonFixture, "https://popup.example/")
	// The target element is untouched, but a dialog introduced elements
	// the model has never seen. Acting blind is disallowed.
	withDialog := buildPage(t, `<html><body>
		<button id="alpha">Alpha</button>
		<button id="beta">Beta</button>
		<button id="gamma">Gamma</button>
		<div role="dialog"><form><input type="text" name="surprise"></form></div>
	</body></html>`, "https://popup.example/")

	driver := &scriptedDriver{pages: []*browser.StateSummary{withDialog}}
	d := newTestDispatcher(t, driver, nil)

	results, err := d.ExecuteBatch(context.Background(),
		[]controller.Action{clickAction(0), clickAction(1)}, planned)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.True(t, results[1].Retryable)
	assert.Contains(t, results[1].Error, "new element paths")
	assert.Len(t, driver.clicked, 1)
}

func TestTrailingDoneIsNotExecuted(t *testing.T) {
	page := buildPage(t, threeButtonFixture, "https://stable.example/")
	driver := &scriptedDriver{pages: []*browser.StateSummary{page}}
	d := newTestDispatcher(t, driver, nil)

	done := controller.Action{Name: "done", Params: encjson.RawMessage(`{"text": "x", "success": true}`)}
	results, err := d.ExecuteBatch(context.Background(),
		[]controller.Action{clickAction(0), done}, page)
	require.NoError(t, err)

	require.Len(t, results, 1)
	assert.False(t, results[0].IsDone)
}

func TestLeadingDoneStopsBatch(t *testing.T) {
	page := buildPage(t, threeButtonFixture, "https://stable.example/")
	driver := &scriptedDriver{pages: []*browser.StateSummary{page}}
	d := newTestDispatcher(t, driver, nil)

	done := controller.Action{Name: "done", Params: encjson.RawMessage(`{"text": "finished", "success": true}`)}
	results, err := d.ExecuteBatch(context.Background(),
		[]controller.Action{done, clickAction(0)}, page)
	require.NoError(t, err)

	require.Len(t, results, 1)
	assert.True(t, results[0].IsDone)
	assert.Empty(t, driver.clicked)
}

func TestFailedActionStopsBatchWithBookkeeping(t *testing.T) {
	page := buildPage(t, threeButtonFixture, "https://stable.example/")
	driver := &scriptedDriver{pages: []*browser.StateSummary{page}}
	d := newTestDispatcher(t, driver, nil)

	// Index 99 does not exist; the failure must be recorded, and the
	// remaining action must not run.
	results, err := d.ExecuteBatch(context.Background(),
		[]controller.Action{clickAction(99), clickAction(0)}, page)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.True(t, results[0].Failed())
	assert.Empty(t, driver.clicked)
}

func TestSecretsRevealedOnlyAtExecution(t *testing.T) {
	page := buildPage(t, `<html><body>
		<input type="password" name="pw">
	</body></html>`, "https://login.vault.example/")
	driver := &scriptedDriver{pages: []*browser.StateSummary{page}}
	d := newTestDispatcher(t, driver, map[string]interface{}{"vault_pw": "s3cr3t!"})

	typeAction := controller.Action{
		Name:   "input_text",
		Params: encjson.RawMessage(`{"index": 0, "text": "<secret>vault_pw</secret>"}`),
	}
	results, err := d.ExecuteBatch(context.Background(), []controller.Action{typeAction}, page)
	require.NoError(t, err)
	require.Len(t, results, 1)

	// The browser received the real value.
	require.Len(t, driver.typed, 1)
	assert.Equal(t, "s3cr3t!", driver.typed[0])
}
