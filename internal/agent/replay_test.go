// internal/agent/replay_test.go
package agent

import (
	"context"
	encjson "encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/webpilot-ai/webpilot/internal/browser"
	"github.com/webpilot-ai/webpilot/internal/config"
	"github.com/webpilot-ai/webpilot/internal/controller"
	"github.com/webpilot-ai/webpilot/internal/dom"
)

func newTestReplayer(t *testing.T, cfg config.ReplayConfig, driver browser.Driver) *Replayer {
	t.Helper()
	registry := controller.NewRegistry(zaptest.NewLogger(t))
	require.NoError(t, controller.RegisterDefaults(registry))
	return NewReplayer(cfg, driver, registry, nil, zaptest.NewLogger(t))
}

// recordedClick builds a one-step history: a click recorded against the
// element at the given index of the given page.
func recordedClick(t *testing.T, page *browser.StateSummary, index int) *HistoryList {
	t.Helper()
	el, ok := page.DOM.SelectorMap[index]
	require.True(t, ok)

	h := NewHistoryList("recorded task", "run-replay")
	h.Append(&HistoryItem{
		ModelOutput: &Output{
			Action: []controller.Action{{
				Name:   "click_element_by_index",
				Params: encjson.RawMessage(fmtIndex(index)),
			}},
		},
		Results: []*controller.ActionResult{{
			ExtractedContent: "Clicked element",
			IncludeInMemory:  true,
		}},
		Page: PageSnapshot{
			URL:                page.URL,
			InteractedElements: []*dom.HistoryElement{dom.NewHistoryElement(el)},
		},
		Metadata: StepMetadata{StepNumber: 0},
	})
	return h
}

const recordedFixture = `<html><body>
	<nav>
		<a href="/a">A</a>
		<a href="/b">B</a>
	</nav>
	<main>
		<input type="text" name="query">
		<button id="target" type="submit">Search</button>
	</main>
</body></html>`

// reloadedFixture is the same page after a re-render that injected extra
// links before the target button, shifting every index.
const reloadedFixture = `<html><body>
	<nav>
		<a href="/a">A</a>
		<a href="/b">B</a>
		<a href="/c">C</a>
		<a href="/d">D</a>
		<a href="/e">E</a>
	</nav>
	<main>
		<input type="text" name="query">
		<button id="target" type="submit">Search</button>
	</main>
</body></html>`

func TestReplayRewritesIndexViaFingerprint(t *testing.T) {
	recordedPage := buildPage(t, recordedFixture, "https://search.example/")
	history := recordedClick(t, recordedPage, 3) // the Search button

	reloadedPage := buildPage(t, reloadedFixture, "https://search.example/")
	// Sanity: the button moved from index 3 to index 6.
	moved, ok := reloadedPage.DOM.SelectorMap[6]
	require.True(t, ok)
	require.Equal(t, "button", moved.Tag)

	driver := &scriptedDriver{pages: []*browser.StateSummary{reloadedPage}}
	r := newTestReplayer(t, config.ReplayConfig{MaxRetries: 1}, driver)

	results, err := r.Run(context.Background(), history)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.False(t, results[0].Failed())

	require.Len(t, driver.clicked, 1)
	assert.Equal(t, "button", driver.clicked[0].Tag)
	assert.Equal(t, "target", driver.clicked[0].Attributes["id"])
}

func TestReplayFailsWhenElementAbsent(t *testing.T) {
	recordedPage := buildPage(t, recordedFixture, "https://search.example/")
	history := recordedClick(t, recordedPage, 3)

	gutted := buildPage(t, `<html><body>
		<nav><a href="/a">A</a></nav>
	</body></html>`, "https://search.example/")

	driver := &scriptedDriver{pages: []*browser.StateSummary{gutted}}
	r := newTestReplayer(t, config.ReplayConfig{MaxRetries: 2}, driver)

	_, err := r.Run(context.Background(), history)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "could not be re-identified")
	// Nothing was clicked: acting on a guessed element is never acceptable.
	assert.Empty(t, driver.clicked)
	// Both retry attempts re-observed the page.
	assert.Equal(t, 2, driver.observations)
}

func TestReplaySkipsFailuresWhenConfigured(t *testing.T) {
	recordedPage := buildPage(t, recordedFixture, "https://search.example/")
	history := recordedClick(t, recordedPage, 3)
	// Add a second, replayable step.
	second := recordedClick(t, recordedPage, 0)
	history.Append(second.Items[0])

	gutted := buildPage(t, `<html><body>
		<nav><a href="/a">A</a></nav>
	</body></html>`, "https://search.example/")

	driver := &scriptedDriver{pages: []*browser.StateSummary{gutted}}
	r := newTestReplayer(t, config.ReplayConfig{MaxRetries: 1, SkipFailures: true}, driver)

	results, err := r.Run(context.Background(), history)
	require.NoError(t, err)
	// Step one was skipped; step two's link resolved and executed.
	require.Len(t, results, 1)
	require.Len(t, driver.clicked, 1)
	assert.Equal(t, "a", driver.clicked[0].Tag)
}

func TestReplayIdempotentOnUnchangedPage(t *testing.T) {
	page := buildPage(t, recordedFixture, "https://search.example/")
	history := recordedClick(t, page, 3)

	driver := &scriptedDriver{pages: []*browser.StateSummary{page}}
	r := newTestReplayer(t, config.ReplayConfig{MaxRetries: 1}, driver)

	results, err := r.Run(context.Background(), history)
	require.NoError(t, err)

	// Replaying against the same page state reproduces the recorded
	// results, up to volatile fields.
	diff := cmp.Diff(history.Items[0].Results, results,
		cmpopts.IgnoreFields(controller.ActionResult{}, "ExtractedContent", "LongTermMemory"))
	assert.Empty(t, diff)
	require.Len(t, results, 1)
	assert.Contains(t, results[0].ExtractedContent, "Clicked element [3]")
}

func TestReplayExecutesWithZeroConfiguredRetries(t *testing.T) {
	page := buildPage(t, recordedFixture, "https://search.example/")
	history := recordedClick(t, page, 3)

	driver := &scriptedDriver{pages: []*browser.StateSummary{page}}
	// A zeroed retry count must still execute each step once; a step that
	// never ran must not read as a success.
	r := newTestReplayer(t, config.ReplayConfig{MaxRetries: 0}, driver)

	results, err := r.Run(context.Background(), history)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.False(t, results[0].Failed())
	require.Len(t, driver.clicked, 1)
	assert.Equal(t, "button", driver.clicked[0].Tag)
}

func TestReplaySkipsStepsWithoutDecisions(t *testing.T) {
	page := buildPage(t, recordedFixture, "https://search.example/")
	h := NewHistoryList("t", "r")
	h.Append(&HistoryItem{
		Results: []*controller.ActionResult{{Error: interruptedMarker}},
	})

	driver := &scriptedDriver{pages: []*browser.StateSummary{page}}
	r := newTestReplayer(t, config.ReplayConfig{MaxRetries: 1}, driver)

	results, err := r.Run(context.Background(), h)
	require.NoError(t, err)
	assert.Empty(t, results)
	assert.Zero(t, driver.observations)
}
