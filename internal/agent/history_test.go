// internal/agent/history_test.go
package agent

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/webpilot-ai/webpilot/internal/controller"
)

func boolPtr(v bool) *bool { return &v }

func sampleHistory() *HistoryList {
	h := NewHistoryList("order a pizza", "run-123")
	h.Append(&HistoryItem{
		ModelOutput: &Output{
			CurrentState: Brain{NextGoal: "open the menu"},
			Action:       []controller.Action{{Name: "go_to_url", Params: []byte(`{"url": "https://pizza.example"}`)}},
		},
		Results:  []*controller.ActionResult{{ExtractedContent: "Navigated to https://pizza.example"}},
		Page:     PageSnapshot{URL: "about:blank"},
		Metadata: StepMetadata{StepNumber: 0, InputTokens: 120},
	})
	h.Append(&HistoryItem{
		ModelOutput: &Output{
			CurrentState: Brain{NextGoal: "finish"},
			Action:       []controller.Action{{Name: "done", Params: []byte(`{"text": "ordered", "success": true}`)}},
		},
		Results:  []*controller.ActionResult{{IsDone: true, Success: boolPtr(true), ExtractedContent: "ordered"}},
		Page:     PageSnapshot{URL: "https://pizza.example"},
		Metadata: StepMetadata{StepNumber: 1, InputTokens: 80},
	})
	return h
}

func TestHistoryAccessors(t *testing.T) {
	h := sampleHistory()
	assert.Equal(t, 2, h.Len())
	assert.True(t, h.IsDone())
	require.NotNil(t, h.IsSuccessful())
	assert.True(t, *h.IsSuccessful())
	assert.Equal(t, "ordered", h.FinalResult())
	assert.Equal(t, 200, h.TotalInputTokens())
	assert.Empty(t, h.Errors())
}

func TestHistoryNotDoneWithoutTerminalResult(t *testing.T) {
	h := NewHistoryList("t", "r")
	h.Append(&HistoryItem{
		Results: []*controller.ActionResult{{ExtractedContent: "clicked"}},
	})
	assert.False(t, h.IsDone())
	assert.Nil(t, h.IsSuccessful())
	assert.Empty(t, h.FinalResult())
}

func TestHistoryErrorsCollected(t *testing.T) {
	h := NewHistoryList("t", "r")
	h.Append(&HistoryItem{Results: []*controller.ActionResult{{Error: "first"}}})
	h.Append(&HistoryItem{Results: []*controller.ActionResult{
		{ExtractedContent: "fine"},
		{Error: "second"},
	}})
	assert.Equal(t, []string{"first", "second"}, h.Errors())
}

func TestHistorySaveLoadRoundTrip(t *testing.T) {
	h := sampleHistory()
	h.StartedAt = time.Now().UTC().Truncate(time.Second)
	path := filepath.Join(t.TempDir(), "runs", "history.json")

	require.NoError(t, h.Save(path))
	loaded, err := LoadHistory(path)
	require.NoError(t, err)

	if diff := cmp.Diff(h, loaded); diff != "" {
		t.Fatalf("history changed across save/load (-want +got):\n%s", diff)
	}
}

func TestLoadHistoryMissingFile(t *testing.T) {
	_, err := LoadHistory(filepath.Join(t.TempDir(), "nope.json"))
	assert.Error(t, err)
}
