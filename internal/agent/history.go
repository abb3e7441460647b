// internal/agent/history.go
package agent

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/webpilot-ai/webpilot/internal/controller"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// HistoryList is the append-only record of a run: one immutable item per
// step, in strict step order. It serializes to a human-inspectable file and
// reloads into a Replayer input.
type HistoryList struct {
	Task      string         `json:"task"`
	RunID     string         `json:"run_id"`
	StartedAt time.Time      `json:"started_at"`
	Items     []*HistoryItem `json:"items"`
}

// NewHistoryList starts an empty history for one run.
func NewHistoryList(task, runID string) *HistoryList {
	return &HistoryList{Task: task, RunID: runID, StartedAt: time.Now()}
}

// Append adds one completed step record. Items are never edited after.
func (h *HistoryList) Append(item *HistoryItem) {
	h.Items = append(h.Items, item)
}

func (h *HistoryList) Len() int { return len(h.Items) }

// lastResult returns the final ActionResult of the run, or nil.
func (h *HistoryList) lastResult() *controller.ActionResult {
	for i := len(h.Items) - 1; i >= 0; i-- {
		results := h.Items[i].Results
		if len(results) > 0 {
			return results[len(results)-1]
		}
	}
	return nil
}

// IsDone reports whether the run recorded a terminal done result.
func (h *HistoryList) IsDone() bool {
	last := h.lastResult()
	return last != nil && last.IsDone
}

// IsSuccessful reports the done result's success flag; nil when the run is
// not done or the flag was not set.
func (h *HistoryList) IsSuccessful() *bool {
	last := h.lastResult()
	if last == nil || !last.IsDone {
		return nil
	}
	return last.Success
}

// FinalResult returns the done result's extracted content, the run's final
// answer to the user.
func (h *HistoryList) FinalResult() string {
	last := h.lastResult()
	if last == nil || !last.IsDone {
		return ""
	}
	return last.ExtractedContent
}

// Errors collects every recorded result error, in step order.
func (h *HistoryList) Errors() []string {
	var errs []string
	for _, item := range h.Items {
		for _, r := range item.Results {
			if r.Failed() {
				errs = append(errs, r.Error)
			}
		}
	}
	return errs
}

// TotalInputTokens sums the prompt token counts across all steps.
func (h *HistoryList) TotalInputTokens() int {
	total := 0
	for _, item := range h.Items {
		total += item.Metadata.InputTokens
	}
	return total
}

// Save writes the history as indented JSON, creating parent directories as
// needed. The write goes through a temp file so a crash cannot leave a
// truncated history behind.
func (h *HistoryList) Save(path string) error {
	data, err := json.MarshalIndent(h, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode history: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create history directory: %w", err)
		}
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write history: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to finalize history: %w", err)
	}
	return nil
}

// LoadHistory reloads a saved history file.
func LoadHistory(path string) (*HistoryList, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read history file: %w", err)
	}
	var h HistoryList
	if err := json.Unmarshal(data, &h); err != nil {
		return nil, fmt.Errorf("failed to decode history file: %w", err)
	}
	return &h, nil
}
