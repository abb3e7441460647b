// internal/agent/models.go
package agent

import (
	"time"

	"github.com/webpilot-ai/webpilot/internal/browser"
	"github.com/webpilot-ai/webpilot/internal/controller"
	"github.com/webpilot-ai/webpilot/internal/dom"
)

// Status names the phase the step machine is in. One step walks
// Idle → Observing → Planning → Acting → Recording and back to Idle, or to
// a terminal Done/Failed.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusObserving Status = "observing"
	StatusPlanning  Status = "planning"
	StatusActing    Status = "acting"
	StatusRecording Status = "recording"
	StatusDone      Status = "done"
	StatusFailed    Status = "failed"
)

// Brain is the model's free-text reasoning for one step. Immutable once
// recorded into history.
type Brain struct {
	EvaluationPreviousGoal string `json:"evaluation_previous_goal"`
	Memory                 string `json:"memory"`
	NextGoal               string `json:"next_goal"`
	Thinking               string `json:"thinking,omitempty"`
}

// Output is the full parsed model response for one planning phase: the
// reasoning plus the ordered action batch.
type Output struct {
	CurrentState Brain               `json:"current_state"`
	Action       []controller.Action `json:"action"`
}

// StepMetadata is attached to a completed step and never mutated after.
type StepMetadata struct {
	StepNumber  int       `json:"step_number"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
	InputTokens int       `json:"input_tokens"`
}

// Duration is the wall-clock time the step took.
func (m StepMetadata) Duration() time.Duration {
	return m.FinishedAt.Sub(m.StartedAt)
}

// PageSnapshot is the structural record of the page a step acted on. It
// stores fingerprints of the elements the step interacted with, never live
// references, so the step can be re-resolved against a future DOM.
type PageSnapshot struct {
	URL   string            `json:"url"`
	Title string            `json:"title"`
	Tabs  []browser.TabInfo `json:"tabs,omitempty"`
	// InteractedElements is index-aligned with the step's action list;
	// nil entries correspond to actions that target no element.
	InteractedElements []*dom.HistoryElement `json:"interacted_elements"`
	ScreenshotPath     string                `json:"screenshot_path,omitempty"`
}

// HistoryItem is one immutable step record. Appended only.
type HistoryItem struct {
	// ModelOutput is nil when the step failed before a model decision was
	// committed (including interrupted steps).
	ModelOutput *Output                    `json:"model_output"`
	Results     []*controller.ActionResult `json:"results"`
	Page        PageSnapshot               `json:"page"`
	Metadata    StepMetadata               `json:"metadata"`
}

// State is the mutable run-wide state owned by exactly one running Agent.
type State struct {
	Status              Status
	StepNumber          int
	ConsecutiveFailures int
	LastResults         []*controller.ActionResult
	LastOutput          *Output
}
