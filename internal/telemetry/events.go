// internal/telemetry/events.go
package telemetry

import "time"

// Event is a read-only notification emitted by the agent core. Events never
// influence control flow; sinks may record, forward, or drop them.
type Event interface {
	Name() string
}

// StepCompletedEvent is emitted after each recorded step.
type StepCompletedEvent struct {
	RunID       string
	Step        int
	ActionCount int
	InputTokens int
	Duration    time.Duration
	HadError    bool
	Timestamp   time.Time
}

func (StepCompletedEvent) Name() string { return "step_completed" }

// RunCompletedEvent is emitted once when a run reaches a terminal state.
type RunCompletedEvent struct {
	RunID       string
	Task        string
	Steps       int
	IsDone      bool
	IsSuccess   bool
	TotalTokens int
	CostUSD     float64
	Duration    time.Duration
	Timestamp   time.Time
}

func (RunCompletedEvent) Name() string { return "run_completed" }

// RunFailedEvent is emitted when a run terminates for a run-fatal reason.
type RunFailedEvent struct {
	RunID     string
	Task      string
	Steps     int
	Reason    string
	Timestamp time.Time
}

func (RunFailedEvent) Name() string { return "run_failed" }

// ReplayCompletedEvent is emitted after a history replay finishes.
type ReplayCompletedEvent struct {
	RunID     string
	Steps     int
	Skipped   int
	Failed    bool
	Timestamp time.Time
}

func (ReplayCompletedEvent) Name() string { return "replay_completed" }
