// internal/controller/result.go
package controller

// ActionResult is the outcome of one executed action. The agent folds it
// into step records and, when IncludeInMemory is set, into the rolling
// conversation context.
type ActionResult struct {
	// IsDone marks the run as finished. Only the done action sets it.
	IsDone bool `json:"is_done,omitempty"`
	// Success is meaningful only when IsDone is true: nil for ordinary
	// actions, true/false for a completed or abandoned task.
	Success *bool `json:"success,omitempty"`
	// ExtractedContent carries human-readable output (page text, a
	// navigation confirmation, the final answer).
	ExtractedContent string `json:"extracted_content,omitempty"`
	// LongTermMemory is a short note the model should keep seeing on
	// later steps.
	LongTermMemory string `json:"long_term_memory,omitempty"`
	// Error is the failure description when the action did not succeed.
	Error string `json:"error,omitempty"`
	// Retryable marks a failure as transient (page changed mid-batch); it
	// does not count toward the consecutive-failure budget.
	Retryable bool `json:"retryable,omitempty"`
	// IncludeInMemory promotes ExtractedContent into the conversation
	// context instead of only the step record.
	IncludeInMemory bool `json:"include_in_memory,omitempty"`
	// Attachments lists files produced by the action (screenshots,
	// downloads), as paths relative to the run directory.
	Attachments []string `json:"attachments,omitempty"`
}

// Failed reports whether the action recorded an error.
func (r *ActionResult) Failed() bool { return r != nil && r.Error != "" }

// ErrorResult wraps an execution error into a result the agent can record
// without aborting the step machinery.
func ErrorResult(err error) *ActionResult {
	return &ActionResult{Error: err.Error(), IncludeInMemory: true}
}
