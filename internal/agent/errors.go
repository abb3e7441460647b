// internal/agent/errors.go
package agent

import (
	"errors"

	"github.com/webpilot-ai/webpilot/internal/browser"
)

// ErrInterrupted is the cooperative control signal raised when a stop
// request unwinds an in-flight step at a checkpoint. It is distinguishable
// from a failure: the step is recorded as a single interrupted-marker
// result and the step counter does not advance.
var ErrInterrupted = errors.New("agent was interrupted")

// interruptedMarker is the result text recorded for a step unwound by a
// control signal.
const interruptedMarker = "Step was interrupted before completing; no action outcome was committed"

// isRunFatal reports whether an error must terminate the whole run rather
// than count as one failed step.
func isRunFatal(err error) bool {
	return errors.Is(err, browser.ErrSessionClosed)
}
