// internal/agent/control.go
package agent

import (
	"context"
	"sync"
)

// ControlGate carries cooperative pause/stop/resume signals into the run
// loop. The loop consults it at fixed checkpoints: step start, after
// observation, and before committing a model output. Safe for concurrent
// use; the controlling side (CLI, signal handler) calls Pause/Resume/Stop
// while the agent blocks in Wait or polls Check.
type ControlGate struct {
	mu      sync.Mutex
	paused  bool
	stopped bool
	// resume is replaced on every pause; waiters select on the current
	// channel and re-check state when it closes.
	resume chan struct{}
}

func NewControlGate() *ControlGate {
	return &ControlGate{resume: make(chan struct{})}
}

// Pause requests that the agent block at its next checkpoint.
func (g *ControlGate) Pause() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.paused = true
}

// Resume wakes every waiter blocked on a pause.
func (g *ControlGate) Resume() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.paused {
		return
	}
	g.paused = false
	close(g.resume)
	g.resume = make(chan struct{})
}

// Stop requests a permanent shutdown. It also wakes paused waiters so they
// can observe the stop.
func (g *ControlGate) Stop() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.stopped = true
	if g.paused {
		g.paused = false
		close(g.resume)
		g.resume = make(chan struct{})
	}
}

// Interrupted reports whether a pause or stop is pending. Steps poll this
// at their checkpoints and unwind with ErrInterrupted when it fires; the
// run loop then blocks (pause) or terminates (stop) before the step index
// is retried.
func (g *ControlGate) Interrupted() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.paused || g.stopped
}

// Stopped reports whether a stop has been requested.
func (g *ControlGate) Stopped() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.stopped
}

// Wait blocks while paused and returns ErrInterrupted once stopped. A nil
// return means the agent may proceed. Context cancellation counts as a
// stop: the caller must unwind either way.
func (g *ControlGate) Wait(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ErrInterrupted
		}
		g.mu.Lock()
		if g.stopped {
			g.mu.Unlock()
			return ErrInterrupted
		}
		if !g.paused {
			g.mu.Unlock()
			return nil
		}
		resume := g.resume
		g.mu.Unlock()

		select {
		case <-resume:
		case <-ctx.Done():
			return ErrInterrupted
		}
	}
}
