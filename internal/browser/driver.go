// internal/browser/driver.go
package browser

import (
	"context"
	"errors"

	"github.com/webpilot-ai/webpilot/internal/dom"
)

// ErrSessionClosed marks a browser session that has died or been closed.
// The agent classifies it as run-fatal.
var ErrSessionClosed = errors.New("browser session is closed")

// TabInfo describes one open browser tab.
type TabInfo struct {
	TargetID string `json:"target_id"`
	URL      string `json:"url"`
	Title    string `json:"title"`
	Index    int    `json:"index"`
}

// StateSummary is one observation of the live page: everything the agent
// needs to build a prompt and a fresh selector map. It is a snapshot;
// nothing in it stays connected to the browser.
type StateSummary struct {
	URL        string
	Title      string
	Tabs       []TabInfo
	DOM        *dom.State
	RawHTML    string
	Screenshot []byte
}

// Driver is the browser collaborator consumed by the agent core. One
// driver owns one browser session; the core never talks to the browser in
// any other way.
type Driver interface {
	// Observe captures the current page and builds a fresh selector map.
	// Element indices in the returned state are valid only until the next
	// page mutation.
	Observe(ctx context.Context) (*StateSummary, error)

	Navigate(ctx context.Context, url string) error
	GoBack(ctx context.Context) error
	Click(ctx context.Context, el *dom.ElementNode) error
	InputText(ctx context.Context, el *dom.ElementNode, text string) error
	SendKeys(ctx context.Context, keys string) error
	// ScrollBy scrolls the page vertically; negative is up.
	ScrollBy(ctx context.Context, pixels int) error
	SwitchTab(ctx context.Context, index int) error

	Close() error
}
