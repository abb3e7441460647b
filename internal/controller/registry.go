// internal/controller/registry.go
package controller

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/webpilot-ai/webpilot/internal/browser"
)

// Deps carries the collaborators a handler may touch during one execution.
// State and Page describe the observation the model planned against.
type Deps struct {
	Driver browser.Driver
	Page   *browser.StateSummary
}

// Handler executes one action. A returned error means the action failed;
// the dispatcher converts it into an ActionResult and decides whether the
// batch continues.
type Handler func(ctx context.Context, params json.RawMessage, deps *Deps) (*ActionResult, error)

// RegisteredAction is one capability exposed to the model.
type RegisteredAction struct {
	Name        string
	Description string
	// ParamSpec is the parameter shape shown in the capability prompt,
	// e.g. `{"index": <int>}`.
	ParamSpec string
	Handler   Handler
	// Domains restricts the action to matching sites. Empty means the
	// action is available everywhere and is part of the fixed prompt.
	Domains []string
}

func (ra *RegisteredAction) promptLine() string {
	spec := ra.ParamSpec
	if spec == "" {
		spec = "{}"
	}
	return fmt.Sprintf("%s: %s - params: %s", ra.Name, ra.Description, spec)
}

// Registry holds the action set and dispatches execution by tag.
type Registry struct {
	logger  *zap.Logger
	actions map[string]*RegisteredAction
}

// NewRegistry creates an empty registry. Callers usually follow up with
// RegisterDefaults.
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		logger:  logger.Named("controller"),
		actions: make(map[string]*RegisteredAction),
	}
}

// Register adds an action. Duplicate tags are rejected so a typo cannot
// silently shadow a built-in.
func (r *Registry) Register(ra *RegisteredAction) error {
	if ra == nil || ra.Name == "" {
		return fmt.Errorf("action registration requires a name")
	}
	if ra.Handler == nil {
		return fmt.Errorf("action %q has no handler", ra.Name)
	}
	if _, exists := r.actions[ra.Name]; exists {
		return fmt.Errorf("action %q is already registered", ra.Name)
	}
	r.actions[ra.Name] = ra
	return nil
}

// Get returns a registered action by tag.
func (r *Registry) Get(name string) (*RegisteredAction, bool) {
	ra, ok := r.actions[name]
	return ra, ok
}

// Descriptions renders the capability text for a page. With an empty URL
// only unrestricted actions are listed; that variant is stable across the
// run and belongs in the fixed system prompt. Domain-restricted actions
// that match the URL are appended per observation.
func (r *Registry) Descriptions(pageURL string) string {
	names := make([]string, 0, len(r.actions))
	for name := range r.actions {
		names = append(names, name)
	}
	sort.Strings(names)

	var lines []string
	for _, name := range names {
		ra := r.actions[name]
		if len(ra.Domains) == 0 {
			if pageURL == "" {
				lines = append(lines, ra.promptLine())
			}
			continue
		}
		if pageURL != "" && MatchAnyDomain(ra.Domains, pageURL) {
			lines = append(lines, ra.promptLine())
		}
	}
	return strings.Join(lines, "\n")
}

// Execute runs one action against the given dependencies. Handler failures
// come back as an ActionResult carrying the error; a non-nil error return
// is reserved for dispatch problems (unknown tag, bad params) and for
// context cancellation, which the agent must not swallow.
func (r *Registry) Execute(ctx context.Context, action Action, deps *Deps) (*ActionResult, error) {
	ra, ok := r.actions[action.Name]
	if !ok {
		return nil, fmt.Errorf("unknown action %q", action.Name)
	}
	if len(ra.Domains) > 0 {
		pageURL := ""
		if deps != nil && deps.Page != nil {
			pageURL = deps.Page.URL
		}
		if !MatchAnyDomain(ra.Domains, pageURL) {
			return nil, fmt.Errorf("action %q is not available on %s", action.Name, pageURL)
		}
	}

	r.logger.Debug("Executing action", zap.String("action", action.String()))
	result, err := ra.Handler(ctx, action.Params, deps)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		r.logger.Warn("Action failed",
			zap.String("action", action.Name),
			zap.Error(err))
		return ErrorResult(fmt.Errorf("%s: %w", action.Name, err)), nil
	}
	if result == nil {
		result = &ActionResult{}
	}
	return result, nil
}
