// internal/agent/dispatcher.go
package agent

import (
	"context"
	"fmt"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"go.uber.org/zap"

	"github.com/webpilot-ai/webpilot/internal/browser"
	"github.com/webpilot-ai/webpilot/internal/controller"
	"github.com/webpilot-ai/webpilot/internal/dom"
)

// Dispatcher executes one ordered action batch against a page that may
// mutate underneath it. Element indices are only trusted against the
// observation the model planned with; before every later index-targeted
// action the page is re-observed and checked for staleness.
type Dispatcher struct {
	logger   *zap.Logger
	driver   browser.Driver
	registry *controller.Registry
	redactor *Redactor

	// waitBetween is the settle delay between successful actions.
	waitBetween time.Duration
}

func NewDispatcher(logger *zap.Logger, driver browser.Driver, registry *controller.Registry, redactor *Redactor, waitBetween time.Duration) *Dispatcher {
	return &Dispatcher{
		logger:      logger.Named("dispatcher"),
		driver:      driver,
		registry:    registry,
		redactor:    redactor,
		waitBetween: waitBetween,
	}
}

// batchCache is the staleness baseline snapshotted before a batch starts.
type batchCache struct {
	page *browser.StateSummary
	// fingerprints maps each selector index to the identity of the element
	// the model saw there.
	fingerprints map[int]dom.Fingerprint
	// pathHashes is the set of branch-path hashes of every interactable
	// element at plan time. New hashes appearing mid-batch mean the model
	// is looking at a page it has not seen.
	pathHashes mapset.Set[string]
}

func newBatchCache(page *browser.StateSummary) *batchCache {
	cache := &batchCache{
		page:         page,
		fingerprints: make(map[int]dom.Fingerprint),
		pathHashes:   mapset.NewSet[string](),
	}
	if page != nil && page.DOM != nil {
		for idx, el := range page.DOM.SelectorMap {
			cache.fingerprints[idx] = dom.ComputeFingerprint(el)
		}
		for _, h := range page.DOM.BranchPathHashes() {
			cache.pathHashes.Add(h)
		}
	}
	return cache
}

// abortResult builds the retryable page-changed result that ends a batch.
func abortResult(reason string) *controller.ActionResult {
	return &controller.ActionResult{
		Error:           fmt.Sprintf("Page changed during the action batch: %s. Remaining actions were not executed.", reason),
		Retryable:       true,
		IncludeInMemory: true,
	}
}

// checkStaleness re-observes the page and verifies that executing the
// action at targetIndex is still safe. It returns the fresh observation on
// success, or a non-nil abort reason.
func (d *Dispatcher) checkStaleness(ctx context.Context, cache *batchCache, targetIndex int) (*browser.StateSummary, string, error) {
	fresh, err := d.driver.Observe(ctx)
	if err != nil {
		return nil, "", err
	}

	freshHashes := mapset.NewSet[string]()
	for _, h := range fresh.DOM.BranchPathHashes() {
		freshHashes.Add(h)
	}
	// New structural paths mean elements the model never saw. Acting on
	// such a page is disallowed even when the target itself is unchanged.
	if novel := freshHashes.Difference(cache.pathHashes); novel.Cardinality() > 0 {
		return nil, fmt.Sprintf("%d new element paths appeared", novel.Cardinality()), nil
	}

	cached, ok := cache.fingerprints[targetIndex]
	if !ok {
		return nil, fmt.Sprintf("element index %d was not part of the planned page", targetIndex), nil
	}
	el, ok := fresh.DOM.SelectorMap[targetIndex]
	if !ok {
		return nil, fmt.Sprintf("element index %d no longer exists", targetIndex), nil
	}
	if !dom.ComputeFingerprint(el).Equal(cached) {
		return nil, fmt.Sprintf("element index %d now refers to a different element", targetIndex), nil
	}
	return fresh, "", nil
}

// ExecuteBatch runs the ordered action list from one planning phase.
// The returned result list is shorter than the input whenever the batch was
// aborted or short-circuited; it always reflects exactly what executed.
func (d *Dispatcher) ExecuteBatch(ctx context.Context, actions []controller.Action, page *browser.StateSummary) ([]*controller.ActionResult, error) {
	cache := newBatchCache(page)
	current := page
	results := make([]*controller.ActionResult, 0, len(actions))

	for i, action := range actions {
		if err := ctx.Err(); err != nil {
			return results, err
		}

		// done only executes as the batch's sole/first action.
		if action.IsDone() && i > 0 {
			d.logger.Debug("Batch short-circuited by trailing done action", zap.Int("position", i))
			break
		}

		if idx := action.Index(); idx != nil && i > 0 {
			fresh, reason, err := d.checkStaleness(ctx, cache, *idx)
			if err != nil {
				return results, err
			}
			if reason != "" {
				d.logger.Info("Aborting action batch",
					zap.Int("executed", len(results)),
					zap.String("reason", reason))
				results = append(results, abortResult(reason))
				return results, nil
			}
			current = fresh
		}

		action = d.revealSecrets(action, current)

		result, err := d.registry.Execute(ctx, action, &controller.Deps{
			Driver: d.driver,
			Page:   current,
		})
		if err != nil {
			return results, err
		}
		results = append(results, result)

		if result.IsDone || result.Failed() {
			break
		}
		if i < len(actions)-1 && d.waitBetween > 0 {
			select {
			case <-time.After(d.waitBetween):
			case <-ctx.Done():
				return results, ctx.Err()
			}
		}
	}
	return results, nil
}

// revealSecrets substitutes placeholder tokens in text-bearing params with
// the real values, scoped to the current page.
func (d *Dispatcher) revealSecrets(action controller.Action, page *browser.StateSummary) controller.Action {
	if !d.redactor.HasSecrets() || len(action.Params) == 0 {
		return action
	}
	pageURL := ""
	if page != nil {
		pageURL = page.URL
	}
	revealed := d.redactor.Reveal(string(action.Params), pageURL)
	if revealed != string(action.Params) {
		action.Params = []byte(revealed)
	}
	return action
}

// InteractedElements snapshots, per action, the element the action targeted
// in the planned page. Index-aligned with the action list; nil for actions
// without an element index.
func InteractedElements(actions []controller.Action, page *browser.StateSummary) []*dom.HistoryElement {
	elements := make([]*dom.HistoryElement, len(actions))
	if page == nil || page.DOM == nil {
		return elements
	}
	for i, action := range actions {
		if idx := action.Index(); idx != nil {
			if el, ok := page.DOM.SelectorMap[*idx]; ok {
				elements[i] = dom.NewHistoryElement(el)
			}
		}
	}
	return elements
}
