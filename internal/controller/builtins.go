// internal/controller/builtins.go
package controller

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/webpilot-ai/webpilot/internal/dom"
)

// extractedContentLimit caps extract_page_content output so a text-heavy
// page cannot flood the conversation context.
const extractedContentLimit = 8000

// RegisterDefaults installs the built-in action set.
func RegisterDefaults(r *Registry) error {
	builtins := []*RegisteredAction{
		{
			Name:        DoneActionName,
			Description: "Finish the task. Set success=false if the task could not be completed. Use text for the final answer to the user",
			ParamSpec:   `{"text": <string>, "success": <bool>}`,
			Handler:     handleDone,
		},
		{
			Name:        "go_to_url",
			Description: "Navigate the current tab to a URL",
			ParamSpec:   `{"url": <string>}`,
			Handler:     handleGoToURL,
		},
		{
			Name:        "click_element_by_index",
			Description: "Click the interactive element with the given index",
			ParamSpec:   `{"index": <int>}`,
			Handler:     handleClick,
		},
		{
			Name:        "input_text",
			Description: "Clear the element with the given index and type text into it",
			ParamSpec:   `{"index": <int>, "text": <string>}`,
			Handler:     handleInputText,
		},
		{
			Name:        "scroll",
			Description: "Scroll the page by one viewport, or by the given number of pixels",
			ParamSpec:   `{"down": <bool>, "pixels": <int, optional>}`,
			Handler:     handleScroll,
		},
		{
			Name:        "go_back",
			Description: "Go back to the previous page in the tab history",
			ParamSpec:   `{}`,
			Handler:     handleGoBack,
		},
		{
			Name:        "wait",
			Description: "Wait for the page to settle, e.g. after a click that triggers loading",
			ParamSpec:   `{"seconds": <int>}`,
			Handler:     handleWait,
		},
		{
			Name:        "send_keys",
			Description: "Send keyboard keys to the page, e.g. Enter or Escape",
			ParamSpec:   `{"keys": <string>}`,
			Handler:     handleSendKeys,
		},
		{
			Name:        "switch_tab",
			Description: "Switch to another open tab by its index from the tab list",
			ParamSpec:   `{"index": <int>}`,
			Handler:     handleSwitchTab,
		},
		{
			Name:        "extract_page_content",
			Description: "Extract the readable text of the current page, to answer questions about its content",
			ParamSpec:   `{"query": <string, optional>}`,
			Handler:     handleExtractContent,
		},
	}

	for _, ra := range builtins {
		if err := r.Register(ra); err != nil {
			return err
		}
	}
	return nil
}

func handleDone(_ context.Context, params json.RawMessage, _ *Deps) (*ActionResult, error) {
	var p struct {
		Text    string `json:"text"`
		Success bool   `json:"success"`
	}
	if err := jsonIter.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("invalid done params: %w", err)
	}
	return &ActionResult{
		IsDone:           true,
		Success:          &p.Success,
		ExtractedContent: p.Text,
	}, nil
}

func handleGoToURL(ctx context.Context, params json.RawMessage, deps *Deps) (*ActionResult, error) {
	var p struct {
		URL string `json:"url"`
	}
	if err := jsonIter.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("invalid go_to_url params: %w", err)
	}
	if p.URL == "" {
		return nil, fmt.Errorf("go_to_url requires a url")
	}
	if err := deps.Driver.Navigate(ctx, p.URL); err != nil {
		return nil, err
	}
	msg := fmt.Sprintf("Navigated to %s", p.URL)
	return &ActionResult{ExtractedContent: msg, LongTermMemory: msg, IncludeInMemory: true}, nil
}

// resolveElement maps a model-chosen index onto the element tree from the
// observation the model actually saw.
func resolveElement(deps *Deps, index int) (*dom.ElementNode, error) {
	if deps == nil || deps.Page == nil || deps.Page.DOM == nil {
		return nil, fmt.Errorf("no page observation available")
	}
	el, ok := deps.Page.DOM.SelectorMap[index]
	if !ok {
		return nil, fmt.Errorf("element with index %d does not exist on the page", index)
	}
	return el, nil
}

func handleClick(ctx context.Context, params json.RawMessage, deps *Deps) (*ActionResult, error) {
	var p struct {
		Index *int `json:"index"`
	}
	if err := jsonIter.Unmarshal(params, &p); err != nil || p.Index == nil {
		return nil, fmt.Errorf("click_element_by_index requires an index")
	}
	el, err := resolveElement(deps, *p.Index)
	if err != nil {
		return nil, err
	}
	if err := deps.Driver.Click(ctx, el); err != nil {
		return nil, err
	}
	msg := fmt.Sprintf("Clicked element [%d] %s", *p.Index, el.String())
	return &ActionResult{ExtractedContent: msg, LongTermMemory: msg, IncludeInMemory: true}, nil
}

func handleInputText(ctx context.Context, params json.RawMessage, deps *Deps) (*ActionResult, error) {
	var p struct {
		Index *int   `json:"index"`
		Text  string `json:"text"`
	}
	if err := jsonIter.Unmarshal(params, &p); err != nil || p.Index == nil {
		return nil, fmt.Errorf("input_text requires an index and text")
	}
	el, err := resolveElement(deps, *p.Index)
	if err != nil {
		return nil, err
	}
	if err := deps.Driver.InputText(ctx, el, p.Text); err != nil {
		return nil, err
	}
	msg := fmt.Sprintf("Typed %q into element [%d]", p.Text, *p.Index)
	return &ActionResult{ExtractedContent: msg, LongTermMemory: msg, IncludeInMemory: true}, nil
}

func handleScroll(ctx context.Context, params json.RawMessage, deps *Deps) (*ActionResult, error) {
	var p struct {
		Down   bool `json:"down"`
		Pixels int  `json:"pixels"`
	}
	if err := jsonIter.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("invalid scroll params: %w", err)
	}
	pixels := p.Pixels
	if pixels <= 0 {
		pixels = 720 // roughly one viewport
	}
	if !p.Down {
		pixels = -pixels
	}
	if err := deps.Driver.ScrollBy(ctx, pixels); err != nil {
		return nil, err
	}
	direction := "down"
	if !p.Down {
		direction = "up"
	}
	return &ActionResult{ExtractedContent: fmt.Sprintf("Scrolled %s %d pixels", direction, abs(pixels))}, nil
}

func handleGoBack(ctx context.Context, _ json.RawMessage, deps *Deps) (*ActionResult, error) {
	if err := deps.Driver.GoBack(ctx); err != nil {
		return nil, err
	}
	msg := "Navigated back"
	return &ActionResult{ExtractedContent: msg, LongTermMemory: msg, IncludeInMemory: true}, nil
}

func handleWait(ctx context.Context, params json.RawMessage, _ *Deps) (*ActionResult, error) {
	var p struct {
		Seconds int `json:"seconds"`
	}
	if err := jsonIter.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("invalid wait params: %w", err)
	}
	if p.Seconds <= 0 {
		p.Seconds = 3
	}
	if p.Seconds > 60 {
		p.Seconds = 60
	}
	select {
	case <-time.After(time.Duration(p.Seconds) * time.Second):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return &ActionResult{ExtractedContent: fmt.Sprintf("Waited %d seconds", p.Seconds)}, nil
}

func handleSendKeys(ctx context.Context, params json.RawMessage, deps *Deps) (*ActionResult, error) {
	var p struct {
		Keys string `json:"keys"`
	}
	if err := jsonIter.Unmarshal(params, &p); err != nil || p.Keys == "" {
		return nil, fmt.Errorf("send_keys requires keys")
	}
	if err := deps.Driver.SendKeys(ctx, p.Keys); err != nil {
		return nil, err
	}
	return &ActionResult{ExtractedContent: fmt.Sprintf("Sent keys %q", p.Keys)}, nil
}

func handleSwitchTab(ctx context.Context, params json.RawMessage, deps *Deps) (*ActionResult, error) {
	var p struct {
		Index *int `json:"index"`
	}
	if err := jsonIter.Unmarshal(params, &p); err != nil || p.Index == nil {
		return nil, fmt.Errorf("switch_tab requires an index")
	}
	if err := deps.Driver.SwitchTab(ctx, *p.Index); err != nil {
		return nil, err
	}
	msg := fmt.Sprintf("Switched to tab %d", *p.Index)
	return &ActionResult{ExtractedContent: msg, LongTermMemory: msg, IncludeInMemory: true}, nil
}

func handleExtractContent(_ context.Context, params json.RawMessage, deps *Deps) (*ActionResult, error) {
	var p struct {
		Query string `json:"query"`
	}
	if err := jsonIter.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("invalid extract_page_content params: %w", err)
	}
	if deps == nil || deps.Page == nil || deps.Page.RawHTML == "" {
		return nil, fmt.Errorf("no page observation available")
	}

	text, err := ExtractReadableText(deps.Page.RawHTML)
	if err != nil {
		return nil, fmt.Errorf("failed to parse page content: %w", err)
	}
	if len(text) > extractedContentLimit {
		text = text[:extractedContentLimit] + "\n... (content truncated)"
	}

	header := fmt.Sprintf("Page content of %s", deps.Page.URL)
	if p.Query != "" {
		header += fmt.Sprintf(" (query: %s)", p.Query)
	}
	return &ActionResult{
		ExtractedContent: header + ":\n" + text,
		IncludeInMemory:  true,
	}, nil
}

// ExtractReadableText strips markup, scripts and styles from a page and
// returns its visible text, one block element per line.
func ExtractReadableText(rawHTML string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rawHTML))
	if err != nil {
		return "", err
	}
	doc.Find("script, style, noscript, template").Remove()

	var lines []string
	doc.Find("body").Each(func(_ int, body *goquery.Selection) {
		for _, chunk := range strings.Split(body.Text(), "\n") {
			chunk = strings.Join(strings.Fields(chunk), " ")
			if chunk != "" {
				lines = append(lines, chunk)
			}
		}
	})
	if len(lines) == 0 {
		// Pages served as fragments may lack a body element.
		text := strings.Join(strings.Fields(doc.Text()), " ")
		if text != "" {
			lines = append(lines, text)
		}
	}
	return strings.Join(lines, "\n"), nil
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
