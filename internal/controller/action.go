// internal/controller/action.go
package controller

import (
	"encoding/json"
	"fmt"

	jsoniter "github.com/json-iterator/go"
)

var jsonIter = jsoniter.ConfigCompatibleWithStandardLibrary

// Action is one model-chosen operation: a variant tag plus the tag-specific
// parameter payload. On the wire it is a one-key object, e.g.
// {"click_element_by_index": {"index": 4}}.
type Action struct {
	Name   string
	Params json.RawMessage
}

// UnmarshalJSON accepts the one-key wire form.
func (a *Action) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := jsonIter.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("action is not a JSON object: %w", err)
	}
	if len(raw) != 1 {
		return fmt.Errorf("action must have exactly one tag, got %d", len(raw))
	}
	for name, params := range raw {
		a.Name = name
		a.Params = params
	}
	if len(a.Params) == 0 || string(a.Params) == "null" {
		a.Params = json.RawMessage("{}")
	}
	return nil
}

// MarshalJSON emits the one-key wire form.
func (a Action) MarshalJSON() ([]byte, error) {
	if a.Name == "" {
		return nil, fmt.Errorf("cannot marshal an action without a tag")
	}
	params := a.Params
	if len(params) == 0 {
		params = json.RawMessage("{}")
	}
	return jsonIter.Marshal(map[string]json.RawMessage{a.Name: params})
}

// indexedParams is the common shape of element-targeting parameters.
type indexedParams struct {
	Index *int `json:"index"`
}

// Index returns the element index this action targets, or nil for actions
// that do not touch page content.
func (a Action) Index() *int {
	var p indexedParams
	if err := jsonIter.Unmarshal(a.Params, &p); err != nil {
		return nil
	}
	return p.Index
}

// SetIndex rewrites the target element index in place. Used by the
// replayer after re-resolving an element in a fresh DOM.
func (a *Action) SetIndex(index int) error {
	if a.Index() == nil {
		return fmt.Errorf("action %q does not carry an element index", a.Name)
	}
	var params map[string]interface{}
	if err := jsonIter.Unmarshal(a.Params, &params); err != nil {
		return fmt.Errorf("failed to decode %q params: %w", a.Name, err)
	}
	params["index"] = index
	updated, err := jsonIter.Marshal(params)
	if err != nil {
		return fmt.Errorf("failed to re-encode %q params: %w", a.Name, err)
	}
	a.Params = updated
	return nil
}

// String renders the action compactly for logs.
func (a Action) String() string {
	return fmt.Sprintf("%s(%s)", a.Name, string(a.Params))
}

// DoneActionName is the tag of the terminal action.
const DoneActionName = "done"

// IsDone reports whether this is the terminal action.
func (a Action) IsDone() bool { return a.Name == DoneActionName }
