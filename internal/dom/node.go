// internal/dom/node.go
package dom

import (
	"fmt"
	"sort"
	"strings"
)

// ElementNode is one element in the observed page tree. Nodes are rebuilt
// from scratch on every observation; nothing here refers back to a live
// browser object.
type ElementNode struct {
	Tag        string            `json:"tag"`
	XPath      string            `json:"xpath"`
	Attributes map[string]string `json:"attributes,omitempty"`
	// Text is the element's own trimmed text content, not including
	// descendant element text.
	Text string `json:"text,omitempty"`

	Parent   *ElementNode   `json:"-"`
	Children []*ElementNode `json:"-"`

	IsInteractive bool `json:"is_interactive"`
	IsVisible     bool `json:"is_visible"`

	// HighlightIndex is the observation-local index assigned to
	// interactable elements. Nil for everything else. Indices are never
	// stable across observations; only fingerprints are.
	HighlightIndex *int `json:"highlight_index,omitempty"`
}

// ParentBranchPath returns the chain of ancestor tag names from the
// document root down to (and including) this element.
func (n *ElementNode) ParentBranchPath() []string {
	var chain []string
	for cur := n; cur != nil; cur = cur.Parent {
		chain = append(chain, cur.Tag)
	}
	// Reverse into root-first order.
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain
}

// AttributesString renders the attribute map in a deterministic order,
// suitable for hashing.
func (n *ElementNode) AttributesString() string {
	keys := make([]string, 0, len(n.Attributes))
	for k := range n.Attributes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+n.Attributes[k])
	}
	return strings.Join(parts, "|")
}

// String renders a short, human-readable description of the element.
func (n *ElementNode) String() string {
	idx := "-"
	if n.HighlightIndex != nil {
		idx = fmt.Sprintf("%d", *n.HighlightIndex)
	}
	return fmt.Sprintf("<%s index=%s xpath=%s>", n.Tag, idx, n.XPath)
}

// State is the result of one page observation: the parsed element tree and
// the observation-scoped selector map. A State must never be used to
// resolve indices against a later observation.
type State struct {
	URL         string
	Root        *ElementNode
	SelectorMap map[int]*ElementNode
}

// BranchPathHashes returns the branch-path hash of every interactable
// element in the selector map. The dispatcher snapshots this set before a
// batch to detect pages changing underneath it.
func (s *State) BranchPathHashes() []string {
	hashes := make([]string, 0, len(s.SelectorMap))
	for _, el := range s.SelectorMap {
		hashes = append(hashes, ComputeFingerprint(el).BranchPathHash)
	}
	return hashes
}

// Walk visits every node of the tree in depth-first document order.
func (s *State) Walk(visit func(*ElementNode)) {
	var rec func(*ElementNode)
	rec = func(n *ElementNode) {
		if n == nil {
			return
		}
		visit(n)
		for _, c := range n.Children {
			rec(c)
		}
	}
	rec(s.Root)
}
