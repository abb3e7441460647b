// internal/dom/fingerprint.go
package dom

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Fingerprint is the structural identity of a page element, independent of
// any observation-local index. Two elements with equal fingerprints are
// treated as the same logical element across DOM re-renders.
type Fingerprint struct {
	// BranchPathHash digests the ancestor tag chain from the document root.
	BranchPathHash string `json:"branch_path_hash"`
	// AttributesHash digests the element's attributes in sorted order.
	AttributesHash string `json:"attributes_hash"`
	// PositionHash digests the position-qualified xpath, which encodes
	// sibling order and therefore distinguishes structural twins.
	PositionHash string `json:"position_hash"`
}

// Equal reports full fingerprint equality.
func (f Fingerprint) Equal(other Fingerprint) bool {
	return f.BranchPathHash == other.BranchPathHash &&
		f.AttributesHash == other.AttributesHash &&
		f.PositionHash == other.PositionHash
}

func hashString(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// ComputeFingerprint derives the structural fingerprint of an element.
func ComputeFingerprint(n *ElementNode) Fingerprint {
	return Fingerprint{
		BranchPathHash: hashString(strings.Join(n.ParentBranchPath(), "/")),
		AttributesHash: hashString(n.AttributesString()),
		PositionHash:   hashString(n.XPath),
	}
}

// HistoryElement is the serializable record of an element the agent
// interacted with. It carries everything needed to re-identify the element
// in a future, re-rendered DOM tree; it never stores a live reference.
type HistoryElement struct {
	Tag              string            `json:"tag"`
	XPath            string            `json:"xpath"`
	HighlightIndex   *int              `json:"highlight_index,omitempty"`
	ParentBranchPath []string          `json:"parent_branch_path"`
	Attributes       map[string]string `json:"attributes,omitempty"`
	Fingerprint      Fingerprint       `json:"fingerprint"`
}

// NewHistoryElement snapshots an element for the history log.
func NewHistoryElement(n *ElementNode) *HistoryElement {
	if n == nil {
		return nil
	}
	var idx *int
	if n.HighlightIndex != nil {
		v := *n.HighlightIndex
		idx = &v
	}
	attrs := make(map[string]string, len(n.Attributes))
	for k, v := range n.Attributes {
		attrs[k] = v
	}
	return &HistoryElement{
		Tag:              n.Tag,
		XPath:            n.XPath,
		HighlightIndex:   idx,
		ParentBranchPath: n.ParentBranchPath(),
		Attributes:       attrs,
		Fingerprint:      ComputeFingerprint(n),
	}
}
