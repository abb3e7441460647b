// internal/dom/matcher.go
package dom

// FindMatch locates the element in the given tree whose fingerprint
// identifies the same logical element as target, or reports not-found.
//
// Matching is purely structural: branch-path hash equality first (cheap and
// highly selective), then the attributes hash, then the position hash to
// break remaining ties. Numeric indices are observation-local and play no
// part here.
//
// Tolerance: when branch path and attributes identify exactly one element
// but its sibling position shifted since it was recorded, that element is
// still accepted as the same logical element. With several structural twins
// and no position match the lookup reports not-found rather than guessing.
func FindMatch(target Fingerprint, root *ElementNode) (*ElementNode, bool) {
	if root == nil {
		return nil, false
	}

	var byBranch []*ElementNode
	state := &State{Root: root}
	state.Walk(func(n *ElementNode) {
		if !n.IsInteractive {
			return
		}
		if ComputeFingerprint(n).BranchPathHash == target.BranchPathHash {
			byBranch = append(byBranch, n)
		}
	})

	var byAttrs []*ElementNode
	for _, c := range byBranch {
		if ComputeFingerprint(c).AttributesHash == target.AttributesHash {
			byAttrs = append(byAttrs, c)
		}
	}
	if len(byAttrs) == 0 {
		return nil, false
	}

	for _, c := range byAttrs {
		if ComputeFingerprint(c).PositionHash == target.PositionHash {
			return c, true
		}
	}
	if len(byAttrs) == 1 {
		return byAttrs[0], true
	}
	return nil, false
}

// FindHistoryElement re-resolves a recorded element against a fresh
// observation. The caller reads the match's current highlight index, which
// replaces the recorded (stale) one.
func FindHistoryElement(recorded *HistoryElement, state *State) (*ElementNode, bool) {
	if recorded == nil || state == nil {
		return nil, false
	}
	return FindMatch(recorded.Fingerprint, state.Root)
}
