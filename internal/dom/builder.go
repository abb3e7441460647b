// internal/dom/builder.go
package dom

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html"
)

// Tags whose subtrees carry no interactable content.
var skippedTags = map[string]bool{
	"script":   true,
	"style":    true,
	"noscript": true,
	"template": true,
	"meta":     true,
	"link":     true,
	"svg":      true,
	"path":     true,
}

// Tags that are interactable by nature.
var interactiveTags = map[string]bool{
	"a":        true,
	"button":   true,
	"input":    true,
	"select":   true,
	"textarea": true,
	"summary":  true,
}

// ARIA roles that make an arbitrary element interactable.
var interactiveRoles = map[string]bool{
	"button":   true,
	"link":     true,
	"checkbox": true,
	"radio":    true,
	"tab":      true,
	"menuitem": true,
	"combobox": true,
	"switch":   true,
	"option":   true,
}

const maxOwnTextLength = 400

// BuildState parses raw page HTML into an element tree and assigns fresh
// highlight indices to the interactable, visible elements. Indices are
// valid only for this observation.
func BuildState(rawHTML, url string) (*State, error) {
	doc, err := html.Parse(strings.NewReader(rawHTML))
	if err != nil {
		return nil, fmt.Errorf("failed to parse page HTML: %w", err)
	}

	state := &State{
		URL:         url,
		SelectorMap: make(map[int]*ElementNode),
	}

	nextIndex := 0
	var build func(src *html.Node, parent *ElementNode, parentPath string) *ElementNode
	build = func(src *html.Node, parent *ElementNode, parentPath string) *ElementNode {
		if src.Type != html.ElementNode {
			return nil
		}
		tag := strings.ToLower(src.Data)
		if skippedTags[tag] {
			return nil
		}

		node := &ElementNode{
			Tag:        tag,
			Attributes: attributeMap(src),
			Parent:     parent,
			XPath:      parentPath + "/" + tag + "[" + strconv.Itoa(siblingPosition(src, tag)) + "]",
		}
		node.Text = ownText(src)
		node.IsVisible = isVisible(node) && (parent == nil || parent.IsVisible)
		node.IsInteractive = isInteractive(node)

		if node.IsInteractive && node.IsVisible {
			idx := nextIndex
			node.HighlightIndex = &idx
			state.SelectorMap[idx] = node
			nextIndex++
		}

		for child := src.FirstChild; child != nil; child = child.NextSibling {
			if built := build(child, node, node.XPath); built != nil {
				node.Children = append(node.Children, built)
			}
		}
		return node
	}

	// html.Parse wraps everything in a Document node; find the <html> element.
	for child := doc.FirstChild; child != nil; child = child.NextSibling {
		if child.Type == html.ElementNode {
			state.Root = build(child, nil, "")
			break
		}
	}
	if state.Root == nil {
		return nil, fmt.Errorf("page HTML contains no element tree")
	}
	return state, nil
}

func attributeMap(n *html.Node) map[string]string {
	if len(n.Attr) == 0 {
		return nil
	}
	attrs := make(map[string]string, len(n.Attr))
	for _, a := range n.Attr {
		attrs[strings.ToLower(a.Key)] = a.Val
	}
	return attrs
}

// siblingPosition returns the 1-based position of n among its same-tag
// element siblings, which makes the generated xpath position-qualified.
func siblingPosition(n *html.Node, tag string) int {
	pos := 1
	for sib := n.PrevSibling; sib != nil; sib = sib.PrevSibling {
		if sib.Type == html.ElementNode && strings.ToLower(sib.Data) == tag {
			pos++
		}
	}
	return pos
}

// ownText collects the element's immediate text children, collapsed and
// capped. Descendant element text is not included.
func ownText(n *html.Node) string {
	var parts []string
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		if child.Type == html.TextNode {
			if t := strings.TrimSpace(child.Data); t != "" {
				parts = append(parts, t)
			}
		}
	}
	text := strings.Join(parts, " ")
	if len(text) > maxOwnTextLength {
		cut := maxOwnTextLength
		// Back off to a rune boundary so the cap never emits invalid UTF-8.
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
		text = text[:cut]
	}
	return text
}

// isVisible applies static visibility heuristics. Without a layout engine
// only attribute-level signals are available.
func isVisible(n *ElementNode) bool {
	if _, hidden := n.Attributes["hidden"]; hidden {
		return false
	}
	if n.Attributes["aria-hidden"] == "true" {
		return false
	}
	if n.Tag == "input" && strings.EqualFold(n.Attributes["type"], "hidden") {
		return false
	}
	style := strings.ReplaceAll(strings.ToLower(n.Attributes["style"]), " ", "")
	if strings.Contains(style, "display:none") || strings.Contains(style, "visibility:hidden") {
		return false
	}
	return true
}

func isInteractive(n *ElementNode) bool {
	if interactiveTags[n.Tag] {
		return true
	}
	if _, ok := n.Attributes["onclick"]; ok {
		return true
	}
	if interactiveRoles[strings.ToLower(n.Attributes["role"])] {
		return true
	}
	if v, ok := n.Attributes["contenteditable"]; ok && !strings.EqualFold(v, "false") {
		return true
	}
	if tabindex, ok := n.Attributes["tabindex"]; ok {
		if v, err := strconv.Atoi(tabindex); err == nil && v >= 0 {
			return true
		}
	}
	return false
}
