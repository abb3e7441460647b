// internal/dom/serializer.go
package dom

import (
	"fmt"
	"strings"
)

// DefaultIncludeAttributes is the attribute whitelist rendered into the
// element listing shown to the model.
var DefaultIncludeAttributes = []string{
	"title", "type", "name", "role", "href", "value",
	"placeholder", "aria-label", "alt",
}

// ClickableElementsToString renders every indexed element as one line of
// the form `[3]<button type=submit>Sign in</button>`, in document order.
// This listing is the model's textual view of the page.
func (s *State) ClickableElementsToString(includeAttributes []string) string {
	if includeAttributes == nil {
		includeAttributes = DefaultIncludeAttributes
	}

	var b strings.Builder
	s.Walk(func(n *ElementNode) {
		if n.HighlightIndex == nil {
			return
		}
		b.WriteString(fmt.Sprintf("[%d]<%s", *n.HighlightIndex, n.Tag))
		for _, attr := range includeAttributes {
			if v, ok := n.Attributes[attr]; ok && v != "" {
				b.WriteString(fmt.Sprintf(" %s=%q", attr, v))
			}
		}
		b.WriteString(">")
		b.WriteString(elementText(n))
		b.WriteString(fmt.Sprintf("</%s>\n", n.Tag))
	})
	return strings.TrimRight(b.String(), "\n")
}

// elementText prefers the element's own text and falls back to the first
// descendant text, so wrapper elements like <button><span>Go</span></button>
// still render something useful.
func elementText(n *ElementNode) string {
	if n.Text != "" {
		return n.Text
	}
	for _, c := range n.Children {
		// Do not steal text that belongs to a nested indexed element.
		if c.HighlightIndex != nil {
			continue
		}
		if t := elementText(c); t != "" {
			return t
		}
	}
	return ""
}
