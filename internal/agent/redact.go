// internal/agent/redact.go
package agent

import (
	"fmt"
	"sort"
	"strings"

	"github.com/webpilot-ai/webpilot/internal/controller"
)

// Redactor replaces literal secret values with opaque placeholder tokens
// before any text is retained in conversation context or history. The model
// only ever sees the placeholders; the dispatcher substitutes the real
// values back immediately before typing them into the page.
type Redactor struct {
	// flat secrets apply on every page.
	flat map[string]string
	// scoped secrets apply only on pages matching their domain pattern.
	scoped map[string]map[string]string
}

// NewRedactor builds a redactor from the configured sensitive-data map.
// Values are either strings (flat secrets) or nested maps keyed by a domain
// pattern ("*.example.com" → {key: value}).
func NewRedactor(sensitive map[string]interface{}) (*Redactor, error) {
	r := &Redactor{
		flat:   make(map[string]string),
		scoped: make(map[string]map[string]string),
	}
	for key, raw := range sensitive {
		switch v := raw.(type) {
		case string:
			r.flat[key] = v
		case map[string]interface{}:
			inner := make(map[string]string, len(v))
			for name, val := range v {
				s, ok := val.(string)
				if !ok {
					return nil, fmt.Errorf("sensitive data %s.%s must be a string", key, name)
				}
				inner[name] = s
			}
			r.scoped[key] = inner
		case map[string]string:
			r.scoped[key] = v
		default:
			return nil, fmt.Errorf("sensitive data %q must be a string or a domain-scoped map", key)
		}
	}
	return r, nil
}

// Placeholder is the opaque token substituted for a secret value.
func Placeholder(key string) string {
	return "<secret>" + key + "</secret>"
}

// activeSecrets returns key→value pairs applicable on the given page, with
// longer values first so overlapping secrets redact deterministically.
func (r *Redactor) activeSecrets(pageURL string) [][2]string {
	var pairs [][2]string
	for key, val := range r.flat {
		pairs = append(pairs, [2]string{key, val})
	}
	for pattern, inner := range r.scoped {
		if pageURL == "" || !controller.MatchDomain(pattern, pageURL) {
			continue
		}
		for key, val := range inner {
			pairs = append(pairs, [2]string{key, val})
		}
	}
	sort.Slice(pairs, func(i, j int) bool {
		if len(pairs[i][1]) != len(pairs[j][1]) {
			return len(pairs[i][1]) > len(pairs[j][1])
		}
		return pairs[i][0] < pairs[j][0]
	})
	return pairs
}

// Redact replaces every applicable secret value in text with its
// placeholder token.
func (r *Redactor) Redact(text, pageURL string) string {
	if r == nil || text == "" {
		return text
	}
	for _, pair := range r.activeSecrets(pageURL) {
		key, val := pair[0], pair[1]
		if val == "" {
			continue
		}
		text = strings.ReplaceAll(text, val, Placeholder(key))
	}
	return text
}

// Reveal substitutes placeholder tokens back with their real values. Used
// on model-provided action parameters just before execution, so secrets
// flow to the page without ever passing through retained context.
func (r *Redactor) Reveal(text, pageURL string) string {
	if r == nil || text == "" || !strings.Contains(text, "<secret>") {
		return text
	}
	for _, pair := range r.activeSecrets(pageURL) {
		key, val := pair[0], pair[1]
		text = strings.ReplaceAll(text, Placeholder(key), val)
	}
	return text
}

// HasSecrets reports whether any secret is configured at all.
func (r *Redactor) HasSecrets() bool {
	return r != nil && (len(r.flat) > 0 || len(r.scoped) > 0)
}

// Keys lists the configured secret names (never the values), for inclusion
// in the instructions entry so the model knows which placeholders exist.
func (r *Redactor) Keys() []string {
	if r == nil {
		return nil
	}
	var keys []string
	for key := range r.flat {
		keys = append(keys, key)
	}
	for _, inner := range r.scoped {
		for key := range inner {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys
}
