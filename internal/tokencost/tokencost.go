// internal/tokencost/tokencost.go
package tokencost

import (
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/webpilot-ai/webpilot/api/schemas"
)

// Counter estimates token counts for prompt budgeting and step metadata.
// When the tiktoken encoding cannot be loaded (e.g. offline first run), it
// degrades to a bytes/4 heuristic instead of failing the step.
type Counter struct {
	once sync.Once
	enc  *tiktoken.Tiktoken
}

// NewCounter returns a lazily-initialized counter.
func NewCounter() *Counter {
	return &Counter{}
}

func (c *Counter) encoder() *tiktoken.Tiktoken {
	c.once.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err == nil {
			c.enc = enc
		}
	})
	return c.enc
}

// Count estimates the token count of a single text.
func (c *Counter) Count(text string) int {
	if enc := c.encoder(); enc != nil {
		return len(enc.Encode(text, nil, nil))
	}
	return len(text) / 4
}

// CountMessages estimates the total input tokens of a message sequence,
// with a small per-message envelope overhead.
func (c *Counter) CountMessages(system string, msgs []schemas.Message) int {
	const perMessageOverhead = 4
	total := c.Count(system) + perMessageOverhead
	for _, m := range msgs {
		total += c.Count(m.Content) + perMessageOverhead
	}
	return total
}

// Pricing is the per-million-token price of a model.
type Pricing struct {
	InputPerMTokens  float64
	OutputPerMTokens float64
}

// pricingTable holds known per-model prices in USD. Lookups match by model
// name prefix so dated releases (e.g. "gpt-4o-2024-08-06") resolve too.
var pricingTable = map[string]Pricing{
	"gemini-2.5-pro":   {InputPerMTokens: 1.25, OutputPerMTokens: 10.00},
	"gemini-2.5-flash": {InputPerMTokens: 0.30, OutputPerMTokens: 2.50},
	"gemini-2.0-flash": {InputPerMTokens: 0.10, OutputPerMTokens: 0.40},
	"gpt-4o-mini":      {InputPerMTokens: 0.15, OutputPerMTokens: 0.60},
	"gpt-4o":           {InputPerMTokens: 2.50, OutputPerMTokens: 10.00},
	"gpt-4.1":          {InputPerMTokens: 2.00, OutputPerMTokens: 8.00},
}

// LookupPricing resolves the pricing entry for a model, preferring the
// longest matching prefix.
func LookupPricing(model string) (Pricing, bool) {
	var best string
	for prefix := range pricingTable {
		if strings.HasPrefix(model, prefix) && len(prefix) > len(best) {
			best = prefix
		}
	}
	if best == "" {
		return Pricing{}, false
	}
	return pricingTable[best], true
}

// Cost returns the USD cost of one model call, or zero for unknown models.
func Cost(model string, promptTokens, completionTokens int) float64 {
	p, ok := LookupPricing(model)
	if !ok {
		return 0
	}
	return float64(promptTokens)/1e6*p.InputPerMTokens +
		float64(completionTokens)/1e6*p.OutputPerMTokens
}
