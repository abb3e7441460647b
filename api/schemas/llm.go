// api/schemas/llm.go
package schemas

import "context"

// MessageRole identifies the author of a conversation entry sent to a model.
type MessageRole string

const (
	RoleSystem    MessageRole = "system"
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
)

// Message is one ordered entry in the bounded conversation sent to a model.
// Kind tags entries the assembler manages specially (the fixed instructions
// entry and the per-step observation entry); providers ignore it.
type Message struct {
	Role    MessageRole `json:"role"`
	Content string      `json:"content"`
	Kind    MessageKind `json:"kind,omitempty"`
}

// MessageKind classifies a message for the context assembler's bookkeeping.
type MessageKind string

const (
	// KindInstructions marks the fixed instructions entry. It is constructed
	// once per run and never dropped.
	KindInstructions MessageKind = "instructions"
	// KindObservation marks the single current-observation entry. It is
	// removed again as soon as the model has responded.
	KindObservation MessageKind = "observation"
)

// ModelTier selects which configured model class should serve a request.
type ModelTier string

const (
	TierFast     ModelTier = "fast"
	TierPowerful ModelTier = "powerful"
)

// GenerationOptions carries per-request generation parameters.
type GenerationOptions struct {
	// ForceJSONFormat asks the provider for its structured/JSON response
	// mode. Providers without one fall back to plain text; callers must
	// still parse defensively.
	ForceJSONFormat bool
	Temperature     float32
	MaxOutputTokens int
}

// GenerationRequest is the provider-independent input for one model call.
type GenerationRequest struct {
	System   string
	Messages []Message
	Tier     ModelTier
	Options  GenerationOptions
}

// GenerationResponse is the provider-independent result of one model call.
type GenerationResponse struct {
	Content          string
	Model            string
	PromptTokens     int
	CompletionTokens int
}

// LLMClient is the contract every model provider client satisfies. Network
// behavior, retries against rate limits, and provider request shaping all
// live behind this interface.
type LLMClient interface {
	Generate(ctx context.Context, req GenerationRequest) (*GenerationResponse, error)
}
