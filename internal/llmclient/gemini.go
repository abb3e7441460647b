// internal/llmclient/gemini.go
package llmclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"google.golang.org/genai"

	"github.com/webpilot-ai/webpilot/api/schemas"
	"github.com/webpilot-ai/webpilot/internal/config"
)

// GeminiClient serves requests through the official genai SDK.
type GeminiClient struct {
	client  *genai.Client
	cfg     config.LLMModelConfig
	limiter *rate.Limiter
	logger  *zap.Logger
}

var _ schemas.LLMClient = (*GeminiClient)(nil)

// NewGeminiClient initializes the SDK client.
func NewGeminiClient(ctx context.Context, cfg config.LLMModelConfig, logger *zap.Logger) (*GeminiClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	return &GeminiClient{
		client:  client,
		cfg:     cfg,
		limiter: newLimiter(cfg.RequestsPerMinute),
		logger:  logger.Named("llm_client.gemini"),
	}, nil
}

// newLimiter builds a per-minute rate limiter; nil disables throttling.
func newLimiter(perMinute int) *rate.Limiter {
	if perMinute <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), 1)
}

// Generate sends the bounded message sequence to Gemini, retrying
// transient failures with exponential backoff.
func (c *GeminiClient) Generate(ctx context.Context, req schemas.GenerationRequest) (*schemas.GenerationResponse, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter wait cancelled: %w", err)
		}
	}

	contents, hoisted := toGenaiContents(req.Messages)
	genConfig := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(req.Options.Temperature),
	}
	if system := joinSystemText(req.System, hoisted); system != "" {
		genConfig.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: system}},
		}
	}
	if req.Options.MaxOutputTokens > 0 {
		genConfig.MaxOutputTokens = int32(req.Options.MaxOutputTokens)
	} else if c.cfg.MaxTokens > 0 {
		genConfig.MaxOutputTokens = int32(c.cfg.MaxTokens)
	}
	if req.Options.ForceJSONFormat {
		genConfig.ResponseMIMEType = "application/json"
	}

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = 2 * time.Minute
	b.MaxInterval = 30 * time.Second

	var out *schemas.GenerationResponse
	operation := func() error {
		callCtx := ctx
		if c.cfg.APITimeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, c.cfg.APITimeout)
			defer cancel()
		}

		start := time.Now()
		resp, err := c.client.Models.GenerateContent(callCtx, c.cfg.Model, contents, genConfig)
		if err != nil {
			return classifyGenaiError(err)
		}

		text := resp.Text()
		if strings.TrimSpace(text) == "" {
			return backoff.Permanent(fmt.Errorf("gemini returned no text content"))
		}

		out = &schemas.GenerationResponse{
			Content: text,
			Model:   c.cfg.Model,
		}
		if resp.UsageMetadata != nil {
			out.PromptTokens = int(resp.UsageMetadata.PromptTokenCount)
			out.CompletionTokens = int(resp.UsageMetadata.CandidatesTokenCount)
		}

		c.logger.Debug("LLM generation complete (Gemini)",
			zap.Duration("duration", time.Since(start)),
			zap.Int("prompt_tokens", out.PromptTokens),
			zap.Int("completion_tokens", out.CompletionTokens))
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(b, ctx)); err != nil {
		return nil, fmt.Errorf("gemini generation failed: %w", err)
	}
	return out, nil
}

// toGenaiContents converts the conversation, hoisting system-role messages
// out of the turn sequence: the Gemini API carries them as a separate
// system instruction, not as user content.
func toGenaiContents(msgs []schemas.Message) ([]*genai.Content, string) {
	contents := make([]*genai.Content, 0, len(msgs))
	var system []string
	for _, m := range msgs {
		if m.Role == schemas.RoleSystem {
			system = append(system, m.Content)
			continue
		}
		role := genai.RoleUser
		if m.Role == schemas.RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, &genai.Content{
			Role:  role,
			Parts: []*genai.Part{{Text: m.Content}},
		})
	}
	return contents, strings.Join(system, "\n\n")
}

func joinSystemText(parts ...string) string {
	var nonEmpty []string
	for _, p := range parts {
		if p != "" {
			nonEmpty = append(nonEmpty, p)
		}
	}
	return strings.Join(nonEmpty, "\n\n")
}

// classifyGenaiError decides whether an API failure is worth retrying.
func classifyGenaiError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusServiceUnavailable:
			return err // Transient, retry.
		default:
			return backoff.Permanent(err)
		}
	}
	// Network-level failures are retryable.
	return err
}
