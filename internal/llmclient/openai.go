// internal/llmclient/openai.go
package llmclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/webpilot-ai/webpilot/api/schemas"
	"github.com/webpilot-ai/webpilot/internal/config"
)

// OpenAIClient serves any OpenAI-compatible chat-completions endpoint,
// including OpenRouter-style gateways via the base_url override.
type OpenAIClient struct {
	client  *openai.Client
	cfg     config.LLMModelConfig
	limiter *rate.Limiter
	logger  *zap.Logger
}

var _ schemas.LLMClient = (*OpenAIClient)(nil)

// NewOpenAIClient initializes the client.
func NewOpenAIClient(cfg config.LLMModelConfig, logger *zap.Logger) (*OpenAIClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai API key is required")
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	if cfg.APITimeout > 0 {
		clientCfg.HTTPClient = &http.Client{Timeout: cfg.APITimeout}
	}
	return &OpenAIClient{
		client:  openai.NewClientWithConfig(clientCfg),
		cfg:     cfg,
		limiter: newLimiter(cfg.RequestsPerMinute),
		logger:  logger.Named("llm_client.openai"),
	}, nil
}

// Generate sends the bounded message sequence to the chat-completions API,
// retrying transient failures with exponential backoff.
func (c *OpenAIClient) Generate(ctx context.Context, req schemas.GenerationRequest) (*schemas.GenerationResponse, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter wait cancelled: %w", err)
		}
	}

	chatReq := openai.ChatCompletionRequest{
		Model:       c.cfg.Model,
		Messages:    toChatMessages(req.System, req.Messages),
		Temperature: req.Options.Temperature,
	}
	if req.Options.MaxOutputTokens > 0 {
		chatReq.MaxTokens = req.Options.MaxOutputTokens
	} else if c.cfg.MaxTokens > 0 {
		chatReq.MaxTokens = c.cfg.MaxTokens
	}
	if req.Options.ForceJSONFormat {
		chatReq.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = 2 * time.Minute
	b.MaxInterval = 30 * time.Second

	var out *schemas.GenerationResponse
	operation := func() error {
		start := time.Now()
		resp, err := c.client.CreateChatCompletion(ctx, chatReq)
		if err != nil {
			return classifyOpenAIError(err)
		}
		if len(resp.Choices) == 0 {
			return backoff.Permanent(fmt.Errorf("chat completion returned no choices"))
		}
		content := resp.Choices[0].Message.Content
		if strings.TrimSpace(content) == "" {
			return fmt.Errorf("chat completion returned empty content")
		}

		out = &schemas.GenerationResponse{
			Content:          content,
			Model:            c.cfg.Model,
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
		}
		c.logger.Debug("LLM generation complete (OpenAI)",
			zap.Duration("duration", time.Since(start)),
			zap.Int("prompt_tokens", out.PromptTokens),
			zap.Int("completion_tokens", out.CompletionTokens))
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(b, ctx)); err != nil {
		return nil, fmt.Errorf("openai generation failed: %w", err)
	}
	return out, nil
}

func toChatMessages(system string, msgs []schemas.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(msgs)+1)
	if system != "" {
		out = append(out, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		})
	}
	for _, m := range msgs {
		role := openai.ChatMessageRoleUser
		switch m.Role {
		case schemas.RoleAssistant:
			role = openai.ChatMessageRoleAssistant
		case schemas.RoleSystem:
			role = openai.ChatMessageRoleSystem
		}
		out = append(out, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}
	return out
}

// classifyOpenAIError decides whether an API failure is worth retrying.
func classifyOpenAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.HTTPStatusCode {
		case http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusServiceUnavailable:
			return err // Transient, retry.
		default:
			return backoff.Permanent(err)
		}
	}
	return err
}
