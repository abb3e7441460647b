// internal/llmclient/factory.go
package llmclient

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/webpilot-ai/webpilot/api/schemas"
	"github.com/webpilot-ai/webpilot/internal/config"
)

// NewClient instantiates every configured model and wires them into a
// tiered router. The rest of the application sees a single LLMClient.
func NewClient(ctx context.Context, cfg config.LLMConfig, logger *zap.Logger) (schemas.LLMClient, error) {
	if len(cfg.Models) == 0 {
		return nil, fmt.Errorf("no LLM models configured under llm.models")
	}

	clients := make(map[string]schemas.LLMClient, len(cfg.Models))
	for name, modelCfg := range cfg.Models {
		var client schemas.LLMClient
		var err error
		switch modelCfg.Provider {
		case config.ProviderGemini:
			client, err = NewGeminiClient(ctx, modelCfg, logger)
		case config.ProviderOpenAI:
			client, err = NewOpenAIClient(modelCfg, logger)
		default:
			return nil, fmt.Errorf("unknown LLM provider %q for model %q", modelCfg.Provider, name)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to create LLM client for model %q: %w", name, err)
		}
		clients[name] = client
		logger.Info("Instantiated LLM client",
			zap.String("name", name),
			zap.String("provider", string(modelCfg.Provider)),
			zap.String("model", modelCfg.Model))
	}

	fast, ok := clients[cfg.DefaultFastModel]
	if !ok {
		return nil, fmt.Errorf("default fast model %q not found in configured models", cfg.DefaultFastModel)
	}
	powerful, ok := clients[cfg.DefaultPowerfulModel]
	if !ok {
		return nil, fmt.Errorf("default powerful model %q not found in configured models", cfg.DefaultPowerfulModel)
	}

	return NewRouter(logger, fast, powerful)
}
