package reasoning

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"quorum/internal/config"
	"quorum/internal/types"
)

// New selects the reasoning client for the configured provider.
func New(ctx context.Context, cfg config.LLMConfig, logger *zap.Logger) (types.ReasoningClient, error) {
	switch cfg.Provider {
	case "gemini":
		return NewGeminiClient(ctx, cfg, logger)
	case "openai-compatible", "":
		return NewOpenAIClient(cfg, logger), nil
	default:
		return nil, fmt.Errorf("unknown LLM provider %q", cfg.Provider)
	}
}
