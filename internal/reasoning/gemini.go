package reasoning

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"quorum/internal/config"
	"quorum/internal/types"
)

// GeminiClient backs the reasoning collaborator with Google's Gemini API.
type GeminiClient struct {
	client *genai.Client
	cfg    config.LLMConfig
	logger *zap.Logger
}

// NewGeminiClient creates a Gemini-backed reasoning client.
func NewGeminiClient(ctx context.Context, cfg config.LLMConfig, logger *zap.Logger) (*GeminiClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("Gemini API key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey: cfg.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	return &GeminiClient{client: client, cfg: cfg, logger: logger}, nil
}

// Contribute implements types.ReasoningClient.
func (c *GeminiClient) Contribute(ctx context.Context, req types.ContributionRequest) (*types.ContributionResult, error) {
	raw, cu, err := c.generate(ctx, buildSystemPrompt(req)+"\n\n"+buildUserPrompt(req))
	if err != nil {
		return nil, err
	}
	return parseContribution(raw, cu), nil
}

// Decide implements types.ReasoningClient.
func (c *GeminiClient) Decide(ctx context.Context, prompt string) (string, types.CallUsage, error) {
	return c.generate(ctx, prompt)
}

func (c *GeminiClient) generate(ctx context.Context, prompt string) (string, types.CallUsage, error) {
	temp := float32(c.cfg.Temperature)
	result, err := c.client.Models.GenerateContent(ctx,
		c.cfg.Model,
		genai.Text(prompt),
		&genai.GenerateContentConfig{
			Temperature:     &temp,
			MaxOutputTokens: int32(c.cfg.MaxTokens),
		},
	)
	if err != nil {
		return "", types.CallUsage{}, fmt.Errorf("Gemini generate failed: %w", err)
	}

	var cu types.CallUsage
	if result.UsageMetadata != nil {
		cu.InputTokens = int(result.UsageMetadata.PromptTokenCount)
		cu.OutputTokens = int(result.UsageMetadata.CandidatesTokenCount)
	}
	cu.Cost = priceTokens(cu, c.cfg)

	text := strings.TrimSpace(result.Text())
	if text == "" {
		return "", cu, fmt.Errorf("empty Gemini response")
	}
	return text, cu, nil
}

// GeminiEmbedder provides batch embeddings for the embedding-based
// convergence scorer.
type GeminiEmbedder struct {
	client *genai.Client
	model  string
}

// NewGeminiEmbedder creates an embedder for the configured model.
func NewGeminiEmbedder(ctx context.Context, apiKey, model string) (*GeminiEmbedder, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("Gemini API key is required")
	}
	if model == "" {
		model = "gemini-embedding-001"
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey: apiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	return &GeminiEmbedder{client: client, model: model}, nil
}

// EmbedAll embeds all texts in one batch call.
func (e *GeminiEmbedder) EmbedAll(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	contents := make([]*genai.Content, len(texts))
	for i, t := range texts {
		contents[i] = genai.NewContentFromText(t, genai.RoleUser)
	}
	result, err := e.client.Models.EmbedContent(ctx,
		e.model,
		contents,
		&genai.EmbedContentConfig{
			TaskType: "SEMANTIC_SIMILARITY",
		},
	)
	if err != nil {
		return nil, fmt.Errorf("Gemini embed failed: %w", err)
	}
	if len(result.Embeddings) != len(texts) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(texts), len(result.Embeddings))
	}
	out := make([][]float32, len(result.Embeddings))
	for i, emb := range result.Embeddings {
		out[i] = emb.Values
	}
	return out, nil
}
