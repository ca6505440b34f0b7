package config

import "time"

// LLMConfig configures the reasoning-model collaborator.
type LLMConfig struct {
	Provider string `yaml:"provider"` // openai-compatible, gemini
	APIKey   string `yaml:"api_key"`
	Model    string `yaml:"model"`
	BaseURL  string `yaml:"base_url"`

	Timeout     time.Duration `yaml:"timeout"`
	MaxTokens   int           `yaml:"max_tokens"`
	Temperature float64       `yaml:"temperature"`

	// Pricing used for ledger accounting when the provider does not
	// report cost directly (USD per 1k tokens).
	InputCostPer1K  float64 `yaml:"input_cost_per_1k"`
	OutputCostPer1K float64 `yaml:"output_cost_per_1k"`

	// EmbeddingModel backs the embedding-based convergence scorer.
	// Empty selects the lexical scorer.
	EmbeddingModel string `yaml:"embedding_model"`
}

// DefaultLLMConfig returns sensible defaults for an OpenAI-compatible
// endpoint.
func DefaultLLMConfig() LLMConfig {
	return LLMConfig{
		Provider:        "openai-compatible",
		Model:           "gpt-4o-mini",
		BaseURL:         "https://api.openai.com/v1",
		Timeout:         120 * time.Second,
		MaxTokens:       1024,
		Temperature:     0.7,
		InputCostPer1K:  0.00015,
		OutputCostPer1K: 0.0006,
	}
}
