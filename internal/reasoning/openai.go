package reasoning

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"quorum/internal/config"
	"quorum/internal/types"
)

// OpenAIClient talks to any OpenAI-compatible chat completions endpoint.
type OpenAIClient struct {
	cfg        config.LLMConfig
	httpClient *http.Client
	logger     *zap.Logger

	mu          sync.Mutex
	lastRequest time.Time
}

// NewOpenAIClient creates a client for cfg.BaseURL.
func NewOpenAIClient(cfg config.LLMConfig, logger *zap.Logger) *OpenAIClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OpenAIClient{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		logger: logger,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// Contribute implements types.ReasoningClient.
func (c *OpenAIClient) Contribute(ctx context.Context, req types.ContributionRequest) (*types.ContributionResult, error) {
	raw, cu, err := c.complete(ctx, buildSystemPrompt(req), buildUserPrompt(req))
	if err != nil {
		return nil, err
	}
	return parseContribution(raw, cu), nil
}

// Decide implements types.ReasoningClient.
func (c *OpenAIClient) Decide(ctx context.Context, prompt string) (string, types.CallUsage, error) {
	return c.complete(ctx, "", prompt)
}

func (c *OpenAIClient) complete(ctx context.Context, systemPrompt, userPrompt string) (string, types.CallUsage, error) {
	if c.cfg.APIKey == "" {
		return "", types.CallUsage{}, fmt.Errorf("API key not configured")
	}

	// Pace requests: at least 500ms apart.
	c.mu.Lock()
	if elapsed := time.Since(c.lastRequest); elapsed < 500*time.Millisecond {
		time.Sleep(500*time.Millisecond - elapsed)
	}
	c.lastRequest = time.Now()
	c.mu.Unlock()

	messages := make([]chatMessage, 0, 2)
	if systemPrompt != "" {
		messages = append(messages, chatMessage{Role: "system", Content: systemPrompt})
	}
	messages = append(messages, chatMessage{Role: "user", Content: userPrompt})

	body, err := json.Marshal(chatRequest{
		Model:       c.cfg.Model,
		Messages:    messages,
		MaxTokens:   c.cfg.MaxTokens,
		Temperature: c.cfg.Temperature,
	})
	if err != nil {
		return "", types.CallUsage{}, fmt.Errorf("marshal request: %w", err)
	}

	const maxRetries = 3
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", types.CallUsage{}, ctx.Err()
			case <-time.After(time.Duration(1<<uint(attempt-1)) * time.Second):
			}
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/chat/completions", bytes.NewReader(body))
		if err != nil {
			return "", types.CallUsage{}, fmt.Errorf("create request: %w", err)
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			lastErr = fmt.Errorf("request failed: %w", err)
			if ctx.Err() != nil {
				return "", types.CallUsage{}, ctx.Err()
			}
			continue
		}

		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("read response: %w", err)
			continue
		}
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			lastErr = fmt.Errorf("API status %d", resp.StatusCode)
			c.logger.Warn("Retryable API error", zap.Int("status", resp.StatusCode), zap.Int("attempt", attempt))
			continue
		}
		if resp.StatusCode != http.StatusOK {
			return "", types.CallUsage{}, fmt.Errorf("API request failed with status %d: %s", resp.StatusCode, string(respBody))
		}

		var parsed chatResponse
		if err := json.Unmarshal(respBody, &parsed); err != nil {
			return "", types.CallUsage{}, fmt.Errorf("parse response: %w", err)
		}
		if parsed.Error != nil {
			return "", types.CallUsage{}, fmt.Errorf("API error: %s", parsed.Error.Message)
		}
		if len(parsed.Choices) == 0 {
			return "", types.CallUsage{}, fmt.Errorf("no completion returned")
		}

		cu := types.CallUsage{
			InputTokens:  parsed.Usage.PromptTokens,
			OutputTokens: parsed.Usage.CompletionTokens,
		}
		cu.Cost = priceTokens(cu, c.cfg)
		return strings.TrimSpace(parsed.Choices[0].Message.Content), cu, nil
	}

	return "", types.CallUsage{}, fmt.Errorf("max retries exceeded: %w", lastErr)
}

// priceTokens converts token counts to USD with the configured per-1k
// rates.
func priceTokens(cu types.CallUsage, cfg config.LLMConfig) float64 {
	return float64(cu.InputTokens)/1000*cfg.InputCostPer1K +
		float64(cu.OutputTokens)/1000*cfg.OutputCostPer1K
}
