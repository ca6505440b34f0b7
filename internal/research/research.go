// Package research implements the research collaborator as a web search
// over the DuckDuckGo HTML interface. Questions in a batch run
// concurrently with bounded parallelism; each answered question carries
// its flat per-query cost so the round controller can record the batch.
package research

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/net/html"
	"golang.org/x/sync/errgroup"

	"quorum/internal/config"
	"quorum/internal/types"
)

const (
	defaultBaseURL = "https://html.duckduckgo.com/html/"
	maxResults     = 5
	maxParallel    = 3
)

// WebResearcher answers research questions with HTML search results.
type WebResearcher struct {
	cfg        config.ResearchConfig
	httpClient *http.Client
	logger     *zap.Logger
}

// New creates a researcher for the configured endpoint.
func New(cfg config.ResearchConfig, logger *zap.Logger) *WebResearcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	return &WebResearcher{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		logger: logger,
	}
}

// Research implements types.ResearchClient. A question whose search
// fails comes back with an empty answer and zero confidence rather than
// failing the batch.
func (r *WebResearcher) Research(ctx context.Context, questions []string) ([]types.ResearchAnswer, error) {
	if len(questions) == 0 {
		return nil, nil
	}

	answers := make([]types.ResearchAnswer, len(questions))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallel)

	for i, q := range questions {
		g.Go(func() error {
			results, err := r.search(gctx, q)
			if err != nil {
				r.logger.Warn("Research question failed", zap.String("question", q), zap.Error(err))
				answers[i] = types.ResearchAnswer{Question: q, Cost: r.cfg.CostPerQuery}
				return nil
			}
			answers[i] = answerFromResults(q, results, r.cfg.CostPerQuery)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	r.logger.Info("Research batch completed",
		zap.Int("questions", len(questions)),
		zap.Float64("cost", float64(len(questions))*r.cfg.CostPerQuery))
	return answers, nil
}

type searchResult struct {
	Title   string
	URL     string
	Snippet string
}

func answerFromResults(question string, results []searchResult, cost float64) types.ResearchAnswer {
	a := types.ResearchAnswer{Question: question, Cost: cost}
	if len(results) == 0 {
		return a
	}
	var parts []string
	for _, res := range results {
		if res.Snippet == "" {
			continue
		}
		parts = append(parts, res.Snippet)
		a.Sources = append(a.Sources, res.URL)
	}
	a.Answer = strings.Join(parts, " ")
	// Crude but monotone: more corroborating snippets, more confidence.
	a.Confidence = float64(len(parts)) / float64(maxResults)
	if a.Confidence > 0.9 {
		a.Confidence = 0.9
	}
	return a
}

func (r *WebResearcher) search(ctx context.Context, query string) ([]searchResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.cfg.BaseURL+"?q="+url.QueryEscape(query), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", r.cfg.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return parseResults(string(body))
}

// parseResults extracts search results from the DuckDuckGo HTML page,
// which marks each hit with class="result results_links".
func parseResults(page string) ([]searchResult, error) {
	doc, err := html.Parse(strings.NewReader(page))
	if err != nil {
		return nil, fmt.Errorf("parse HTML: %w", err)
	}

	var results []searchResult
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if len(results) >= maxResults {
			return
		}
		if n.Type == html.ElementNode && n.Data == "div" {
			for _, attr := range n.Attr {
				if attr.Key == "class" && strings.Contains(attr.Val, "results_links") {
					if res := extractResult(n); res.URL != "" && res.Title != "" {
						results = append(results, res)
					}
					return
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return results, nil
}

func extractResult(n *html.Node) searchResult {
	var res searchResult
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" {
			for _, attr := range n.Attr {
				if attr.Key != "class" {
					continue
				}
				if strings.Contains(attr.Val, "result__a") {
					res.URL = cleanURL(attrValue(n, "href"))
					res.Title = textContent(n)
				} else if strings.Contains(attr.Val, "result__snippet") {
					res.Snippet = textContent(n)
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return res
}

// cleanURL unwraps DuckDuckGo redirect links.
func cleanURL(raw string) string {
	const redirect = "//duckduckgo.com/l/?uddg="
	if !strings.HasPrefix(raw, redirect) {
		return raw
	}
	decoded, err := url.QueryUnescape(strings.TrimPrefix(raw, redirect))
	if err != nil {
		return raw
	}
	if idx := strings.Index(decoded, "&"); idx > 0 {
		decoded = decoded[:idx]
	}
	return decoded
}

func attrValue(n *html.Node, key string) string {
	for _, attr := range n.Attr {
		if attr.Key == key {
			return attr.Val
		}
	}
	return ""
}

func textContent(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(strings.TrimSpace(n.Data))
			b.WriteString(" ")
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.TrimSpace(b.String())
}
