package deliberation

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"quorum/internal/checkpoint"
	"quorum/internal/config"
	"quorum/internal/types"
	"quorum/internal/usage"
)

const (
	testContributionCost = 0.01
	testDecideCost       = 0.005
)

// --- scriptedClient ---

// scriptedClient implements types.ReasoningClient for tests. The
// contribute hook decides each persona's reply per round; decide
// dispatches on the prompt's leading verb the way the real prompts are
// built.
type scriptedClient struct {
	mu sync.Mutex

	contribute func(req types.ContributionRequest) (*types.ContributionResult, error)
	decompose  string // JSON reply for decomposition prompts

	requests []types.ContributionRequest
	decides  []string
}

func (c *scriptedClient) Contribute(_ context.Context, req types.ContributionRequest) (*types.ContributionResult, error) {
	c.mu.Lock()
	c.requests = append(c.requests, req)
	hook := c.contribute
	c.mu.Unlock()

	if hook != nil {
		return hook(req)
	}
	return agreeingReply(req), nil
}

func (c *scriptedClient) Decide(_ context.Context, prompt string) (string, types.CallUsage, error) {
	c.mu.Lock()
	c.decides = append(c.decides, prompt)
	c.mu.Unlock()

	cu := types.CallUsage{InputTokens: 200, OutputTokens: 100, Cost: testDecideCost}
	switch {
	case strings.HasPrefix(prompt, "Decompose"):
		return c.decompose, cu, nil
	case strings.HasPrefix(prompt, "Synthesize"):
		return `{"recommendation":"adopt the panel position","confidence":0.8,"key_points":["kp1"],"assumptions":["a1"]}`, cu, nil
	case strings.HasPrefix(prompt, "Integrate"):
		return `{"executive_summary":"all facets resolved","recommendation":"proceed","insights":["i1","i2","i3"],"tensions":["t1"]}`, cu, nil
	default:
		return "{}", cu, nil
	}
}

// Requests returns a copy of every contribution request seen.
func (c *scriptedClient) Requests() []types.ContributionRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]types.ContributionRequest(nil), c.requests...)
}

// agreeingReply converges the panel from round 2 onward: earlier rounds
// give each persona a sharply divergent position so the lexical scorer
// stays well below the consensus threshold, later rounds an identical
// one so it clears it.
func agreeingReply(req types.ContributionRequest) *types.ContributionResult {
	cu := types.CallUsage{InputTokens: 100, OutputTokens: 80, Cost: testContributionCost}
	code := req.Persona.Code
	if req.Round < 2 {
		return &types.ContributionResult{
			Text: fmt.Sprintf("%s emphasizes %s-alpha %s-beta %s-gamma %s-delta considerations",
				code, code, code, code, code),
			Stance:     pickStance(code),
			Confidence: 0.5,
			Usage:      cu,
		}
	}
	return &types.ContributionResult{
		Text:       "the panel should adopt the incremental option for " + req.SubProblem.ID,
		Stance:     "support the incremental option",
		Vote:       "incremental",
		Confidence: 0.9,
		Usage:      cu,
	}
}

func pickStance(code string) string {
	if len(code)%2 == 0 {
		return "support"
	}
	return "oppose"
}

// --- stubHuman ---

type stubHuman struct {
	mu         sync.Mutex
	resolution types.PauseResolution
	events     []types.PauseEvent
}

func (h *stubHuman) Resolve(_ context.Context, ev types.PauseEvent) (types.PauseResolution, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, ev)
	return h.resolution, nil
}

func (h *stubHuman) Events() []types.PauseEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]types.PauseEvent(nil), h.events...)
}

// --- stubResearch ---

type stubResearch struct {
	mu      sync.Mutex
	batches [][]string
	cost    float64
}

func (r *stubResearch) Research(_ context.Context, questions []string) ([]types.ResearchAnswer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = append(r.batches, questions)
	out := make([]types.ResearchAnswer, len(questions))
	for i, q := range questions {
		out[i] = types.ResearchAnswer{Question: q, Answer: "finding for " + q, Confidence: 0.6, Cost: r.cost}
	}
	return out, nil
}

func (r *stubResearch) Batches() [][]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]string(nil), r.batches...)
}

// --- fixture ---

type fixture struct {
	client   *scriptedClient
	store    *checkpoint.MemoryStore
	human    *stubHuman
	research *stubResearch
	ledger   *usage.Ledger
	orch     *Orchestrator
	cfg      config.Config
}

func decomposeJSON(goals ...string) string {
	parts := make([]string, len(goals))
	for i, g := range goals {
		parts[i] = fmt.Sprintf(`{"goal":%q,"complexity":0.1}`, g)
	}
	return `{"sub_problems":[` + strings.Join(parts, ",") + `],"gap_questions":[]}`
}

func newFixture(t *testing.T, client *scriptedClient, mutate func(*config.Config)) *fixture {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.WorkDir = t.TempDir()
	if mutate != nil {
		mutate(&cfg)
	}

	ledger, err := usage.NewLedger("test", "")
	require.NoError(t, err)

	f := &fixture{
		client:   client,
		store:    checkpoint.NewMemoryStore(),
		human:    &stubHuman{},
		research: &stubResearch{cost: 0.002},
		ledger:   ledger,
		cfg:      cfg,
	}
	f.orch, err = New(cfg, Options{
		Client:   client,
		Research: f.research,
		Human:    f.human,
		Store:    f.store,
		Ledger:   ledger,
	})
	require.NoError(t, err)
	return f
}
