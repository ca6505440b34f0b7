package deliberation

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quorum/internal/types"
	"quorum/internal/usage"
)

// decideClient lets a test script Decide directly; Contribute is never
// used by the synthesis engine.
type decideClient struct {
	reply string
	err   error
	cost  float64
}

func (c *decideClient) Contribute(context.Context, types.ContributionRequest) (*types.ContributionResult, error) {
	panic("synthesis never contributes")
}

func (c *decideClient) Decide(context.Context, string) (string, types.CallUsage, error) {
	if c.err != nil {
		return "", types.CallUsage{}, c.err
	}
	return c.reply, types.CallUsage{InputTokens: 300, OutputTokens: 150, Cost: c.cost}, nil
}

func synthState() *types.DeliberationState {
	st := &types.DeliberationState{
		SessionID: "synth-test",
		Problem:   types.Problem{Statement: "pick a database"},
		SubProblems: []types.SubProblem{
			{ID: "sp-1", Goal: "evaluate the candidates", Complexity: 0.4},
		},
		Panel: []types.Persona{
			{Code: "engineer"}, {Code: "economist"}, {Code: "operator"},
		},
		Round:           3,
		Trajectory:      []float64{0.4, 0.7, 0.93},
		SubProblemCost:  0.09,
		SubProblemStart: time.Now().Add(-2 * time.Minute),
	}
	for round := 0; round < 3; round++ {
		for _, code := range []string{"engineer", "economist", "operator"} {
			c := types.Contribution{
				PersonaCode: code,
				Round:       round,
				Text:        fmt.Sprintf("%s round %d position", code, round),
				Stance:      "leaning postgres",
			}
			if round == 2 {
				c.Vote = "postgres"
				c.Stance = "final: postgres"
			}
			st.Transcript = append(st.Transcript, c)
		}
	}
	// One dissenting final vote.
	st.Transcript[len(st.Transcript)-1].Vote = "mysql"
	return st
}

func newSynthesizer(t *testing.T, client types.ReasoningClient) (*Synthesizer, *usage.Ledger) {
	t.Helper()
	ledger, err := usage.NewLedger("synth-test", "")
	require.NoError(t, err)
	return NewSynthesizer(client, ledger, nil), ledger
}

func TestSubProblemSynthesis(t *testing.T) {
	client := &decideClient{
		reply: "```json\n" + `{"recommendation":"use postgres","confidence":0.85,"key_points":["mature tooling","team familiarity"],"assumptions":["load stays under 10k qps"]}` + "\n```",
		cost:  0.004,
	}
	s, ledger := newSynthesizer(t, client)
	st := synthState()

	result, err := s.SubProblem(context.Background(), st, types.StopConsensus, 5)
	require.NoError(t, err)

	assert.Equal(t, "sp-1", result.SubProblemID)
	assert.Equal(t, "evaluate the candidates", result.Goal)
	assert.Equal(t, types.StopConsensus, result.StopReason)
	assert.Equal(t, 3, result.RoundsUsed)
	assert.Equal(t, 5, result.RoundsSaved)
	assert.Equal(t, 9, result.ContributionCount)
	assert.Equal(t, []string{"engineer", "economist", "operator"}, result.Panel)
	assert.InDelta(t, 0.85, result.Confidence, 1e-9)
	assert.False(t, result.LimitedContext)
	assert.Positive(t, result.Duration)

	// Votes are tallied from the final round only.
	assert.Equal(t, map[string]int{"postgres": 2, "mysql": 1}, result.Votes)

	// The synthesis cost joins the sub-problem total.
	assert.InDelta(t, 0.09+0.004, result.Cost, 1e-9)
	assert.InDelta(t, 0.004, ledger.OperationCost("synthesis"), 1e-9)
	assert.InDelta(t, 0.004, st.CumulativeCost, 1e-9)

	assert.Contains(t, result.Synthesis, "## evaluate the candidates")
	assert.Contains(t, result.Synthesis, "**Recommendation:** use postgres")
	assert.Contains(t, result.Synthesis, "**Confidence:** 0.85")
	assert.Contains(t, result.Synthesis, "- mature tooling")
	assert.Contains(t, result.Synthesis, "**Assumptions:**")
	assert.NotContains(t, result.Synthesis, "### Assumptions & Limitations")

	// The final stance per persona becomes the carry-over summary.
	assert.Equal(t, "final: postgres", result.PersonaSummaries["engineer"])
}

func TestSubProblemSynthesisLimitedContext(t *testing.T) {
	client := &decideClient{
		reply: `{"recommendation":"proceed cautiously","confidence":0.5}`,
		cost:  0.004,
	}
	s, _ := newSynthesizer(t, client)
	st := synthState()
	st.BestEffortPromptInjected = true

	result, err := s.SubProblem(context.Background(), st, types.StopRoundCap, 0)
	require.NoError(t, err)

	assert.True(t, result.LimitedContext)
	assert.Contains(t, result.Synthesis, "### Assumptions & Limitations")
	assert.Contains(t, result.Synthesis, "limited-context mode",
		"a limited run without stated assumptions still gets the mandatory caveat")
}

func TestSubProblemSynthesisDegradesOnMalformedReply(t *testing.T) {
	client := &decideClient{reply: "I think the panel did great work overall.", cost: 0.004}
	s, _ := newSynthesizer(t, client)
	st := synthState()

	result, err := s.SubProblem(context.Background(), st, types.StopConsensus, 5)
	require.NoError(t, err, "an unusable model reply degrades, never fails")

	assert.Contains(t, result.Synthesis, "Final panel positions:")
	assert.Contains(t, result.Synthesis, "engineer: final: postgres")
	assert.InDelta(t, 0.3, result.Confidence, 1e-9)
}

func TestSubProblemSynthesisNoCurrent(t *testing.T) {
	s, _ := newSynthesizer(t, &decideClient{})
	st := synthState()
	st.Index = 1

	_, err := s.SubProblem(context.Background(), st, types.StopConsensus, 0)
	require.Error(t, err)
}

func TestMetaSynthesis(t *testing.T) {
	client := &decideClient{
		reply: `{"executive_summary":"two facets, one direction","recommendation":"adopt postgres everywhere","insights":["facet one insight","facet two insight"],"tensions":["cost vs familiarity"]}`,
		cost:  0.006,
	}
	s, ledger := newSynthesizer(t, client)
	st := &types.DeliberationState{
		SessionID:      "meta-test",
		Problem:        types.Problem{Statement: "standardize storage"},
		CumulativeCost: 0.20,
		Results: []types.SubProblemResult{
			{SubProblemID: "sp-1", Goal: "facet one", Synthesis: "## facet one\nbody", Panel: []string{"engineer"}, RoundsUsed: 3, StopReason: types.StopConsensus, ContributionCount: 9},
			{SubProblemID: "sp-2", Goal: "facet two", Synthesis: "## facet two\nbody", Panel: []string{"operator"}, RoundsUsed: 2, StopReason: types.StopConsensus, ContributionCount: 6},
		},
	}

	report, err := s.Meta(context.Background(), st)
	require.NoError(t, err)

	assert.InDelta(t, 0.006, st.MetaSynthesisCost, 1e-9)
	assert.InDelta(t, 0.206, st.CumulativeCost, 1e-9)
	assert.InDelta(t, 0.006, ledger.OperationCost("meta_synthesis"), 1e-9)

	assert.Contains(t, report, "# Deliberation Report")
	assert.Contains(t, report, "**Problem:** standardize storage")
	assert.Contains(t, report, "## Executive Summary\n\ntwo facets, one direction")
	assert.Contains(t, report, "## Recommendation\n\nadopt postgres everywhere")
	assert.Contains(t, report, "### 1. facet one")
	assert.Contains(t, report, "facet one insight")
	assert.Contains(t, report, "### 2. facet two")
	assert.Contains(t, report, "Panel: engineer. Rounds: 3. Stop: consensus.")
	assert.Contains(t, report, "## Tensions & Dependencies")
	assert.Contains(t, report, "- cost vs familiarity")
	assert.Contains(t, report, "Contributions: 15. Sub-problems: 2.")
}

func TestMetaSynthesisDegradesOnCallFailure(t *testing.T) {
	client := &decideClient{err: fmt.Errorf("upstream down")}
	s, ledger := newSynthesizer(t, client)
	st := &types.DeliberationState{
		Problem: types.Problem{Statement: "standardize storage"},
		Results: []types.SubProblemResult{
			{SubProblemID: "sp-1", Goal: "facet one", Synthesis: "Pick postgres. It is boring and proven."},
			{SubProblemID: "sp-2", Goal: "facet two", Synthesis: "Keep mysql for the legacy fleet."},
		},
	}

	report, err := s.Meta(context.Background(), st)
	require.NoError(t, err, "integration degrades rather than failing the session")

	assert.Zero(t, st.MetaSynthesisCost, "a failed call costs nothing")
	assert.Zero(t, ledger.OperationCost("meta_synthesis"))
	assert.Contains(t, report, "# Deliberation Report")
	assert.Contains(t, report, "facet one: Pick postgres.")
}

func TestMetaSynthesisRequiresResults(t *testing.T) {
	s, _ := newSynthesizer(t, &decideClient{})
	_, err := s.Meta(context.Background(), &types.DeliberationState{})
	require.Error(t, err)
}

func TestPersonaSummariesFinalStanceWins(t *testing.T) {
	transcript := []types.Contribution{
		{PersonaCode: "engineer", Round: 0, Stance: "early doubt"},
		{PersonaCode: "engineer", Round: 2, Stance: "convinced"},
		{PersonaCode: "operator", Round: 2, Text: "First sentence here. Second one."},
	}
	out := personaSummaries(transcript)
	assert.Equal(t, "convinced", out["engineer"])
	assert.Equal(t, "First sentence here.", out["operator"],
		"a missing stance falls back to the opening sentence")
}

func TestExtractJSON(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"plain", `{"a":1}`, `{"a":1}`},
		{"fenced", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"prose around", `Sure! Here you go: {"a":1} Hope that helps.`, `{"a":1}`},
		{"braces in strings", `{"a":"{not a close}"}`, `{"a":"{not a close}"}`},
		{"nested", `{"a":{"b":2}}`, `{"a":{"b":2}}`},
		{"no object", "nothing here", "{}"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, extractJSON(tc.in))
		})
	}
}
