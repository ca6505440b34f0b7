package deliberation

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"quorum/internal/types"
	"quorum/internal/usage"
)

// Synthesizer produces the structured synthesis for a completed
// sub-problem and, once all sub-problems are done, the meta-synthesis
// integrating all of them.
type Synthesizer struct {
	client types.ReasoningClient
	ledger *usage.Ledger
	logger *zap.Logger
}

// NewSynthesizer wires a synthesis engine.
func NewSynthesizer(client types.ReasoningClient, ledger *usage.Ledger, logger *zap.Logger) *Synthesizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Synthesizer{client: client, ledger: ledger, logger: logger}
}

type synthesisPayload struct {
	Recommendation string   `json:"recommendation"`
	Confidence     float64  `json:"confidence"`
	KeyPoints      []string `json:"key_points"`
	Assumptions    []string `json:"assumptions"`
}

// SubProblem synthesizes the active sub-problem from its transcript,
// trajectory and final-round votes, and freezes the SubProblemResult.
// Guard-terminated deliberations still synthesize; a malformed model
// reply degrades to a transcript-derived summary rather than an error.
func (s *Synthesizer) SubProblem(ctx context.Context, st *types.DeliberationState, reason types.StopReason, roundsSaved int) (types.SubProblemResult, error) {
	sp := st.Current()
	if sp == nil {
		return types.SubProblemResult{}, fmt.Errorf("no current sub-problem at index %d", st.Index)
	}

	finalRound := st.Round - 1
	_, votes := dominantVote(st.CurrentRoundContributions(finalRound))
	transcript := compressTranscript(st.Transcript, finalRound)
	limited := st.LimitedContextMode || st.BestEffortPromptInjected

	payload := s.decide(ctx, sp.ID, synthesisPrompt(*sp, transcript, st.Trajectory, votes, limited), st)
	if payload.Recommendation == "" {
		payload = degradedSynthesis(st)
	}

	text := renderSynthesis(sp.Goal, payload, limited)

	result := types.SubProblemResult{
		SubProblemID:      sp.ID,
		Goal:              sp.Goal,
		Synthesis:         text,
		Confidence:        payload.Confidence,
		Votes:             votes,
		ContributionCount: len(st.Transcript),
		Cost:              st.SubProblemCost,
		Duration:          time.Since(st.SubProblemStart),
		Panel:             panelCodes(st.Panel),
		PersonaSummaries:  personaSummaries(st.Transcript),
		StopReason:        reason,
		RoundsUsed:        st.Round,
		RoundsSaved:       roundsSaved,
		LimitedContext:    limited,
	}

	s.logger.Info("Sub-problem synthesized",
		zap.String("sub_problem", sp.ID),
		zap.String("stop_reason", string(reason)),
		zap.Float64("confidence", result.Confidence),
		zap.Float64("cost", result.Cost))

	return result, nil
}

type metaPayload struct {
	ExecutiveSummary string   `json:"executive_summary"`
	Recommendation   string   `json:"recommendation"`
	Insights         []string `json:"insights"`
	Tensions         []string `json:"tensions"`
}

// Meta produces the integrated report across all SubProblemResults. The
// caller is responsible for the atomic-problem shortcut: with exactly one
// sub-problem this method must not be invoked, so no meta-synthesis cost
// is ever incurred for atomic problems.
func (s *Synthesizer) Meta(ctx context.Context, st *types.DeliberationState) (string, error) {
	if len(st.Results) == 0 {
		return "", fmt.Errorf("meta-synthesis requires at least one result")
	}

	raw, cu, err := s.client.Decide(ctx, metaSynthesisPrompt(st.Problem, st.Results))
	var payload metaPayload
	if err != nil {
		s.logger.Warn("Meta-synthesis call failed, assembling degraded report", zap.Error(err))
	} else {
		if recErr := s.ledger.Record(usage.Entry{
			Operation:    "meta_synthesis",
			InputTokens:  cu.InputTokens,
			OutputTokens: cu.OutputTokens,
			Cost:         cu.Cost,
		}); recErr != nil {
			return "", recErr
		}
		st.CumulativeCost += cu.Cost
		st.MetaSynthesisCost = cu.Cost
		if jsonErr := json.Unmarshal([]byte(extractJSON(raw)), &payload); jsonErr != nil {
			s.logger.Warn("Meta-synthesis reply malformed", zap.Error(jsonErr))
		}
	}
	if payload.Recommendation == "" {
		payload = degradedMeta(st.Results)
	}

	return renderMetaReport(st, payload), nil
}

// decide runs one structured completion, records its cost, and parses the
// JSON payload. Failures come back as a zero payload for the caller's
// fallback.
func (s *Synthesizer) decide(ctx context.Context, subProblemID, prompt string, st *types.DeliberationState) synthesisPayload {
	raw, cu, err := s.client.Decide(ctx, prompt)
	if err != nil {
		s.logger.Warn("Synthesis call failed", zap.Error(err))
		return synthesisPayload{}
	}
	if recErr := s.ledger.Record(usage.Entry{
		Operation:    "synthesis",
		SubProblemID: subProblemID,
		InputTokens:  cu.InputTokens,
		OutputTokens: cu.OutputTokens,
		Cost:         cu.Cost,
	}); recErr != nil {
		s.logger.Warn("Ledger write failed for synthesis", zap.Error(recErr))
		return synthesisPayload{}
	}
	st.CumulativeCost += cu.Cost
	st.SubProblemCost += cu.Cost

	var payload synthesisPayload
	if err := json.Unmarshal([]byte(extractJSON(raw)), &payload); err != nil {
		s.logger.Warn("Synthesis reply malformed, degrading", zap.Error(err))
		return synthesisPayload{}
	}
	return payload
}

// degradedSynthesis builds a conservative summary straight from the
// transcript when the model reply is unusable.
func degradedSynthesis(st *types.DeliberationState) synthesisPayload {
	stances := make([]string, 0)
	for _, c := range st.CurrentRoundContributions(st.Round - 1) {
		if c.Stance != "" {
			stances = append(stances, c.PersonaCode+": "+c.Stance)
		}
	}
	rec := "No consensus recommendation could be produced from the deliberation."
	if len(stances) > 0 {
		rec = "Final panel positions: " + strings.Join(stances, "; ")
	}
	return synthesisPayload{
		Recommendation: rec,
		Confidence:     0.3,
		Assumptions:    []string{"synthesis degraded: structured output unavailable"},
	}
}

func degradedMeta(results []types.SubProblemResult) metaPayload {
	insights := make([]string, 0, len(results))
	for _, r := range results {
		insights = append(insights, r.Goal+": "+firstSentence(r.Synthesis))
	}
	return metaPayload{
		ExecutiveSummary: "Integrated report assembled from per-sub-problem syntheses.",
		Recommendation:   "See per-sub-problem recommendations below.",
		Insights:         insights,
	}
}

// renderSynthesis produces the markdown synthesis body. Limited-context
// deliberations always carry the Assumptions & Limitations section.
func renderSynthesis(goal string, p synthesisPayload, limited bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## %s\n\n", goal)
	fmt.Fprintf(&b, "**Recommendation:** %s\n\n", p.Recommendation)
	fmt.Fprintf(&b, "**Confidence:** %.2f\n", p.Confidence)
	if len(p.KeyPoints) > 0 {
		b.WriteString("\n**Key points:**\n")
		for _, kp := range p.KeyPoints {
			fmt.Fprintf(&b, "- %s\n", kp)
		}
	}
	if limited {
		b.WriteString("\n### Assumptions & Limitations\n")
		if len(p.Assumptions) == 0 {
			b.WriteString("- Deliberation ran in limited-context mode; inputs were estimated rather than confirmed.\n")
		}
		for _, a := range p.Assumptions {
			fmt.Fprintf(&b, "- %s\n", a)
		}
	} else if len(p.Assumptions) > 0 {
		b.WriteString("\n**Assumptions:**\n")
		for _, a := range p.Assumptions {
			fmt.Fprintf(&b, "- %s\n", a)
		}
	}
	return b.String()
}

// renderMetaReport assembles the final integrated report: executive
// summary, unified recommendation, per-sub-problem insights, tension
// analysis, and the rolled-up cost footer.
func renderMetaReport(st *types.DeliberationState, p metaPayload) string {
	var b strings.Builder
	b.WriteString("# Deliberation Report\n\n")
	fmt.Fprintf(&b, "**Problem:** %s\n\n", st.Problem.Statement)
	fmt.Fprintf(&b, "## Executive Summary\n\n%s\n\n", p.ExecutiveSummary)
	fmt.Fprintf(&b, "## Recommendation\n\n%s\n\n", p.Recommendation)

	b.WriteString("## Sub-Problem Insights\n\n")
	for i, r := range st.Results {
		fmt.Fprintf(&b, "### %d. %s\n\n", i+1, r.Goal)
		if i < len(p.Insights) {
			fmt.Fprintf(&b, "%s\n\n", p.Insights[i])
		}
		fmt.Fprintf(&b, "Panel: %s. Rounds: %d. Stop: %s.\n\n",
			strings.Join(r.Panel, ", "), r.RoundsUsed, r.StopReason)
	}

	if len(p.Tensions) > 0 {
		b.WriteString("## Tensions & Dependencies\n\n")
		for _, t := range p.Tensions {
			fmt.Fprintf(&b, "- %s\n", t)
		}
		b.WriteString("\n")
	}

	var contributions int
	for _, r := range st.Results {
		contributions += r.ContributionCount
	}
	b.WriteString("---\n")
	fmt.Fprintf(&b, "Total cost: $%.4f (meta-synthesis $%.4f). Contributions: %d. Sub-problems: %d.\n",
		st.CumulativeCost, st.MetaSynthesisCost, contributions, len(st.Results))
	return b.String()
}

func panelCodes(panel []types.Persona) []string {
	codes := make([]string, len(panel))
	for i, p := range panel {
		codes[i] = p.Code
	}
	return codes
}

// personaSummaries builds the compact per-persona carry-over summaries
// from each member's final stance.
func personaSummaries(transcript []types.Contribution) map[string]string {
	out := make(map[string]string)
	for _, c := range transcript {
		stance := c.Stance
		if stance == "" {
			stance = firstSentence(c.Text)
		}
		// Later rounds overwrite earlier ones; the final stance wins.
		out[c.PersonaCode] = stance
	}
	return out
}

// extractJSON pulls the first balanced JSON object out of a model reply
// that may carry prose or code fences around it.
func extractJSON(text string) string {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")

	start := strings.Index(text, "{")
	if start == -1 {
		return "{}"
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		ch := text[i]
		if escaped {
			escaped = false
			continue
		}
		switch ch {
		case '\\':
			escaped = true
		case '"':
			inString = !inString
		case '{':
			if !inString {
				depth++
			}
		case '}':
			if !inString {
				depth--
				if depth == 0 {
					return text[start : i+1]
				}
			}
		}
	}
	return "{}"
}
