package deliberation

import (
	"fmt"
	"strings"

	"quorum/internal/types"
)

// compressTranscript renders the transcript for inclusion in a
// contribution request. The current and previous round are kept verbatim;
// older rounds collapse to one-line stance summaries so prompt size stays
// bounded as rounds accumulate.
func compressTranscript(transcript []types.Contribution, currentRound int) string {
	if len(transcript) == 0 {
		return ""
	}

	var b strings.Builder
	for _, c := range transcript {
		if c.Round >= currentRound-1 {
			fmt.Fprintf(&b, "[round %d] %s: %s\n", c.Round, c.PersonaCode, c.Text)
			continue
		}
		stance := c.Stance
		if stance == "" {
			stance = firstSentence(c.Text)
		}
		fmt.Fprintf(&b, "[round %d] %s (summary): %s\n", c.Round, c.PersonaCode, stance)
	}
	return b.String()
}

func firstSentence(text string) string {
	text = strings.TrimSpace(text)
	if idx := strings.IndexAny(text, ".!?"); idx > 0 {
		return text[:idx+1]
	}
	if len(text) > 120 {
		return text[:120]
	}
	return text
}

// contrarianPrompt is the moderator injection used for one round when the
// facilitator intervenes on a stagnant or oscillating trajectory.
func contrarianPrompt(goal string) string {
	return fmt.Sprintf(
		"Moderator: the panel has stopped making progress on %q. "+
			"Take the strongest position you have NOT yet argued, attack the "+
			"current majority view directly, and name the weakest assumption "+
			"in the discussion so far.", goal)
}

// synthesisPrompt asks for the structured synthesis of one sub-problem.
func synthesisPrompt(sp types.SubProblem, transcript string, trajectory []float64, votes map[string]int, limitedContext bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Synthesize the panel deliberation on: %s\n\n", sp.Goal)
	fmt.Fprintf(&b, "Transcript:\n%s\n", transcript)
	fmt.Fprintf(&b, "Convergence trajectory: %v\n", trajectory)
	if len(votes) > 0 {
		fmt.Fprintf(&b, "Votes: %v\n", votes)
	}
	b.WriteString("\nReturn JSON only:\n")
	b.WriteString(`{"recommendation":"...","confidence":0.8,"key_points":["..."],"assumptions":["..."]}`)
	if limitedContext {
		b.WriteString("\nContext was limited; assumptions MUST enumerate every input that was estimated rather than confirmed.")
	}
	return b.String()
}

// metaSynthesisPrompt asks for the integrated narrative across all
// completed sub-problems.
func metaSynthesisPrompt(problem types.Problem, results []types.SubProblemResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Integrate the deliberation outcomes for: %s\n\n", problem.Statement)
	for i, r := range results {
		fmt.Fprintf(&b, "Sub-problem %d: %s\nPanel: %s\nSynthesis: %s\n\n",
			i+1, r.Goal, strings.Join(r.Panel, ", "), r.Synthesis)
	}
	b.WriteString("Return JSON only:\n")
	b.WriteString(`{"executive_summary":"...","recommendation":"...","insights":["one per sub-problem"],"tensions":["..."]}`)
	return b.String()
}
