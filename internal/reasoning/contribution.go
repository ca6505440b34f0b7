// Package reasoning implements the reasoning-model collaborator for two
// providers: any OpenAI-compatible chat endpoint and Google Gemini. Both
// return priced usage on every call so the cost ledger stays exact.
package reasoning

import (
	"encoding/json"
	"fmt"
	"strings"

	"quorum/internal/types"
)

// buildSystemPrompt renders the persona instruction block for one
// contribution request.
func buildSystemPrompt(req types.ContributionRequest) string {
	var b strings.Builder
	p := req.Persona
	fmt.Fprintf(&b, "You are %s, one voice on a deliberation panel. %s\n", p.Code, p.Role)
	fmt.Fprintf(&b, "Argue from your perspective (%s). Engage with what other panelists said, do not repeat yourself across rounds.\n", p.PrimaryTag)

	if req.Memory != "" {
		fmt.Fprintf(&b, "\nYour position on earlier parts of this problem: %s\n", req.Memory)
	}
	if req.BestEffort {
		b.WriteString("\nContext is limited. Give your best effort with the information available, state every assumption you are forced to make, and do NOT discuss missing context.\n")
	}
	if req.AllowResearch {
		b.WriteString("\nYou may request external research by setting research_requested and listing concrete research_questions.\n")
	} else {
		b.WriteString("\nResearch is not available this round. Work with the transcript you have.\n")
	}
	if req.FinalRound {
		b.WriteString("\nThis is the final round: vote is REQUIRED. Pick a short label for the option you back.\n")
	}
	if req.Moderator != "" {
		fmt.Fprintf(&b, "\n%s\n", req.Moderator)
	}

	b.WriteString("\nReturn JSON only:\n")
	b.WriteString(`{"text":"your contribution","stance":"one-line position","vote":"optional option label","confidence":0.7,"research_requested":false,"research_questions":[],"meta_discussion":false}`)
	b.WriteString("\nSet meta_discussion true only when your contribution is mostly about missing information or what cannot be determined, rather than the problem itself.")
	return b.String()
}

// buildUserPrompt renders the round context.
func buildUserPrompt(req types.ContributionRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Sub-problem: %s\nRound: %d\n", req.SubProblem.Goal, req.Round+1)
	if req.Transcript != "" {
		fmt.Fprintf(&b, "\nDiscussion so far:\n%s", req.Transcript)
	} else {
		b.WriteString("\nYou open the discussion.\n")
	}
	if len(req.ResearchNotes) > 0 {
		b.WriteString("\nResearch findings:\n")
		for _, n := range req.ResearchNotes {
			fmt.Fprintf(&b, "- %s\n", n)
		}
	}
	return b.String()
}

type contributionPayload struct {
	Text              string   `json:"text"`
	Stance            string   `json:"stance"`
	Vote              string   `json:"vote"`
	Confidence        float64  `json:"confidence"`
	ResearchRequested bool     `json:"research_requested"`
	ResearchQuestions []string `json:"research_questions"`
	MetaDiscussion    bool     `json:"meta_discussion"`
}

// parseContribution decodes a model reply into a ContributionResult.
// Replies that are not valid JSON degrade to a plain-text contribution
// rather than an error so one sloppy reply never sinks a round.
func parseContribution(raw string, cu types.CallUsage) *types.ContributionResult {
	var p contributionPayload
	if err := json.Unmarshal([]byte(extractJSON(raw)), &p); err != nil || p.Text == "" {
		return &types.ContributionResult{
			Text:  strings.TrimSpace(raw),
			Usage: cu,
		}
	}
	return &types.ContributionResult{
		Text:              p.Text,
		Stance:            p.Stance,
		Vote:              p.Vote,
		Confidence:        p.Confidence,
		ResearchRequested: p.ResearchRequested && len(p.ResearchQuestions) > 0,
		ResearchQuestions: p.ResearchQuestions,
		MetaDiscussion:    p.MetaDiscussion,
		Usage:             cu,
	}
}

// extractJSON pulls the first balanced JSON object out of a reply,
// tolerating markdown fences and surrounding prose.
func extractJSON(s string) string {
	s = strings.TrimSpace(s)
	if idx := strings.Index(s, "```json"); idx >= 0 {
		s = s[idx+len("```json"):]
		if end := strings.Index(s, "```"); end >= 0 {
			s = s[:end]
		}
	} else if idx := strings.Index(s, "```"); idx >= 0 {
		s = s[idx+3:]
		if end := strings.Index(s, "```"); end >= 0 {
			s = s[:end]
		}
	}
	start := strings.Index(s, "{")
	if start < 0 {
		return "{}"
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if escaped {
			escaped = false
			continue
		}
		switch c {
		case '\\':
			escaped = inString
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
					return s[start : i+1]
				}
			}
		}
	}
	return "{}"
}
