// Package decompose turns a raw problem statement into an ordered list
// of sub-problems plus any gap questions that must be answered before
// deliberation can be meaningful.
package decompose

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"quorum/internal/config"
	"quorum/internal/types"
	"quorum/internal/usage"
)

// MaxSubProblems bounds decomposition fan-out. Problems that would split
// further than this get their remaining scope folded into the last
// sub-problem by the prompt contract.
const MaxSubProblems = 5

// Decomposer plans the sub-problem sequence with a single structured
// completion. A malformed reply degrades to an atomic decomposition
// instead of failing the session.
type Decomposer struct {
	client types.ReasoningClient
	ledger *usage.Ledger
	cfg    config.DeliberationConfig
	logger *zap.Logger
}

// Result is the outcome of one decomposition call.
type Result struct {
	SubProblems  []types.SubProblem
	GapQuestions []string
	Cost         float64
	Degraded     bool
}

func New(client types.ReasoningClient, ledger *usage.Ledger, cfg config.DeliberationConfig, logger *zap.Logger) *Decomposer {
	return &Decomposer{client: client, ledger: ledger, cfg: cfg, logger: logger}
}

type rawSubProblem struct {
	Goal       string  `json:"goal"`
	Complexity float64 `json:"complexity"`
	DependsOn  []int   `json:"depends_on"`
}

type rawDecomposition struct {
	SubProblems  []rawSubProblem `json:"sub_problems"`
	GapQuestions []string        `json:"gap_questions"`
}

// Decompose produces the ordered sub-problem plan for the problem. Gap
// questions combine the model's own list with the locally required
// context keys that the problem statement never supplied.
func (d *Decomposer) Decompose(ctx context.Context, problem types.Problem) (*Result, error) {
	raw, cu, err := d.client.Decide(ctx, d.prompt(problem))
	if err != nil {
		return nil, fmt.Errorf("decomposition call: %w", err)
	}
	if recErr := d.ledger.Record(usage.Entry{
		Operation:    "decompose",
		InputTokens:  cu.InputTokens,
		OutputTokens: cu.OutputTokens,
		Cost:         cu.Cost,
	}); recErr != nil {
		return nil, recErr
	}

	res := &Result{Cost: cu.Cost}

	var parsed rawDecomposition
	if jsonErr := json.Unmarshal([]byte(extractJSON(raw)), &parsed); jsonErr != nil || len(parsed.SubProblems) == 0 {
		d.logger.Warn("Decomposition reply unusable, falling back to atomic plan",
			zap.Error(jsonErr),
			zap.Int("parsed_sub_problems", len(parsed.SubProblems)))
		res.SubProblems = []types.SubProblem{atomic(problem)}
		res.Degraded = true
		res.GapQuestions = d.missingContextQuestions(problem, nil)
		return res, nil
	}

	if len(parsed.SubProblems) > MaxSubProblems {
		d.logger.Warn("Decomposition over fan-out limit, truncating",
			zap.Int("returned", len(parsed.SubProblems)))
		parsed.SubProblems = parsed.SubProblems[:MaxSubProblems]
	}

	for i, rsp := range parsed.SubProblems {
		goal := strings.TrimSpace(rsp.Goal)
		if goal == "" {
			continue
		}
		sp := types.SubProblem{
			ID:         fmt.Sprintf("sp-%d", i+1),
			Goal:       goal,
			Complexity: clamp01(rsp.Complexity),
		}
		// Dependencies may only point backwards; anything else would
		// break the sequential ordering contract.
		for _, dep := range rsp.DependsOn {
			if dep >= 0 && dep < i {
				sp.DependencyIDs = append(sp.DependencyIDs, fmt.Sprintf("sp-%d", dep+1))
			}
		}
		res.SubProblems = append(res.SubProblems, sp)
	}
	if len(res.SubProblems) == 0 {
		res.SubProblems = []types.SubProblem{atomic(problem)}
		res.Degraded = true
	}

	res.GapQuestions = d.missingContextQuestions(problem, parsed.GapQuestions)

	d.logger.Info("Problem decomposed",
		zap.Int("sub_problems", len(res.SubProblems)),
		zap.Int("gap_questions", len(res.GapQuestions)),
		zap.Bool("degraded", res.Degraded))
	return res, nil
}

// missingContextQuestions merges the model's gap questions with
// questions for any locally configured context key the problem lacks.
// Duplicates are dropped case-insensitively.
func (d *Decomposer) missingContextQuestions(problem types.Problem, fromModel []string) []string {
	var out []string
	seen := make(map[string]bool)
	add := func(q string) {
		q = strings.TrimSpace(q)
		if q == "" {
			return
		}
		key := strings.ToLower(q)
		if seen[key] {
			return
		}
		seen[key] = true
		out = append(out, q)
	}
	for _, q := range fromModel {
		add(q)
	}
	for _, k := range d.cfg.RequiredContextKeys {
		if _, ok := problem.Context[k]; !ok {
			add(fmt.Sprintf("What is the %s for this problem?", strings.ReplaceAll(k, "_", " ")))
		}
	}
	return out
}

func (d *Decomposer) prompt(p types.Problem) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Decompose the following problem into 1-%d sub-problems ordered so that dependencies come first. ", MaxSubProblems)
	b.WriteString("If the problem is atomic, return exactly one sub-problem. Fold any overflow into the last sub-problem.\n\n")
	fmt.Fprintf(&b, "Problem: %s\n", p.Statement)
	if len(p.Context) > 0 {
		b.WriteString("Context:\n")
		for _, k := range sortedKeys(p.Context) {
			fmt.Fprintf(&b, "- %s: %s\n", k, p.Context[k])
		}
	}
	if len(p.Constraints) > 0 {
		b.WriteString("Constraints:\n")
		for _, c := range p.Constraints {
			if c.Bound != nil {
				fmt.Fprintf(&b, "- %s: %s (bound %.2f)\n", c.Kind, c.Description, *c.Bound)
			} else {
				fmt.Fprintf(&b, "- %s: %s\n", c.Kind, c.Description)
			}
		}
	}
	b.WriteString("\nReturn JSON only:\n")
	b.WriteString(`{"sub_problems":[{"goal":"...","complexity":0.5,"depends_on":[0]}],"gap_questions":["..."]}`)
	b.WriteString("\nComplexity is 0-1. depends_on lists indices of earlier sub_problems. ")
	b.WriteString("List gap_questions only when the statement under-specifies context needed for meaningful deliberation.")
	return b.String()
}

// atomic is the degraded single-sub-problem plan.
func atomic(p types.Problem) types.SubProblem {
	return types.SubProblem{
		ID:         "sp-1",
		Goal:       p.Statement,
		Complexity: 0.5,
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// extractJSON pulls the first balanced JSON object out of a model reply,
// tolerating markdown code fences and prose around it.
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
