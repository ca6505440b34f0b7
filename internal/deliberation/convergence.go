// Package deliberation implements the orchestration state machine: the
// round controller, facilitator, safety guards, synthesis engine and the
// sub-problem sequencer that drives a session from decomposition through
// meta-synthesis.
package deliberation

import (
	"context"
	"math"
	"sort"
	"strings"

	"quorum/internal/types"
)

// Scorer computes the per-round convergence metric in [0,1] from the
// round's contributions.
type Scorer interface {
	Score(ctx context.Context, contributions []types.Contribution) (float64, error)
}

// LexicalScorer measures agreement without any model call: mean pairwise
// token overlap of contribution texts blended with the fraction of
// stance-agreeing pairs. Deterministic, used in tests and offline runs.
type LexicalScorer struct{}

// Score implements Scorer.
func (LexicalScorer) Score(_ context.Context, contributions []types.Contribution) (float64, error) {
	n := len(contributions)
	if n < 2 {
		return 1.0, nil
	}

	var textSum, stanceSum float64
	pairs := 0
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			textSum += jaccard(tokenize(contributions[i].Text), tokenize(contributions[j].Text))
			if stancesAgree(contributions[i].Stance, contributions[j].Stance) {
				stanceSum++
			}
			pairs++
		}
	}

	score := 0.5*(textSum/float64(pairs)) + 0.5*(stanceSum/float64(pairs))
	return clamp01(score), nil
}

// Embedder provides batch text embeddings for the embedding scorer.
type Embedder interface {
	EmbedAll(ctx context.Context, texts []string) ([][]float32, error)
}

// EmbeddingScorer measures agreement as the mean pairwise cosine
// similarity of contribution embeddings, mapped from [-1,1] to [0,1].
type EmbeddingScorer struct {
	Embedder Embedder
}

// Score implements Scorer.
func (s EmbeddingScorer) Score(ctx context.Context, contributions []types.Contribution) (float64, error) {
	n := len(contributions)
	if n < 2 {
		return 1.0, nil
	}

	texts := make([]string, n)
	for i, c := range contributions {
		texts[i] = c.Text
	}
	vecs, err := s.Embedder.EmbedAll(ctx, texts)
	if err != nil {
		return 0, err
	}

	var sum float64
	pairs := 0
	for i := 0; i < len(vecs); i++ {
		for j := i + 1; j < len(vecs); j++ {
			sum += cosine(vecs[i], vecs[j])
			pairs++
		}
	}
	if pairs == 0 {
		return 1.0, nil
	}
	return clamp01((sum/float64(pairs) + 1) / 2), nil
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func tokenize(text string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, w := range strings.Fields(strings.ToLower(text)) {
		w = strings.Trim(w, ".,;:!?()[]\"'")
		if len(w) > 2 {
			out[w] = struct{}{}
		}
	}
	return out
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1.0
	}
	inter := 0
	for w := range a {
		if _, ok := b[w]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

// stancesAgree compares normalized stance summaries. Exact matches agree;
// otherwise the dominant sentiment words decide.
func stancesAgree(a, b string) bool {
	na, nb := normalizeStance(a), normalizeStance(b)
	if na == "" || nb == "" {
		return false
	}
	return na == nb
}

func normalizeStance(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, kw := range []string{"support", "agree", "favor", "yes"} {
		if strings.Contains(s, kw) {
			return "support"
		}
	}
	for _, kw := range []string{"oppose", "disagree", "against", "no"} {
		if strings.Contains(s, kw) {
			return "oppose"
		}
	}
	if s == "" {
		return ""
	}
	return s
}

// dominantVote returns the most common non-empty vote and the tally.
// Ties break alphabetically to stay deterministic.
func dominantVote(contributions []types.Contribution) (string, map[string]int) {
	votes := make(map[string]int)
	for _, c := range contributions {
		if c.Vote != "" {
			votes[c.Vote]++
		}
	}
	if len(votes) == 0 {
		return "", nil
	}
	keys := make([]string, 0, len(votes))
	for k := range votes {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if votes[keys[i]] != votes[keys[j]] {
			return votes[keys[i]] > votes[keys[j]]
		}
		return keys[i] < keys[j]
	})
	return keys[0], votes
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
