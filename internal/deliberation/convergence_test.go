package deliberation

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quorum/internal/types"
)

func TestLexicalScorerSingleVoiceIsConverged(t *testing.T) {
	score, err := LexicalScorer{}.Score(context.Background(), []types.Contribution{
		{Text: "only one opinion"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1.0, score)
}

func TestLexicalScorerAgreementScoresHigh(t *testing.T) {
	agree := []types.Contribution{
		{Text: "we should migrate the billing service incrementally", Stance: "support migration"},
		{Text: "we should migrate the billing service incrementally", Stance: "support migration"},
		{Text: "we should migrate the billing service incrementally", Stance: "agree with migration"},
	}
	disagree := []types.Contribution{
		{Text: "migrate everything now, the monolith is unmaintainable", Stance: "support migration"},
		{Text: "keep the monolith, rewrites destroy companies", Stance: "oppose migration"},
		{Text: "freeze features and measure before deciding anything", Stance: "against any move"},
	}

	high, err := LexicalScorer{}.Score(context.Background(), agree)
	require.NoError(t, err)
	low, err := LexicalScorer{}.Score(context.Background(), disagree)
	require.NoError(t, err)

	assert.Greater(t, high, 0.9)
	assert.Less(t, low, high)
	assert.GreaterOrEqual(t, high, 0.0)
	assert.LessOrEqual(t, high, 1.0)
}

// fixedEmbedder returns pre-baked vectors keyed by position.
type fixedEmbedder struct {
	vecs [][]float32
	err  error
}

func (f fixedEmbedder) EmbedAll(context.Context, []string) ([][]float32, error) {
	return f.vecs, f.err
}

func TestEmbeddingScorer(t *testing.T) {
	t.Run("identical vectors converge", func(t *testing.T) {
		s := EmbeddingScorer{Embedder: fixedEmbedder{vecs: [][]float32{
			{1, 0, 0}, {1, 0, 0},
		}}}
		score, err := s.Score(context.Background(), make([]types.Contribution, 2))
		require.NoError(t, err)
		assert.InDelta(t, 1.0, score, 1e-9)
	})

	t.Run("opposed vectors score zero", func(t *testing.T) {
		s := EmbeddingScorer{Embedder: fixedEmbedder{vecs: [][]float32{
			{1, 0, 0}, {-1, 0, 0},
		}}}
		score, err := s.Score(context.Background(), make([]types.Contribution, 2))
		require.NoError(t, err)
		assert.InDelta(t, 0.0, score, 1e-9)
	})

	t.Run("orthogonal vectors land midway", func(t *testing.T) {
		s := EmbeddingScorer{Embedder: fixedEmbedder{vecs: [][]float32{
			{1, 0, 0}, {0, 1, 0},
		}}}
		score, err := s.Score(context.Background(), make([]types.Contribution, 2))
		require.NoError(t, err)
		assert.InDelta(t, 0.5, score, 1e-9)
	})

	t.Run("embedder failure surfaces", func(t *testing.T) {
		s := EmbeddingScorer{Embedder: fixedEmbedder{err: assert.AnError}}
		_, err := s.Score(context.Background(), make([]types.Contribution, 2))
		assert.Error(t, err)
	})
}

func TestDominantVote(t *testing.T) {
	t.Run("majority wins", func(t *testing.T) {
		winner, votes := dominantVote([]types.Contribution{
			{Vote: "option-a"}, {Vote: "option-b"}, {Vote: "option-a"},
		})
		assert.Equal(t, "option-a", winner)
		assert.Equal(t, map[string]int{"option-a": 2, "option-b": 1}, votes)
	})

	t.Run("tie breaks alphabetically", func(t *testing.T) {
		winner, _ := dominantVote([]types.Contribution{
			{Vote: "zebra"}, {Vote: "apple"},
		})
		assert.Equal(t, "apple", winner)
	})

	t.Run("no votes", func(t *testing.T) {
		winner, votes := dominantVote([]types.Contribution{{Text: "abstain"}})
		assert.Empty(t, winner)
		assert.Nil(t, votes)
	})
}

func TestNormalizeStance(t *testing.T) {
	assert.Equal(t, "support", normalizeStance("I strongly AGREE with this"))
	assert.Equal(t, "oppose", normalizeStance("firmly against"))
	assert.Equal(t, "", normalizeStance("  "))
}
