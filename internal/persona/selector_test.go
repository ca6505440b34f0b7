package persona

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quorum/internal/config"
	"quorum/internal/types"
)

func TestRegistryLookup(t *testing.T) {
	r := NewRegistry()

	p, ok := r.Lookup("skeptic")
	require.True(t, ok)
	assert.Equal(t, "critique", p.PrimaryTag)

	_, ok = r.Lookup("nobody")
	assert.False(t, ok)
}

func TestRegistryDeterministicOrder(t *testing.T) {
	r := NewRegistry()
	all := r.All()
	require.NotEmpty(t, all)
	for i := 1; i < len(all); i++ {
		assert.Less(t, all[i-1].Code, all[i].Code, "roster must stay in code order")
	}
}

func TestRegistryWithDropsDuplicates(t *testing.T) {
	r := NewRegistryWith([]types.Persona{
		{Code: "a", PrimaryTag: "one"},
		{Code: "a", PrimaryTag: "two"},
		{Code: "b", PrimaryTag: "three"},
	})
	assert.Len(t, r.All(), 2)
	p, _ := r.Lookup("a")
	assert.Equal(t, "one", p.PrimaryTag, "first registration wins")
}

func TestSelectPanelSizeTracksComplexity(t *testing.T) {
	s := NewSelector(NewRegistry(), config.DefaultDeliberationConfig(), nil)

	assert.Len(t, s.Select(types.SubProblem{ID: "sp-1", Goal: "anything", Complexity: 0.1}), 3)
	assert.Len(t, s.Select(types.SubProblem{ID: "sp-2", Goal: "anything", Complexity: 0.5}), 4)
	assert.Len(t, s.Select(types.SubProblem{ID: "sp-3", Goal: "anything", Complexity: 0.9}), 5)
}

func TestSelectUniqueCodesAndPrimaries(t *testing.T) {
	s := NewSelector(NewRegistry(), config.DefaultDeliberationConfig(), nil)

	panel := s.Select(types.SubProblem{ID: "sp-1", Goal: "reduce infrastructure cost", Complexity: 0.9})
	codes := make(map[string]bool)
	primaries := make(map[string]bool)
	for _, p := range panel {
		assert.False(t, codes[p.Code], "duplicate code %s", p.Code)
		assert.False(t, primaries[p.PrimaryTag], "duplicate primary tag %s", p.PrimaryTag)
		codes[p.Code] = true
		primaries[p.PrimaryTag] = true
	}
}

func TestSelectPrefersRelevantTags(t *testing.T) {
	s := NewSelector(NewRegistry(), config.DefaultDeliberationConfig(), nil)

	panel := s.Select(types.SubProblem{
		ID:         "sp-1",
		Goal:       "assess the engineering risk of rewriting the billing architecture",
		Complexity: 0.1,
	})
	require.Len(t, panel, 3)

	got := make(map[string]bool)
	for _, p := range panel {
		got[p.Code] = true
	}
	assert.True(t, got["engineer"], "goal names engineering, engineer must sit on the panel")
	assert.True(t, got["risk_officer"], "goal names risk, risk_officer must sit on the panel")
}

func TestSelectDeterministic(t *testing.T) {
	s := NewSelector(NewRegistry(), config.DefaultDeliberationConfig(), nil)
	sp := types.SubProblem{ID: "sp-1", Goal: "pick a pricing strategy", Complexity: 0.5}

	first := s.Select(sp)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, s.Select(sp))
	}
}

func TestSelectFillsUndersizedPanelAcrossSharedPrimaries(t *testing.T) {
	roster := []types.Persona{
		{Code: "a", PrimaryTag: "same"},
		{Code: "b", PrimaryTag: "same"},
		{Code: "c", PrimaryTag: "same"},
		{Code: "d", PrimaryTag: "other"},
	}
	s := NewSelector(NewRegistryWith(roster), config.DefaultDeliberationConfig(), nil)

	panel := s.Select(types.SubProblem{ID: "sp-1", Goal: "g", Complexity: 0.0})
	assert.Len(t, panel, 3, "diversity relaxes before the panel goes undersized")
}
