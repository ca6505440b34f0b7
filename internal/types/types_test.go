package types

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPhaseTerminal(t *testing.T) {
	terminal := []Phase{PhaseCompleted, PhaseKilled, PhaseFailed}
	for _, p := range terminal {
		assert.True(t, p.Terminal(), "phase %s should be terminal", p)
	}
	active := []Phase{PhaseDecomposing, PhaseClarifying, PhaseDeliberating, PhaseContextPaused, PhaseSynthesizing, PhaseMetaSynthesis}
	for _, p := range active {
		assert.False(t, p.Terminal(), "phase %s should not be terminal", p)
	}
}

func TestCurrent(t *testing.T) {
	st := &DeliberationState{
		SubProblems: []SubProblem{
			{ID: "sp-1", Goal: "first"},
			{ID: "sp-2", Goal: "second"},
		},
	}

	require.NotNil(t, st.Current())
	assert.Equal(t, "sp-1", st.Current().ID)

	st.Index = 1
	assert.Equal(t, "sp-2", st.Current().ID)

	st.Index = 2
	assert.Nil(t, st.Current(), "index past the last sub-problem has no current")

	st.Index = -1
	assert.Nil(t, st.Current())
}

func TestCurrentRoundContributions(t *testing.T) {
	st := &DeliberationState{
		Transcript: []Contribution{
			{PersonaCode: "skeptic", Round: 0},
			{PersonaCode: "engineer", Round: 0},
			{PersonaCode: "skeptic", Round: 1},
		},
	}

	assert.Len(t, st.CurrentRoundContributions(0), 2)
	assert.Len(t, st.CurrentRoundContributions(1), 1)
	assert.Empty(t, st.CurrentRoundContributions(2))
}

func TestSnapshotIsDeepCopy(t *testing.T) {
	bound := 50000.0
	st := &DeliberationState{
		SessionID: "abc123",
		Problem: Problem{
			Statement:   "migrate the data layer",
			Context:     map[string]string{"team_size": "12"},
			Constraints: []Constraint{{Kind: ConstraintBudget, Description: "cap", Bound: &bound}},
		},
		SubProblems:   []SubProblem{{ID: "sp-1", DependencyIDs: []string{"sp-0"}}},
		Panel:         []Persona{{Code: "skeptic", SecondaryTags: []string{"risk"}}},
		Transcript:    []Contribution{{PersonaCode: "skeptic", Round: 0, Text: "hm"}},
		Trajectory:    []float64{0.4},
		PersonaMemory: map[string]string{"skeptic": "unconvinced"},
		Results: []SubProblemResult{{
			SubProblemID:     "sp-0",
			Votes:            map[string]int{"option-a": 3},
			Panel:            []string{"skeptic"},
			PersonaSummaries: map[string]string{"skeptic": "against"},
		}},
	}

	snap := st.Snapshot()
	if diff := cmp.Diff(st, snap); diff != "" {
		t.Fatalf("snapshot differs from original (-want +got):\n%s", diff)
	}

	// Mutating the original must not leak into the snapshot.
	st.Problem.Context["team_size"] = "99"
	*st.Problem.Constraints[0].Bound = 1.0
	st.SubProblems[0].DependencyIDs[0] = "changed"
	st.Panel[0].SecondaryTags[0] = "changed"
	st.Transcript[0].Text = "changed"
	st.Trajectory[0] = 0.9
	st.PersonaMemory["skeptic"] = "changed"
	st.Results[0].Votes["option-a"] = 0
	st.Results[0].PersonaSummaries["skeptic"] = "changed"

	assert.Equal(t, "12", snap.Problem.Context["team_size"])
	assert.Equal(t, 50000.0, *snap.Problem.Constraints[0].Bound)
	assert.Equal(t, "sp-0", snap.SubProblems[0].DependencyIDs[0])
	assert.Equal(t, "risk", snap.Panel[0].SecondaryTags[0])
	assert.Equal(t, "hm", snap.Transcript[0].Text)
	assert.Equal(t, 0.4, snap.Trajectory[0])
	assert.Equal(t, "unconvinced", snap.PersonaMemory["skeptic"])
	assert.Equal(t, 3, snap.Results[0].Votes["option-a"])
	assert.Equal(t, "against", snap.Results[0].PersonaSummaries["skeptic"])
}
