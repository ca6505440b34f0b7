package deliberation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quorum/internal/types"
)

func TestChannelSinkDropsWhenFull(t *testing.T) {
	sink := NewChannelSink(2)
	sink.Emit(types.Event{Message: "one"})
	sink.Emit(types.Event{Message: "two"})
	sink.Emit(types.Event{Message: "dropped"}) // buffer full, must not block
	sink.Close()

	var got []string
	for ev := range sink.Events() {
		got = append(got, ev.Message)
	}
	assert.Equal(t, []string{"one", "two"}, got)
}

func TestEventCarriesSubProblem(t *testing.T) {
	st := &types.DeliberationState{
		SessionID:   "ev-test",
		Phase:       types.PhaseDeliberating,
		Round:       2,
		SubProblems: []types.SubProblem{{ID: "sp-1"}},
	}
	ev := event(types.EventRoundCompleted, st, "round done")
	assert.Equal(t, "ev-test", ev.SessionID)
	assert.Equal(t, "sp-1", ev.SubProblemID)
	assert.Equal(t, 2, ev.Round)
	require.False(t, ev.At.IsZero())

	st.Index = 1
	ev = event(types.EventSessionCompleted, st, "done")
	assert.Empty(t, ev.SubProblemID, "no active sub-problem after the last index")
}
