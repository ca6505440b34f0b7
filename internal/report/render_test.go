package report

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"quorum/internal/types"
)

func TestEventLine(t *testing.T) {
	r := New()

	line := r.EventLine(types.Event{
		Type:         types.EventRoundCompleted,
		SubProblemID: "sp-2",
		Round:        3,
		Message:      "round 3 complete",
	})
	assert.Contains(t, line, "[round_completed]")
	assert.Contains(t, line, "sp-2/r3")
	assert.Contains(t, line, "round 3 complete")

	line = r.EventLine(types.Event{Type: types.EventSessionFailed, Message: "decompose: boom"})
	assert.Contains(t, line, "[session_failed]")
	assert.Contains(t, line, "decompose: boom")
	assert.NotContains(t, line, "/r", "no sub-problem marker without an ID")
}

func TestSummary(t *testing.T) {
	r := New()
	st := &types.DeliberationState{
		SessionID:      "abc12345",
		Phase:          types.PhaseCompleted,
		CumulativeCost: 0.4321,
		SubProblems:    []types.SubProblem{{ID: "sp-1"}, {ID: "sp-2"}},
		Results: []types.SubProblemResult{
			{SubProblemID: "sp-1", RoundsUsed: 3, StopReason: types.StopConsensus, Cost: 0.2},
			{SubProblemID: "sp-2", RoundsUsed: 8, StopReason: types.StopRoundCap, Cost: 0.23},
		},
	}

	out := r.Summary(st)
	assert.Contains(t, out, "Session completed")
	assert.Contains(t, out, "session:      abc12345")
	assert.Contains(t, out, "sub-problems: 2/2")
	assert.Contains(t, out, "total cost:   $0.4321")
	assert.Contains(t, out, "sp-1 (3 rounds, consensus, $0.2000)")
	assert.Contains(t, out, "sp-2 (8 rounds, round_cap, $0.2300)")
}

func TestSummaryFailedSession(t *testing.T) {
	r := New()
	out := r.Summary(&types.DeliberationState{
		SessionID:     "bad",
		Phase:         types.PhaseFailed,
		FailureReason: "checkpoint: disk full",
	})
	assert.Contains(t, out, "Session failed: checkpoint: disk full")
	assert.Contains(t, out, "sub-problems: 0/0")
}

func TestMarkdownFallsBackToPlain(t *testing.T) {
	r := &Renderer{}
	doc := "# Title\n\nbody\n"
	assert.Equal(t, doc, r.Markdown(doc))

	full := New()
	assert.NotEmpty(t, full.Markdown(doc))
}
