package usage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLedgerMonotonicTotal(t *testing.T) {
	l, err := NewLedger("s1", "")
	require.NoError(t, err)

	costs := []float64{0.01, 0.0, 0.25, 0.002}
	var prev float64
	for _, c := range costs {
		require.NoError(t, l.Record(Entry{Operation: "contribute", Cost: c}))
		total := l.Total()
		assert.GreaterOrEqual(t, total, prev, "ledger total must never decrease")
		prev = total
	}
	assert.InDelta(t, 0.262, l.Total(), 1e-9)
}

func TestLedgerRejectsNegativeCost(t *testing.T) {
	l, err := NewLedger("s1", "")
	require.NoError(t, err)

	err = l.Record(Entry{Operation: "contribute", Cost: -0.5})
	require.Error(t, err)
	assert.Zero(t, l.Total())
}

func TestLedgerDimensions(t *testing.T) {
	l, err := NewLedger("s1", "")
	require.NoError(t, err)

	require.NoError(t, l.Record(Entry{Operation: "contribute", PersonaCode: "skeptic", SubProblemID: "sp-1", Cost: 0.10}))
	require.NoError(t, l.Record(Entry{Operation: "contribute", PersonaCode: "engineer", SubProblemID: "sp-1", Cost: 0.20}))
	require.NoError(t, l.Record(Entry{Operation: "synthesis", SubProblemID: "sp-2", Cost: 0.05}))

	assert.InDelta(t, 0.30, l.SubProblemCost("sp-1"), 1e-9)
	assert.InDelta(t, 0.05, l.SubProblemCost("sp-2"), 1e-9)
	assert.InDelta(t, 0.30, l.OperationCost("contribute"), 1e-9)

	total, byOp := l.Summary()
	assert.Equal(t, 3, total.Calls)
	assert.Equal(t, 2, byOp["contribute"].Calls)
	assert.Equal(t, 1, byOp["synthesis"].Calls)
}

func TestLedgerPersistenceRoundtrip(t *testing.T) {
	dir := t.TempDir()

	l, err := NewLedger("s1", dir)
	require.NoError(t, err)
	require.NoError(t, l.Record(Entry{Operation: "decompose", InputTokens: 100, OutputTokens: 50, Cost: 0.03}))

	// No stray tmp file left behind by the atomic write.
	_, err = os.Stat(filepath.Join(dir, "ledger.json.tmp"))
	assert.True(t, os.IsNotExist(err))

	reloaded, err := NewLedger("s1", dir)
	require.NoError(t, err)
	assert.InDelta(t, 0.03, reloaded.Total(), 1e-9)
	assert.InDelta(t, 0.03, reloaded.OperationCost("decompose"), 1e-9)
}
