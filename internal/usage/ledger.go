// Package usage implements the session cost ledger. The ledger is a
// monotonically increasing counter updated only after a priced call
// returns, never pre-emptively, so a crash mid-call never double-counts
// or loses more than the in-flight call's cost.
package usage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Entry records one priced collaborator call.
type Entry struct {
	Timestamp    time.Time `json:"timestamp"`
	Operation    string    `json:"operation"` // contribute, decide, synthesis, meta_synthesis, research
	PersonaCode  string    `json:"persona_code,omitempty"`
	SubProblemID string    `json:"sub_problem_id,omitempty"`
	InputTokens  int       `json:"input_tokens"`
	OutputTokens int       `json:"output_tokens"`
	Cost         float64   `json:"cost"`
}

// Totals holds the rolled-up counters for one dimension value.
type Totals struct {
	Calls        int     `json:"calls"`
	InputTokens  int64   `json:"input_tokens"`
	OutputTokens int64   `json:"output_tokens"`
	Cost         float64 `json:"cost"`
}

func (t *Totals) add(e Entry) {
	t.Calls++
	t.InputTokens += int64(e.InputTokens)
	t.OutputTokens += int64(e.OutputTokens)
	t.Cost += e.Cost
}

// ledgerData is the persisted shape.
type ledgerData struct {
	Version      string            `json:"version"`
	SessionID    string            `json:"session_id"`
	Total        Totals            `json:"total"`
	ByOperation  map[string]Totals `json:"by_operation"`
	ByPersona    map[string]Totals `json:"by_persona"`
	BySubProblem map[string]Totals `json:"by_sub_problem"`
	Entries      []Entry           `json:"entries,omitempty"`
}

// Ledger tracks cumulative deliberation cost for one session.
type Ledger struct {
	mu       sync.Mutex
	data     ledgerData
	filePath string
}

// NewLedger creates a ledger persisted under the session directory.
// An empty dir keeps the ledger in memory only.
func NewLedger(sessionID, dir string) (*Ledger, error) {
	l := &Ledger{
		data: ledgerData{
			Version:      "1.0",
			SessionID:    sessionID,
			ByOperation:  make(map[string]Totals),
			ByPersona:    make(map[string]Totals),
			BySubProblem: make(map[string]Totals),
		},
	}
	if dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create ledger dir: %w", err)
		}
		l.filePath = filepath.Join(dir, "ledger.json")
		if err := l.load(); err != nil {
			return nil, err
		}
	}
	return l, nil
}

func (l *Ledger) load() error {
	data, err := os.ReadFile(l.filePath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read ledger: %w", err)
	}
	var d ledgerData
	if err := json.Unmarshal(data, &d); err != nil {
		return fmt.Errorf("parse ledger: %w", err)
	}
	if d.ByOperation == nil {
		d.ByOperation = make(map[string]Totals)
	}
	if d.ByPersona == nil {
		d.ByPersona = make(map[string]Totals)
	}
	if d.BySubProblem == nil {
		d.BySubProblem = make(map[string]Totals)
	}
	l.data = d
	return nil
}

// Record adds one priced call to the ledger and persists it. Negative
// costs are rejected to keep the total monotonic.
func (l *Ledger) Record(e Entry) error {
	if e.Cost < 0 {
		return fmt.Errorf("negative cost %.6f rejected", e.Cost)
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.data.Total.add(e)
	op := l.data.ByOperation[e.Operation]
	op.add(e)
	l.data.ByOperation[e.Operation] = op
	if e.PersonaCode != "" {
		p := l.data.ByPersona[e.PersonaCode]
		p.add(e)
		l.data.ByPersona[e.PersonaCode] = p
	}
	if e.SubProblemID != "" {
		s := l.data.BySubProblem[e.SubProblemID]
		s.add(e)
		l.data.BySubProblem[e.SubProblemID] = s
	}
	l.data.Entries = append(l.data.Entries, e)

	return l.saveLocked()
}

func (l *Ledger) saveLocked() error {
	if l.filePath == "" {
		return nil
	}
	data, err := json.MarshalIndent(l.data, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal ledger: %w", err)
	}
	tmp := l.filePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write ledger: %w", err)
	}
	return os.Rename(tmp, l.filePath)
}

// Total returns the cumulative session cost.
func (l *Ledger) Total() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.data.Total.Cost
}

// SubProblemCost returns the cumulative cost attributed to one
// sub-problem.
func (l *Ledger) SubProblemCost(subProblemID string) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.data.BySubProblem[subProblemID].Cost
}

// OperationCost returns the cumulative cost for one operation kind.
func (l *Ledger) OperationCost(op string) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.data.ByOperation[op].Cost
}

// Summary returns a copy of the rolled-up totals.
func (l *Ledger) Summary() (total Totals, byOperation map[string]Totals) {
	l.mu.Lock()
	defer l.mu.Unlock()
	byOperation = make(map[string]Totals, len(l.data.ByOperation))
	for k, v := range l.data.ByOperation {
		byOperation[k] = v
	}
	return l.data.Total, byOperation
}
