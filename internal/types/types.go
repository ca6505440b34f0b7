// Package types holds the shared domain model for quorum deliberation
// sessions: the immutable problem input, decomposed sub-problems, persona
// panels, round transcripts, and the root DeliberationState aggregate that
// every other component reads or mutates.
package types

import (
	"time"
)

// ConstraintKind classifies a typed problem constraint.
type ConstraintKind string

const (
	ConstraintBudget     ConstraintKind = "budget"
	ConstraintDeadline   ConstraintKind = "deadline"
	ConstraintScope      ConstraintKind = "scope"
	ConstraintCompliance ConstraintKind = "compliance"
	ConstraintQuality    ConstraintKind = "quality"
)

// Constraint is a typed restriction on acceptable recommendations.
// Bound is optional; when present it carries the numeric limit
// (e.g. BUDGET <= 50000).
type Constraint struct {
	Kind        ConstraintKind `json:"kind"`
	Description string         `json:"description"`
	Bound       *float64       `json:"bound,omitempty"`
}

// Problem is the immutable session input. Context answers gathered during
// a clarification pause are merged into Context by the orchestrator before
// deliberation begins; nothing mutates a Problem afterwards.
type Problem struct {
	Statement   string            `json:"statement"`
	Context     map[string]string `json:"context,omitempty"`
	Constraints []Constraint      `json:"constraints,omitempty"`
}

// SubProblem is one independently deliberated facet of the problem.
// Read-only after decomposition except for the Completed flag.
type SubProblem struct {
	ID            string   `json:"id"`
	Goal          string   `json:"goal"`
	Complexity    float64  `json:"complexity"` // 0.0-1.0
	DependencyIDs []string `json:"dependency_ids,omitempty"`
	Completed     bool     `json:"completed"`
}

// Persona is a fixed expert role drawn from the static registry.
type Persona struct {
	Code          string   `json:"code"`
	Role          string   `json:"role"`
	PrimaryTag    string   `json:"primary_tag"`
	SecondaryTags []string `json:"secondary_tags,omitempty"`
}

// Contribution is one persona's statement in one round. The transcript for
// a sub-problem is the append-only ordered sequence of all contributions
// across all rounds; order within a round records arrival only.
type Contribution struct {
	PersonaCode       string    `json:"persona_code"`
	Round             int       `json:"round"`
	Text              string    `json:"text"`
	Stance            string    `json:"stance"`
	Vote              string    `json:"vote,omitempty"`
	Confidence        float64   `json:"confidence"`
	ResearchRequested bool      `json:"research_requested"`
	MetaDiscussion    bool      `json:"meta_discussion"`
	ReceivedAt        time.Time `json:"received_at"`
}

// RoundSummary captures the per-round signals the facilitator and guards
// consume.
type RoundSummary struct {
	Round            int           `json:"round"`
	Contributions    int           `json:"contributions"`
	Convergence      float64       `json:"convergence"`
	MetaFraction     float64       `json:"meta_fraction"`
	ResearchDominant bool          `json:"research_dominant"`
	Duration         time.Duration `json:"duration"`
}

// StopReason records why deliberation on a sub-problem ended.
type StopReason string

const (
	StopConsensus     StopReason = "consensus"
	StopRoundCap      StopReason = "round_cap"
	StopDepthExceeded StopReason = "depth_exceeded"
	StopCostExceeded  StopReason = "cost_exceeded"
	StopUserEnded     StopReason = "user_ended"
	StopKilled        StopReason = "killed"
)

// SubProblemResult is the frozen output of one completed deliberation
// loop. Created by the synthesis engine, owned by the sequencer, read by
// meta-synthesis.
type SubProblemResult struct {
	SubProblemID      string            `json:"sub_problem_id"`
	Goal              string            `json:"goal"`
	Synthesis         string            `json:"synthesis"`
	Confidence        float64           `json:"confidence"`
	Votes             map[string]int    `json:"votes,omitempty"`
	ContributionCount int               `json:"contribution_count"`
	Cost              float64           `json:"cost"`
	Duration          time.Duration     `json:"duration"`
	Panel             []string          `json:"panel"`
	PersonaSummaries  map[string]string `json:"persona_summaries,omitempty"`
	StopReason        StopReason        `json:"stop_reason"`
	RoundsUsed        int               `json:"rounds_used"`
	RoundsSaved       int               `json:"rounds_saved"`
	LimitedContext    bool              `json:"limited_context"`
}

// Phase is the closed set of session states. Terminal phases are
// Completed, Killed and Failed.
type Phase string

const (
	PhaseDecomposing   Phase = "decomposing"
	PhaseClarifying    Phase = "clarifying"
	PhaseDeliberating  Phase = "deliberating"
	PhaseContextPaused Phase = "context_paused"
	PhaseSynthesizing  Phase = "synthesizing"
	PhaseMetaSynthesis Phase = "meta_synthesis"
	PhaseCompleted     Phase = "completed"
	PhaseKilled        Phase = "killed"
	PhaseFailed        Phase = "failed"
)

// Terminal reports whether the phase ends the session.
func (p Phase) Terminal() bool {
	return p == PhaseCompleted || p == PhaseKilled || p == PhaseFailed
}

// WaitKind marks what a checkpointed session is suspended on. Resume must
// validate this marker before applying an incoming choice.
type WaitKind string

const (
	WaitNone          WaitKind = ""
	WaitClarification WaitKind = "clarification"
	WaitContextChoice WaitKind = "context_choice"
)

// DeliberationState is the root aggregate for a session. Exactly one
// component mutates it at a time; observers read Snapshot copies.
type DeliberationState struct {
	SessionID   string       `json:"session_id"`
	Problem     Problem      `json:"problem"`
	SubProblems []SubProblem `json:"sub_problems"`

	// Active sub-problem transients. Reset by the sequencer when Index
	// advances. Depth is the active sub-problem's dependency-chain depth.
	Index                    int            `json:"index"`
	Round                    int            `json:"round"`
	Depth                    int            `json:"depth"`
	Panel                    []Persona      `json:"panel,omitempty"`
	Transcript               []Contribution `json:"transcript,omitempty"`
	Trajectory               []float64      `json:"trajectory,omitempty"`
	Rounds                   []RoundSummary `json:"rounds,omitempty"`
	Interventions            int            `json:"interventions"`
	ResearchStreak           int            `json:"research_streak"`
	ContextPauseFired        bool           `json:"context_pause_fired"`
	BestEffortPromptInjected bool           `json:"best_effort_prompt_injected"`
	SubProblemCost           float64        `json:"sub_problem_cost"`
	SubProblemStart          time.Time      `json:"sub_problem_start"`
	PendingResearch          []string       `json:"pending_research,omitempty"`
	ResearchNotes            []string       `json:"research_notes,omitempty"`

	// Session-wide.
	CumulativeCost     float64            `json:"cumulative_cost"`
	LimitedContextMode bool               `json:"limited_context_mode"`
	Results            []SubProblemResult `json:"results,omitempty"`
	PersonaMemory      map[string]string  `json:"persona_memory,omitempty"`
	GapQuestions       []string           `json:"gap_questions,omitempty"`
	Phase              Phase              `json:"phase"`
	WaitingFor         WaitKind           `json:"waiting_for"`
	FailureReason      string             `json:"failure_reason,omitempty"`
	FinalReport        string             `json:"final_report,omitempty"`
	MetaSynthesisCost  float64            `json:"meta_synthesis_cost"`
	CreatedAt          time.Time          `json:"created_at"`
	UpdatedAt          time.Time          `json:"updated_at"`
}

// Current returns the active sub-problem, or nil when the index has moved
// past the last one.
func (s *DeliberationState) Current() *SubProblem {
	if s.Index < 0 || s.Index >= len(s.SubProblems) {
		return nil
	}
	return &s.SubProblems[s.Index]
}

// CurrentRoundContributions returns the contributions recorded for the
// given round of the active sub-problem.
func (s *DeliberationState) CurrentRoundContributions(round int) []Contribution {
	var out []Contribution
	for _, c := range s.Transcript {
		if c.Round == round {
			out = append(out, c)
		}
	}
	return out
}

// Snapshot returns a deep copy safe for concurrent readers. The copy
// shares nothing mutable with the receiver.
func (s *DeliberationState) Snapshot() *DeliberationState {
	cp := *s

	cp.SubProblems = append([]SubProblem(nil), s.SubProblems...)
	for i := range cp.SubProblems {
		cp.SubProblems[i].DependencyIDs = append([]string(nil), s.SubProblems[i].DependencyIDs...)
	}
	cp.Panel = append([]Persona(nil), s.Panel...)
	for i := range cp.Panel {
		cp.Panel[i].SecondaryTags = append([]string(nil), s.Panel[i].SecondaryTags...)
	}
	cp.Transcript = append([]Contribution(nil), s.Transcript...)
	cp.Trajectory = append([]float64(nil), s.Trajectory...)
	cp.Rounds = append([]RoundSummary(nil), s.Rounds...)
	cp.PendingResearch = append([]string(nil), s.PendingResearch...)
	cp.ResearchNotes = append([]string(nil), s.ResearchNotes...)
	cp.GapQuestions = append([]string(nil), s.GapQuestions...)

	cp.Results = append([]SubProblemResult(nil), s.Results...)
	for i := range cp.Results {
		cp.Results[i].Panel = append([]string(nil), s.Results[i].Panel...)
		cp.Results[i].Votes = copyStringIntMap(s.Results[i].Votes)
		cp.Results[i].PersonaSummaries = copyStringMap(s.Results[i].PersonaSummaries)
	}

	cp.PersonaMemory = copyStringMap(s.PersonaMemory)
	cp.Problem.Context = copyStringMap(s.Problem.Context)
	cp.Problem.Constraints = append([]Constraint(nil), s.Problem.Constraints...)
	for i := range cp.Problem.Constraints {
		if b := s.Problem.Constraints[i].Bound; b != nil {
			v := *b
			cp.Problem.Constraints[i].Bound = &v
		}
	}

	return &cp
}

func copyStringMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func copyStringIntMap(m map[string]int) map[string]int {
	if m == nil {
		return nil
	}
	out := make(map[string]int, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
