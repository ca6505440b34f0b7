package types

import (
	"context"
	"time"
)

// CallUsage reports the priced outcome of a single collaborator call.
// The cost ledger is updated from these immediately after the call
// returns, never pre-emptively.
type CallUsage struct {
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	Cost         float64 `json:"cost"`
}

// ContributionRequest carries everything one panel member needs for one
// round: the persona, the goal, the (compressed) transcript so far, any
// research findings, and the best-effort directive when limited-context
// mode is active.
type ContributionRequest struct {
	Persona       Persona
	SubProblem    SubProblem
	Round         int
	Transcript    string
	ResearchNotes []string
	Memory        string // carry-over summary from earlier sub-problems
	Moderator     string // facilitator intervention prompt, one round only
	BestEffort    bool
	AllowResearch bool
	FinalRound    bool // ask for an explicit vote
}

// ContributionResult is the structured reply from the reasoning-model
// collaborator for one contribution request.
type ContributionResult struct {
	Text              string
	Stance            string
	Vote              string
	Confidence        float64
	ResearchRequested bool
	ResearchQuestions []string
	MetaDiscussion    bool
	Usage             CallUsage
}

// ReasoningClient is the reasoning-model collaborator. Implementations
// must be idempotent-safe under retry and report cost on every call.
type ReasoningClient interface {
	// Contribute produces one persona's statement for one round.
	Contribute(ctx context.Context, req ContributionRequest) (*ContributionResult, error)
	// Decide runs a structured (JSON-returning) completion used by the
	// decomposer and the synthesis engine.
	Decide(ctx context.Context, prompt string) (string, CallUsage, error)
}

// ResearchAnswer is one answered research question.
type ResearchAnswer struct {
	Question   string   `json:"question"`
	Answer     string   `json:"answer"`
	Sources    []string `json:"sources,omitempty"`
	Confidence float64  `json:"confidence"`
	Cost       float64  `json:"cost"`
}

// ResearchClient is the research collaborator. Consolidation, rate
// limiting and caching are opaque; the core needs bounded latency and a
// cost figure per batch.
type ResearchClient interface {
	Research(ctx context.Context, questions []string) ([]ResearchAnswer, error)
}

// PauseChoice is one of the finite resolutions a human can pick for a
// pause event.
type PauseChoice string

const (
	ChoiceContinueBestEffort PauseChoice = "continue_best_effort"
	ChoiceProvideContext     PauseChoice = "provide_context"
	ChoiceEndSubProblem      PauseChoice = "end_subproblem"
)

// PauseEvent is a typed request for human input.
type PauseEvent struct {
	Kind         WaitKind      `json:"kind"`
	SessionID    string        `json:"session_id"`
	SubProblemID string        `json:"sub_problem_id,omitempty"`
	Questions    []string      `json:"questions,omitempty"`
	Choices      []PauseChoice `json:"choices,omitempty"`
	Deadline     time.Time     `json:"deadline"`
}

// PauseResolution is the human's (or the timeout default's) answer.
type PauseResolution struct {
	Choice   PauseChoice       `json:"choice,omitempty"`
	Answers  map[string]string `json:"answers,omitempty"`
	TimedOut bool              `json:"timed_out"`
}

// HumanInput is the human-input collaborator. Resolve blocks until a
// choice arrives or the event deadline passes, then returns the
// deterministic default with TimedOut set.
type HumanInput interface {
	Resolve(ctx context.Context, ev PauseEvent) (PauseResolution, error)
}

// CheckpointStore persists DeliberationState at round boundaries and
// guard-triggered pauses. Load returns (nil, nil) when the session is
// absent.
type CheckpointStore interface {
	Save(ctx context.Context, st *DeliberationState) error
	Load(ctx context.Context, sessionID string) (*DeliberationState, error)
}

// EventType tags events on the append-only session stream.
type EventType string

const (
	EventPhaseTransition     EventType = "phase_transition"
	EventRoundCompleted      EventType = "round_completed"
	EventGuardFired          EventType = "guard_fired"
	EventPauseRequested      EventType = "pause_requested"
	EventPauseResolved       EventType = "pause_resolved"
	EventSubProblemCompleted EventType = "subproblem_completed"
	EventSessionCompleted    EventType = "session_completed"
	EventSessionKilled       EventType = "session_killed"
	EventSessionFailed       EventType = "session_failed"
)

// Event is one entry on the session stream.
type Event struct {
	Type         EventType `json:"type"`
	SessionID    string    `json:"session_id"`
	Phase        Phase     `json:"phase,omitempty"`
	SubProblemID string    `json:"sub_problem_id,omitempty"`
	Round        int       `json:"round,omitempty"`
	Message      string    `json:"message,omitempty"`
	At           time.Time `json:"at"`
}

// EventSink receives session events. Emit must never block; slow
// consumers lose events rather than stalling deliberation.
type EventSink interface {
	Emit(ev Event)
}

// PersonaRegistry is the static role lookup, read-only to the core.
type PersonaRegistry interface {
	All() []Persona
	Lookup(code string) (Persona, bool)
}
