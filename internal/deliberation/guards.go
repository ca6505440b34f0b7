package deliberation

import (
	"time"

	"go.uber.org/zap"

	"quorum/internal/config"
	"quorum/internal/types"
)

// GuardAction is the tagged outcome of a guard check.
type GuardAction string

const (
	GuardAllow GuardAction = "allow"
	GuardStop  GuardAction = "stop"
	GuardPause GuardAction = "pause"
)

// GuardDecision is what a guard returns. Reason is set for GuardStop,
// Pause for GuardPause.
type GuardDecision struct {
	Action GuardAction
	Guard  string
	Reason types.StopReason
	Pause  *types.PauseEvent
}

var allow = GuardDecision{Action: GuardAllow}

// Guard is one independent circuit-breaker evaluated on every state
// transition. A firing guard takes precedence over the facilitator's own
// decision but terminates only the current sub-problem, never the
// session.
type Guard interface {
	Name() string
	Check(st *types.DeliberationState) GuardDecision
}

// CostGuard enforces the per-sub-problem and per-session cost caps.
// Checks run at round boundaries only, so a cap can be overshot by the
// cost of the panel fan-out already in flight when it trips.
type CostGuard struct {
	cfg config.DeliberationConfig
}

func (g CostGuard) Name() string { return "cost" }

func (g CostGuard) Check(st *types.DeliberationState) GuardDecision {
	if g.cfg.SessionCostCap > 0 && st.CumulativeCost >= g.cfg.SessionCostCap {
		return GuardDecision{Action: GuardStop, Guard: g.Name(), Reason: types.StopCostExceeded}
	}
	if g.cfg.SubProblemCostCap > 0 && st.SubProblemCost >= g.cfg.SubProblemCostCap {
		return GuardDecision{Action: GuardStop, Guard: g.Name(), Reason: types.StopCostExceeded}
	}
	return allow
}

// RoundGuard is the hard round ceiling, independent of the facilitator's
// softer convergence-based cap. It also caps the dependency-chain depth
// of the active sub-problem, the breaker against runaway decomposition.
type RoundGuard struct {
	cfg config.DeliberationConfig
}

func (g RoundGuard) Name() string { return "round" }

func (g RoundGuard) Check(st *types.DeliberationState) GuardDecision {
	if st.Round >= g.cfg.MaxRounds {
		return GuardDecision{Action: GuardStop, Guard: g.Name(), Reason: types.StopRoundCap}
	}
	if st.Depth >= g.cfg.MaxDepth {
		return GuardDecision{Action: GuardStop, Guard: g.Name(), Reason: types.StopDepthExceeded}
	}
	return allow
}

// ContextGuard fires once per sub-problem when the meta-discussion
// fraction crosses the configured limit within the first rounds,
// producing a pause event with the three resolvable outcomes.
type ContextGuard struct {
	cfg config.DeliberationConfig
}

func (g ContextGuard) Name() string { return "context" }

func (g ContextGuard) Check(st *types.DeliberationState) GuardDecision {
	if st.ContextPauseFired || len(st.Rounds) == 0 {
		return allow
	}
	last := st.Rounds[len(st.Rounds)-1]
	if last.Round >= g.cfg.MetaFractionRounds {
		return allow
	}
	if last.MetaFraction <= g.cfg.MetaFractionLimit {
		return allow
	}
	sp := st.Current()
	spID := ""
	if sp != nil {
		spID = sp.ID
	}
	return GuardDecision{
		Action: GuardPause,
		Guard:  g.Name(),
		Pause: &types.PauseEvent{
			Kind:         types.WaitContextChoice,
			SessionID:    st.SessionID,
			SubProblemID: spID,
			Questions: []string{
				"The panel is spending most of its effort debating whether enough context exists.",
			},
			Choices: []types.PauseChoice{
				types.ChoiceContinueBestEffort,
				types.ChoiceProvideContext,
				types.ChoiceEndSubProblem,
			},
			Deadline: time.Now().Add(g.cfg.HumanInputTimeout),
		},
	}
}

// GuardLayer evaluates all guards in order; the first firing wins.
type GuardLayer struct {
	guards []Guard
	logger *zap.Logger
}

// NewGuardLayer assembles the standard guard set. Order matters: cost and
// the hard round ceiling outrank the context pause.
func NewGuardLayer(cfg config.DeliberationConfig, logger *zap.Logger) *GuardLayer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GuardLayer{
		guards: []Guard{CostGuard{cfg: cfg}, RoundGuard{cfg: cfg}, ContextGuard{cfg: cfg}},
		logger: logger,
	}
}

// Check runs every guard and returns the first non-allow decision.
func (gl *GuardLayer) Check(st *types.DeliberationState) GuardDecision {
	for _, g := range gl.guards {
		d := g.Check(st)
		if d.Action != GuardAllow {
			gl.logger.Info("Guard fired",
				zap.String("guard", g.Name()),
				zap.String("action", string(d.Action)),
				zap.String("reason", string(d.Reason)))
			return d
		}
	}
	return allow
}
