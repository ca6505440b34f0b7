package deliberation

import (
	"math"

	"go.uber.org/zap"

	"quorum/internal/config"
	"quorum/internal/types"
)

// FacilitatorState is the facilitator's own state machine position.
type FacilitatorState string

const (
	FacilitatorAwaitingRound FacilitatorState = "awaiting_round"
	FacilitatorDeciding      FacilitatorState = "deciding"
	FacilitatorIntervening   FacilitatorState = "intervening"
	FacilitatorStopped       FacilitatorState = "stopped"
)

// DecisionKind is the facilitator's post-round verdict.
type DecisionKind string

const (
	DecisionContinue  DecisionKind = "continue"
	DecisionIntervene DecisionKind = "intervene"
	DecisionStop      DecisionKind = "stop"
)

// Decision is the facilitator's post-round output. Moderator carries the
// one-round injection prompt when Kind is DecisionIntervene; Reason and
// RoundsSaved are set when Kind is DecisionStop.
type Decision struct {
	Kind        DecisionKind
	Reason      types.StopReason
	Moderator   string
	RoundsSaved int
}

// Facilitator decides CONTINUE / INTERVENE / STOP after every round from
// the convergence trajectory, the round cap, and the bounded intervention
// budget. Terminal state STOPPED hands control to the synthesis engine.
type Facilitator struct {
	cfg    config.DeliberationConfig
	state  FacilitatorState
	logger *zap.Logger
}

// NewFacilitator creates a facilitator in AWAITING_ROUND.
func NewFacilitator(cfg config.DeliberationConfig, logger *zap.Logger) *Facilitator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Facilitator{cfg: cfg, state: FacilitatorAwaitingRound, logger: logger}
}

// State returns the current machine position.
func (f *Facilitator) State() FacilitatorState { return f.state }

// Reset returns the facilitator to AWAITING_ROUND for the next
// sub-problem.
func (f *Facilitator) Reset() { f.state = FacilitatorAwaitingRound }

// Decide evaluates the trajectory once st.Round rounds have completed.
func (f *Facilitator) Decide(st *types.DeliberationState, goal string) Decision {
	f.state = FacilitatorDeciding
	traj := st.Trajectory
	latest := 0.0
	if len(traj) > 0 {
		latest = traj[len(traj)-1]
	}

	// Consensus: early stop, recording rounds the threshold saved.
	if latest >= f.cfg.ConvergenceThreshold {
		f.state = FacilitatorStopped
		saved := f.cfg.MaxRounds - st.Round
		if saved < 0 {
			saved = 0
		}
		f.logger.Info("Consensus reached",
			zap.Float64("convergence", latest),
			zap.Int("rounds_saved", saved))
		return Decision{Kind: DecisionStop, Reason: types.StopConsensus, RoundsSaved: saved}
	}

	// Soft round cap. The hard ceiling is guard-enforced independently.
	if st.Round >= f.cfg.MaxRounds {
		f.state = FacilitatorStopped
		return Decision{Kind: DecisionStop, Reason: types.StopRoundCap}
	}

	// Stagnant or oscillating for two consecutive rounds: inject a
	// contrarian moderator prompt for exactly one round, a small bounded
	// number of times per sub-problem.
	if st.Interventions < f.cfg.MaxInterventions && unproductive(traj, f.cfg.StagnationEpsilon) {
		f.state = FacilitatorIntervening
		f.logger.Info("Intervening on unproductive trajectory",
			zap.Float64s("trajectory", traj),
			zap.Int("interventions", st.Interventions+1))
		return Decision{Kind: DecisionIntervene, Moderator: contrarianPrompt(goal)}
	}

	f.state = FacilitatorAwaitingRound
	return Decision{Kind: DecisionContinue}
}

// unproductive reports a trajectory whose last two deltas are both
// stagnant (below epsilon) or which oscillates (up then down by more than
// epsilon).
func unproductive(traj []float64, epsilon float64) bool {
	n := len(traj)
	if n < 3 {
		return false
	}
	d1 := traj[n-1] - traj[n-2]
	d2 := traj[n-2] - traj[n-3]

	stagnant := math.Abs(d1) < epsilon && math.Abs(d2) < epsilon
	oscillating := d1*d2 < 0 && math.Abs(d1) >= epsilon && math.Abs(d2) >= epsilon
	return stagnant || oscillating
}
