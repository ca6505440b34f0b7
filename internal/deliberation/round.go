package deliberation

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"quorum/internal/config"
	"quorum/internal/types"
	"quorum/internal/usage"
)

// RoundController executes one round of a sub-problem: concurrent
// fan-out of contribution requests to every panel member, fan-in of the
// replies, transcript append, and the round's convergence and
// meta-discussion signals.
type RoundController struct {
	client types.ReasoningClient
	scorer Scorer
	ledger *usage.Ledger
	cfg    config.DeliberationConfig
	logger *zap.Logger
}

// NewRoundController wires a round controller.
func NewRoundController(client types.ReasoningClient, scorer Scorer, ledger *usage.Ledger, cfg config.DeliberationConfig, logger *zap.Logger) *RoundController {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RoundController{client: client, scorer: scorer, ledger: ledger, cfg: cfg, logger: logger}
}

type memberReply struct {
	persona types.Persona
	result  *types.ContributionResult
	err     error
}

// Run executes the state's current round and mutates the state with the
// collected contributions, the convergence trajectory entry, research
// bookkeeping, and the cost of every call that returned. A persona call
// failure or timeout is logged and skipped; the round proceeds with the
// subset that answered.
func (rc *RoundController) Run(ctx context.Context, st *types.DeliberationState, moderator string) (types.RoundSummary, error) {
	sp := st.Current()
	round := st.Round
	start := time.Now()
	allowResearch := st.ResearchStreak < rc.cfg.ResearchLoopLimit
	finalRound := round >= rc.cfg.MaxRounds-1

	transcript := compressTranscript(st.Transcript, round)

	replies := make([]memberReply, len(st.Panel))
	var g errgroup.Group
	for i, p := range st.Panel {
		i, p := i, p
		g.Go(func() error {
			callCtx, cancel := context.WithTimeout(ctx, rc.cfg.ContributionTimeout)
			defer cancel()

			req := types.ContributionRequest{
				Persona:       p,
				SubProblem:    *sp,
				Round:         round,
				Transcript:    transcript,
				ResearchNotes: st.ResearchNotes,
				Memory:        st.PersonaMemory[p.Code],
				Moderator:     moderator,
				BestEffort:    st.BestEffortPromptInjected,
				AllowResearch: allowResearch,
				FinalRound:    finalRound,
			}
			res, err := rc.client.Contribute(callCtx, req)
			replies[i] = memberReply{persona: p, result: res, err: err}
			// Per-call failures are recoverable; never fail the group.
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		// Session cancelled mid-round: discard partial results, the
		// caller transitions to the killed phase.
		return types.RoundSummary{}, err
	}

	var (
		collected    []types.Contribution
		metaCount    int
		researchReqs int
		questions    []string
	)
	for _, r := range replies {
		if r.err != nil {
			rc.logger.Warn("Contribution failed, proceeding without it",
				zap.String("persona", r.persona.Code),
				zap.Int("round", round),
				zap.Error(r.err))
			continue
		}
		if err := rc.ledger.Record(usage.Entry{
			Operation:    "contribute",
			PersonaCode:  r.persona.Code,
			SubProblemID: sp.ID,
			InputTokens:  r.result.Usage.InputTokens,
			OutputTokens: r.result.Usage.OutputTokens,
			Cost:         r.result.Usage.Cost,
		}); err != nil {
			return types.RoundSummary{}, err
		}
		st.CumulativeCost += r.result.Usage.Cost
		st.SubProblemCost += r.result.Usage.Cost

		c := types.Contribution{
			PersonaCode:       r.persona.Code,
			Round:             round,
			Text:              r.result.Text,
			Stance:            r.result.Stance,
			Vote:              r.result.Vote,
			Confidence:        r.result.Confidence,
			ResearchRequested: r.result.ResearchRequested && allowResearch,
			MetaDiscussion:    r.result.MetaDiscussion,
			ReceivedAt:        time.Now(),
		}
		collected = append(collected, c)
		if c.MetaDiscussion {
			metaCount++
		}
		if c.ResearchRequested {
			researchReqs++
			questions = append(questions, r.result.ResearchQuestions...)
		}
	}

	st.Transcript = append(st.Transcript, collected...)

	convergence := 0.0
	if len(collected) > 0 {
		var err error
		convergence, err = rc.scorer.Score(ctx, collected)
		if err != nil {
			// Scoring is advisory; fall back to a neutral value rather
			// than losing the round.
			rc.logger.Warn("Convergence scoring failed", zap.Error(err))
			convergence = 0.5
		}
	}

	metaFraction := 0.0
	if len(collected) > 0 {
		metaFraction = float64(metaCount) / float64(len(collected))
	}
	researchDominant := len(collected) > 0 && researchReqs*2 > len(collected)

	// Research-loop counter: a research-dominated round that does not
	// improve convergence over the prior round increments the streak;
	// improvement resets it.
	improved := len(st.Trajectory) == 0 || convergence > st.Trajectory[len(st.Trajectory)-1]
	if improved {
		st.ResearchStreak = 0
	} else if researchDominant {
		st.ResearchStreak++
	}
	if allowResearch {
		st.PendingResearch = questions
	} else {
		st.PendingResearch = nil
	}

	st.Trajectory = append(st.Trajectory, convergence)

	summary := types.RoundSummary{
		Round:            round,
		Contributions:    len(collected),
		Convergence:      convergence,
		MetaFraction:     metaFraction,
		ResearchDominant: researchDominant,
		Duration:         time.Since(start),
	}
	st.Rounds = append(st.Rounds, summary)

	rc.logger.Info("Round completed",
		zap.String("sub_problem", sp.ID),
		zap.Int("round", round),
		zap.Int("contributions", len(collected)),
		zap.Float64("convergence", convergence),
		zap.Float64("meta_fraction", metaFraction))

	return summary, nil
}

// RunResearch services the pending research questions collected during
// the last round and appends findings for the next round's prompts. The
// cost of the batch lands on the ledger when the call returns.
func (rc *RoundController) RunResearch(ctx context.Context, st *types.DeliberationState, research types.ResearchClient) {
	if research == nil || len(st.PendingResearch) == 0 {
		return
	}
	if st.ResearchStreak >= rc.cfg.ResearchLoopLimit {
		rc.logger.Info("Research denied, arguing from current evidence",
			zap.Int("streak", st.ResearchStreak))
		st.PendingResearch = nil
		return
	}

	sp := st.Current()
	answers, err := research.Research(ctx, st.PendingResearch)
	st.PendingResearch = nil
	if err != nil {
		rc.logger.Warn("Research batch failed", zap.Error(err))
		return
	}
	var batchCost float64
	for _, a := range answers {
		st.ResearchNotes = append(st.ResearchNotes, a.Question+": "+a.Answer)
		batchCost += a.Cost
	}
	if err := rc.ledger.Record(usage.Entry{
		Operation:    "research",
		SubProblemID: sp.ID,
		Cost:         batchCost,
	}); err != nil {
		rc.logger.Warn("Ledger write failed for research batch", zap.Error(err))
		return
	}
	st.CumulativeCost += batchCost
	st.SubProblemCost += batchCost
}
