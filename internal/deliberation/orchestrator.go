package deliberation

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"quorum/internal/config"
	"quorum/internal/decompose"
	"quorum/internal/persona"
	"quorum/internal/types"
	"quorum/internal/usage"
)

// Orchestrator drives a session through the fixed phase topology:
// decompose, optional clarification pause, the per-sub-problem
// deliberation loop, and meta-synthesis. It is the single writer of
// DeliberationState; observers read Snapshot copies.
type Orchestrator struct {
	cfg config.Config

	client   types.ReasoningClient
	research types.ResearchClient
	human    types.HumanInput
	store    types.CheckpointStore
	sink     types.EventSink

	decomposer  *decompose.Decomposer
	selector    *persona.Selector
	rounds      *RoundController
	facilitator *Facilitator
	guards      *GuardLayer
	synth       *Synthesizer
	ledger      *usage.Ledger
	logger      *zap.Logger

	mu sync.RWMutex
	st *types.DeliberationState
}

// Options wires the orchestrator's collaborators. Client, Store and
// Ledger are required; Research, Human, Sink, Scorer and Registry have
// working defaults.
type Options struct {
	Client   types.ReasoningClient
	Research types.ResearchClient
	Human    types.HumanInput
	Store    types.CheckpointStore
	Sink     types.EventSink
	Registry types.PersonaRegistry
	Scorer   Scorer
	Ledger   *usage.Ledger
	Logger   *zap.Logger
}

// New assembles an orchestrator.
func New(cfg config.Config, opts Options) (*Orchestrator, error) {
	if opts.Client == nil {
		return nil, fmt.Errorf("reasoning client is required")
	}
	if opts.Store == nil {
		return nil, fmt.Errorf("checkpoint store is required")
	}
	if opts.Ledger == nil {
		return nil, fmt.Errorf("cost ledger is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	sink := opts.Sink
	if sink == nil {
		sink = nopSink{}
	}
	registry := opts.Registry
	if registry == nil {
		registry = persona.NewRegistry()
	}
	scorer := opts.Scorer
	if scorer == nil {
		scorer = LexicalScorer{}
	}

	dc := cfg.Deliberation
	return &Orchestrator{
		cfg:         cfg,
		client:      opts.Client,
		research:    opts.Research,
		human:       opts.Human,
		store:       opts.Store,
		sink:        sink,
		decomposer:  decompose.New(opts.Client, opts.Ledger, dc, logger.Named("decompose")),
		selector:    persona.NewSelector(registry, dc, logger.Named("persona")),
		rounds:      NewRoundController(opts.Client, scorer, opts.Ledger, dc, logger.Named("round")),
		facilitator: NewFacilitator(dc, logger.Named("facilitator")),
		guards:      NewGuardLayer(dc, logger.Named("guards")),
		synth:       NewSynthesizer(opts.Client, opts.Ledger, logger.Named("synthesis")),
		ledger:      opts.Ledger,
		logger:      logger,
	}, nil
}

// Snapshot returns an immutable copy of the current state for concurrent
// readers, or nil before a session starts.
func (o *Orchestrator) Snapshot() *types.DeliberationState {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.st == nil {
		return nil
	}
	return o.st.Snapshot()
}

func (o *Orchestrator) setState(st *types.DeliberationState) {
	o.mu.Lock()
	o.st = st
	o.mu.Unlock()
}

// Run executes a fresh session from the problem statement. An empty
// sessionID gets a generated one. Cancellation of ctx kills the session:
// outstanding calls abort and the state lands in the killed phase
// without synthesis.
func (o *Orchestrator) Run(ctx context.Context, sessionID string, problem types.Problem) (*types.DeliberationState, error) {
	if problem.Context == nil {
		problem.Context = make(map[string]string)
	}
	if sessionID == "" {
		sessionID = uuid.New().String()[:8]
	}
	st := &types.DeliberationState{
		SessionID:     sessionID,
		Problem:       problem,
		Phase:         types.PhaseDecomposing,
		PersonaMemory: make(map[string]string),
		CreatedAt:     time.Now(),
	}
	o.setState(st)
	o.transition(st, types.PhaseDecomposing, "decomposing problem")

	res, err := o.decomposer.Decompose(ctx, st.Problem)
	if err != nil {
		if ctx.Err() != nil {
			return o.kill(st)
		}
		return o.fail(st, fmt.Errorf("decompose: %w", err))
	}
	st.SubProblems = res.SubProblems
	st.GapQuestions = res.GapQuestions
	st.CumulativeCost += res.Cost
	if err := o.checkpoint(ctx, st); err != nil {
		return o.fail(st, err)
	}

	if len(st.GapQuestions) > 0 {
		if err := o.clarify(ctx, st); err != nil {
			if ctx.Err() != nil {
				return o.kill(st)
			}
			return o.fail(st, err)
		}
	} else {
		st.Phase = types.PhaseDeliberating
	}

	return o.drive(ctx, st)
}

// Resume reloads a checkpointed session, validates the waiting-for
// marker against the supplied resolution, applies it, and continues the
// loop at the persisted round boundary without duplicating
// contributions.
func (o *Orchestrator) Resume(ctx context.Context, sessionID string, res *types.PauseResolution) (*types.DeliberationState, error) {
	st, err := o.store.Load(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}
	if st == nil {
		return nil, fmt.Errorf("session %s not found", sessionID)
	}
	if st.Phase.Terminal() {
		return st, nil
	}
	if st.Current() == nil && len(st.Results) != len(st.SubProblems) {
		st.FailureReason = "resume: current sub-problem missing"
		st.Phase = types.PhaseFailed
		_ = o.store.Save(ctx, st)
		return st, fmt.Errorf("state invariant violated: missing current sub-problem")
	}
	o.setState(st)

	switch st.WaitingFor {
	case types.WaitClarification:
		if res == nil {
			return nil, fmt.Errorf("session is waiting for clarification answers")
		}
		o.applyClarification(st, *res)
	case types.WaitContextChoice:
		if res == nil {
			return nil, fmt.Errorf("session is waiting for a context choice")
		}
		o.applyContextChoice(st, *res)
		if res.Choice == types.ChoiceEndSubProblem {
			// The choice ends the active sub-problem here and now; the
			// loop below must only ever see the next one.
			if err := o.finishSubProblem(ctx, st, types.StopUserEnded, 0); err != nil {
				if ctx.Err() != nil {
					return o.kill(st)
				}
				return o.fail(st, err)
			}
		}
	default:
		if res != nil {
			return nil, fmt.Errorf("session is not waiting for input (marker %q)", st.WaitingFor)
		}
		st.Phase = types.PhaseDeliberating
	}
	if err := o.checkpoint(ctx, st); err != nil {
		return o.fail(st, err)
	}

	return o.drive(ctx, st)
}

// drive is the sub-problem sequencing loop: select panel, deliberate,
// synthesize, advance, and finally integrate.
func (o *Orchestrator) drive(ctx context.Context, st *types.DeliberationState) (*types.DeliberationState, error) {
	for st.Current() != nil {
		sp := st.Current()
		if len(st.Panel) == 0 {
			st.Panel = o.selector.Select(*sp)
			st.Depth = dependencyDepth(*sp, st.SubProblems)
			st.SubProblemStart = time.Now()
			if err := validatePanel(st.Panel, o.cfg.Deliberation); err != nil {
				return o.fail(st, err)
			}
		}
		st.Phase = types.PhaseDeliberating

		reason, saved, err := o.deliberate(ctx, st)
		if err != nil {
			if ctx.Err() != nil {
				return o.kill(st)
			}
			return o.fail(st, err)
		}

		if err := o.finishSubProblem(ctx, st, reason, saved); err != nil {
			if ctx.Err() != nil {
				return o.kill(st)
			}
			return o.fail(st, err)
		}
	}

	// Atomic-problem shortcut: one sub-problem means its synthesis is
	// the final output and no meta-synthesis cost is ever incurred.
	if len(st.Results) == 1 {
		st.FinalReport = st.Results[0].Synthesis
	} else {
		o.transition(st, types.PhaseMetaSynthesis, "integrating sub-problem results")
		report, err := o.synth.Meta(ctx, st)
		if err != nil {
			if ctx.Err() != nil {
				return o.kill(st)
			}
			return o.fail(st, err)
		}
		st.FinalReport = report
	}

	st.Phase = types.PhaseCompleted
	st.UpdatedAt = time.Now()
	if err := o.store.Save(ctx, st); err != nil {
		return o.fail(st, fmt.Errorf("final checkpoint: %w", err))
	}
	o.sink.Emit(event(types.EventSessionCompleted, st, "session completed"))
	o.logger.Info("Session completed",
		zap.String("session", st.SessionID),
		zap.Int("sub_problems", len(st.Results)),
		zap.Float64("cost", st.CumulativeCost))
	return st, nil
}

// deliberate runs facilitator-gated rounds for the active sub-problem
// until a stop condition holds. Guard firings take precedence over the
// facilitator's decision and terminate only this sub-problem.
func (o *Orchestrator) deliberate(ctx context.Context, st *types.DeliberationState) (types.StopReason, int, error) {
	o.facilitator.Reset()
	moderator := ""

	// A checkpoint taken right after a completed round has not had that
	// round's verdict applied yet. On resume the persisted trajectory is
	// evaluated first, so a round that already cleared the threshold
	// stops here instead of paying for another one.
	if st.Round > 0 && len(st.Trajectory) == st.Round {
		reason, saved, done, err := o.roundBoundary(ctx, st, &moderator)
		if done || err != nil {
			return reason, saved, err
		}
	}

	for {
		if d := o.guards.Check(st); d.Action == GuardStop {
			o.sink.Emit(event(types.EventGuardFired, st, d.Guard+": "+string(d.Reason)))
			return d.Reason, 0, nil
		}

		if _, err := o.rounds.Run(ctx, st, moderator); err != nil {
			return "", 0, err
		}
		moderator = ""
		st.Round++

		if err := o.checkpoint(ctx, st); err != nil {
			return "", 0, err
		}
		o.sink.Emit(event(types.EventRoundCompleted, st, fmt.Sprintf("round %d complete", st.Round)))

		reason, saved, done, err := o.roundBoundary(ctx, st, &moderator)
		if done || err != nil {
			return reason, saved, err
		}
	}
}

// roundBoundary applies one completed round's verdict: guards first,
// then the facilitator, then any granted research batch. done reports
// that deliberation on the sub-problem is over.
func (o *Orchestrator) roundBoundary(ctx context.Context, st *types.DeliberationState, moderator *string) (types.StopReason, int, bool, error) {
	switch d := o.guards.Check(st); d.Action {
	case GuardStop:
		o.sink.Emit(event(types.EventGuardFired, st, d.Guard+": "+string(d.Reason)))
		return d.Reason, 0, true, nil
	case GuardPause:
		st.ContextPauseFired = true
		o.sink.Emit(event(types.EventGuardFired, st, d.Guard+": pause"))
		res, err := o.pauseForContext(ctx, st, d.Pause)
		if err != nil {
			return "", 0, false, err
		}
		if res.Choice == types.ChoiceEndSubProblem {
			return types.StopUserEnded, 0, true, nil
		}
	}

	dec := o.facilitator.Decide(st, st.Current().Goal)
	switch dec.Kind {
	case DecisionStop:
		return dec.Reason, dec.RoundsSaved, true, nil
	case DecisionIntervene:
		st.Interventions++
		*moderator = dec.Moderator
	}

	o.rounds.RunResearch(ctx, st, o.research)
	return "", 0, false, nil
}

// finishSubProblem synthesizes the active sub-problem's result, freezes
// it, and advances the sequencer.
func (o *Orchestrator) finishSubProblem(ctx context.Context, st *types.DeliberationState, reason types.StopReason, saved int) error {
	o.transition(st, types.PhaseSynthesizing, "synthesizing "+st.Current().ID)
	result, err := o.synth.SubProblem(ctx, st, reason, saved)
	if err != nil {
		return err
	}
	o.advance(st, result)
	return o.checkpoint(ctx, st)
}

// advance is the sequencer step: freeze the result, carry over persona
// memory, reset all per-sub-problem transients, and move the index. This
// is the only place the sub-problem index changes.
func (o *Orchestrator) advance(st *types.DeliberationState, result types.SubProblemResult) {
	st.Results = append(st.Results, result)
	st.SubProblems[st.Index].Completed = true
	for code, summary := range result.PersonaSummaries {
		st.PersonaMemory[code] = summary
	}

	st.Index++
	st.Round = 0
	st.Depth = 0
	st.Panel = nil
	st.Transcript = nil
	st.Trajectory = nil
	st.Rounds = nil
	st.Interventions = 0
	st.ResearchStreak = 0
	st.ContextPauseFired = false
	st.BestEffortPromptInjected = false
	st.SubProblemCost = 0
	st.PendingResearch = nil
	st.ResearchNotes = nil

	o.sink.Emit(event(types.EventSubProblemCompleted, st, result.SubProblemID+" complete"))
	o.logger.Info("Sub-problem completed",
		zap.String("sub_problem", result.SubProblemID),
		zap.String("stop_reason", string(result.StopReason)),
		zap.Int("index", st.Index))
}

// clarify pauses the session on decomposition gap questions and merges
// the answers back into the problem context.
func (o *Orchestrator) clarify(ctx context.Context, st *types.DeliberationState) error {
	st.Phase = types.PhaseClarifying
	st.WaitingFor = types.WaitClarification
	if err := o.checkpoint(ctx, st); err != nil {
		return err
	}
	ev := types.PauseEvent{
		Kind:      types.WaitClarification,
		SessionID: st.SessionID,
		Questions: st.GapQuestions,
		Deadline:  time.Now().Add(o.cfg.Deliberation.HumanInputTimeout),
	}
	o.sink.Emit(event(types.EventPauseRequested, st, "clarification needed"))

	res, err := o.resolveHuman(ctx, ev)
	if err != nil {
		return err
	}
	o.applyClarification(st, res)
	o.sink.Emit(event(types.EventPauseResolved, st, "clarification applied"))
	return o.checkpoint(ctx, st)
}

// applyClarification merges answered gap questions into Problem.Context.
// Timeout or partial answers leave the session in limited-context mode.
func (o *Orchestrator) applyClarification(st *types.DeliberationState, res types.PauseResolution) {
	partial := res.TimedOut
	answered := 0
	for q, a := range res.Answers {
		a = strings.TrimSpace(a)
		if len(a) >= o.cfg.Deliberation.MinContextAnswerLen {
			st.Problem.Context[q] = a
			answered++
		} else {
			partial = true
		}
	}
	if answered < len(st.GapQuestions) {
		partial = true
	}
	st.LimitedContextMode = partial
	st.WaitingFor = types.WaitNone
	st.Phase = types.PhaseDeliberating
	o.logger.Info("Clarification applied",
		zap.Int("answered", answered),
		zap.Int("asked", len(st.GapQuestions)),
		zap.Bool("limited_context", partial))
}

// pauseForContext checkpoints the context-insufficiency continuation,
// surfaces the pause, and applies the outcome. A timeout defaults to
// continue-with-best-effort.
func (o *Orchestrator) pauseForContext(ctx context.Context, st *types.DeliberationState, ev *types.PauseEvent) (types.PauseResolution, error) {
	st.Phase = types.PhaseContextPaused
	st.WaitingFor = types.WaitContextChoice
	if err := o.checkpoint(ctx, st); err != nil {
		return types.PauseResolution{}, err
	}
	o.sink.Emit(event(types.EventPauseRequested, st, "context insufficient"))

	res, err := o.resolveHuman(ctx, *ev)
	if err != nil {
		return types.PauseResolution{}, err
	}
	o.applyContextChoice(st, res)
	o.sink.Emit(event(types.EventPauseResolved, st, string(res.Choice)))
	if err := o.checkpoint(ctx, st); err != nil {
		return types.PauseResolution{}, err
	}
	return res, nil
}

// applyContextChoice applies one of the three resolvable outcomes of a
// context-insufficiency pause.
func (o *Orchestrator) applyContextChoice(st *types.DeliberationState, res types.PauseResolution) {
	switch res.Choice {
	case types.ChoiceProvideContext:
		for k, v := range res.Answers {
			st.Problem.Context[k] = v
		}
	case types.ChoiceEndSubProblem:
		// The caller routes the sub-problem to synthesis.
	default:
		// continue_best_effort, including the timeout default. Every
		// later contribution request for this sub-problem carries the
		// explicit best-effort instruction.
		st.BestEffortPromptInjected = true
	}
	st.WaitingFor = types.WaitNone
	st.Phase = types.PhaseDeliberating
}

// resolveHuman asks the human-input collaborator, defaulting
// deterministically when none is wired.
func (o *Orchestrator) resolveHuman(ctx context.Context, ev types.PauseEvent) (types.PauseResolution, error) {
	if o.human == nil {
		return types.PauseResolution{Choice: types.ChoiceContinueBestEffort, TimedOut: true}, nil
	}
	return o.human.Resolve(ctx, ev)
}

// checkpoint saves at a mandatory persistence point; failure here is
// fatal for the session.
func (o *Orchestrator) checkpoint(ctx context.Context, st *types.DeliberationState) error {
	st.UpdatedAt = time.Now()
	if err := o.store.Save(ctx, st); err != nil {
		return fmt.Errorf("checkpoint: %w", err)
	}
	return nil
}

func (o *Orchestrator) transition(st *types.DeliberationState, phase types.Phase, msg string) {
	st.Phase = phase
	o.sink.Emit(event(types.EventPhaseTransition, st, msg))
}

// kill transitions directly to the terminal killed phase without running
// synthesis. The checkpoint is best effort; the session is already dead.
func (o *Orchestrator) kill(st *types.DeliberationState) (*types.DeliberationState, error) {
	st.Phase = types.PhaseKilled
	st.WaitingFor = types.WaitNone
	st.UpdatedAt = time.Now()
	_ = o.store.Save(context.Background(), st)
	o.sink.Emit(event(types.EventSessionKilled, st, "session killed"))
	o.logger.Warn("Session killed", zap.String("session", st.SessionID))
	return st, context.Canceled
}

// fail records a fatal condition; the session never continues with
// corrupted state.
func (o *Orchestrator) fail(st *types.DeliberationState, err error) (*types.DeliberationState, error) {
	st.Phase = types.PhaseFailed
	st.FailureReason = err.Error()
	st.UpdatedAt = time.Now()
	_ = o.store.Save(context.Background(), st)
	o.sink.Emit(event(types.EventSessionFailed, st, err.Error()))
	o.logger.Error("Session failed", zap.String("session", st.SessionID), zap.Error(err))
	return st, err
}

// dependencyDepth is the length of the longest dependency chain beneath
// the sub-problem. Decomposition only emits backward references, so the
// walk terminates; dangling or repeated IDs contribute nothing.
func dependencyDepth(sp types.SubProblem, all []types.SubProblem) int {
	byID := make(map[string]types.SubProblem, len(all))
	for _, s := range all {
		byID[s.ID] = s
	}
	memo := make(map[string]int, len(all))
	onPath := make(map[string]bool, len(all))
	var walk func(s types.SubProblem) int
	walk = func(s types.SubProblem) int {
		if d, ok := memo[s.ID]; ok {
			return d
		}
		onPath[s.ID] = true
		deepest := 0
		for _, id := range s.DependencyIDs {
			dep, ok := byID[id]
			if !ok || onPath[id] {
				continue
			}
			if d := 1 + walk(dep); d > deepest {
				deepest = d
			}
		}
		delete(onPath, s.ID)
		memo[s.ID] = deepest
		return deepest
	}
	return walk(sp)
}

// validatePanel enforces the panel invariants: size within bounds and
// unique persona codes.
func validatePanel(panel []types.Persona, cfg config.DeliberationConfig) error {
	if len(panel) < cfg.MinPanel || len(panel) > cfg.MaxPanel {
		return fmt.Errorf("panel size %d outside [%d,%d]", len(panel), cfg.MinPanel, cfg.MaxPanel)
	}
	seen := make(map[string]bool, len(panel))
	for _, p := range panel {
		if seen[p.Code] {
			return fmt.Errorf("duplicate persona %s in panel", p.Code)
		}
		seen[p.Code] = true
	}
	return nil
}
