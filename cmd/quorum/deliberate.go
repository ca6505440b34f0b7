package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"quorum/internal/checkpoint"
	"quorum/internal/config"
	"quorum/internal/deliberation"
	"quorum/internal/humanio"
	"quorum/internal/reasoning"
	"quorum/internal/report"
	"quorum/internal/research"
	"quorum/internal/types"
	"quorum/internal/usage"
)

var (
	contextPairs []string
	costCap      float64
	roundCap     int

	resumeChoice  string
	resumeAnswers []string
)

// deliberateCmd runs a fresh session
var deliberateCmd = &cobra.Command{
	Use:   "deliberate [problem statement]",
	Short: "Run a full deliberation session on a problem",
	Long: `Decomposes the problem, convenes a persona panel per sub-problem,
deliberates until convergence or a guard stops it, and prints the
integrated report.

Context pairs seed the problem context and reduce clarification pauses:

  quorum deliberate "Should we migrate to event sourcing?" \
      --context team_size="12 engineers" --context budget="200k USD"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runDeliberate,
}

// resumeCmd continues a checkpointed session
var resumeCmd = &cobra.Command{
	Use:   "resume [session-id]",
	Short: "Resume a checkpointed session",
	Long: `Reloads the session's last checkpoint and continues. A session waiting
on a pause takes its resolution from --choice and --answer:

  quorum resume 3f2a91c4 --choice provide_context --answer budget="200k USD"`,
	Args: cobra.ExactArgs(1),
	RunE: runResume,
}

func init() {
	deliberateCmd.Flags().StringArrayVar(&contextPairs, "context", nil, "Problem context as key=value (repeatable)")
	deliberateCmd.Flags().Float64Var(&costCap, "cost-cap", 0, "Override the session cost cap (USD)")
	deliberateCmd.Flags().IntVar(&roundCap, "rounds", 0, "Override the hard round cap per sub-problem")

	resumeCmd.Flags().StringVar(&resumeChoice, "choice", "", "Pause choice: continue_best_effort, provide_context, end_subproblem")
	resumeCmd.Flags().StringArrayVar(&resumeAnswers, "answer", nil, "Pause answer as key=value (repeatable)")
}

// app bundles one assembled session's collaborators.
type app struct {
	cfg      config.Config
	orch     *deliberation.Orchestrator
	store    *checkpoint.SQLiteStore
	sink     *deliberation.ChannelSink
	renderer *report.Renderer
	dir      string
	done     chan struct{}
}

// buildApp wires the full collaborator stack for one session.
func buildApp(ctx context.Context, sessionID string) (*app, error) {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return nil, err
	}
	if workDir != "" {
		cfg.WorkDir = workDir
	}
	if apiKey != "" {
		cfg.LLM.APIKey = apiKey
	}
	if costCap > 0 {
		cfg.Deliberation.SessionCostCap = costCap
	}
	if roundCap > 0 {
		cfg.Deliberation.MaxRounds = roundCap
	}

	sessionDir, err := cfg.SessionDir(sessionID)
	if err != nil {
		return nil, err
	}

	ledger, err := usage.NewLedger(sessionID, sessionDir)
	if err != nil {
		return nil, err
	}
	store, err := checkpoint.NewSQLiteStore(filepath.Join(cfg.WorkDir, "checkpoints.db"), logger.Named("checkpoint"))
	if err != nil {
		return nil, err
	}
	client, err := reasoning.New(ctx, cfg.LLM, logger.Named("llm"))
	if err != nil {
		store.Close()
		return nil, err
	}
	human, err := humanio.NewFileInput(filepath.Join(sessionDir, "input"), logger.Named("humanio"))
	if err != nil {
		store.Close()
		return nil, err
	}

	var scorer deliberation.Scorer = deliberation.LexicalScorer{}
	if cfg.LLM.EmbeddingModel != "" {
		embedder, err := reasoning.NewGeminiEmbedder(ctx, cfg.LLM.APIKey, cfg.LLM.EmbeddingModel)
		if err != nil {
			logger.Warn("Embedding scorer unavailable, using lexical scorer", zap.Error(err))
		} else {
			scorer = deliberation.EmbeddingScorer{Embedder: embedder}
		}
	}

	sink := deliberation.NewChannelSink(128)
	renderer := report.New()
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range sink.Events() {
			fmt.Fprintln(os.Stderr, renderer.EventLine(ev))
		}
	}()

	orch, err := deliberation.New(cfg, deliberation.Options{
		Client:   client,
		Research: research.New(cfg.Research, logger.Named("research")),
		Human:    human,
		Store:    store,
		Sink:     sink,
		Ledger:   ledger,
		Scorer:   scorer,
		Logger:   logger,
	})
	if err != nil {
		store.Close()
		return nil, err
	}

	return &app{
		cfg:      cfg,
		orch:     orch,
		store:    store,
		sink:     sink,
		renderer: renderer,
		dir:      sessionDir,
		done:     done,
	}, nil
}

func (a *app) close() {
	a.sink.Close()
	<-a.done
	a.store.Close()
}

// finish renders the outcome and persists the report next to the
// session's ledger and checkpoint files.
func (a *app) finish(st *types.DeliberationState) error {
	fmt.Println(a.renderer.Summary(st))
	if st.FinalReport == "" {
		return nil
	}
	reportPath := filepath.Join(a.dir, "report.md")
	if err := os.WriteFile(reportPath, []byte(st.FinalReport), 0o644); err != nil {
		logger.Warn("Failed to write report file", zap.Error(err))
	} else {
		fmt.Printf("Report written to %s\n\n", reportPath)
	}
	fmt.Println(a.renderer.Markdown(st.FinalReport))
	return nil
}

func runDeliberate(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sessionID := uuid.New().String()[:8]
	a, err := buildApp(ctx, sessionID)
	if err != nil {
		return err
	}
	defer a.close()

	problem := types.Problem{
		Statement: strings.Join(args, " "),
		Context:   parsePairs(contextPairs),
	}
	fmt.Printf("Session %s\n", sessionID)

	st, err := a.orch.Run(ctx, sessionID, problem)
	if st != nil {
		if ferr := a.finish(st); ferr != nil {
			return ferr
		}
	}
	if err != nil && err != context.Canceled {
		return err
	}
	return nil
}

func runResume(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sessionID := args[0]
	a, err := buildApp(ctx, sessionID)
	if err != nil {
		return err
	}
	defer a.close()

	var res *types.PauseResolution
	if resumeChoice != "" || len(resumeAnswers) > 0 {
		res = &types.PauseResolution{
			Choice:  types.PauseChoice(resumeChoice),
			Answers: parsePairs(resumeAnswers),
		}
	}

	st, err := a.orch.Resume(ctx, sessionID, res)
	if st != nil {
		if ferr := a.finish(st); ferr != nil {
			return ferr
		}
	}
	if err != nil && err != context.Canceled {
		return err
	}
	return nil
}

func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	if _, err := os.Stat("quorum.yaml"); err == nil {
		return "quorum.yaml"
	}
	return ""
}

func parsePairs(pairs []string) map[string]string {
	if len(pairs) == 0 {
		return nil
	}
	out := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			continue
		}
		out[k] = v
	}
	return out
}
