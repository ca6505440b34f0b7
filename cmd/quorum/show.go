package main

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"quorum/internal/checkpoint"
	"quorum/internal/config"
	"quorum/internal/persona"
	"quorum/internal/report"
)

// showCmd prints a checkpointed session
var showCmd = &cobra.Command{
	Use:   "show [session-id]",
	Short: "Show a session's state and report",
	Args:  cobra.ExactArgs(1),
	RunE:  runShow,
}

// sessionsCmd lists checkpointed sessions
var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List checkpointed sessions",
	RunE:  runSessions,
}

// personasCmd lists the persona roster
var personasCmd = &cobra.Command{
	Use:   "personas",
	Short: "List the built-in persona roster",
	RunE: func(cmd *cobra.Command, args []string) error {
		for _, p := range persona.NewRegistry().All() {
			fmt.Printf("%-14s %-14s %s\n", p.Code, p.PrimaryTag, p.Role)
		}
		return nil
	},
}

func openStore() (*checkpoint.SQLiteStore, error) {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return nil, err
	}
	if workDir != "" {
		cfg.WorkDir = workDir
	}
	return checkpoint.NewSQLiteStore(filepath.Join(cfg.WorkDir, "checkpoints.db"), logger.Named("checkpoint"))
}

func runShow(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	st, err := store.Load(context.Background(), args[0])
	if err != nil {
		return err
	}
	if st == nil {
		return fmt.Errorf("session %s not found", args[0])
	}

	renderer := report.New()
	fmt.Println(renderer.Summary(st))
	if st.WaitingFor != "" {
		fmt.Printf("Waiting for: %s\n", st.WaitingFor)
		for _, q := range st.GapQuestions {
			fmt.Printf("  - %s\n", q)
		}
	}
	if st.FinalReport != "" {
		fmt.Println(renderer.Markdown(st.FinalReport))
	}
	return nil
}

func runSessions(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	sessions, err := store.Sessions(context.Background())
	if err != nil {
		return err
	}
	if len(sessions) == 0 {
		fmt.Println("No sessions found.")
		return nil
	}
	for _, s := range sessions {
		line := fmt.Sprintf("%-10s %-14s %s", s.SessionID, s.Phase, s.UpdatedAt.Format("2006-01-02 15:04:05"))
		if s.WaitingFor != "" {
			line += "  (waiting: " + s.WaitingFor + ")"
		}
		fmt.Println(line)
	}
	return nil
}
