package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"quorum/internal/logging"
)

var (
	// Global flags
	verbose    bool
	configPath string
	workDir    string
	apiKey     string
	timeout    time.Duration

	// Logger
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "quorum",
	Short: "quorum - multi-persona deliberation engine",
	Long: `quorum decomposes a hard problem into sub-problems, convenes a panel
of reasoning personas for each, and deliberates round by round until the
panel converges or a safety guard stops it. Every sub-problem gets a
synthesized recommendation; the session ends with an integrated report.

Sessions checkpoint at every round boundary, so a killed run resumes
exactly where it stopped.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		dir := workDir
		if dir == "" {
			dir = ".quorum"
		}
		var err error
		logger, err = logging.New(logging.Options{Verbose: verbose, WorkDir: dir})
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default: quorum.yaml if present)")
	rootCmd.PersistentFlags().StringVarP(&workDir, "work-dir", "w", "", "Working directory for sessions (default: .quorum)")
	rootCmd.PersistentFlags().StringVar(&apiKey, "api-key", "", "LLM API key (or set QUORUM_API_KEY)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 60*time.Minute, "Session timeout")

	rootCmd.AddCommand(deliberateCmd)
	rootCmd.AddCommand(resumeCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(sessionsCmd)
	rootCmd.AddCommand(personasCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
