// Package config holds all quorum configuration. Every numeric threshold
// the deliberation loop consults (convergence, meta-discussion fraction,
// research-loop limit, panel sizing, caps) lives here so tests and
// operators can tune them without touching the state machine.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root quorum configuration.
type Config struct {
	// WorkDir is where per-session directories (checkpoint DB, ledger,
	// pause files, reports) are created.
	WorkDir string `yaml:"work_dir"`

	LLM          LLMConfig          `yaml:"llm"`
	Deliberation DeliberationConfig `yaml:"deliberation"`
	Research     ResearchConfig     `yaml:"research"`
}

// ResearchConfig configures the research collaborator.
type ResearchConfig struct {
	BaseURL      string        `yaml:"base_url"`
	Timeout      time.Duration `yaml:"timeout"`
	CostPerQuery float64       `yaml:"cost_per_query"`
	UserAgent    string        `yaml:"user_agent"`
}

// DefaultConfig returns the reference configuration.
func DefaultConfig() Config {
	return Config{
		WorkDir:      ".quorum",
		LLM:          DefaultLLMConfig(),
		Deliberation: DefaultDeliberationConfig(),
		Research: ResearchConfig{
			Timeout:      60 * time.Second,
			CostPerQuery: 0.002,
			UserAgent:    "quorum/1.0 (deliberation research)",
		},
	}
}

// Load reads a YAML config file, fills unset fields with defaults, and
// applies QUORUM_* environment overrides. A missing path yields defaults.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err == nil {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	applyEnvOverrides(&cfg)
	cfg.Clamp()
	return cfg, nil
}

// applyEnvOverrides lets the environment win over file values.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("QUORUM_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("QUORUM_MODEL"); v != "" {
		cfg.LLM.Model = v
	}
	if v := os.Getenv("QUORUM_BASE_URL"); v != "" {
		cfg.LLM.BaseURL = v
	}
	if v := os.Getenv("QUORUM_PROVIDER"); v != "" {
		cfg.LLM.Provider = v
	}
	if v := os.Getenv("QUORUM_WORK_DIR"); v != "" {
		cfg.WorkDir = v
	}
	if v := os.Getenv("QUORUM_SESSION_COST_CAP"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Deliberation.SessionCostCap = f
		}
	}
	if v := os.Getenv("QUORUM_ROUND_CAP"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Deliberation.MaxRounds = n
		}
	}
}

// SessionDir returns the working directory for one session, creating it
// if needed.
func (c Config) SessionDir(sessionID string) (string, error) {
	dir := filepath.Join(c.WorkDir, sessionID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create session dir: %w", err)
	}
	return dir, nil
}

// Clamp coerces out-of-range values back to safe ones rather than
// failing. Deliberation gets its own clamp pass.
func (c *Config) Clamp() {
	if c.WorkDir == "" {
		c.WorkDir = ".quorum"
	}
	if c.Research.Timeout <= 0 {
		c.Research.Timeout = 60 * time.Second
	}
	if c.Research.CostPerQuery < 0 {
		c.Research.CostPerQuery = 0
	}
	c.Deliberation.Clamp()
}
