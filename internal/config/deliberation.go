package config

import "time"

// DeliberationConfig holds the tuning values for the deliberation state
// machine. The reference trajectory values (0.90 convergence, 50%
// meta-discussion, research-loop counter of 2, panels of 3-5) are
// product tuning, not structural requirements.
type DeliberationConfig struct {
	// Panel sizing.
	MinPanel int `yaml:"min_panel"`
	MaxPanel int `yaml:"max_panel"`

	// Round control.
	MaxRounds            int     `yaml:"max_rounds"`             // hard ceiling, guard-enforced
	ConvergenceThreshold float64 `yaml:"convergence_threshold"`  // facilitator early stop
	StagnationEpsilon    float64 `yaml:"stagnation_epsilon"`     // |delta| below this counts as stagnant
	MaxInterventions     int     `yaml:"max_interventions"`      // moderator injections per sub-problem

	// Guards.
	SubProblemCostCap  float64 `yaml:"sub_problem_cost_cap"`
	SessionCostCap     float64 `yaml:"session_cost_cap"`
	MetaFractionLimit  float64 `yaml:"meta_fraction_limit"`  // context-insufficiency trigger
	MetaFractionRounds int     `yaml:"meta_fraction_rounds"` // only fires within the first N rounds
	ResearchLoopLimit  int     `yaml:"research_loop_limit"`  // non-improving research rounds before denial
	MaxDepth           int     `yaml:"max_depth"`            // dependency-chain ceiling

	// Decomposition gap detection.
	RequiredContextKeys []string `yaml:"required_context_keys"`
	MinContextAnswerLen int      `yaml:"min_context_answer_len"`

	// Timeouts.
	ContributionTimeout time.Duration `yaml:"contribution_timeout"`
	HumanInputTimeout   time.Duration `yaml:"human_input_timeout"`
}

// DefaultDeliberationConfig returns the reference trajectory tuning.
func DefaultDeliberationConfig() DeliberationConfig {
	return DeliberationConfig{
		MinPanel:             3,
		MaxPanel:             5,
		MaxRounds:            8,
		ConvergenceThreshold: 0.90,
		StagnationEpsilon:    0.02,
		MaxInterventions:     2,
		SubProblemCostCap:    2.50,
		SessionCostCap:       10.00,
		MetaFractionLimit:    0.50,
		MetaFractionRounds:   2,
		ResearchLoopLimit:    2,
		MaxDepth:             3,
		MinContextAnswerLen:  12,
		ContributionTimeout:  120 * time.Second,
		HumanInputTimeout:    5 * time.Minute,
	}
}

// Clamp coerces nonsensical values back into the supported ranges.
func (d *DeliberationConfig) Clamp() {
	if d.MinPanel < 3 {
		d.MinPanel = 3
	}
	if d.MaxPanel < d.MinPanel {
		d.MaxPanel = d.MinPanel
	}
	if d.MaxPanel > 5 {
		d.MaxPanel = 5
	}
	if d.MaxRounds <= 0 {
		d.MaxRounds = 8
	}
	if d.ConvergenceThreshold <= 0 || d.ConvergenceThreshold > 1 {
		d.ConvergenceThreshold = 0.90
	}
	if d.StagnationEpsilon <= 0 {
		d.StagnationEpsilon = 0.02
	}
	if d.MaxInterventions < 0 {
		d.MaxInterventions = 2
	}
	if d.MetaFractionLimit <= 0 || d.MetaFractionLimit > 1 {
		d.MetaFractionLimit = 0.50
	}
	if d.MetaFractionRounds <= 0 {
		d.MetaFractionRounds = 2
	}
	if d.ResearchLoopLimit <= 0 {
		d.ResearchLoopLimit = 2
	}
	if d.MaxDepth <= 0 {
		d.MaxDepth = 3
	}
	if d.MinContextAnswerLen <= 0 {
		d.MinContextAnswerLen = 12
	}
	if d.ContributionTimeout <= 0 {
		d.ContributionTimeout = 120 * time.Second
	}
	if d.HumanInputTimeout <= 0 {
		d.HumanInputTimeout = 5 * time.Minute
	}
}

// PanelSize maps a complexity score to a panel size within
// [MinPanel, MaxPanel]. Deterministic so tests can assert exact panels.
func (d DeliberationConfig) PanelSize(complexity float64) int {
	span := d.MaxPanel - d.MinPanel
	switch {
	case complexity < 0.34:
		return d.MinPanel
	case complexity < 0.67:
		return d.MinPanel + (span+1)/2
	default:
		return d.MaxPanel
	}
}
