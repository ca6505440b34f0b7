package persona

import (
	"sort"
	"strings"

	"go.uber.org/zap"

	"quorum/internal/config"
	"quorum/internal/types"
)

// Selector picks deliberation panels from a registry. Selection is
// deterministic for fixed inputs and registry state: candidates are
// scored by goal relevance and ranked with the persona code as the final
// tiebreaker.
type Selector struct {
	registry types.PersonaRegistry
	cfg      config.DeliberationConfig
	logger   *zap.Logger
}

// NewSelector creates a panel selector.
func NewSelector(registry types.PersonaRegistry, cfg config.DeliberationConfig, logger *zap.Logger) *Selector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Selector{registry: registry, cfg: cfg, logger: logger}
}

type scored struct {
	persona types.Persona
	score   float64
}

// Select returns a panel of unique personas for the sub-problem. Panel
// size follows the complexity score; primary-tag diversity is enforced
// first and relaxed only when the panel would otherwise be undersized.
func (s *Selector) Select(sp types.SubProblem) []types.Persona {
	target := s.cfg.PanelSize(sp.Complexity)

	candidates := make([]scored, 0)
	for _, p := range s.registry.All() {
		candidates = append(candidates, scored{persona: p, score: relevance(p, sp.Goal)})
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].persona.Code < candidates[j].persona.Code
	})

	panel := make([]types.Persona, 0, target)
	usedCodes := make(map[string]bool)
	usedPrimary := make(map[string]bool)

	// First pass: distinct primary tags only.
	for _, c := range candidates {
		if len(panel) >= target {
			break
		}
		if usedCodes[c.persona.Code] || usedPrimary[c.persona.PrimaryTag] {
			continue
		}
		panel = append(panel, c.persona)
		usedCodes[c.persona.Code] = true
		usedPrimary[c.persona.PrimaryTag] = true
	}

	// Second pass: fill an undersized panel, allowing shared primaries.
	for _, c := range candidates {
		if len(panel) >= target {
			break
		}
		if usedCodes[c.persona.Code] {
			continue
		}
		panel = append(panel, c.persona)
		usedCodes[c.persona.Code] = true
	}

	codes := make([]string, len(panel))
	for i, p := range panel {
		codes[i] = p.Code
	}
	s.logger.Debug("Panel selected",
		zap.String("sub_problem", sp.ID),
		zap.Float64("complexity", sp.Complexity),
		zap.Strings("panel", codes))

	return panel
}

// relevance scores how well a persona's tags match the goal text.
// Primary-tag hits weigh double; every persona keeps a small floor score
// so panels fill even for goals matching no tags.
func relevance(p types.Persona, goal string) float64 {
	text := strings.ToLower(goal)
	score := 0.1
	if tagMatches(text, p.PrimaryTag) {
		score += 2.0
	}
	for _, tag := range p.SecondaryTags {
		if tagMatches(text, tag) {
			score += 1.0
		}
	}
	return score
}

func tagMatches(text, tag string) bool {
	return tag != "" && strings.Contains(text, strings.ToLower(tag))
}
