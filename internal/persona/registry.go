// Package persona provides the static expert-role registry and the
// deterministic panel selector. A panel is a set of 3-5 unique persona
// codes chosen for one sub-problem; no two panel members share a primary
// capability tag unless the panel would otherwise be undersized.
package persona

import (
	"sort"

	"quorum/internal/types"
)

// Registry is the fixed role lookup, read-only to the core.
type Registry struct {
	byCode  map[string]types.Persona
	ordered []types.Persona
}

// builtin is the reference roster. Codes are stable identifiers; tags
// drive both relevance scoring and diversity enforcement.
var builtin = []types.Persona{
	{
		Code:          "strategist",
		Role:          "Corporate strategist focused on long-term positioning and trade-offs",
		PrimaryTag:    "strategy",
		SecondaryTags: []string{"market", "growth", "planning"},
	},
	{
		Code:          "skeptic",
		Role:          "Professional contrarian who stress-tests every assumption",
		PrimaryTag:    "critique",
		SecondaryTags: []string{"risk", "evidence", "logic"},
	},
	{
		Code:          "economist",
		Role:          "Economist weighing costs, incentives and second-order effects",
		PrimaryTag:    "economics",
		SecondaryTags: []string{"budget", "cost", "market", "pricing"},
	},
	{
		Code:          "engineer",
		Role:          "Systems engineer judging feasibility, complexity and failure modes",
		PrimaryTag:    "engineering",
		SecondaryTags: []string{"technology", "architecture", "scaling", "build"},
	},
	{
		Code:          "ethicist",
		Role:          "Ethicist examining fairness, externalities and stakeholder impact",
		PrimaryTag:    "ethics",
		SecondaryTags: []string{"compliance", "fairness", "policy"},
	},
	{
		Code:          "operator",
		Role:          "Operations lead grounding plans in execution reality and timelines",
		PrimaryTag:    "operations",
		SecondaryTags: []string{"logistics", "process", "timeline", "hiring"},
	},
	{
		Code:          "researcher",
		Role:          "Research analyst who demands data and cites evidence",
		PrimaryTag:    "evidence",
		SecondaryTags: []string{"data", "research", "analysis"},
	},
	{
		Code:          "advocate",
		Role:          "Customer advocate representing the end user's experience",
		PrimaryTag:    "customer",
		SecondaryTags: []string{"user", "experience", "adoption", "market"},
	},
	{
		Code:          "risk_officer",
		Role:          "Risk officer enumerating downside scenarios and mitigations",
		PrimaryTag:    "risk",
		SecondaryTags: []string{"compliance", "security", "legal", "budget"},
	},
	{
		Code:          "futurist",
		Role:          "Futurist projecting trends and discontinuities beyond the horizon",
		PrimaryTag:    "foresight",
		SecondaryTags: []string{"technology", "trends", "strategy"},
	},
}

// NewRegistry returns the builtin roster.
func NewRegistry() *Registry {
	return NewRegistryWith(builtin)
}

// NewRegistryWith builds a registry from an explicit roster, kept in
// deterministic code order.
func NewRegistryWith(roster []types.Persona) *Registry {
	r := &Registry{byCode: make(map[string]types.Persona, len(roster))}
	for _, p := range roster {
		if _, dup := r.byCode[p.Code]; dup {
			continue
		}
		r.byCode[p.Code] = p
		r.ordered = append(r.ordered, p)
	}
	sort.Slice(r.ordered, func(i, j int) bool { return r.ordered[i].Code < r.ordered[j].Code })
	return r
}

// All returns every persona in code order.
func (r *Registry) All() []types.Persona {
	return append([]types.Persona(nil), r.ordered...)
}

// Lookup resolves a persona code.
func (r *Registry) Lookup(code string) (types.Persona, bool) {
	p, ok := r.byCode[code]
	return p, ok
}
