// Package report renders session output for the terminal: the final
// markdown report through glamour and the live status lines through
// lipgloss.
package report

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"quorum/internal/types"
)

var (
	phaseStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	warnStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("11"))
	failStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))
	okStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
	dimStyle   = lipgloss.NewStyle().Faint(true)
)

// Renderer renders markdown and status output.
type Renderer struct {
	term *glamour.TermRenderer
}

// New creates a renderer. When the terminal renderer cannot be built
// (no TTY, unknown style) output falls back to plain markdown.
func New() *Renderer {
	term, _ := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(100),
	)
	return &Renderer{term: term}
}

// Markdown renders a markdown document for the terminal.
func (r *Renderer) Markdown(doc string) string {
	if r.term == nil {
		return doc
	}
	out, err := r.term.Render(doc)
	if err != nil {
		return doc
	}
	return out
}

// EventLine formats one session event as a status line.
func (r *Renderer) EventLine(ev types.Event) string {
	var style lipgloss.Style
	switch ev.Type {
	case types.EventGuardFired, types.EventPauseRequested:
		style = warnStyle
	case types.EventSessionFailed, types.EventSessionKilled:
		style = failStyle
	case types.EventSessionCompleted, types.EventSubProblemCompleted:
		style = okStyle
	default:
		style = phaseStyle
	}

	var b strings.Builder
	b.WriteString(style.Render(fmt.Sprintf("[%s]", ev.Type)))
	if ev.SubProblemID != "" {
		b.WriteString(dimStyle.Render(fmt.Sprintf(" %s/r%d", ev.SubProblemID, ev.Round)))
	}
	if ev.Message != "" {
		b.WriteString(" " + ev.Message)
	}
	return b.String()
}

// Summary formats the end-of-session one-screen summary.
func (r *Renderer) Summary(st *types.DeliberationState) string {
	var b strings.Builder
	switch st.Phase {
	case types.PhaseCompleted:
		b.WriteString(okStyle.Render("Session completed"))
	case types.PhaseKilled:
		b.WriteString(failStyle.Render("Session killed"))
	case types.PhaseFailed:
		b.WriteString(failStyle.Render("Session failed: " + st.FailureReason))
	default:
		b.WriteString(phaseStyle.Render("Session " + string(st.Phase)))
	}
	b.WriteString("\n")
	fmt.Fprintf(&b, "  session:      %s\n", st.SessionID)
	fmt.Fprintf(&b, "  sub-problems: %d/%d\n", len(st.Results), len(st.SubProblems))
	fmt.Fprintf(&b, "  total cost:   $%.4f\n", st.CumulativeCost)
	for _, res := range st.Results {
		fmt.Fprintf(&b, "  %s %s (%d rounds, %s, $%.4f)\n",
			dimStyle.Render("-"), res.SubProblemID, res.RoundsUsed, res.StopReason, res.Cost)
	}
	return b.String()
}
