// Package summary renders a periodic, styled snapshot of the factory
// orchestrator's live state to stderr (SPEC_FULL.md §D). Purely additive:
// nothing here gates dispatch or convergence.
package summary

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63"))
	labelStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	ruleStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
)

// Snapshot is the state rendered by one tick of the live summary.
type Snapshot struct {
	QueueDepth    int
	InProgress    int
	ActiveWorkers int
	TotalWorkers  int
	SlotsInBackoff []string
	TasksCompleted int
}

// terminalWidth returns the current terminal width, capped at 120 for
// readability, following the teacher's getTerminalWidth helper. Falls back
// to 80 when detection fails (not a TTY, piped output, etc) or the width is
// under 60.
func terminalWidth() int {
	width, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || width < 60 {
		return 80
	}
	if width > 120 {
		return 120
	}
	return width
}

// Render writes one styled snapshot to w, with a horizontal rule sized to
// the live terminal width.
func Render(w io.Writer, s Snapshot) {
	var b strings.Builder
	b.WriteString(headerStyle.Render("ralph factory") + "\n")
	b.WriteString(fmt.Sprintf("%s %d   %s %d   %s %d/%d   %s %d\n",
		labelStyle.Render("queue:"), s.QueueDepth,
		labelStyle.Render("in-progress:"), s.InProgress,
		labelStyle.Render("workers:"), s.ActiveWorkers, s.TotalWorkers,
		labelStyle.Render("completed:"), s.TasksCompleted,
	))
	if len(s.SlotsInBackoff) > 0 {
		b.WriteString(warnStyle.Render("backoff: "+strings.Join(s.SlotsInBackoff, ", ")) + "\n")
	}
	b.WriteString(ruleStyle.Render(strings.Repeat("-", terminalWidth())) + "\n")
	fmt.Fprint(w, b.String())
}
