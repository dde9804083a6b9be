package report

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"tfgate/internal/core"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#5B8DEF"))
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#AAAAAA"))
	boxStyle    = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#444444")).
			Padding(0, 1)

	// task and run statuses share the "failed" and "running" names
	statusStyles = map[string]lipgloss.Style{
		string(core.TaskSucceeded):  lipgloss.NewStyle().Foreground(lipgloss.Color("#3FB950")),
		string(core.OutcomeSuccess): lipgloss.NewStyle().Foreground(lipgloss.Color("#3FB950")),
		string(core.TaskFailed):     lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B")),
		string(core.OutcomeInvalid): lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B")),
		string(core.TaskSkipped):    lipgloss.NewStyle().Foreground(lipgloss.Color("#D29922")),
		string(core.TaskRunning):    lipgloss.NewStyle().Foreground(lipgloss.Color("#5B8DEF")),
	}
)

func status(s string) string {
	if style, ok := statusStyles[s]; ok {
		return style.Render(s)
	}
	return s
}

// Run renders a boxed summary of a run: header, one block per stage with a
// line per environment, and the run error if any.
func Run(view core.RunView) string {
	var b strings.Builder

	b.WriteString(headerStyle.Render("run " + view.ID))
	b.WriteString("\n")
	fmt.Fprintf(&b, "%s %s\n", mutedStyle.Render("trigger:"), view.Trigger.String())
	fmt.Fprintf(&b, "%s %s\n", mutedStyle.Render("outcome:"), status(string(view.Outcome)))

	for _, stage := range view.Stages {
		tasks := view.TasksFor(stage)
		b.WriteString("\n")
		mode := "parallel"
		if stage.Sequential() {
			mode = "sequential"
		}
		b.WriteString(headerStyle.Render(string(stage)) + " " + mutedStyle.Render("("+mode+")"))
		b.WriteString("\n")
		if len(tasks) == 0 {
			b.WriteString(mutedStyle.Render("  not started"))
			b.WriteString("\n")
			continue
		}
		for _, t := range tasks {
			fmt.Fprintf(&b, "  %-10s %s", t.Environment.Name, status(string(t.Status)))
			if d := elapsed(t); d > 0 {
				b.WriteString(" " + mutedStyle.Render(d.String()))
			}
			if t.Error != "" {
				b.WriteString(" " + mutedStyle.Render(firstLine(t.Error)))
			}
			b.WriteString("\n")
		}
	}

	if view.Error != "" {
		b.WriteString("\n")
		b.WriteString(status(string(core.OutcomeFailed)) + " " + firstLine(view.Error))
	}
	return boxStyle.Render(strings.TrimRight(b.String(), "\n"))
}

// History renders one line per run.
func History(runs []core.RunView) string {
	if len(runs) == 0 {
		return mutedStyle.Render("no runs recorded")
	}
	var b strings.Builder
	for _, run := range runs {
		fmt.Fprintf(&b, "%s  %-8s %-24s %s\n",
			mutedStyle.Render(run.CreatedAt.Local().Format(time.DateTime)),
			status(string(run.Outcome)),
			run.Trigger.String(),
			run.ID)
	}
	return strings.TrimRight(b.String(), "\n")
}

func elapsed(t core.Task) time.Duration {
	if t.StartedAt.IsZero() || t.FinishedAt.IsZero() {
		return 0
	}
	return t.FinishedAt.Sub(t.StartedAt).Round(time.Second)
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
