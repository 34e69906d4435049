package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/ShayCichocki/friday/internal/orchestrator"
	"github.com/ShayCichocki/friday/pkg/models"
)

// NodeRow is one node as the view knows it.
type NodeRow struct {
	Name    string
	Type    models.NodeType
	Status  models.NodeStatus
	Attempt int
	Score   int
}

// NodeList tracks nodes in the order they were first seen.
type NodeList struct {
	rows  []*NodeRow
	index map[string]*NodeRow
	width int

	nameStyle    lipgloss.Style
	typeStyle    lipgloss.Style
	pendingStyle lipgloss.Style
	runningStyle lipgloss.Style
	okStyle      lipgloss.Style
	failStyle    lipgloss.Style
	repairStyle  lipgloss.Style
	emptyStyle   lipgloss.Style
}

// NewNodeList creates an empty NodeList.
func NewNodeList() *NodeList {
	return &NodeList{
		index: make(map[string]*NodeRow),
		nameStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("252")),
		typeStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			Width(12),
		pendingStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")),
		runningStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("33")),
		okStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("34")),
		failStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")),
		repairStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("214")),
		emptyStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")).
			Italic(true),
	}
}

// SetWidth sets the available render width.
func (l *NodeList) SetWidth(w int) {
	l.width = w
}

// Len returns the number of tracked nodes.
func (l *NodeList) Len() int {
	return len(l.rows)
}

// Get returns the row for name, or nil.
func (l *NodeList) Get(name string) *NodeRow {
	return l.index[name]
}

func (l *NodeList) row(name string, typ models.NodeType) *NodeRow {
	r, ok := l.index[name]
	if !ok {
		r = &NodeRow{Name: name, Status: models.NodeStatusPending}
		l.index[name] = r
		l.rows = append(l.rows, r)
	}
	if typ != "" {
		r.Type = typ
	}
	return r
}

// Apply updates the list from an orchestrator event.
func (l *NodeList) Apply(ev orchestrator.OrchestratorEvent) {
	if ev.Node == "" || ev.Type == orchestrator.EventRunDone {
		return
	}
	r := l.row(ev.Node, ev.NodeType)

	switch ev.Type {
	case orchestrator.EventTaskStarted:
		r.Status = models.NodeStatusRunning
		r.Attempt = ev.Attempt
	case orchestrator.EventTaskCompleted:
		r.Status = models.NodeStatusSucceeded
		r.Score = ev.Score
	case orchestrator.EventTaskFailed:
		r.Status = models.NodeStatusFailed
	case orchestrator.EventTaskAmended:
		r.Status = models.NodeStatusPending
		r.Attempt = ev.Attempt
	case orchestrator.EventTaskReplanned:
		r.Status = models.NodeStatusPending
		for _, name := range ev.Added {
			l.row(name, "")
		}
	}
}

// ApplyResult sets final statuses from a run result.
func (l *NodeList) ApplyResult(res *models.RunResult) {
	for _, name := range res.Diagnostics.Order {
		l.row(name, "")
	}
	for name, out := range res.Outputs {
		r := l.row(name, out.Type)
		r.Status = out.Status
		r.Attempt = out.RetryCount
		r.Score = out.Score
	}
}

// View renders the node table.
func (l *NodeList) View() string {
	if len(l.rows) == 0 {
		return l.emptyStyle.Render("Waiting for the task graph...") + "\n"
	}

	nameWidth := 0
	for _, r := range l.rows {
		if len(r.Name) > nameWidth {
			nameWidth = len(r.Name)
		}
	}
	if l.width > 0 && nameWidth > l.width/2 {
		nameWidth = l.width / 2
	}

	var b strings.Builder
	for _, r := range l.rows {
		icon, style := l.statusLook(r.Status)
		line := fmt.Sprintf("  %s %s %s %s",
			style.Render(icon),
			l.nameStyle.Render(padRight(truncate(r.Name, nameWidth), nameWidth)),
			l.typeStyle.Render(string(r.Type)),
			style.Render(string(r.Status)),
		)
		if r.Attempt > 0 {
			line += l.pendingStyle.Render(fmt.Sprintf("  retry %d", r.Attempt))
		}
		if r.Score > 0 {
			line += l.pendingStyle.Render(fmt.Sprintf("  score %d", r.Score))
		}
		b.WriteString(line)
		b.WriteString("\n")
	}
	return b.String()
}

func (l *NodeList) statusLook(s models.NodeStatus) (string, lipgloss.Style) {
	switch s {
	case models.NodeStatusRunning:
		return "●", l.runningStyle
	case models.NodeStatusSucceeded:
		return "✓", l.okStyle
	case models.NodeStatusFailed, models.NodeStatusFailedFatal:
		return "✗", l.failStyle
	case models.NodeStatusAmending, models.NodeStatusReplanPending:
		return "↻", l.repairStyle
	default:
		return "○", l.pendingStyle
	}
}

func truncate(s string, n int) string {
	if n <= 3 || len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

func padRight(s string, n int) string {
	if len(s) >= n {
		return s
	}
	return s + strings.Repeat(" ", n-len(s))
}
