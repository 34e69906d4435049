package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/ShayCichocki/friday/internal/orchestrator"
	"github.com/ShayCichocki/friday/pkg/models"
)

// maxLogs is the number of activity log entries kept for display.
const maxLogs = 8

// Controls lets the view pause and resume dispatch.
type Controls interface {
	Pause()
	Resume()
	IsPaused() bool
}

// EventMsg wraps an orchestrator event for the TUI.
type EventMsg struct {
	Event orchestrator.OrchestratorEvent
}

// DoneMsg is sent when the run returns.
type DoneMsg struct {
	Result *models.RunResult
	Err    error
}

// LogEntry is one line of the activity log.
type LogEntry struct {
	Timestamp time.Time
	Kind      string
	Message   string
}

// RunApp is the bubbletea model for a single run.
type RunApp struct {
	controls Controls
	cancel   func()

	runID   string
	nodes   *NodeList
	logs    []LogEntry
	counts  map[models.NodeStatus]int
	started time.Time
	width   int

	spinner  spinner.Model
	done     bool
	result   *models.RunResult
	err      error
	quitting bool

	// Styles
	titleStyle   lipgloss.Style
	labelStyle   lipgloss.Style
	valueStyle   lipgloss.Style
	logTimeStyle lipgloss.Style
	logKindStyle lipgloss.Style
	logStyle     lipgloss.Style
	doneStyle    lipgloss.Style
	errorStyle   lipgloss.Style
	hintStyle    lipgloss.Style
	pausedStyle  lipgloss.Style
}

// NewRunApp creates a RunApp. controls and cancel may be nil.
func NewRunApp(controls Controls, cancel func()) *RunApp {
	return &RunApp{
		controls: controls,
		cancel:   cancel,
		nodes:    NewNodeList(),
		counts:   make(map[models.NodeStatus]int),
		started:  time.Now(),
		spinner: spinner.New(
			spinner.WithSpinner(spinner.Dot),
			spinner.WithStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("205"))),
		),

		titleStyle: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205")),

		labelStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")),

		valueStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("252")).
			Bold(true),

		logTimeStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")),

		logKindStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")).
			Width(12),

		logStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("252")),

		doneStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("34")).
			Bold(true),

		errorStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true),

		hintStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")),

		pausedStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("214")).
			Bold(true),
	}
}

// NewRunProgram creates a bubbletea program for the run view.
func NewRunProgram(controls Controls, cancel func()) (*tea.Program, *RunApp) {
	app := NewRunApp(controls, cancel)
	p := tea.NewProgram(app, tea.WithAltScreen())
	return p, app
}

// Forward sends every event to p until events is closed.
func Forward(p *tea.Program, events <-chan orchestrator.OrchestratorEvent) {
	for ev := range events {
		p.Send(EventMsg{Event: ev})
	}
}

// Init implements tea.Model.
func (a *RunApp) Init() tea.Cmd {
	return a.spinner.Tick
}

// Update implements tea.Model.
func (a *RunApp) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			if !a.done && a.cancel != nil {
				a.cancel()
			}
			a.quitting = true
			return a, tea.Quit
		case "p":
			a.togglePause()
		}

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.nodes.SetWidth(msg.Width)

	case spinner.TickMsg:
		if a.done {
			return a, nil
		}
		var cmd tea.Cmd
		a.spinner, cmd = a.spinner.Update(msg)
		return a, cmd

	case EventMsg:
		a.handleEvent(msg.Event)

	case DoneMsg:
		a.done = true
		a.result = msg.Result
		a.err = msg.Err
		if msg.Result != nil {
			a.nodes.ApplyResult(msg.Result)
		}
	}

	return a, nil
}

func (a *RunApp) togglePause() {
	if a.controls == nil || a.done {
		return
	}
	if a.controls.IsPaused() {
		a.controls.Resume()
		a.addLog("control", "dispatch resumed")
	} else {
		a.controls.Pause()
		a.addLog("control", "dispatch paused")
	}
}

func (a *RunApp) handleEvent(ev orchestrator.OrchestratorEvent) {
	if a.runID == "" {
		a.runID = ev.RunID
	}
	if ev.Counts != nil {
		a.counts = ev.Counts
	}
	a.nodes.Apply(ev)

	msg := ev.Message
	switch ev.Type {
	case orchestrator.EventTaskStarted:
		msg = fmt.Sprintf("%s started", ev.Node)
	case orchestrator.EventTaskCompleted:
		msg = fmt.Sprintf("%s succeeded (score %d)", ev.Node, ev.Score)
	case orchestrator.EventTaskFailed:
		msg = fmt.Sprintf("%s failed: %s", ev.Node, firstLine(ev.Message))
	case orchestrator.EventTaskAmended:
		msg = fmt.Sprintf("%s amended, attempt %d", ev.Node, ev.Attempt)
	case orchestrator.EventTaskReplanned:
		msg = fmt.Sprintf("%s replanned, added %s", ev.Node, strings.Join(ev.Added, ", "))
	}
	a.addLogAt(ev.Timestamp, string(ev.Type), msg)
}

func (a *RunApp) addLog(kind, msg string) {
	a.addLogAt(time.Now(), kind, msg)
}

func (a *RunApp) addLogAt(ts time.Time, kind, msg string) {
	if ts.IsZero() {
		ts = time.Now()
	}
	a.logs = append(a.logs, LogEntry{Timestamp: ts, Kind: kind, Message: msg})
	if len(a.logs) > maxLogs {
		a.logs = a.logs[len(a.logs)-maxLogs:]
	}
}

// View implements tea.Model.
func (a *RunApp) View() string {
	if a.quitting {
		return "Goodbye!\n"
	}

	var b strings.Builder

	title := "friday"
	if a.runID != "" {
		title += "  run " + a.runID
	}
	if !a.done {
		b.WriteString(a.spinner.View())
		b.WriteString(" ")
	}
	b.WriteString(a.titleStyle.Render(title))
	b.WriteString("\n\n")

	b.WriteString(a.renderStats())
	b.WriteString("\n\n")

	b.WriteString(a.nodes.View())
	b.WriteString("\n")

	b.WriteString(a.renderLogs())
	b.WriteString("\n")
	b.WriteString(a.renderFooter())
	b.WriteString("\n")

	return b.String()
}

func (a *RunApp) renderStats() string {
	order := []models.NodeStatus{
		models.NodeStatusPending,
		models.NodeStatusRunning,
		models.NodeStatusSucceeded,
		models.NodeStatusFailed,
		models.NodeStatusFailedFatal,
	}
	var parts []string
	for _, s := range order {
		parts = append(parts, a.labelStyle.Render(string(s)+":")+" "+a.valueStyle.Render(fmt.Sprintf("%d", a.counts[s])))
	}
	elapsed := time.Since(a.started).Round(time.Second)
	if a.result != nil {
		elapsed = a.result.Diagnostics.Duration.Round(time.Second)
	}
	parts = append(parts, a.labelStyle.Render("elapsed:")+" "+a.valueStyle.Render(elapsed.String()))
	return strings.Join(parts, "  ")
}

func (a *RunApp) renderLogs() string {
	if len(a.logs) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString(a.valueStyle.Render("Activity"))
	b.WriteString("\n")
	for _, entry := range a.logs {
		ts := a.logTimeStyle.Render(entry.Timestamp.Format("15:04:05"))
		kind := a.logKindStyle.Render(entry.Kind)
		b.WriteString(fmt.Sprintf("  %s %s %s\n", ts, kind, a.logStyle.Render(entry.Message)))
	}
	return b.String()
}

func (a *RunApp) renderFooter() string {
	if a.done {
		if a.err != nil {
			msg := fmt.Sprintf("Run failed: %v", a.err)
			if a.result != nil && a.result.Diagnostics.FailedNode != "" {
				msg += fmt.Sprintf(" (node %s)", a.result.Diagnostics.FailedNode)
			}
			return a.errorStyle.Render(msg) + "\n" + a.hintStyle.Render("Press q to exit")
		}
		return a.doneStyle.Render("Run complete! Press q to exit.")
	}
	hint := a.hintStyle.Render("p pause/resume  q cancel")
	if a.controls != nil && a.controls.IsPaused() {
		return a.pausedStyle.Render("PAUSED") + "  " + hint
	}
	return hint
}

// Done reports whether the run has returned.
func (a *RunApp) Done() bool {
	return a.done
}

// Err returns the run error once done.
func (a *RunApp) Err() error {
	return a.err
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
