package tui

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/ShayCichocki/docweave/internal/orchestrator"
	"github.com/ShayCichocki/docweave/pkg/models"
)

// maxLogLines is how many activity entries stay on screen.
const maxLogLines = 8

// EventMsg delivers one engine event to the view.
type EventMsg struct {
	Event orchestrator.Event
}

// DoneMsg is sent when the request finishes.
type DoneMsg struct {
	Status *models.RequestStatus
	Err    error
}

// CancelFunc asks the engine to cancel the watched request.
type CancelFunc func() error

// LogEntry represents a line in the activity log.
type LogEntry struct {
	Timestamp time.Time
	Task      string
	Message   string
	Failed    bool
}

// WatchApp is the bubbletea model for one request.
type WatchApp struct {
	status  models.RequestStatus
	logs    []LogEntry
	spinner spinner.Model
	cancel  CancelFunc

	width      int
	quitting   bool
	done       bool
	cancelSent bool
	err        error

	// Styles
	titleStyle   lipgloss.Style
	labelStyle   lipgloss.Style
	valueStyle   lipgloss.Style
	progressFull lipgloss.Style
	progressNone lipgloss.Style
	okStyle      lipgloss.Style
	failStyle    lipgloss.Style
	skipStyle    lipgloss.Style
	mutedStyle   lipgloss.Style
}

// NewWatchApp creates a view seeded with the request's current status.
func NewWatchApp(st *models.RequestStatus, cancel CancelFunc) *WatchApp {
	a := &WatchApp{
		cancel:  cancel,
		spinner: spinner.New(spinner.WithSpinner(spinner.Dot)),

		titleStyle: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205")),

		labelStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			Width(12),

		valueStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("252")).
			Bold(true),

		progressFull: lipgloss.NewStyle().Foreground(lipgloss.Color("34")),
		progressNone: lipgloss.NewStyle().Foreground(lipgloss.Color("240")),
		okStyle:      lipgloss.NewStyle().Foreground(lipgloss.Color("34")),
		failStyle:    lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true),
		skipStyle:    lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		mutedStyle:   lipgloss.NewStyle().Foreground(lipgloss.Color("240")),
	}
	a.spinner.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))
	if st != nil {
		a.status = *st
	}
	if a.status.Tasks == nil {
		a.status.Tasks = make(map[string]models.TaskRun)
	} else {
		tasks := make(map[string]models.TaskRun, len(a.status.Tasks))
		for k, v := range a.status.Tasks {
			tasks[k] = v
		}
		a.status.Tasks = tasks
	}
	return a
}

// Status returns the latest status the view has seen.
func (a *WatchApp) Status() models.RequestStatus {
	return a.status
}

// Err returns the error the request finished with, if any.
func (a *WatchApp) Err() error {
	return a.err
}

// Init implements tea.Model.
func (a *WatchApp) Init() tea.Cmd {
	return a.spinner.Tick
}

// Update implements tea.Model.
func (a *WatchApp) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			a.quitting = true
			return a, tea.Quit
		case "c":
			a.requestCancel()
		}

	case tea.WindowSizeMsg:
		a.width = msg.Width

	case spinner.TickMsg:
		var cmd tea.Cmd
		a.spinner, cmd = a.spinner.Update(msg)
		return a, cmd

	case EventMsg:
		a.apply(msg.Event)

	case DoneMsg:
		a.done = true
		a.err = msg.Err
		if msg.Status != nil {
			a.status = *msg.Status
		}
		// Stay on screen so the final state can be read.
	}

	return a, nil
}

func (a *WatchApp) requestCancel() {
	if a.done || a.cancelSent || a.cancel == nil {
		return
	}
	a.cancelSent = true
	msg := "cancel requested"
	if err := a.cancel(); err != nil {
		msg = fmt.Sprintf("cancel failed: %v", err)
	}
	a.log(LogEntry{Timestamp: time.Now(), Message: msg})
}

// apply folds an event into the status snapshot.
func (a *WatchApp) apply(ev orchestrator.Event) {
	if ev.RequestID != a.status.ID {
		return
	}
	if ev.State != "" {
		a.status.State = ev.State
	}
	if ev.Task != "" {
		run := a.status.Tasks[ev.Task]
		run.Task = ev.Task
		if ev.TaskState != "" {
			run.State = ev.TaskState
		}
		if ev.Attempt > run.Attempts {
			run.Attempts = ev.Attempt
		}
		if ev.Error != "" {
			run.Error = ev.Error
		}
		a.status.Tasks[ev.Task] = run
	}
	if ev.Type == orchestrator.EventTaskReady {
		return
	}

	msg := string(ev.Type)
	switch ev.Type {
	case orchestrator.EventTaskStarted:
		msg = fmt.Sprintf("started (attempt %d)", ev.Attempt)
	case orchestrator.EventTaskRetry:
		msg = fmt.Sprintf("%s: %s", ev.Message, ev.Error)
	case orchestrator.EventTaskFailed, orchestrator.EventTaskSkipped:
		msg = fmt.Sprintf("%s: %s", ev.TaskState, ev.Error)
	case orchestrator.EventTaskSucceeded:
		msg = "succeeded"
	case orchestrator.EventRequestCompleted:
		msg = fmt.Sprintf("request %s", ev.State)
		if ev.Error != "" {
			msg += ": " + ev.Error
		}
	}
	a.log(LogEntry{
		Timestamp: ev.Timestamp,
		Task:      ev.Task,
		Message:   msg,
		Failed:    ev.Type == orchestrator.EventTaskFailed || ev.Type == orchestrator.EventTaskRetry,
	})
}

func (a *WatchApp) log(e LogEntry) {
	a.logs = append(a.logs, e)
	if len(a.logs) > maxLogLines {
		a.logs = a.logs[len(a.logs)-maxLogLines:]
	}
}

// View implements tea.Model.
func (a *WatchApp) View() string {
	if a.quitting && !a.done {
		return "Stopped watching. The request keeps running in the engine until it finishes.\n"
	}

	var b strings.Builder
	b.WriteString(a.titleStyle.Render("=== docweave ==="))
	b.WriteString("\n\n")

	b.WriteString(a.labelStyle.Render("Request:"))
	b.WriteString(a.valueStyle.Render(a.status.ID))
	b.WriteString("\n")
	b.WriteString(a.labelStyle.Render("Type:"))
	b.WriteString(a.valueStyle.Render(a.status.Type))
	b.WriteString("\n")
	b.WriteString(a.labelStyle.Render("State:"))
	b.WriteString(a.requestStateStyle().Render(string(a.status.State)))
	b.WriteString("\n\n")

	counts := a.status.Counts()
	total := len(a.order())
	finished := counts[models.TaskStateSucceeded] + counts[models.TaskStateFailed] + counts[models.TaskStateSkipped]
	b.WriteString(a.renderProgressBar(finished, total, 30))
	b.WriteString("\n\n")

	for _, name := range a.order() {
		b.WriteString(a.renderTask(name))
		b.WriteString("\n")
	}

	if len(a.logs) > 0 {
		b.WriteString("\n")
		b.WriteString(a.valueStyle.Render("Activity"))
		b.WriteString("\n")
		for _, e := range a.logs {
			style := a.mutedStyle
			if e.Failed {
				style = a.skipStyle
			}
			fmt.Fprintf(&b, "  %s %-14s %s\n",
				a.mutedStyle.Render(e.Timestamp.Format("15:04:05")),
				e.Task,
				style.Render(e.Message))
		}
	}

	b.WriteString("\n")
	switch {
	case a.done && a.err != nil:
		b.WriteString(a.failStyle.Render(fmt.Sprintf("Error: %v", a.err)))
	case a.done:
		b.WriteString(a.mutedStyle.Render("Request finished. Press q to exit."))
	default:
		b.WriteString(a.mutedStyle.Render("c cancel request  q quit"))
	}
	b.WriteString("\n")
	return b.String()
}

// order returns tasks in graph order, falling back to names seen in events.
func (a *WatchApp) order() []string {
	if len(a.status.Order) > 0 {
		return a.status.Order
	}
	names := make([]string, 0, len(a.status.Tasks))
	for name := range a.status.Tasks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (a *WatchApp) renderTask(name string) string {
	run := a.status.Tasks[name]
	var icon string
	style := a.mutedStyle
	switch run.State {
	case models.TaskStateRunning:
		icon = a.spinner.View()
		style = a.valueStyle
	case models.TaskStateSucceeded:
		icon, style = a.okStyle.Render("✓"), a.okStyle
	case models.TaskStateFailed:
		icon, style = a.failStyle.Render("✗"), a.failStyle
	case models.TaskStateSkipped:
		icon, style = a.skipStyle.Render("-"), a.skipStyle
	case models.TaskStateReady:
		icon = "◌"
	default:
		icon = "○"
	}

	line := fmt.Sprintf("  %s %-20s %s", icon, name, style.Render(string(run.State)))
	if run.Attempts > 1 {
		line += a.mutedStyle.Render(fmt.Sprintf("  attempt %d", run.Attempts))
	}
	if run.Error != "" && run.State.IsTerminal() {
		line += "  " + a.mutedStyle.Render(truncate(run.Error, 60))
	}
	return line
}

func (a *WatchApp) requestStateStyle() lipgloss.Style {
	switch a.status.State {
	case models.RequestStateSucceeded:
		return a.okStyle
	case models.RequestStateFailed:
		return a.failStyle
	case models.RequestStateCancelled, models.RequestStateInterrupted:
		return a.skipStyle
	default:
		return a.valueStyle
	}
}

// renderProgressBar renders finished/total as a bar.
func (a *WatchApp) renderProgressBar(finished, total, width int) string {
	pct := float64(0)
	if total > 0 {
		pct = float64(finished) / float64(total) * 100
	}
	filled := int(pct / 100 * float64(width))
	bar := a.progressFull.Render(strings.Repeat("█", filled)) +
		a.progressNone.Render(strings.Repeat("░", width-filled))
	return fmt.Sprintf("  %s %d/%d tasks", bar, finished, total)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
