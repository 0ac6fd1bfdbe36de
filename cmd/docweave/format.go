package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/ShayCichocki/docweave/internal/orchestrator"
	"github.com/ShayCichocki/docweave/pkg/models"
)

// printStatus prints a status line with color
func printStatus(w io.Writer, symbol, message string, colorAttr color.Attribute) {
	c := color.New(colorAttr)
	fmt.Fprintf(w, "%s %s\n", c.Sprint(symbol), message)
}

func requestStateColor(s models.RequestState) color.Attribute {
	switch s {
	case models.RequestStateSucceeded:
		return color.FgGreen
	case models.RequestStateFailed:
		return color.FgRed
	case models.RequestStateCancelled, models.RequestStateInterrupted:
		return color.FgYellow
	case models.RequestStateRunning:
		return color.FgCyan
	}
	return color.FgWhite
}

func taskSymbol(s models.TaskState) (string, color.Attribute) {
	switch s {
	case models.TaskStateSucceeded:
		return "✓", color.FgGreen
	case models.TaskStateFailed:
		return "✗", color.FgRed
	case models.TaskStateSkipped:
		return "-", color.FgYellow
	case models.TaskStateRunning:
		return "●", color.FgCyan
	case models.TaskStateReady:
		return "◌", color.FgBlue
	}
	return "○", color.FgWhite
}

// printEvent writes one progress line for an engine event.
func printEvent(w io.Writer, ev orchestrator.Event) {
	switch ev.Type {
	case orchestrator.EventRequestStarted:
		printStatus(w, "▶", fmt.Sprintf("request %s started", shortID(ev.RequestID)), color.FgCyan)
	case orchestrator.EventTaskStarted:
		msg := ev.Task
		if ev.Attempt > 1 {
			msg = fmt.Sprintf("%s (attempt %d)", ev.Task, ev.Attempt)
		}
		printStatus(w, "●", msg, color.FgCyan)
	case orchestrator.EventTaskRetry:
		printStatus(w, "↻", fmt.Sprintf("%s will retry: %s", ev.Task, ev.Error), color.FgYellow)
	case orchestrator.EventTaskSucceeded:
		printStatus(w, "✓", ev.Task, color.FgGreen)
	case orchestrator.EventTaskFailed:
		printStatus(w, "✗", fmt.Sprintf("%s: %s", ev.Task, ev.Error), color.FgRed)
	case orchestrator.EventTaskSkipped:
		printStatus(w, "-", fmt.Sprintf("%s skipped", ev.Task), color.FgYellow)
	}
}

// printRequestStatus writes a summary of a request and its tasks.
func printRequestStatus(w io.Writer, st *models.RequestStatus) {
	fmt.Fprintf(w, "Request:  %s\n", st.ID)
	fmt.Fprintf(w, "Type:     %s\n", st.Type)
	fmt.Fprintf(w, "State:    %s\n", color.New(requestStateColor(st.State)).Sprint(st.State))
	if !st.CreatedAt.IsZero() {
		fmt.Fprintf(w, "Created:  %s (%s ago)\n", st.CreatedAt.Local().Format(time.DateTime), formatDuration(time.Since(st.CreatedAt)))
	}

	if len(st.Order) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Tasks:")
		for _, name := range st.Order {
			run := st.Tasks[name]
			symbol, attr := taskSymbol(run.State)
			line := fmt.Sprintf("%-20s %-10s", name, run.State)
			if run.Attempts > 1 {
				line += fmt.Sprintf(" attempts=%d", run.Attempts)
			}
			if d := run.Duration(); d > 0 {
				line += " " + formatDuration(d)
			}
			fmt.Fprintf(w, "  %s %s\n", color.New(attr).Sprint(symbol), line)
		}
	}

	if st.Failure != nil {
		fmt.Fprintln(w)
		fmt.Fprintf(w, "Root causes: %s\n", strings.Join(st.Failure.RootCauses, ", "))
		for _, name := range st.Failure.RootCauses {
			if msg := st.Failure.Errors[name]; msg != "" {
				fmt.Fprintf(w, "  %s: %s\n", name, msg)
			}
		}
		if len(st.Failure.Skipped) > 0 {
			fmt.Fprintf(w, "Skipped:     %s\n", strings.Join(st.Failure.Skipped, ", "))
		}
	}

	if st.Result != nil {
		fmt.Fprintln(w)
		if path := st.Result.Data["path"]; path != "" {
			fmt.Fprintf(w, "Document: %s (%s bytes)\n", path, st.Result.Data["bytes"])
		}
		for _, a := range st.Result.Annotations {
			fmt.Fprintf(w, "  note: %s\n", a)
		}
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// formatDuration formats a duration in a human-readable way.
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	}
	if d < 24*time.Hour {
		h := int(d.Hours())
		m := int(d.Minutes()) % 60
		if m > 0 {
			return fmt.Sprintf("%dh%dm", h, m)
		}
		return fmt.Sprintf("%dh", h)
	}
	days := int(d.Hours()) / 24
	return fmt.Sprintf("%dd", days)
}
