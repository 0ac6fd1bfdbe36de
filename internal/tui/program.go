package tui

import (
	tea "github.com/charmbracelet/bubbletea"

	"github.com/ShayCichocki/docweave/internal/orchestrator"
	"github.com/ShayCichocki/docweave/pkg/models"
)

// NewWatchProgram creates the bubbletea program for watching one request.
func NewWatchProgram(st *models.RequestStatus, cancel CancelFunc, opts ...tea.ProgramOption) (*tea.Program, *WatchApp) {
	app := NewWatchApp(st, cancel)
	if len(opts) == 0 {
		opts = []tea.ProgramOption{tea.WithAltScreen()}
	}
	return tea.NewProgram(app, opts...), app
}

// Sender is the part of tea.Program Forward needs.
type Sender interface {
	Send(msg tea.Msg)
}

// Forward relays events for requestID to p until the request completes or
// events closes, then sends the result of wait as a DoneMsg.
func Forward(p Sender, events <-chan orchestrator.Event, requestID string, wait func() (*models.RequestStatus, error)) {
	for ev := range events {
		if ev.RequestID != requestID {
			continue
		}
		p.Send(EventMsg{Event: ev})
		if ev.Type == orchestrator.EventRequestCompleted {
			break
		}
	}
	st, err := wait()
	p.Send(DoneMsg{Status: st, Err: err})
}
