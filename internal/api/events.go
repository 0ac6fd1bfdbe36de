package api

import (
	"github.com/sirupsen/logrus"

	"github.com/ShayCichocki/docweave/internal/orchestrator"
)

// LogEvents drains events into log until the channel closes. The engine
// closes its event channel on Stop.
func LogEvents(events <-chan orchestrator.Event, log logrus.FieldLogger) {
	for ev := range events {
		entry := log.WithFields(logrus.Fields{
			"event":   string(ev.Type),
			"request": ev.RequestID,
		})
		if ev.Task != "" {
			entry = entry.WithFields(logrus.Fields{"task": ev.Task, "attempt": ev.Attempt})
		}
		if ev.Error != "" {
			entry = entry.WithField("error", ev.Error)
		}
		msg := ev.Message
		if msg == "" {
			msg = string(ev.Type)
		}

		switch ev.Type {
		case orchestrator.EventTaskFailed, orchestrator.EventTaskRetry:
			entry.Warn(msg)
		case orchestrator.EventRequestStarted, orchestrator.EventRequestCompleted:
			entry.WithField("state", string(ev.State)).Info(msg)
		default:
			entry.Debug(msg)
		}
	}
}
