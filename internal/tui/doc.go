// Package tui provides the live terminal view for docweave's run --watch.
//
// The view is read-only: it follows one request's events, shows each task
// with its state and attempts, and keeps a short activity log. Users can
// cancel the request with 'c' and quit with 'q' or Ctrl+C.
//
// Usage:
//
//	program, app := tui.NewWatchProgram(status, cancel)
//	go tui.Forward(program, engine.Events(), status.ID, func() (*models.RequestStatus, error) {
//		return engine.Wait(ctx, status.ID)
//	})
//	_, err := program.Run()
//	final := app.Status()
package tui
