package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/docweave/internal/orchestrator"
	"github.com/ShayCichocki/docweave/internal/tui"
	"github.com/ShayCichocki/docweave/pkg/models"
)

var (
	runParams   []string
	runWatch    bool
	runProvider string
	runPrint    bool
)

var runCmd = &cobra.Command{
	Use:   "run <type>",
	Short: "Generate a document and wait for it",
	Long: `Submit a document request of the given type and follow it to completion.

Parameters are passed as key=value pairs and substituted into the request
type's task definitions:

  docweave run report -p topic="edge caching" -p audience=operators

Interrupting the command cancels the request. With --watch, progress is
shown in an interactive view instead of a line per event.`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringArrayVarP(&runParams, "param", "p", nil, "Request parameter as key=value (repeatable)")
	runCmd.Flags().BoolVarP(&runWatch, "watch", "w", false, "Show an interactive progress view")
	runCmd.Flags().StringVar(&runProvider, "provider", "", "Override generator.provider (anthropic, bedrock, static)")
	runCmd.Flags().BoolVar(&runPrint, "print", false, "Print the assembled document to stdout")
}

func runRun(cmd *cobra.Command, args []string) error {
	params, err := parseParams(runParams)
	if err != nil {
		return err
	}

	a, err := newApp(appOptions{execute: true, provider: runProvider})
	if err != nil {
		return err
	}
	defer a.close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	id, err := a.engine.Submit(ctx, args[0], params)
	if err != nil {
		return err
	}
	a.log.WithField("request_id", id).Debug("request submitted")
	return follow(ctx, cmd.OutOrStdout(), a, id, runWatch, runPrint)
}

// parseParams turns key=value pairs into request parameters.
func parseParams(pairs []string) (models.Params, error) {
	params := make(models.Params, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid parameter %q: expected key=value", pair)
		}
		params[key] = value
	}
	return params, nil
}

// follow reports progress of an active request until it finishes and
// returns an error unless it succeeded.
func follow(ctx context.Context, w io.Writer, a *app, id string, watch, printDoc bool) error {
	var (
		st  *models.RequestStatus
		err error
	)
	if watch {
		st, err = followTUI(a, id)
	} else {
		st, err = followLines(ctx, w, a, id)
	}
	if err != nil {
		return err
	}
	if st == nil {
		// Watch view closed early. Closing the engine interrupts the request.
		fmt.Fprintf(w, "Request %s interrupted. Resume with: docweave resume %s\n", shortID(id), id)
		return nil
	}

	fmt.Fprintln(w)
	printRequestStatus(w, st)
	if a.client != nil {
		in, out := a.client.Tracker().Total()
		fmt.Fprintf(w, "Tokens:   %d in, %d out over %d calls (%s)\n", in, out, a.client.Tracker().Calls(), a.client.Model())
	}
	if printDoc && st.Result != nil {
		fmt.Fprintln(w)
		fmt.Fprint(w, st.Result.Content)
	}
	if st.State != models.RequestStateSucceeded {
		return fmt.Errorf("request %s %s", shortID(id), st.State)
	}
	return nil
}

func followLines(ctx context.Context, w io.Writer, a *app, id string) (*models.RequestStatus, error) {
	var (
		st      *models.RequestStatus
		waitErr error
	)
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		st, waitErr = a.engine.Wait(context.Background(), id)
	}()

	events := a.engine.Events()
	interrupted := ctx.Done()
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if ev.RequestID == id {
				printEvent(w, ev)
			}
		case <-interrupted:
			interrupted = nil
			printStatus(w, "!", "interrupt received, cancelling request", color.FgYellow)
			if err := a.engine.Cancel(context.Background(), id); err != nil {
				return nil, err
			}
		case <-finished:
			drainEvents(w, events, id)
			return st, waitErr
		}
	}
}

// drainEvents prints buffered events for id without blocking.
func drainEvents(w io.Writer, events <-chan orchestrator.Event, id string) {
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.RequestID == id {
				printEvent(w, ev)
			}
		default:
			return
		}
	}
}

func followTUI(a *app, id string) (*models.RequestStatus, error) {
	st, err := a.engine.GetStatus(context.Background(), id)
	if err != nil {
		return nil, err
	}
	p, view := tui.NewWatchProgram(st, func() error {
		return a.engine.Cancel(context.Background(), id)
	})
	go tui.Forward(p, a.engine.Events(), id, func() (*models.RequestStatus, error) {
		return a.engine.Wait(context.Background(), id)
	})
	if _, err := p.Run(); err != nil {
		return nil, fmt.Errorf("watch view: %w", err)
	}
	if err := view.Err(); err != nil {
		return nil, err
	}
	final := view.Status()
	if !final.State.IsTerminal() {
		return nil, nil
	}
	return &final, nil
}
