package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/docweave/internal/api"
	"github.com/ShayCichocki/docweave/internal/registry"
)

var (
	serveAddr     string
	serveProvider string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Long: `Start the engine behind an HTTP API.

Requests left running by a previous process are marked interrupted at
startup and can be resumed. When definitions.watch is set, edited
definition files in definitions.dir are reloaded without a restart.

Endpoints:
  GET  /healthz
  GET  /v1/request-types
  POST /v1/requests
  GET  /v1/requests
  GET  /v1/requests/{id}
  POST /v1/requests/{id}/cancel`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (default: server.addr)")
	serveCmd.Flags().StringVar(&serveProvider, "provider", "", "Override generator.provider (anthropic, bedrock, static)")
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := newApp(appOptions{execute: true, provider: serveProvider})
	if err != nil {
		return err
	}
	defer a.close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	interrupted, err := a.engine.Recover(ctx)
	if err != nil {
		return err
	}
	if len(interrupted) > 0 {
		a.log.WithField("count", len(interrupted)).Info("marked requests from previous run as interrupted")
	}

	if dir := a.cfg.Definitions.Dir; dir != "" && a.cfg.Definitions.Watch {
		err := a.registry.Watch(ctx, dir, func(rt registry.RequestType) {
			a.log.WithField("type", rt.Name).Debug("definition available")
		})
		if err != nil {
			return err
		}
	}

	go api.LogEvents(a.engine.Events(), a.log)
	go cleanupLoop(ctx, a, time.Hour)

	addr := serveAddr
	if addr == "" {
		addr = a.cfg.Server.Addr
	}
	return api.NewServer(a.engine, a.registry, a.log).ListenAndServe(ctx, addr)
}

// cleanupLoop purges expired results every interval until ctx is done.
func cleanupLoop(ctx context.Context, a *app, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats, err := a.engine.Cleanup(ctx)
			if err != nil {
				a.log.WithError(err).Warn("cleanup failed")
				continue
			}
			if stats.Results > 0 || stats.Requests > 0 {
				a.log.WithFields(logrus.Fields{
					"results":  stats.Results,
					"requests": stats.Requests,
				}).Info("purged expired state")
			}
		}
	}
}
