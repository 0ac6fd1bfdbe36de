package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	resumeWatch    bool
	resumeProvider string
)

var resumeCmd = &cobra.Command{
	Use:   "resume <id>",
	Short: "Resume an interrupted or failed request",
	Long: `Resume a request that was interrupted by a shutdown or that failed.

Tasks whose results are still stored are kept; every other task runs
again. Succeeded and cancelled requests cannot be resumed.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(appOptions{execute: true, provider: resumeProvider})
		if err != nil {
			return err
		}
		defer a.close()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		id := args[0]
		if err := a.engine.Resume(ctx, id); err != nil {
			return err
		}
		return follow(ctx, cmd.OutOrStdout(), a, id, resumeWatch, false)
	},
}

func init() {
	resumeCmd.Flags().BoolVarP(&resumeWatch, "watch", "w", false, "Show an interactive progress view")
	resumeCmd.Flags().StringVar(&resumeProvider, "provider", "", "Override generator.provider (anthropic, bedrock, static)")
}
