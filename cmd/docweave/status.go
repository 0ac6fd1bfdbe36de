package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/docweave/internal/state"
	"github.com/ShayCichocki/docweave/pkg/models"
)

var statusJSON bool

var statusCmd = &cobra.Command{
	Use:   "status <id>",
	Short: "Show a request's state and tasks",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(appOptions{})
		if err != nil {
			return err
		}
		defer a.close()

		st, err := a.engine.GetStatus(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if statusJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(st)
		}
		printRequestStatus(cmd.OutOrStdout(), st)
		return nil
	},
}

var (
	listStates []string
	listType   string
	listLimit  int
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent requests",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		filter := state.RequestFilter{Type: listType, Limit: listLimit}
		for _, s := range listStates {
			rs := models.RequestState(strings.ToLower(s))
			if !rs.Valid() {
				return fmt.Errorf("unknown request state %q", s)
			}
			filter.States = append(filter.States, rs)
		}

		a, err := newApp(appOptions{})
		if err != nil {
			return err
		}
		defer a.close()

		reqs, err := a.engine.List(cmd.Context(), filter)
		if err != nil {
			return err
		}
		w := cmd.OutOrStdout()
		if len(reqs) == 0 {
			fmt.Fprintln(w, "No requests. Run 'docweave run <type>' to start one.")
			return nil
		}
		fmt.Fprintf(w, "%-36s  %-12s  %-11s  %s\n", "ID", "TYPE", "STATE", "AGE")
		for _, r := range reqs {
			stateCol := color.New(requestStateColor(r.State)).Sprintf("%-11s", r.State)
			fmt.Fprintf(w, "%-36s  %-12s  %s  %s\n", r.ID, r.Type, stateCol, formatDuration(time.Since(r.CreatedAt)))
		}
		return nil
	},
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Print the status as JSON")

	listCmd.Flags().StringSliceVar(&listStates, "state", nil, "Only requests in these states")
	listCmd.Flags().StringVar(&listType, "type", "", "Only requests of this type")
	listCmd.Flags().IntVar(&listLimit, "limit", 20, "Maximum number of requests")
}
