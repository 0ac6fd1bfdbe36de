package main

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var typesCmd = &cobra.Command{
	Use:   "types",
	Short: "List available request types",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(appOptions{})
		if err != nil {
			return err
		}
		defer a.close()

		w := cmd.OutOrStdout()
		for _, rt := range a.registry.Types() {
			fmt.Fprintf(w, "%s  %s\n", color.New(color.Bold).Sprintf("%-12s", rt.Name), rt.Description)
			fmt.Fprintf(w, "%-12s  %d tasks, from %s\n", "", len(rt.Tasks), rt.Source)
		}
		return nil
	},
}

var graphParams []string

var graphCmd = &cobra.Command{
	Use:   "graph <type>",
	Short: "Show the task graph a request type decomposes into",
	Long: `Decompose a request type without running it and print its tasks in
execution order with their capability class and dependencies. Optional
dependencies are marked with '?'.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		params, err := parseParams(graphParams)
		if err != nil {
			return err
		}
		a, err := newApp(appOptions{})
		if err != nil {
			return err
		}
		defer a.close()

		g, err := a.decomposer.Decompose(args[0], params)
		if err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		terminal := g.Terminal()
		for _, taskName := range g.TopologicalOrder() {
			n, _ := g.Node(taskName)
			deps := make([]string, 0, len(n.Deps))
			for _, d := range n.Deps {
				if d.Optional {
					deps = append(deps, d.Name+"?")
				} else {
					deps = append(deps, d.Name)
				}
			}
			name := fmt.Sprintf("%-20s", n.Name)
			if n.Name == terminal {
				name = color.New(color.Bold).Sprint(name)
			}
			fmt.Fprintf(w, "%s %-20s %-10s", name, n.Capability, n.ExecutorName)
			if len(deps) > 0 {
				fmt.Fprintf(w, " <- %s", strings.Join(deps, ", "))
			}
			fmt.Fprintln(w)
		}
		return nil
	},
}

func init() {
	graphCmd.Flags().StringArrayVarP(&graphParams, "param", "p", nil, "Request parameter as key=value (repeatable)")
}
