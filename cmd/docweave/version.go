package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/docweave/internal/version"
)

var versionCmd = &cobra.Command{
	Use:               "version",
	Short:             "Print the version number",
	PersistentPreRunE: skipConfig,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "docweave version %s\n", version.Get())
	},
}
