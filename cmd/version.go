package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/wardlow/casekeeper/casekeeper"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Prints the version",
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintf(
			cmd.OutOrStdout(),
			"casekeeper %s (%s)\n",
			casekeeper.Version,
			casekeeper.CommitSHA,
		)
	},
}

//nolint:gochecknoinits
func init() {
	rootCmd.AddCommand(versionCmd)
}
