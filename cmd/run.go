package cmd

import (
	"log"

	"github.com/spf13/cobra"
	"github.com/wardlow/casekeeper/casekeeper"
)

var runCmd = &cobra.Command{
	Use:   "run [flags]",
	Short: "Starts the Casekeeper bot",
	Run: func(cmd *cobra.Command, _ []string) {
		ctx := cmd.Context()
		ck, err := casekeeper.New(cfg)
		if err != nil {
			log.Fatalf("error creating casekeeper: %s", err.Error())
		}

		if err = ck.Run(ctx); err != nil {
			log.Fatalf("error running casekeeper: %s", err.Error())
		}
	},
}

//goland:noinspection GoLinter
func init() {
	rootCmd.AddCommand(runCmd)
}
