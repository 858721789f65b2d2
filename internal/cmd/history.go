package cmd

import (
	"github.com/spf13/cobra"

	"weftflow/internal/cli"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List past runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		hist := openHistory()
		if err := cli.RunHistory(hist, cmd.OutOrStdout()); err != nil {
			exitWithError("history", err)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(historyCmd)
}
