package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"weftflow/internal/cli"
)

// runCmd wraps the flag-based CLIInvocation parser: cobra owns argument
// routing between subcommands, but `run`'s own flags (-resume, -profile,
// executor selection, and so on) stay exactly as cli.ParseInvocation expects
// them, so they pass through unmodified after "run".
var runCmd = &cobra.Command{
	Use:                "run [flags] <script>",
	Short:              "Execute a pipeline",
	DisableFlagParsing: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := cli.Run(cmd.Context(), args)
		if err != nil {
			fmt.Fprintf(os.Stderr, "weftflow run: %v\n", err)
		}
		if res.ExitCode != 0 {
			os.Exit(res.ExitCode)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}
