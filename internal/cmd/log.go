package cmd

import (
	"github.com/spf13/cobra"

	"weftflow/internal/cli"
)

var (
	logFields []string
	logTmpl   string
	logFilter string
	logBefore string
	logAfter  string
	logBut    string
)

var logCmd = &cobra.Command{
	Use:   "log [run]",
	Short: "Print cached task records for a run",
	Long: `log replays a run's cache index and prints one line per cached task.
<run> selects by run name, session id (or unique prefix), or the special
token "last" (the default).`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := cli.LogOptions{
			Fields:   logFields,
			Template: logTmpl,
			Filter:   logFilter,
			Before:   logBefore,
			After:    logAfter,
			But:      logBut,
		}
		if len(args) == 1 {
			opts.Run = args[0]
		}
		hist := openHistory()
		if err := cli.RunLog(hist, resolveCacheBaseDir(), resolveWorkDir(), opts, cmd.OutOrStdout()); err != nil {
			exitWithError("log", err)
		}
		return nil
	},
}

func init() {
	logCmd.Flags().StringSliceVarP(&logFields, "fields", "f", nil, "comma-separated field list to print")
	logCmd.Flags().StringVarP(&logTmpl, "template", "t", "", "Go text/template applied to each record")
	logCmd.Flags().StringVarP(&logFilter, "filter", "F", "", `predicate of the form "field op value" (== != < > <= >=)`)
	logCmd.Flags().StringVar(&logBefore, "before", "", "select every run before this one")
	logCmd.Flags().StringVar(&logAfter, "after", "", "select every run after this one")
	logCmd.Flags().StringVar(&logBut, "but", "", "select every run except this one")
	rootCmd.AddCommand(logCmd)
}
