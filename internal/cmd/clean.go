package cmd

import (
	"github.com/spf13/cobra"

	"weftflow/internal/cli"
)

var (
	cleanDryRun bool
	cleanForce  bool
	cleanQuiet  bool
	cleanBefore string
	cleanAfter  string
	cleanBut    string
)

var cleanCmd = &cobra.Command{
	Use:   "clean [run]",
	Short: "Remove cached work directories for past runs",
	Long: `clean releases the cache entries and work directories a run produced.
Exactly one of -n/--dry-run or -f/--force is required; clean refuses to run
without one.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := cli.CleanOptions{
			DryRun: cleanDryRun,
			Force:  cleanForce,
			Quiet:  cleanQuiet,
			Before: cleanBefore,
			After:  cleanAfter,
			But:    cleanBut,
		}
		if len(args) == 1 {
			opts.Run = args[0]
		}
		hist := openHistory()
		if err := cli.RunClean(hist, resolveCacheBaseDir(), resolveWorkDir(), opts, cmd.OutOrStdout()); err != nil {
			exitWithError("clean", err)
		}
		return nil
	},
}

func init() {
	cleanCmd.Flags().BoolVarP(&cleanDryRun, "dry-run", "n", false, "print what would be removed without removing it")
	cleanCmd.Flags().BoolVarP(&cleanForce, "force", "f", false, "actually remove cache entries and work directories")
	cleanCmd.Flags().BoolVarP(&cleanQuiet, "quiet", "q", false, "only print removed, not kept, entries")
	cleanCmd.Flags().StringVar(&cleanBefore, "before", "", "select every run before this one")
	cleanCmd.Flags().StringVar(&cleanAfter, "after", "", "select every run after this one")
	cleanCmd.Flags().StringVar(&cleanBut, "but", "", "select every run except this one")
	rootCmd.AddCommand(cleanCmd)
}
