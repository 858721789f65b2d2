// Package cmd wires the weftflow CLI surface using cobra, one file per
// subcommand, mirroring the teacher's cmd/ layout.
package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"weftflow/internal/history"
)

var (
	// Global flags
	cfgFile     string
	baseDir     string
	historyFile string
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "weftflow",
	Short: "weftflow runs dataflow pipelines of tasks over pluggable executors",
	Long: `weftflow executes a dataflow graph of tasks, caching completed work by
content hash and replaying prior runs across local, grid (PBS/LSF/SGE/Slurm),
and Kubernetes executors.`,
	Version: "0.1.0",
}

// Execute adds all child commands to the root command and runs it. Called by
// main.main(); only needs to happen once.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path (default: weftflow.yaml in the working directory)")
	rootCmd.PersistentFlags().StringVar(&baseDir, "base-dir", ".", "base directory holding .cache/ and the history file")
	rootCmd.PersistentFlags().StringVar(&historyFile, "history-file", "", "history file path (default: <base-dir>/.weftflow.history)")
}

func resolveHistoryFile() string {
	if historyFile != "" {
		return historyFile
	}
	return filepath.Join(baseDir, ".weftflow.history")
}

func resolveCacheBaseDir() string {
	return filepath.Join(baseDir, ".cache")
}

func resolveWorkDir() string {
	return filepath.Join(baseDir, "work")
}

func openHistory() *history.File {
	return history.Open(resolveHistoryFile())
}

// exitWithError prints the error message and exits with code 1.
func exitWithError(msg string, err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "weftflow: %s: %v\n", msg, err)
	} else {
		fmt.Fprintf(os.Stderr, "weftflow: %s\n", msg)
	}
	os.Exit(1)
}
