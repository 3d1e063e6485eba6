// Package cmd defines the CLI commands for the facultydir executable.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "facultydir",
		Short: "Resumable harvester for academic staff directories",
		Long: `facultydir collects faculty and staff records from institutional
directory search endpoints. Runs checkpoint their progress to durable
storage, so an interrupted harvest resumes where it left off instead of
re-fetching records it already produced.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path")

	cmd.AddCommand(newHarvestCmd())
	cmd.AddCommand(newStatusCmd())

	return cmd
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
