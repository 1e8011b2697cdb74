package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "0.1.0-dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "simulator",
		Short: "Discrete-time spiking network simulator",
		Long: `simulator builds a network of element groups, spike generators and
monitors from a YAML scenario and steps it on a fixed-dt clock.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().String("config", "", "Path to the scenario YAML file")
	rootCmd.PersistentFlags().Bool("json", false, "Output as JSON")

	rootCmd.AddCommand(
		newRunCmd(),
		newValidateCmd(),
		newVersionCmd(),
	)
	return rootCmd
}
