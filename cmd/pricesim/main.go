// Command pricesim simulates dynamic pricing against a reference-price driven
// customer population and searches for good pricing policies.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var version = "0.1.0-dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		slog.Error("pricesim failed", "error", err)
		stop()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "pricesim",
		Short: "Dynamic pricing market simulation",
		Long: `pricesim runs a discrete-event market in which customers anchor on the
prices they see and hear about, and evaluates or searches for pricing
policies against it.

Configuration comes from defaults, then --config, then PRICESIM_* variables.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Global flags
	rootCmd.PersistentFlags().String("config", "", "YAML configuration file")
	rootCmd.PersistentFlags().Bool("json", false, "Output as JSON")
	rootCmd.PersistentFlags().String("log-level", "", "Override the configured log level")

	rootCmd.AddCommand(
		newVersionCmd(),
		newSimulateCmd(),
		newOptimizeCmd(),
		newServeCmd(),
		newRunsCmd(),
	)
	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			jsonOut, _ := cmd.Flags().GetBool("json")
			if jsonOut {
				json.NewEncoder(cmd.OutOrStdout()).Encode(map[string]string{"version": version})
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "pricesim version %s\n", version)
			}
		},
	}
}
