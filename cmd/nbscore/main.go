// Command nbscore scores number sequences and text with the bounded N/B
// engine, stores every result in the score-keyed trees and serves them over
// HTTP. With no arguments it starts an interactive prompt.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	flagConfig string
	flagData   string
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "nbscore",
		Short:         "Bounded N/B sequence scoring",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runREPL(cmd.Context())
		},
	}
	cmd.PersistentFlags().StringVar(&flagConfig, "config", "", "config file (default $NB_CONFIG or config.json)")
	cmd.PersistentFlags().StringVar(&flagData, "data", "", "data directory (overrides config)")

	cmd.AddCommand(calcCmd())
	cmd.AddCommand(keyCmd())
	cmd.AddCommand(searchCmd())
	cmd.AddCommand(showCmd())
	cmd.AddCommand(recentCmd())
	cmd.AddCommand(mostViewedCmd())
	cmd.AddCommand(statsCmd())
	cmd.AddCommand(organizeCmd())
	cmd.AddCommand(serveCmd())
	cmd.AddCommand(configCmd())
	return cmd
}
