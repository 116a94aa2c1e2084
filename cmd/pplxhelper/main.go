package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/pplxhelper/pplxhelper/internal/config"
	"github.com/spf13/cobra"
)

var version = "dev"

var rootCmd = &cobra.Command{
	Use:           "pplxhelper",
	Short:         "Prompt helper companion for the Perplexity chat page",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := slog.LevelInfo
		if debug, _ := cmd.Flags().GetBool("debug"); debug {
			level = slog.LevelDebug
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	},
}

func init() {
	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug logging")
	rootCmd.SetVersionTemplate("pplxhelper {{.Version}}\n")
}

func main() {
	cfg := config.Load()
	rootCmd.AddCommand(
		newServeCmd(cfg),
		newFocusCmd(cfg),
		newStatsCmd(cfg),
		newResetCmd(cfg),
		newRewriteCmd(cfg),
		newConfigCmd(cfg),
		newKeyCmd(),
	)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
