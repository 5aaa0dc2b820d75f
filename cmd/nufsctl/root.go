// Command nufsctl is the administrative CLI for nufs images: creating
// them, inspecting their contents, and importing host files into them.
// It is deliberately separate from any kernel-facing mount entry point
// (out of scope — see SPEC_FULL.md §1).
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var verbose bool

var rootCmd = &cobra.Command{
	Use:   "nufsctl",
	Short: "Inspect and administer nufs disk images",
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	if err := viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose")); err != nil {
		panic(err)
	}

	cobra.OnInitialize(initLogger)

	rootCmd.AddCommand(mkfsCmd)
	rootCmd.AddCommand(lsCmd)
	rootCmd.AddCommand(catCmd)
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(fsckCmd)
}

func initLogger() {
	level := slog.LevelInfo
	if viper.GetBool("verbose") {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

func main() {
	Execute()
}
