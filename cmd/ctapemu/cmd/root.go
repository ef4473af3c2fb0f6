// Package cmd implements the ctapemu CLI commands.
package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/ardnew/softctap/pkg"
)

var (
	// Global flags
	logLevel   string
	logFormat  string
	configPath string
)

var rootCmd = &cobra.Command{
	Use:   "ctapemu",
	Short: "CTAP HID device emulator",
	Long: `ctapemu runs a software CTAP HID device against an in-memory USB
controller and exercises it from an emulated host: enumeration, channel
setup, and CTAPHID transactions.

It is a workbench for the transport stack; no real USB hardware is
touched.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var level slog.Level
		if err := level.UnmarshalText([]byte(logLevel)); err != nil {
			return fmt.Errorf("invalid log level %q: %w", logLevel, err)
		}
		pkg.SetLogLevel(level)

		switch logFormat {
		case "json":
			pkg.SetLogFormat(pkg.LogFormatJSON)
		case "text":
			pkg.SetLogFormat(pkg.LogFormatText)
		default:
			return fmt.Errorf("invalid log format %q", logFormat)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "Log format: text, json")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Device config file (YAML)")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
