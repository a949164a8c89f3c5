package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/wagiedev/exsi-sdk-go/internal/logging"
)

var rootCmd = &cobra.Command{
	Use:   "exsi",
	Short: "exsi drives an EXSI scanner controller",
	Long: `exsi connects to a scanner controller over the EXSI protocol, loads
protocols and runs acquisitions. The connection is configured with a YAML,
JSON or TOML file and EXSI_* environment variables.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "Config file (YAML, JSON or TOML)")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level: debug, info, warn or error")
	rootCmd.PersistentFlags().String("log-format", "text", "Log format: text or json")
}

// newLogger builds the stderr logger from the persistent flags.
func newLogger(cmd *cobra.Command) (*slog.Logger, error) {
	levelFlag, _ := cmd.Flags().GetString("log-level")
	formatFlag, _ := cmd.Flags().GetString("log-format")

	level, err := logging.ParseLevel(levelFlag)
	if err != nil {
		return nil, err
	}

	format, err := logging.ParseFormat(formatFlag)
	if err != nil {
		return nil, err
	}

	return logging.New(os.Stderr, level, format), nil
}
