package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	exsi "github.com/wagiedev/exsi-sdk-go"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect and validate connection configs",
}

var configSchemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Print the JSON Schema of the connection config",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		schema, err := exsi.ConfigSchema()
		if err != nil {
			return err
		}

		data, err := json.MarshalIndent(schema, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal schema: %w", err)
		}

		fmt.Fprintln(cmd.OutOrStdout(), string(data))

		return nil
	},
}

var configValidateCmd = &cobra.Command{
	Use:   "validate [file]",
	Short: "Load a config, apply defaults and environment overrides, and print it",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString("config")
		if len(args) > 0 {
			path = args[0]
		}

		cfg, err := exsi.LoadConfig(path)
		if err != nil {
			return err
		}

		redacted := *cfg
		if redacted.Password != "" {
			redacted.Password = "********"
		}

		data, err := json.MarshalIndent(&redacted, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal config: %w", err)
		}

		fmt.Fprintln(cmd.OutOrStdout(), string(data))

		return nil
	},
}

func init() {
	configCmd.AddCommand(configSchemaCmd, configValidateCmd)
	rootCmd.AddCommand(configCmd)
}
