package main

import (
	"fmt"

	"github.com/spf13/cobra"

	exsi "github.com/wagiedev/exsi-sdk-go"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of exsi",
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "exsi version %s\n", exsi.Version)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
