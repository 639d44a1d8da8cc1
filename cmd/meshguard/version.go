package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/weisyn/meshguard/internal/app/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "显示版本信息",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if globalFlags.OutputFormat == "json" {
			return newPrinter(cmd).JSON(version.GetBuildInfo())
		}
		_, err := fmt.Fprintln(cmd.OutOrStdout(), version.GetFullVersion())
		return err
	},
}
