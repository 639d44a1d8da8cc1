package main

import (
	"github.com/spf13/cobra"
)

var diagnoseCmd = &cobra.Command{
	Use:     "diagnose",
	Aliases: []string{"diag"},
	Short:   "查看最新网络诊断快照",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()

		d, err := newClient().Diagnostics(ctx)
		if err != nil {
			return err
		}
		return newPrinter(cmd).Diagnostics(d)
	},
}

var troubleshootCmd = &cobra.Command{
	Use:   "troubleshoot",
	Short: "立即执行一次排障并输出报告",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()

		r, err := newClient().Troubleshoot(ctx)
		if err != nil {
			return err
		}
		return newPrinter(cmd).Report(r)
	},
}
