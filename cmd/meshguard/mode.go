package main

import (
	"github.com/spf13/cobra"
)

var modeReason string

var modeCmd = &cobra.Command{
	Use:   "mode",
	Short: "查看或切换运行模式",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return modeGetCmd.RunE(cmd, args)
	},
}

var modeGetCmd = &cobra.Command{
	Use:   "get",
	Short: "查看当前运行模式",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()

		m, err := newClient().Mode(ctx)
		if err != nil {
			return err
		}
		return newPrinter(cmd).Mode(m)
	},
}

var modeSetCmd = &cobra.Command{
	Use:   "set <P2P_ONLY|HYBRID|CENTRALIZED_ONLY|OFFLINE>",
	Short: "强制切换运行模式",
	Long: `强制切换运行模式。

切换后控制器仍按周期评估，网络状况变化时可能再次自动切换。`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()

		m, err := newClient().SetMode(ctx, args[0], modeReason)
		if err != nil {
			return err
		}
		p := newPrinter(cmd)
		p.Success("运行模式已切换为 %s", m.Mode)
		return p.Mode(m)
	},
}

func init() {
	modeSetCmd.Flags().StringVar(&modeReason, "reason", "", "切换原因")
	modeCmd.AddCommand(modeGetCmd)
	modeCmd.AddCommand(modeSetCmd)
}
