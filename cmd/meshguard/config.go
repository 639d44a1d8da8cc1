package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/weisyn/meshguard/configs"
	"github.com/weisyn/meshguard/internal/config"
)

var configForce bool

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "配置文件工具",
}

var configInitCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "写出带默认值的配置模板",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := configs.SampleFileName
		if len(args) == 1 {
			path = args[0]
		}
		if _, err := os.Stat(path); err == nil && !configForce {
			return fmt.Errorf("%s 已存在，使用 --force 覆盖", path)
		} else if err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("创建目录 %s 失败: %w", dir, err)
			}
		}
		if err := os.WriteFile(path, configs.GetSampleConfig(), 0o644); err != nil {
			return err
		}
		pterm.Success.Printfln("配置模板已写入 %s", path)
		return nil
	},
}

var configCheckCmd = &cobra.Command{
	Use:   "check <path>",
	Short: "校验配置文件",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := config.LoadAppConfig(args[0]); err != nil {
			return err
		}
		_, err := fmt.Fprintf(cmd.OutOrStdout(), "%s: OK\n", args[0])
		return err
	},
}

func init() {
	configInitCmd.Flags().BoolVar(&configForce, "force", false, "覆盖已存在的文件")
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configCheckCmd)
}
