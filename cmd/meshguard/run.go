package main

import (
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/weisyn/meshguard/configs"
	"github.com/weisyn/meshguard/internal/app"
	"github.com/weisyn/meshguard/internal/app/version"
)

var (
	runConfigPath string
	runNoAPI      bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "启动韧性节点",
	Long: `启动韧性节点并阻塞直到收到 SIGINT/SIGTERM。

配置文件支持 .yaml/.yml/.json；环境变量 ` + app.EnvConfigPath + ` 优先于 --config。
配置文件不存在时使用默认配置。`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := []app.Option{app.WithConfigFile(runConfigPath)}
		if runNoAPI {
			opts = append(opts, app.WithoutAPI())
		}

		pterm.Info.Printfln("%s 启动中...", version.GetFullVersion())
		a, err := app.Start(opts...)
		if err != nil {
			return err
		}
		pterm.Success.Println("节点已启动，按 Ctrl+C 退出")

		if err := a.Wait(); err != nil {
			return err
		}
		pterm.Info.Println("节点已停止")
		return nil
	},
}

func init() {
	runCmd.Flags().StringVarP(&runConfigPath, "config", "c", configs.SampleFileName, "配置文件路径")
	runCmd.Flags().BoolVar(&runNoAPI, "no-api", false, "不启动 HTTP 管理接口")
}
