package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/weisyn/meshguard/internal/cli/client"
	"github.com/weisyn/meshguard/internal/cli/ui"
	apicfg "github.com/weisyn/meshguard/internal/config/api"
)

// 管理接口地址环境变量
const envAPIAddr = "MESHGUARD_API"

// GlobalFlags 全局标志
type GlobalFlags struct {
	APIAddr      string        // 管理接口地址
	Timeout      time.Duration // 单次请求超时
	OutputFormat string        // 输出格式
	NoColor      bool          // 关闭颜色
}

var globalFlags GlobalFlags

// rootCmd 根命令
var rootCmd = &cobra.Command{
	Use:   "meshguard",
	Short: "P2P 网络韧性节点",
	Long: `meshguard - P2P 网络韧性控制回路

run 子命令启动节点（libp2p 主机、诊断采集、降级控制、自动恢复、HTTP 管理接口）；
其余子命令通过 HTTP 管理接口查看与操作正在运行的节点:
- 查看网络诊断与排障报告
- 查看或强制切换运行模式
- 开关功能
- 触发网络或单节点恢复`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		switch globalFlags.OutputFormat {
		case "table", "json":
		default:
			return fmt.Errorf("不支持的输出格式: %s (可选 table|json)", globalFlags.OutputFormat)
		}
		if globalFlags.NoColor {
			ui.DisableStyling()
		}
		return nil
	},
}

// Execute 执行根命令
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "错误: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	defaultAddr := apicfg.DefaultListenAddr
	if env := os.Getenv(envAPIAddr); env != "" {
		defaultAddr = env
	}

	rootCmd.PersistentFlags().StringVar(&globalFlags.APIAddr, "api", defaultAddr, "节点管理接口地址 (环境变量 "+envAPIAddr+")")
	rootCmd.PersistentFlags().DurationVar(&globalFlags.Timeout, "timeout", 15*time.Second, "请求超时")
	rootCmd.PersistentFlags().StringVarP(&globalFlags.OutputFormat, "output", "o", "table", "输出格式: table|json")
	rootCmd.PersistentFlags().BoolVar(&globalFlags.NoColor, "no-color", false, "关闭彩色输出")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(diagnoseCmd)
	rootCmd.AddCommand(troubleshootCmd)
	rootCmd.AddCommand(modeCmd)
	rootCmd.AddCommand(featuresCmd)
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(recoverCmd)
	rootCmd.AddCommand(eventsCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}

// newClient 根据全局标志创建管理接口客户端
func newClient() *client.Client {
	return client.NewClient(globalFlags.APIAddr, globalFlags.Timeout, nil)
}

// newPrinter 根据全局标志创建输出渲染器
func newPrinter(cmd *cobra.Command) *ui.Printer {
	return ui.NewPrinter(cmd.OutOrStdout(), globalFlags.OutputFormat == "json")
}

// commandContext 请求上下文，随命令取消
func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, globalFlags.Timeout)
}
