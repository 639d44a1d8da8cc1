package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/weisyn/meshguard/internal/cli/client"
)

var (
	eventsLimit  int
	eventsFollow bool
)

var eventsCmd = &cobra.Command{
	Use:   "events [event-type...]",
	Short: "查看韧性事件历史或实时订阅",
	Long: `不带参数时列出全部事件类型及当前保留条数；
指定事件类型（例如 degradation.mode.changed）时输出该类型的历史负载，最新在后。
使用 --follow 通过 WebSocket 实时接收事件，可指定多个类型，省略时订阅全部。`,
	Args: func(cmd *cobra.Command, args []string) error {
		if !eventsFollow && len(args) > 1 {
			return fmt.Errorf("查看历史时最多指定 1 个事件类型，收到 %d 个", len(args))
		}
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		if eventsFollow {
			return followEvents(cmd, args)
		}

		ctx, cancel := commandContext(cmd)
		defer cancel()

		c := newClient()
		if len(args) == 0 {
			list, err := c.EventTypes(ctx)
			if err != nil {
				return err
			}
			return newPrinter(cmd).EventTypes(list)
		}
		h, err := c.Events(ctx, args[0], eventsLimit)
		if err != nil {
			return err
		}
		return newPrinter(cmd).Events(h)
	},
}

// followEvents 持续订阅直到收到中断信号；不受 --timeout 约束
func followEvents(cmd *cobra.Command, types []string) error {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	printer := newPrinter(cmd)
	err := newClient().StreamEvents(ctx, types, func(f client.StreamFrame) error {
		return printer.StreamFrame(f)
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func init() {
	eventsCmd.Flags().IntVarP(&eventsLimit, "limit", "n", 0, "只显示最近 N 条 (0 表示全部)")
	eventsCmd.Flags().BoolVarP(&eventsFollow, "follow", "f", false, "通过 WebSocket 实时接收事件")
}
