package main

import (
	"fmt"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/spf13/cobra"
)

var healthCmd = &cobra.Command{
	Use:   "health [peer-id]",
	Short: "查看恢复管理器的网络或节点健康",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()

		c := newClient()
		p := newPrinter(cmd)
		if len(args) == 0 {
			h, err := c.NetworkHealth(ctx)
			if err != nil {
				return err
			}
			return p.NetworkHealth(h)
		}

		id, err := parsePeerID(args[0])
		if err != nil {
			return err
		}
		ph, err := c.PeerHealth(ctx, id)
		if err != nil {
			return err
		}
		return p.JSON(ph)
	},
}

var recoverCmd = &cobra.Command{
	Use:   "recover [peer-id]",
	Short: "触发网络恢复；指定节点时只恢复该节点",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()

		c := newClient()
		if len(args) == 0 {
			r, err := c.RecoverNetwork(ctx)
			if err != nil {
				return err
			}
			return newPrinter(cmd).Recover(r)
		}

		id, err := parsePeerID(args[0])
		if err != nil {
			return err
		}
		r, err := c.RecoverPeer(ctx, id)
		if err != nil {
			return err
		}
		return newPrinter(cmd).Recover(r)
	},
}

func parsePeerID(s string) (peer.ID, error) {
	id, err := peer.Decode(s)
	if err != nil {
		return "", fmt.Errorf("无效的节点ID %q: %w", s, err)
	}
	return id, nil
}
