package commands

import (
	"context"

	"github.com/spf13/cobra"

	tmos "github.com/wot-technology/wellspring/libs/os"
	"github.com/wot-technology/wellspring/node"
)

// StartCmd runs the node until it is interrupted.
var StartCmd = &cobra.Command{
	Use:   "start",
	Short: "Run the wellspring node",
	RunE:  startNode,
}

func init() {
	StartCmd.Flags().String("moniker", config.Moniker, "node name")
	StartCmd.Flags().String("listen-addr", config.ListenAddr, "sync listener address")
	StartCmd.Flags().StringSlice("sync.peers", config.Sync.Peers, "peer addresses to reconcile with")
	StartCmd.Flags().Duration("sync.interval", config.Sync.Interval, "reconciliation interval")
}

func startNode(cmd *cobra.Command, args []string) error {
	n, err := node.New(config, logger)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	if err := n.Start(ctx); err != nil {
		return err
	}

	tmos.TrapSignal(func() {
		if n.IsRunning() {
			_ = n.Stop()
		}
	})

	// Run until the service quits.
	n.Wait()
	return nil
}
