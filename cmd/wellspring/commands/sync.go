package commands

import (
	"fmt"
	"net"

	"github.com/spf13/cobra"

	"github.com/wot-technology/wellspring/crypto"
	"github.com/wot-technology/wellspring/internal/recon"
	"github.com/wot-technology/wellspring/internal/scopesync"
	"github.com/wot-technology/wellspring/types"
)

// SyncCmd runs one reconciliation pass against a peer and exits.
var SyncCmd = &cobra.Command{
	Use:   "sync <peer> <scope> [scope...]",
	Short: "Reconcile one or more scopes with a peer once",
	Args:  cobra.MinimumNArgs(2),
	RunE:  syncOnce,
}

func syncOnce(cmd *cobra.Command, args []string) error {
	peer := args[0]
	scopes := make([]crypto.Digest, 0, len(args)-1)
	for _, s := range args[1:] {
		d, err := crypto.ParseDigest(s)
		if err != nil {
			return fmt.Errorf("bad scope digest %q: %w", s, err)
		}
		scopes = append(scopes, d)
	}

	nodeKey, err := types.LoadNodeKey(config.NodeKeyFile())
	if err != nil {
		return fmt.Errorf("failed to load node key: %w", err)
	}

	st, db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	index := recon.NewManager()
	st.OnInsert(index.Insert)
	if err := index.Rebuild(st.ForEachScopeEntry); err != nil {
		return err
	}

	coord := scopesync.NewCoordinator(
		logger.With("module", "sync"),
		st, index, scopesync.NopMetrics(),
		scopesync.Options{
			EnumerateThreshold: config.Sync.EnumerateThreshold,
			Branching:          config.Sync.Branching,
			MaxRounds:          config.Sync.MaxRounds,
		},
		nodeKey.ID,
	)

	for _, scope := range scopes {
		conn, err := net.Dial("tcp", peer)
		if err != nil {
			return fmt.Errorf("failed to dial %s: %w", peer, err)
		}
		conv, err := coord.SyncScope(cmd.Context(), conn, scope)
		conn.Close()
		if err != nil {
			return fmt.Errorf("sync of %v failed: %w", scope, err)
		}
		fmt.Printf("%v\trounds=%d sent=%d received=%d\n",
			scope, conv.Rounds(), conv.ItemsSent(), conv.ItemsReceived())
	}
	return nil
}
