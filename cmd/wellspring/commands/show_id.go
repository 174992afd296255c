package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wot-technology/wellspring/types"
)

// ShowIDCmd prints the digest of this node's identity record.
var ShowIDCmd = &cobra.Command{
	Use:   "show-id",
	Short: "Show this node's identity digest",
	RunE: func(cmd *cobra.Command, args []string) error {
		nodeKey, err := types.LoadNodeKey(config.NodeKeyFile())
		if err != nil {
			return err
		}
		fmt.Println(nodeKey.ID)
		return nil
	},
}
