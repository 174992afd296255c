package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wot-technology/wellspring/crypto"
	"github.com/wot-technology/wellspring/internal/trust"
)

// TrustCmd computes the transitive trust one identity places in another.
var TrustCmd = &cobra.Command{
	Use:   "trust <observer> <target>",
	Short: "Compute transitive trust between two identities",
	Args:  cobra.ExactArgs(2),
	RunE:  trustScore,
}

// GroundednessCmd scores how well-anchored a record's provenance is.
var GroundednessCmd = &cobra.Command{
	Use:   "groundedness <id>",
	Short: "Score the provenance anchoring of a record",
	Args:  cobra.ExactArgs(1),
	RunE:  groundednessScore,
}

func init() {
	TrustCmd.Flags().Int("max-hops", 0, "traversal depth bound (0 uses the configured default)")
	TrustCmd.Flags().Bool("path", false, "also print the strongest vouch path")
}

func trustEngine() *trust.Engine {
	return trust.NewEngine(
		trust.WithDecay(config.Trust.Decay),
		trust.WithGroundednessDepth(config.Trust.GroundednessDepth),
	)
}

func trustScore(cmd *cobra.Command, args []string) error {
	observer, err := crypto.ParseDigest(args[0])
	if err != nil {
		return err
	}
	target, err := crypto.ParseDigest(args[1])
	if err != nil {
		return err
	}
	maxHops, err := cmd.Flags().GetInt("max-hops")
	if err != nil {
		return err
	}
	if maxHops == 0 {
		maxHops = config.Trust.MaxHops
	}
	showPath, err := cmd.Flags().GetBool("path")
	if err != nil {
		return err
	}

	st, db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	engine := trustEngine()
	graph := trust.StoreGraph{Store: st}
	if showPath {
		score, path, err := engine.TrustPath(graph, observer, target, maxHops)
		if err != nil {
			return err
		}
		fmt.Printf("%g\n", score)
		for _, hop := range path {
			fmt.Printf("  %v\n", hop)
		}
		return nil
	}

	score, err := engine.Trust(graph, observer, target, maxHops)
	if err != nil {
		return err
	}
	fmt.Printf("%g\n", score)
	return nil
}

func groundednessScore(cmd *cobra.Command, args []string) error {
	id, err := crypto.ParseDigest(args[0])
	if err != nil {
		return err
	}

	st, db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	score, err := trustEngine().Groundedness(trust.StoreGraph{Store: st}, id, config.Trust.GroundednessDepth)
	if err != nil {
		return err
	}
	fmt.Printf("%g\n", score)
	return nil
}
