package main

import (
	"os"
	"path/filepath"

	cmd "github.com/wot-technology/wellspring/cmd/wellspring/commands"
	cfg "github.com/wot-technology/wellspring/config"
	"github.com/wot-technology/wellspring/libs/cli"
)

func main() {
	rootCmd := cmd.RootCmd
	rootCmd.AddCommand(
		cmd.InitFilesCmd,
		cmd.StartCmd,
		cmd.PutCmd,
		cmd.GetCmd,
		cmd.EndorsementsCmd,
		cmd.MembersCmd,
		cmd.TrustCmd,
		cmd.GroundednessCmd,
		cmd.SyncCmd,
		cmd.ShowIDCmd,
		cmd.VersionCmd,
	)

	baseCmd := cli.PrepareBaseCmd(rootCmd, "WS", os.ExpandEnv(filepath.Join("$HOME", cfg.DefaultWellspringDir)))
	if err := baseCmd.Execute(); err != nil {
		os.Exit(2)
	}
}
