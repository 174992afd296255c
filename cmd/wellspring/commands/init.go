package commands

import (
	"github.com/spf13/cobra"

	cfg "github.com/wot-technology/wellspring/config"
	tmos "github.com/wot-technology/wellspring/libs/os"
	"github.com/wot-technology/wellspring/node"
)

// InitFilesCmd initializes the home directory: config file, node key, and
// the node's identity record.
var InitFilesCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize the home directory, node key, and identity record",
	RunE:  initFiles,
}

func init() {
	InitFilesCmd.Flags().String("moniker", config.Moniker, "name signed into the identity record")
}

func initFiles(cmd *cobra.Command, args []string) error {
	cfg.EnsureRoot(config.RootDir)

	nodeKey, err := node.Bootstrap(config, logger)
	if err != nil {
		return err
	}

	configFile := config.ConfigFilePath()
	if !tmos.FileExists(configFile) {
		if err := cfg.WriteConfigFile(config.RootDir, config); err != nil {
			return err
		}
		logger.Info("generated config file", "path", configFile)
	}

	logger.Info("initialized", "id", nodeKey.ID, "moniker", config.Moniker)
	return nil
}
