package commands

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	cfg "github.com/wot-technology/wellspring/config"
	"github.com/wot-technology/wellspring/libs/cli"
	"github.com/wot-technology/wellspring/libs/log"
)

var (
	config = cfg.DefaultConfig()
	logger = log.MustNewDefaultLogger(log.LogFormatPlain, log.LogLevelInfo)
)

// ParseConfig unmarshals the viper state (flags, env, config.toml) into a
// fresh Config rooted at the home directory.
func ParseConfig() (*cfg.Config, error) {
	conf := cfg.DefaultConfig()
	if err := viper.Unmarshal(conf); err != nil {
		return nil, err
	}
	conf.SetRoot(viper.GetString(cli.HomeFlag))
	if err := conf.ValidateBasic(); err != nil {
		return nil, fmt.Errorf("error in config file: %w", err)
	}
	return conf, nil
}

// RootCmd is the root command for wellspring.
var RootCmd = &cobra.Command{
	Use:   "wellspring",
	Short: "Content-addressed record store with web-of-trust sync",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == VersionCmd.Name() {
			return nil
		}

		var err error
		config, err = ParseConfig()
		if err != nil {
			return err
		}

		logger, err = log.NewDefaultLogger(config.LogFormat, config.LogLevel)
		if err != nil {
			return err
		}
		return nil
	},
}

func init() {
	RootCmd.PersistentFlags().String("log-level", config.LogLevel, "log level")
	RootCmd.PersistentFlags().String("log-format", config.LogFormat, "log format (plain or json)")
}
