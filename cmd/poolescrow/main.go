package main

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/compose-network/poolescrow/configs"
	"github.com/compose-network/poolescrow/internal/cli"
	"github.com/compose-network/poolescrow/internal/logger"
	"github.com/compose-network/poolescrow/internal/poolclient"
	"github.com/compose-network/poolescrow/internal/rollout"
	"github.com/compose-network/poolescrow/internal/scenario"
	"github.com/compose-network/poolescrow/internal/watcher"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const appName = "poolescrow"

var configFile string

var rootCmd = &cobra.Command{
	Use:          appName,
	Short:        "Crowdfunding pool escrow: deterministic rollout, inspection and simulation",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		logger.Initialize(slog.LevelInfo, "text")

		if err := configs.LoadDefaults(viper.GetViper()); err != nil {
			return err
		}

		if configFile != "" {
			viper.SetConfigFile(configFile)
		} else {
			viper.SetConfigName("config")
			if execPath, err := os.Executable(); err == nil {
				viper.AddConfigPath(filepath.Dir(execPath))
			}
			viper.AddConfigPath(".")
			viper.AddConfigPath("./configs")
		}

		// The embedded defaults are enough to start; a config file only overrides them.
		if err := viper.MergeInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				const errMsg = "error reading config file"
				slog.With("err", err.Error()).Error(errMsg)
				return errors.Join(err, errors.New(errMsg))
			}
			slog.Debug("no config file found, relying on flags and embedded defaults")
		} else {
			slog.With("config_file", viper.ConfigFileUsed()).Debug("config file loaded")
		}

		if err := viper.Unmarshal(&configs.Values); err != nil {
			const errMsg = "unable to decode application config"
			slog.With("err", err.Error()).Error(errMsg)
			return errors.Join(err, errors.New(errMsg))
		}

		if err := configs.Values.Log.Validate(); err != nil {
			return err
		}
		logger.Initialize(logger.ParseLevel(configs.Values.Log.Level), configs.Values.Log.Format)

		slog.With("config_file", viper.ConfigFileUsed()).Debug("configuration loaded")

		return nil
	},
}

func main() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Path of the config file (default: config.yaml next to the binary, in . or ./configs)")

	cli.MustDeclare(rootCmd, true, []cli.FlagDef[string]{
		{Name: "log-level", ViperKey: "log.level", DefaultValue: "info", Description: "Log level (debug, info, warn, error)"},
		{Name: "log-format", ViperKey: "log.format", DefaultValue: "text", Description: "Log format (text or json)"},
		{Name: "deployer-address", ViperKey: "deployer.address", DefaultValue: "", Description: "Address of the deterministic deployer"},
		{Name: "salt", ViperKey: "deployer.salt", DefaultValue: "poolescrow-v1", Description: "CREATE2 salt; a 32-byte hex value or a label that is hashed"},
		{Name: "escrow-address", ViperKey: "escrow.address", DefaultValue: "", Description: "Address of the deployed escrow"},
		{Name: "escrow-owner", ViperKey: "escrow.owner", DefaultValue: "", Description: "Owner passed to the escrow constructor"},
		{Name: "artifact", ViperKey: "escrow.artifact", DefaultValue: "", Description: "Path of the compiled escrow artifact"},
		{Name: "contract-name", ViperKey: "escrow.contract-name", DefaultValue: "PoolEscrow", Description: "Contract name inside a multi-contract artifact"},
	})

	rootCmd.AddCommand(rollout.CMD)
	rootCmd.AddCommand(rollout.AddressCMD)
	rootCmd.AddCommand(poolclient.CMD)
	rootCmd.AddCommand(watcher.CMD)
	rootCmd.AddCommand(scenario.CMD)

	if err := rootCmd.Execute(); err != nil {
		slog.With("err", err.Error()).Error("failed to execute root command")
		os.Exit(1)
	}
}
