// mintd runs one mint of a DBC mint group.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ccoin/dbc/internal/config"
)

var version = "0.1.0"

var (
	configPath string
	debug      bool
)

var rootCmd = &cobra.Command{
	Use:           "mintd",
	Short:         "DBC mint daemon",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the mintd version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("mintd", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "mintd.yaml", "config file")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "development logging")
	rootCmd.AddCommand(versionCmd, runCmd, keygenCmd, genesisCmd, spentCmd)
}

// loadConfig reads the config file and builds its logger.
func loadConfig() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	logger, err := cfg.CreateLogger(debug)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
