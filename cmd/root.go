/*
Copyright © 2026 Michael Putera Wardana <michaelputeraw@gmail.com>
*/
package cmd

import (
	"io"
	"os"

	"github.com/krobus00/futures-engine/internal/config"
	"github.com/krobus00/futures-engine/internal/infrastructure"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	configPath string
	logCloser  io.Closer
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "futures-engine",
	Short: "USD-M futures order execution and position management",
	Long: `futures-engine places and tracks orders on a USD-M perpetual futures exchange,
keeps one position per symbol in sync with the exchange and turns trade
decisions into position changes.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		err := config.LoadConfig(configPath)
		if err != nil {
			return err
		}

		logCloser, err = infrastructure.ConfigureLogger(config.Env.Env, config.Env.Log)
		return err
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logCloser == nil {
			return
		}
		if err := logCloser.Close(); err != nil {
			logrus.Warnf("close log file: %v", err)
		}
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path (default: ./config.yml)")
}
