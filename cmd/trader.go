/*
Copyright © 2026 Michael Putera Wardana <michaelputeraw@gmail.com>
*/
package cmd

import (
	"github.com/krobus00/futures-engine/internal/bootstrap"
	"github.com/spf13/cobra"
)

// traderCmd represents the trader command
var traderCmd = &cobra.Command{
	Use:   "trader",
	Short: "run the decision loop, operator api and health endpoints",
	Long: `run one decision loop per configured symbol. Each cycle refreshes the position,
asks the decision source for BUY, SELL or HOLD and converges the position to it.`,
	Run: bootstrap.StartTrader,
}

func init() {
	rootCmd.AddCommand(traderCmd)
	traderCmd.Flags().String("static-decision", "", "use a fixed decision BUY|SELL|HOLD instead of the jetstream decision source")
}
