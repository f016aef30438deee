/*
Copyright © 2026 Michael Putera Wardana <michaelputeraw@gmail.com>
*/
package cmd

import (
	"time"

	"github.com/krobus00/futures-engine/internal/bootstrap"
	"github.com/spf13/cobra"
)

// positionCmd represents the position command
var positionCmd = &cobra.Command{
	Use:   "position",
	Short: "inspect and manage a futures position",
}

var positionShowCmd = &cobra.Command{
	Use:   "show",
	Short: "print the position, risk warnings, open orders and balance",
	Run:   bootstrap.StartPositionShow,
}

var positionCloseCmd = &cobra.Command{
	Use:   "close",
	Short: "close the position with a reduce-only market order",
	Run:   bootstrap.StartPositionClose,
}

var positionLeverageCmd = &cobra.Command{
	Use:   "leverage",
	Short: "set the symbol leverage",
	Run:   bootstrap.StartPositionLeverage,
}

var positionMarginTypeCmd = &cobra.Command{
	Use:   "margin-type",
	Short: "switch between ISOLATED and CROSSED margin",
	Run:   bootstrap.StartPositionMarginType,
}

func init() {
	rootCmd.AddCommand(positionCmd)
	positionCmd.AddCommand(positionShowCmd, positionCloseCmd, positionLeverageCmd, positionMarginTypeCmd)

	positionCmd.PersistentFlags().String("symbol", "", "futures symbol, e.g. BTCUSDT")
	positionCmd.PersistentFlags().Duration("timeout", time.Minute, "overall command timeout")

	positionLeverageCmd.Flags().Int("leverage", 1, "leverage between 1 and 125")
	positionMarginTypeCmd.Flags().String("margin-type", "CROSSED", "ISOLATED|CROSSED")
}
