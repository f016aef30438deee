/*
Copyright © 2026 Michael Putera Wardana <michaelputeraw@gmail.com>
*/
package cmd

import (
	"github.com/krobus00/futures-engine/internal/bootstrap"
	"github.com/spf13/cobra"
)

// migrateCmd represents the migrate command
var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "apply the order history and decision record migrations",
	Long:  `run goose migrations from migration/postgresql/<databaseName> against the configured database`,
	Run:   bootstrap.StartMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
	migrateCmd.PersistentFlags().String("action", "up", "action create|up|up-by-one|up-to|down|down-to|reset|status")
	migrateCmd.PersistentFlags().Int64("version", 1, "target version for up-to and down-to")
	migrateCmd.PersistentFlags().String("name", "", "migration name, used by create")
	migrateCmd.PersistentFlags().String("databaseName", "futures_engine", "database name under database in the config")
}
