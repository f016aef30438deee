package bootstrap

import (
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/krobus00/futures-engine/internal/config"
	"github.com/krobus00/futures-engine/internal/util"
	"github.com/pressly/goose/v3"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

const migrationRoot = "migration/postgresql"

func StartMigrate(cmd *cobra.Command, args []string) {
	name, _ := cmd.Flags().GetString("databaseName")
	actionType, _ := cmd.Flags().GetString("action")
	migrationName, _ := cmd.Flags().GetString("name")
	version, _ := cmd.Flags().GetInt64("version")

	name = strings.TrimSpace(name)
	if name == "" {
		name = databaseName
	}

	dbConfig, ok := config.Env.Database[name]
	if !ok || strings.TrimSpace(dbConfig.DSN) == "" {
		util.ContinueOrFatal(fmt.Errorf("database %q is not configured", name))
	}

	db, err := sql.Open("postgres", dbConfig.DSN)
	util.ContinueOrFatal(err)
	defer db.Close()

	goose.SetLogger(logrus.StandardLogger())
	err = goose.SetDialect("postgres")
	util.ContinueOrFatal(err)

	migrationDir := filepath.Join(migrationRoot, name)
	logrus.WithFields(logrus.Fields{
		"database": name,
		"action":   actionType,
		"dir":      migrationDir,
	}).Info("running migration")

	util.ContinueOrFatal(runMigration(db, migrationDir, actionType, migrationName, version))
}

func runMigration(db *sql.DB, dir, action, name string, version int64) error {
	switch action {
	case "create":
		if strings.TrimSpace(name) == "" {
			return errors.New("--name is required to create a migration")
		}
		return goose.Create(db, dir, name, "sql")
	case "up":
		return goose.Up(db, dir, goose.WithAllowMissing())
	case "up-by-one":
		return goose.UpByOne(db, dir, goose.WithAllowMissing())
	case "up-to":
		return goose.UpTo(db, dir, version, goose.WithAllowMissing())
	case "down":
		return goose.Down(db, dir, goose.WithAllowMissing())
	case "down-to":
		return goose.DownTo(db, dir, version, goose.WithAllowMissing())
	case "status":
		return goose.Status(db, dir)
	case "reset":
		if err := goose.Reset(db, dir, goose.WithAllowMissing()); err != nil {
			return err
		}
		return goose.Up(db, dir, goose.WithAllowMissing())
	default:
		return fmt.Errorf("invalid migration action %q", action)
	}
}
