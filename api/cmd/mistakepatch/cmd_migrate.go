package main

import (
	"errors"
	"strings"

	"github.com/spf13/cobra"

	"mistakepatch/api/internal/app"
	"mistakepatch/api/internal/store"
)

func (c *cli) runMigrate(cmd *cobra.Command, _ []string) error {
	dsn := strings.TrimSpace(c.cfg.Database.URL)
	if dsn == "" {
		return errors.New("migrate needs database.url or DATABASE_URL")
	}
	db, err := store.Open(cmd.Context(), dsn)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := store.Migrate(cmd.Context(), db); err != nil {
		return err
	}
	c.log.Info("schema applied", "dsn", app.SafeDSNSummary(dsn))
	return nil
}
