package cli

import (
	"errors"

	"marketplace/internal/storage/migrations"
	"marketplace/internal/tools/logger"

	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations",
	RunE:  runMigrate,
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	dsn := postgresDSN(cfg.Postgres)
	if dsn == "" {
		return errors.New("postgres.dsn is not configured")
	}

	pool, err := openPostgres(cmd.Context(), dsn)
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := migrations.Apply(cmd.Context(), pool); err != nil {
		return err
	}
	logger.Logger.Info("migrations applied")
	return nil
}
