package main

import (
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lchvelidze/ai-operated-personal-seo-engine-sub001/internal/config"
	"github.com/lchvelidze/ai-operated-personal-seo-engine-sub001/internal/logging"
	"github.com/lchvelidze/ai-operated-personal-seo-engine-sub001/internal/store/postgres"
)

func newMigrateCmd(load func() config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := load()
			if err := config.Validate(cfg); err != nil {
				return withExit(exitInvalidConfig, err)
			}
			if cfg.StoreBackend != "postgres" {
				return withExit(exitInvalidConfig,
					errors.Newf("migrate requires STORE_BACKEND=postgres, got %q", cfg.StoreBackend))
			}
			logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
			if err != nil {
				return withExit(exitInvalidConfig, err)
			}
			defer func() { _ = logger.Sync() }()

			db, err := postgres.Open(cmd.Context(), cfg.DatabaseDriver, cfg.DatabaseURL, postgres.PoolConfig{MaxOpenConns: 1})
			if err != nil {
				return withExit(exitRuntimeError, errors.Wrap(err, "open database"))
			}
			defer db.Close()

			applied, err := postgres.Migrate(cmd.Context(), db, logging.Component(logger, "migrate"))
			if err != nil {
				return withExit(exitRuntimeError, err)
			}
			logger.Info("migrate: done", zap.Strings("applied", applied))
			fmt.Fprintf(cmd.OutOrStdout(), "applied %d migration(s)\n", len(applied))
			return nil
		},
	}
}
