package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/uptrace/bun/migrate"

	"trivia-session-service/internal/config"
	"trivia-session-service/internal/infra/postgres"
	pgmigrations "trivia-session-service/internal/infra/postgres/migrations"
)

// newMigrateCmd applies database migrations.
func newMigrateCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig(opts)
			if err != nil {
				return err
			}
			return runMigrations(cmd.Context(), cfg, logger)
		},
	}
}

// newSeedCmd loads a question bank into Postgres.
func newSeedCmd(opts *options) *cobra.Command {
	var bankFile string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load a YAML question bank (or the built-in one) into Postgres",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig(opts)
			if err != nil {
				return err
			}
			if bankFile == "" {
				bankFile = cfg.Questions.BankFile
			}
			return runSeed(cmd.Context(), cfg, bankFile, logger)
		},
	}
	cmd.Flags().StringVar(&bankFile, "file", "", "YAML question bank, defaults to questions.bank_file")
	return cmd
}

func runMigrations(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	if cfg.Postgres.URL == "" {
		return fmt.Errorf("postgres url not configured")
	}

	db := postgres.OpenDB(cfg.Postgres.URL)
	defer db.Close()

	migrator := migrate.NewMigrator(db, pgmigrations.Migrations)

	if err := migrator.Init(ctx); err != nil {
		return err
	}

	group, err := migrator.Migrate(ctx)
	if err != nil {
		return err
	}
	if group.IsZero() {
		logger.Info("database schema up to date")
		return nil
	}
	logger.Info("migrations applied", "group", group.String())
	return nil
}

func runSeed(ctx context.Context, cfg config.Config, bankFile string, logger *slog.Logger) error {
	if err := runMigrations(ctx, cfg, logger); err != nil {
		return err
	}

	questions, err := questionBank(bankFile)
	if err != nil {
		return err
	}

	pool, err := postgres.Connect(ctx, cfg.Postgres.URL)
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := postgres.SeedQuestions(ctx, pool, questions); err != nil {
		return err
	}
	logger.Info("question bank seeded", "questions", len(questions))
	return nil
}
