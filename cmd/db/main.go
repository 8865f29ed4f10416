package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/robalyx/chatrank/internal/database"
	"github.com/robalyx/chatrank/internal/database/migrations"
	"github.com/robalyx/chatrank/internal/database/types"
	"github.com/robalyx/chatrank/internal/setup/config"
	"github.com/uptrace/bun/migrate"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"
)

var ErrNameRequired = errors.New("NAME argument required")

func main() {
	if err := run(); err != nil {
		log.Printf("Error: %v", err)
		os.Exit(1)
	}
}

func run() error {
	db, tool, err := setupMaintenance()
	if err != nil {
		return fmt.Errorf("failed to setup database tool: %w", err)
	}
	defer db.Close()

	app := &cli.Command{
		Name:  "db",
		Usage: "Ledger database management tool",
		Commands: []*cli.Command{
			{
				Name:  "migrate",
				Usage: "Run pending migrations",
				Action: func(ctx context.Context, _ *cli.Command) error {
					return tool.migrate(ctx)
				},
			},
			{
				Name:  "rollback",
				Usage: "Rollback the last migration group",
				Action: func(ctx context.Context, _ *cli.Command) error {
					return tool.rollback(ctx)
				},
			},
			{
				Name:  "status",
				Usage: "Show migration status, ledger size and last task runs",
				Action: func(ctx context.Context, _ *cli.Command) error {
					report, err := tool.report(ctx)
					if err != nil {
						return err
					}

					tool.logReport(report)

					return nil
				},
			},
			{
				Name:  "ranking",
				Usage: "Show the stored ranking of a day or month",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "period",
						Value: types.GranularityMonth.String(),
						Usage: "Ranking period (day or month)",
					},
					&cli.StringFlag{
						Name:  "date",
						Usage: "Any date in the period as YYYY-MM-DD (defaults to today)",
					},
					&cli.IntFlag{
						Name:  "limit",
						Value: 10,
						Usage: "Number of users to show",
					},
				},
				Action: func(ctx context.Context, c *cli.Command) error {
					granularity, err := types.GranularityString(c.String("period"))
					if err != nil {
						return err
					}

					period, rows, err := tool.ranking(ctx, granularity, c.String("date"), int(c.Int("limit")))
					if err != nil {
						return err
					}

					tool.logger.Info("Ranking", zap.String("period", period.String()), zap.Int("users", len(rows)))

					for _, row := range rows {
						tool.logger.Info("Rank",
							zap.Int("rank", row.Rank),
							zap.Uint64("userID", uint64(row.UserID)),
							zap.String("name", row.DisplayName),
							zap.Int64("messages", row.Count))
					}

					return nil
				},
			},
			{
				Name:      "create",
				Usage:     "Create a new Go migration file",
				ArgsUsage: "NAME",
				Action: func(ctx context.Context, c *cli.Command) error {
					if c.Args().Len() != 1 {
						return ErrNameRequired
					}

					mf, err := tool.migrator.CreateGoMigration(ctx, c.Args().First())
					if err != nil {
						return err
					}

					tool.logger.Info("Created Go migration", zap.String("name", mf.Name), zap.String("path", mf.Path))

					return nil
				},
			},
		},
	}

	return app.Run(context.Background(), os.Args)
}

// setupMaintenance loads the config and connects to the ledger database.
func setupMaintenance() (database.Client, *maintenance, error) {
	cfg, _, err := config.LoadConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	loc, err := cfg.Schedule.Location()
	if err != nil {
		return nil, nil, err
	}

	logger, err := zap.NewDevelopment()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create logger: %w", err)
	}

	db, err := database.NewConnection(context.Background(), cfg, logger, false)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	migrator := migrate.NewMigrator(db.DB(), migrations.Migrations)

	return db, newMaintenance(db, migrator, loc, logger), nil
}
