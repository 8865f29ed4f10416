package migrations

import (
	"context"
	"fmt"

	"github.com/robalyx/chatrank/internal/database/types"
	"github.com/uptrace/bun"
)

func init() {
	Migrations.MustRegister(func(ctx context.Context, db *bun.DB) error {
		tables := []struct {
			model any
			name  string
		}{
			{(*types.MessageCount)(nil), "message_counts"},
			{(*types.TaskRun)(nil), "task_runs"},
		}

		for _, table := range tables {
			if _, err := db.NewCreateTable().
				Model(table.model).
				IfNotExists().
				Exec(ctx); err != nil {
				return fmt.Errorf("failed to create table %s: %w", table.name, err)
			}
		}

		_, err := db.NewCreateIndex().
			Model((*types.MessageCount)(nil)).
			Index("idx_message_counts_period").
			Column("period").
			IfNotExists().
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to create period index: %w", err)
		}

		return nil
	}, func(ctx context.Context, db *bun.DB) error {
		_, err := db.NewDropTable().
			Model((*types.MessageCount)(nil)).
			IfExists().
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to drop message_counts: %w", err)
		}

		_, err = db.NewDropTable().
			Model((*types.TaskRun)(nil)).
			IfExists().
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to drop task_runs: %w", err)
		}

		return nil
	})
}
