package main

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/robalyx/chatrank/internal/database"
	"github.com/robalyx/chatrank/internal/database/types"
	"github.com/uptrace/bun/migrate"
	"go.uber.org/zap"
)

// Report summarizes the state of the ledger database.
type Report struct {
	Applied   []string
	Unapplied []string
	LastGroup int64
	Rows      int
	LastRuns  map[string]time.Time
}

// maintenance runs operator commands against the ledger database.
type maintenance struct {
	client   database.Client
	migrator *migrate.Migrator
	loc      *time.Location
	logger   *zap.Logger
}

func newMaintenance(client database.Client, migrator *migrate.Migrator, loc *time.Location, logger *zap.Logger) *maintenance {
	return &maintenance{
		client:   client,
		migrator: migrator,
		loc:      loc,
		logger:   logger,
	}
}

// migrate applies pending migrations under the migration lock.
func (m *maintenance) migrate(ctx context.Context) error {
	if err := m.migrator.Init(ctx); err != nil {
		return fmt.Errorf("failed to initialize migrations: %w", err)
	}

	if err := m.migrator.Lock(ctx); err != nil {
		return fmt.Errorf("failed to lock migrations: %w", err)
	}
	defer m.migrator.Unlock(ctx) //nolint:errcheck

	group, err := m.migrator.Migrate(ctx)
	if err != nil {
		return fmt.Errorf("failed to migrate: %w", err)
	}

	if group.IsZero() {
		m.logger.Info("No new migrations to run (database is up to date)")
		return nil
	}

	m.logger.Info("Successfully migrated", zap.String("group", group.String()))

	return nil
}

// rollback reverts the last migration group. Ledger rows in dropped tables are lost.
func (m *maintenance) rollback(ctx context.Context) error {
	if err := m.migrator.Lock(ctx); err != nil {
		return fmt.Errorf("failed to lock migrations: %w", err)
	}
	defer m.migrator.Unlock(ctx) //nolint:errcheck

	group, err := m.migrator.Rollback(ctx)
	if err != nil {
		return fmt.Errorf("failed to roll back: %w", err)
	}

	if group.IsZero() {
		m.logger.Info("No groups to roll back")
		return nil
	}

	m.logger.Warn("Rolled back migration group", zap.String("group", group.String()))

	return nil
}

// report collects migration state, the ledger size and the scheduler records.
func (m *maintenance) report(ctx context.Context) (Report, error) {
	ms, err := m.migrator.MigrationsWithStatus(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("failed to get migration status: %w", err)
	}

	report := Report{LastGroup: ms.LastGroupID()}
	for _, migration := range ms.Applied() {
		report.Applied = append(report.Applied, migration.Name)
	}

	for _, migration := range ms.Unapplied() {
		report.Unapplied = append(report.Unapplied, migration.Name)
	}

	// The ledger tables do not exist before the first migration
	if len(report.Applied) == 0 {
		return report, nil
	}

	repo := m.client.Model()

	report.Rows, err = repo.Ledger().Count(ctx)
	if err != nil {
		return Report{}, err
	}

	report.LastRuns, err = repo.TaskRun().LastRuns(ctx)
	if err != nil {
		return Report{}, err
	}

	return report, nil
}

// logReport writes a report to the logger, one line per task record.
func (m *maintenance) logReport(report Report) {
	m.logger.Info("Migration status",
		zap.Strings("applied", report.Applied),
		zap.Strings("unapplied", report.Unapplied),
		zap.Int64("last_group", report.LastGroup))

	if len(report.Applied) == 0 {
		return
	}

	m.logger.Info("Ledger status", zap.Int("rows", report.Rows))

	tasks := make([]string, 0, len(report.LastRuns))
	for task := range report.LastRuns {
		tasks = append(tasks, task)
	}
	slices.Sort(tasks)

	for _, task := range tasks {
		m.logger.Info("Task last run",
			zap.String("task", task),
			zap.Time("at", report.LastRuns[task].In(m.loc)))
	}
}

// ranking returns the top users of the period containing date, or of the
// current period when date is empty.
func (m *maintenance) ranking(
	ctx context.Context, granularity types.Granularity, date string, limit int,
) (types.Period, []types.RankingRow, error) {
	period := types.PeriodOf(granularity, time.Now(), m.loc)

	if date != "" {
		parsed, err := types.ParsePeriod(granularity, date, m.loc)
		if err != nil {
			return types.Period{}, nil, err
		}

		period = parsed
	}

	rows, err := m.client.Model().Ledger().TopN(ctx, period, limit)
	if err != nil {
		return types.Period{}, nil, err
	}

	return period, rows, nil
}
