package models

import (
	"context"
	"fmt"
	"time"

	"github.com/robalyx/chatrank/internal/database/dbretry"
	"github.com/robalyx/chatrank/internal/database/types"
	"github.com/uptrace/bun"
	"go.uber.org/zap"
)

// TaskRunModel handles database operations for scheduled task records.
type TaskRunModel struct {
	db     *bun.DB
	policy dbretry.Policy
	logger *zap.Logger
}

// NewTaskRun creates a new TaskRunModel.
func NewTaskRun(db *bun.DB, policy dbretry.Policy, logger *zap.Logger) *TaskRunModel {
	return &TaskRunModel{
		db:     db,
		policy: policy,
		logger: logger.Named("db_task_run"),
	}
}

// LastRuns returns the last completion time of every recorded task type.
func (r *TaskRunModel) LastRuns(ctx context.Context) (map[string]time.Time, error) {
	return dbretry.Operation(ctx, r.policy, func(ctx context.Context) (map[string]time.Time, error) {
		var runs []types.TaskRun

		if err := r.db.NewSelect().Model(&runs).Scan(ctx); err != nil {
			return nil, fmt.Errorf("failed to get task runs: %w", err)
		}

		result := make(map[string]time.Time, len(runs))
		for _, run := range runs {
			result[run.TaskType] = run.LastRunAt
		}

		return result, nil
	})
}

// MarkRun records that the task completed at the given time.
// Stored times only move forward; an older time leaves the record untouched.
// Times are kept at second precision in UTC.
func (r *TaskRunModel) MarkRun(ctx context.Context, taskType string, at time.Time) error {
	at = at.UTC().Truncate(time.Second)

	return dbretry.Transaction(ctx, r.db, r.policy, func(ctx context.Context, tx bun.Tx) error {
		res, err := tx.NewUpdate().
			Model((*types.TaskRun)(nil)).
			Set("last_run_at = ?", at).
			Where("task_type = ?", taskType).
			Where("last_run_at < ?", at).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to update task run (task=%s): %w", taskType, err)
		}

		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}

		if affected > 0 {
			return nil
		}

		_, err = tx.NewInsert().
			Model(&types.TaskRun{TaskType: taskType, LastRunAt: at}).
			On("CONFLICT (task_type) DO NOTHING").
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to insert task run (task=%s): %w", taskType, err)
		}

		r.logger.Debug("Recorded task run", zap.String("task", taskType), zap.Time("at", at))

		return nil
	})
}
