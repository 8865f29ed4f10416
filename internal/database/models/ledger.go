package models

import (
	"context"
	"fmt"
	"time"

	"github.com/disgoorg/snowflake/v2"
	"github.com/robalyx/chatrank/internal/database/dbretry"
	"github.com/robalyx/chatrank/internal/database/types"
	"github.com/uptrace/bun"
	"go.uber.org/zap"
)

// LedgerModel handles database operations for message counts.
type LedgerModel struct {
	db     *bun.DB
	policy dbretry.Policy
	logger *zap.Logger
}

// NewLedger creates a new LedgerModel.
func NewLedger(db *bun.DB, policy dbretry.Policy, logger *zap.Logger) *LedgerModel {
	return &LedgerModel{
		db:     db,
		policy: policy,
		logger: logger.Named("db_ledger"),
	}
}

// Flush adds a drained snapshot to the period's ledger rows.
// All rows are written in one transaction, so a returned error means nothing was written.
func (r *LedgerModel) Flush(ctx context.Context, period types.Period, snapshot []types.PendingCount) error {
	_, err := r.Upsert(ctx, period, snapshot, types.AccumulateAdd)
	return err
}

// BatchImport overwrites the period's ledger rows with the given counts.
// Rows are written and retried one at a time; failures are collected in the result.
func (r *LedgerModel) BatchImport(
	ctx context.Context, period types.Period, counts []types.PendingCount,
) (types.BatchResult, error) {
	return r.Upsert(ctx, period, counts, types.AccumulateOverwrite)
}

// Upsert writes rows for the period using the given accumulation policy.
func (r *LedgerModel) Upsert(
	ctx context.Context, period types.Period, rows []types.PendingCount, policy types.AccumulatePolicy,
) (types.BatchResult, error) {
	result := types.BatchResult{Failed: make(map[snowflake.ID]error)}
	if len(rows) == 0 {
		return result, nil
	}

	key := period.Key()
	now := time.Now().UTC()

	switch policy {
	case types.AccumulateAdd:
		err := dbretry.Transaction(ctx, r.db, r.policy, func(ctx context.Context, tx bun.Tx) error {
			for _, row := range rows {
				if err := addCount(ctx, tx, key, row, now); err != nil {
					return err
				}
			}

			return nil
		})
		if err != nil {
			return result, fmt.Errorf("failed to flush %d counts into %s: %w", len(rows), key, err)
		}

		result.Imported = len(rows)

	case types.AccumulateOverwrite:
		for _, row := range rows {
			err := dbretry.NoResult(ctx, r.policy, func(ctx context.Context) error {
				return overwriteCount(ctx, r.db, key, row, now)
			})
			if err != nil {
				r.logger.Error("Failed to import count",
					zap.Uint64("userID", uint64(row.UserID)),
					zap.String("period", key),
					zap.Error(err))

				result.Failed[row.UserID] = err

				continue
			}

			result.Imported++
		}

	default:
		return result, fmt.Errorf("unknown accumulate policy %d", policy)
	}

	r.logger.Debug("Wrote ledger rows",
		zap.String("period", key),
		zap.Stringer("policy", policy),
		zap.Int("imported", result.Imported),
		zap.Int("failed", len(result.Failed)))

	return result, nil
}

// addCount increments an existing row or inserts a new one.
func addCount(ctx context.Context, db bun.IDB, key string, row types.PendingCount, now time.Time) error {
	res, err := db.NewUpdate().
		Model((*types.MessageCount)(nil)).
		Set("message_count = message_count + ?", row.Count).
		Set("username = ?", row.DisplayName).
		Where("user_id = ?", row.UserID).
		Where("period = ?", key).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to update count (userID=%d): %w", row.UserID, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if affected > 0 {
		return nil
	}

	_, err = db.NewInsert().
		Model(&types.MessageCount{
			UserID:       row.UserID,
			Period:       key,
			Username:     row.DisplayName,
			MessageCount: row.Count,
			CreatedAt:    now,
		}).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to insert count (userID=%d): %w", row.UserID, err)
	}

	return nil
}

// overwriteCount replaces the stored count and name.
func overwriteCount(ctx context.Context, db bun.IDB, key string, row types.PendingCount, now time.Time) error {
	_, err := db.NewInsert().
		Model(&types.MessageCount{
			UserID:       row.UserID,
			Period:       key,
			Username:     row.DisplayName,
			MessageCount: row.Count,
			CreatedAt:    now,
		}).
		On("CONFLICT (user_id, period) DO UPDATE").
		Set("message_count = EXCLUDED.message_count").
		Set("username = EXCLUDED.username").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to overwrite count (userID=%d): %w", row.UserID, err)
	}

	return nil
}

// latestUsernameExpr selects the name stored on the user's most recent row in [from, to).
const latestUsernameExpr = `(SELECT latest.username FROM message_counts AS latest
	WHERE latest.user_id = ?TableAlias.user_id AND latest.period >= ? AND latest.period < ?
	ORDER BY latest.period DESC LIMIT 1) AS display_name`

// TopN returns the n users with the most messages in the period.
// Ties are broken by ascending user ID. The display name is the latest one seen in the period.
func (r *LedgerModel) TopN(ctx context.Context, period types.Period, n int) ([]types.RankingRow, error) {
	if n <= 0 {
		return []types.RankingRow{}, nil
	}

	from, to := period.Range()

	return dbretry.Operation(ctx, r.policy, func(ctx context.Context) ([]types.RankingRow, error) {
		rows := make([]types.RankingRow, 0, n)

		err := r.db.NewSelect().
			Model((*types.MessageCount)(nil)).
			Column("user_id").
			ColumnExpr(latestUsernameExpr, from, to).
			ColumnExpr("CAST(SUM(message_count) AS BIGINT) AS total").
			Where("period >= ?", from).
			Where("period < ?", to).
			Group("user_id").
			OrderExpr("SUM(message_count) DESC").
			OrderExpr("user_id ASC").
			Limit(n).
			Scan(ctx, &rows)
		if err != nil {
			return nil, fmt.Errorf("failed to rank %s: %w", period, err)
		}

		for i := range rows {
			rows[i].Rank = i + 1
		}

		return rows, nil
	})
}

// UserTotal returns the user's message count summed over the period.
func (r *LedgerModel) UserTotal(ctx context.Context, userID snowflake.ID, period types.Period) (int64, error) {
	from, to := period.Range()

	return dbretry.Operation(ctx, r.policy, func(ctx context.Context) (int64, error) {
		var total int64

		err := r.db.NewSelect().
			Model((*types.MessageCount)(nil)).
			ColumnExpr("CAST(COALESCE(SUM(message_count), 0) AS BIGINT)").
			Where("user_id = ?", userID).
			Where("period >= ?", from).
			Where("period < ?", to).
			Scan(ctx, &total)
		if err != nil {
			return 0, fmt.Errorf("failed to get total (userID=%d): %w", userID, err)
		}

		return total, nil
	})
}

// Count returns the number of ledger rows.
func (r *LedgerModel) Count(ctx context.Context) (int, error) {
	return dbretry.Operation(ctx, r.policy, func(ctx context.Context) (int, error) {
		count, err := r.db.NewSelect().
			Model((*types.MessageCount)(nil)).
			Count(ctx)
		if err != nil {
			return 0, fmt.Errorf("failed to count ledger rows: %w", err)
		}

		return count, nil
	})
}
