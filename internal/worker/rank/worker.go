// Package rank holds the bodies of the daily and monthly scheduled tasks.
package rank

import (
	"context"
	"fmt"
	"time"

	"github.com/disgoorg/snowflake/v2"
	"github.com/robalyx/chatrank/internal/database/types"
	"github.com/robalyx/chatrank/internal/roles"
	"github.com/robalyx/chatrank/internal/schedule"
	"go.uber.org/zap"
)

// Flusher writes pending counts into a period.
type Flusher interface {
	FlushPeriod(ctx context.Context, period types.Period) (int, error)
}

// Ranker ranks users within a period.
type Ranker interface {
	TopN(ctx context.Context, period types.Period, n int) ([]types.RankingRow, error)
}

// Reconciler applies a ranking to the rank roles.
type Reconciler interface {
	Reconcile(ctx context.Context, ranking []types.RankingRow, roleSlots []snowflake.ID) (roles.Result, error)
}

// Worker runs the daily flush and the monthly role assignment.
type Worker struct {
	flusher    Flusher
	ranker     Ranker
	reconciler Reconciler
	roleSlots  []snowflake.ID
	loc        *time.Location
	logger     *zap.Logger
}

// New creates a Worker. roleSlots are the rank roles from first place downwards.
func New(
	flusher Flusher, ranker Ranker, reconciler Reconciler,
	roleSlots []snowflake.ID, loc *time.Location, logger *zap.Logger,
) *Worker {
	return &Worker{
		flusher:    flusher,
		ranker:     ranker,
		reconciler: reconciler,
		roleSlots:  roleSlots,
		loc:        loc,
		logger:     logger.Named("rank_worker"),
	}
}

// Register adds both tasks to the coordinator.
func (w *Worker) Register(c *schedule.Coordinator) error {
	daily, err := schedule.DailyRule(w.loc)
	if err != nil {
		return err
	}

	monthly, err := schedule.MonthlyRule(w.loc)
	if err != nil {
		return err
	}

	if err := c.Register(schedule.TaskDaily, daily, w.Daily); err != nil {
		return err
	}

	return c.Register(schedule.TaskMonthly, monthly, w.Monthly)
}

// Daily flushes pending counts into the day that just ended.
func (w *Worker) Daily(ctx context.Context, run schedule.Run) error {
	day := w.periodFor(types.GranularityDay, run)

	flushed, err := w.flusher.FlushPeriod(ctx, day)
	if err != nil {
		return err
	}

	w.logger.Info("Daily flush completed",
		zap.String("period", day.Key()),
		zap.Int("users", flushed))

	return nil
}

// Monthly ranks the month that just ended and reassigns the rank roles.
// Pending counts are flushed first so the last day of the month is included.
func (w *Worker) Monthly(ctx context.Context, run schedule.Run) error {
	if _, err := w.flusher.FlushPeriod(ctx, w.periodFor(types.GranularityDay, run)); err != nil {
		return err
	}

	month := w.periodFor(types.GranularityMonth, run)

	if len(w.roleSlots) == 0 {
		w.logger.Warn("No rank roles configured, skipping role assignment", zap.String("period", month.Key()))
		return nil
	}

	ranking, err := w.ranker.TopN(ctx, month, len(w.roleSlots))
	if err != nil {
		return fmt.Errorf("failed to rank %s: %w", month, err)
	}

	result, err := w.reconciler.Reconcile(ctx, ranking, w.roleSlots)
	if err != nil {
		return err
	}

	w.logger.Info("Monthly roles assigned",
		zap.String("period", month.Key()),
		zap.Int("ranked", len(ranking)),
		zap.Int("added", result.Added),
		zap.Int("removed", result.Removed),
		zap.Int("failures", len(result.Failures)))

	return nil
}

// periodFor returns the period a run works on. Scheduled runs fire at the
// start of a new period and work on the one that just ended; manual runs
// work on the current one.
func (w *Worker) periodFor(g types.Granularity, run schedule.Run) types.Period {
	at := run.ScheduledAt
	if run.Trigger != schedule.TriggerManual {
		at = at.Add(-time.Nanosecond)
	}

	return types.PeriodOf(g, at, w.loc)
}
