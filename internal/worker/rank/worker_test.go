package rank_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/disgoorg/snowflake/v2"
	"github.com/robalyx/chatrank/internal/database/types"
	"github.com/robalyx/chatrank/internal/roles"
	"github.com/robalyx/chatrank/internal/schedule"
	"github.com/robalyx/chatrank/internal/worker/rank"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var errRankUnavailable = errors.New("ranking unavailable")

type fakeFlusher struct {
	periods []string
	err     error
}

func (f *fakeFlusher) FlushPeriod(_ context.Context, period types.Period) (int, error) {
	f.periods = append(f.periods, period.Key())
	return 0, f.err
}

type fakeRanker struct {
	period types.Period
	n      int
	rows   []types.RankingRow
	err    error
}

func (f *fakeRanker) TopN(_ context.Context, period types.Period, n int) ([]types.RankingRow, error) {
	f.period = period
	f.n = n

	return f.rows, f.err
}

type fakeReconciler struct {
	ranking []types.RankingRow
	slots   []snowflake.ID
	calls   int
}

func (f *fakeReconciler) Reconcile(
	_ context.Context, ranking []types.RankingRow, roleSlots []snowflake.ID,
) (roles.Result, error) {
	f.calls++
	f.ranking = ranking
	f.slots = roleSlots

	return roles.Result{Added: len(ranking)}, nil
}

func tokyo(t *testing.T) *time.Location {
	t.Helper()

	loc, err := time.LoadLocation("Asia/Tokyo")
	require.NoError(t, err)

	return loc
}

func TestDailyFlushesTheDayThatEnded(t *testing.T) {
	t.Parallel()

	loc := tokyo(t)
	flusher := &fakeFlusher{}
	worker := rank.New(flusher, &fakeRanker{}, &fakeReconciler{}, nil, loc, zaptest.NewLogger(t))

	require.NoError(t, worker.Daily(t.Context(), schedule.Run{
		Type:        schedule.TaskDaily,
		ScheduledAt: time.Date(2024, 5, 18, 0, 0, 0, 0, loc),
		Trigger:     schedule.TriggerScheduled,
	}))

	require.NoError(t, worker.Daily(t.Context(), schedule.Run{
		Type:        schedule.TaskDaily,
		ScheduledAt: time.Date(2024, 5, 18, 13, 0, 0, 0, loc),
		Trigger:     schedule.TriggerManual,
	}))

	assert.Equal(t, []string{"2024-05-17", "2024-05-18"}, flusher.periods)
}

func TestMonthlyRanksPreviousMonthAndAssignsRoles(t *testing.T) {
	t.Parallel()

	loc := tokyo(t)
	slots := []snowflake.ID{901, 902, 903}
	flusher := &fakeFlusher{}
	ranker := &fakeRanker{rows: []types.RankingRow{{Rank: 1, UserID: 1, Count: 10}}}
	reconciler := &fakeReconciler{}

	worker := rank.New(flusher, ranker, reconciler, slots, loc, zaptest.NewLogger(t))

	require.NoError(t, worker.Monthly(t.Context(), schedule.Run{
		Type:        schedule.TaskMonthly,
		ScheduledAt: time.Date(2024, 6, 1, 0, 0, 0, 0, loc),
		Trigger:     schedule.TriggerCatchUp,
	}))

	assert.Equal(t, []string{"2024-05-31"}, flusher.periods)
	assert.Equal(t, "2024-05-01", ranker.period.Key())
	assert.Equal(t, types.GranularityMonth, ranker.period.Granularity)
	assert.Equal(t, 3, ranker.n)
	assert.Equal(t, ranker.rows, reconciler.ranking)
	assert.Equal(t, slots, reconciler.slots)
}

func TestMonthlyFailsWhenRankingFails(t *testing.T) {
	t.Parallel()

	reconciler := &fakeReconciler{}
	worker := rank.New(&fakeFlusher{}, &fakeRanker{err: errRankUnavailable}, reconciler,
		[]snowflake.ID{901}, time.UTC, zaptest.NewLogger(t))

	err := worker.Monthly(t.Context(), schedule.Run{
		Type:        schedule.TaskMonthly,
		ScheduledAt: time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
		Trigger:     schedule.TriggerScheduled,
	})
	require.ErrorIs(t, err, errRankUnavailable)
	assert.Zero(t, reconciler.calls)
}

func TestMonthlyWithoutRolesSkipsAssignment(t *testing.T) {
	t.Parallel()

	ranker := &fakeRanker{}
	reconciler := &fakeReconciler{}
	worker := rank.New(&fakeFlusher{}, ranker, reconciler, nil, time.UTC, zaptest.NewLogger(t))

	require.NoError(t, worker.Monthly(t.Context(), schedule.Run{
		Type:        schedule.TaskMonthly,
		ScheduledAt: time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
		Trigger:     schedule.TriggerScheduled,
	}))
	assert.Zero(t, ranker.n)
	assert.Zero(t, reconciler.calls)
}
