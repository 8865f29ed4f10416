package schedule_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/robalyx/chatrank/internal/metrics"
	"github.com/robalyx/chatrank/internal/schedule"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var errTaskBroken = errors.New("task broken")

// fakeStore keeps task runs in memory with the same forward-only rule as the database.
type fakeStore struct {
	mu   sync.Mutex
	runs map[string]time.Time
}

func newFakeStore(runs map[string]time.Time) *fakeStore {
	if runs == nil {
		runs = make(map[string]time.Time)
	}

	return &fakeStore{runs: runs}
}

func (f *fakeStore) LastRuns(context.Context) (map[string]time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make(map[string]time.Time, len(f.runs))
	for k, v := range f.runs {
		out[k] = v
	}

	return out, nil
}

func (f *fakeStore) MarkRun(_ context.Context, taskType string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if last, ok := f.runs[taskType]; !ok || last.Before(at) {
		f.runs[taskType] = at
	}

	return nil
}

func (f *fakeStore) last(taskType schedule.TaskType) (time.Time, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	at, ok := f.runs[string(taskType)]

	return at, ok
}

// recorder collects runs passed to task bodies.
type recorder struct {
	mu   sync.Mutex
	runs []schedule.Run
	err  error
}

func (r *recorder) body(_ context.Context, run schedule.Run) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.runs = append(r.runs, run)

	return r.err
}

func (r *recorder) snapshot() []schedule.Run {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]schedule.Run(nil), r.runs...)
}

func newCoordinator(t *testing.T, store schedule.RunStore, clock quartz.Clock, loc *time.Location) *schedule.Coordinator {
	t.Helper()

	c := schedule.NewCoordinator(store, clock, loc, metrics.New(), zaptest.NewLogger(t))
	t.Cleanup(c.Stop)

	return c
}

func mustRule(t *testing.T) func(schedule.Rule, error) schedule.Rule {
	t.Helper()

	return func(rule schedule.Rule, err error) schedule.Rule {
		t.Helper()
		require.NoError(t, err)

		return rule
	}
}

func TestStartCatchesUpMissedDailyBeforeArming(t *testing.T) {
	t.Parallel()

	ctx := t.Context()
	loc := tokyo(t)
	now := time.Date(2024, 5, 18, 0, 30, 0, 0, loc)

	clock := quartz.NewMock(t)
	clock.Set(now).MustWait(ctx)

	trap := clock.Trap().AfterFunc("schedule")
	defer trap.Close()

	store := newFakeStore(map[string]time.Time{
		"daily":   time.Date(2024, 5, 17, 23, 0, 0, 0, loc),
		"monthly": time.Date(2024, 5, 1, 0, 0, 2, 0, loc),
	})

	daily := &recorder{}
	monthly := &recorder{}

	c := newCoordinator(t, store, clock, loc)
	require.NoError(t, c.Register(schedule.TaskDaily, mustRule(t)(schedule.DailyRule(loc)), daily.body))
	require.NoError(t, c.Register(schedule.TaskMonthly, mustRule(t)(schedule.MonthlyRule(loc)), monthly.body))

	started := make(chan error, 1)
	go func() { started <- c.Start(ctx) }()

	// The catch-up has completed by the time the first timer is armed
	dailyCall := trap.MustWait(ctx)
	catchUp := daily.snapshot()
	require.Len(t, catchUp, 1)
	assert.Equal(t, schedule.TaskDaily, catchUp[0].Type)
	assert.Equal(t, schedule.TriggerCatchUp, catchUp[0].Trigger)
	assert.True(t, catchUp[0].ScheduledAt.Equal(time.Date(2024, 5, 18, 0, 0, 0, 0, loc)))
	assert.Equal(t, 23*time.Hour+30*time.Minute, dailyCall.Duration)
	dailyCall.MustRelease(ctx)

	monthlyCall := trap.MustWait(ctx)
	assert.Equal(t, time.Date(2024, 6, 1, 0, 0, 0, 0, loc).Sub(now), monthlyCall.Duration)
	monthlyCall.MustRelease(ctx)

	require.NoError(t, <-started)
	trap.Close()

	assert.Empty(t, monthly.snapshot())

	last, ok := store.last(schedule.TaskDaily)
	require.True(t, ok)
	assert.True(t, last.Equal(now))

	// The armed daily fire runs exactly once, 23h30m later
	d, w := clock.AdvanceNext()
	assert.Equal(t, 23*time.Hour+30*time.Minute, d)
	w.MustWait(ctx)

	runs := daily.snapshot()
	require.Len(t, runs, 2)
	assert.Equal(t, schedule.TriggerScheduled, runs[1].Trigger)
	assert.True(t, runs[1].ScheduledAt.Equal(time.Date(2024, 5, 19, 0, 0, 0, 0, loc)))
}

func TestInitializeSeedsMissingRecords(t *testing.T) {
	t.Parallel()

	ctx := t.Context()
	now := time.Date(2024, 5, 18, 9, 0, 0, 0, time.UTC)

	clock := quartz.NewMock(t)
	clock.Set(now).MustWait(ctx)

	store := newFakeStore(nil)
	daily := &recorder{}

	c := newCoordinator(t, store, clock, time.UTC)
	require.NoError(t, c.Register(schedule.TaskDaily, mustRule(t)(schedule.DailyRule(time.UTC)), daily.body))
	require.NoError(t, c.Initialize(ctx))

	assert.Empty(t, daily.snapshot())

	last, ok := store.last(schedule.TaskDaily)
	require.True(t, ok)
	assert.True(t, last.Equal(now))
}

func TestInitializeSkipsTasksThatAlreadyRan(t *testing.T) {
	t.Parallel()

	ctx := t.Context()
	now := time.Date(2024, 5, 18, 9, 0, 0, 0, time.UTC)

	clock := quartz.NewMock(t)
	clock.Set(now).MustWait(ctx)

	store := newFakeStore(map[string]time.Time{"daily": time.Date(2024, 5, 18, 0, 0, 1, 0, time.UTC)})
	daily := &recorder{}

	c := newCoordinator(t, store, clock, time.UTC)
	require.NoError(t, c.Register(schedule.TaskDaily, mustRule(t)(schedule.DailyRule(time.UTC)), daily.body))
	require.NoError(t, c.Initialize(ctx))

	assert.Empty(t, daily.snapshot())
}

func TestFailedRunKeepsLastRun(t *testing.T) {
	t.Parallel()

	ctx := t.Context()
	previous := time.Date(2024, 5, 17, 0, 0, 1, 0, time.UTC)

	clock := quartz.NewMock(t)
	clock.Set(time.Date(2024, 5, 18, 9, 0, 0, 0, time.UTC)).MustWait(ctx)

	store := newFakeStore(map[string]time.Time{"daily": previous})
	daily := &recorder{err: errTaskBroken}

	c := newCoordinator(t, store, clock, time.UTC)
	require.NoError(t, c.Register(schedule.TaskDaily, mustRule(t)(schedule.DailyRule(time.UTC)), daily.body))

	err := c.RunTest(ctx, schedule.TaskDaily)
	require.ErrorIs(t, err, errTaskBroken)

	last, _ := store.last(schedule.TaskDaily)
	assert.True(t, last.Equal(previous))
	assert.Equal(t, schedule.StateIdle, c.State(schedule.TaskDaily))

	// Catch-up failures are logged and do not fail initialization
	require.NoError(t, c.Initialize(ctx))
	assert.Len(t, daily.snapshot(), 2)
}

func TestConcurrentRunsOfSameTypeAreCoalesced(t *testing.T) {
	t.Parallel()

	ctx := t.Context()
	clock := quartz.NewMock(t)
	store := newFakeStore(nil)

	entered := make(chan struct{})
	release := make(chan struct{})

	c := newCoordinator(t, store, clock, time.UTC)
	require.NoError(t, c.Register(schedule.TaskDaily, mustRule(t)(schedule.DailyRule(time.UTC)),
		func(context.Context, schedule.Run) error {
			close(entered)
			<-release

			return nil
		}))

	monthly := &recorder{}
	require.NoError(t, c.Register(schedule.TaskMonthly, mustRule(t)(schedule.MonthlyRule(time.UTC)), monthly.body))

	done := make(chan error, 1)
	go func() { done <- c.RunTest(ctx, schedule.TaskDaily) }()

	<-entered
	assert.Equal(t, schedule.StateRunning, c.State(schedule.TaskDaily))
	require.ErrorIs(t, c.RunTask(ctx, schedule.TaskDaily, schedule.TriggerScheduled), schedule.ErrTaskRunning)

	// Other task types are not blocked
	require.NoError(t, c.RunTest(ctx, schedule.TaskMonthly))
	assert.Len(t, monthly.snapshot(), 1)

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, schedule.StateIdle, c.State(schedule.TaskDaily))
}

func TestRegisterAndRunUnknownTasks(t *testing.T) {
	t.Parallel()

	c := newCoordinator(t, newFakeStore(nil), quartz.NewMock(t), time.UTC)
	rule := mustRule(t)(schedule.DailyRule(time.UTC))

	require.NoError(t, c.Register(schedule.TaskDaily, rule, (&recorder{}).body))
	require.ErrorIs(t, c.Register(schedule.TaskDaily, rule, (&recorder{}).body), schedule.ErrDuplicateTask)
	require.ErrorIs(t, c.RunTest(t.Context(), schedule.TaskMonthly), schedule.ErrUnknownTask)
}

func TestStopWaitsForRunningTask(t *testing.T) {
	t.Parallel()

	ctx := t.Context()
	store := newFakeStore(nil)

	entered := make(chan struct{})
	release := make(chan struct{})

	c := newCoordinator(t, store, quartz.NewMock(t), time.UTC)
	require.NoError(t, c.Register(schedule.TaskDaily, mustRule(t)(schedule.DailyRule(time.UTC)),
		func(context.Context, schedule.Run) error {
			close(entered)
			<-release

			return nil
		}))

	done := make(chan error, 1)
	go func() { done <- c.RunTask(ctx, schedule.TaskDaily, schedule.TriggerScheduled) }()
	<-entered

	stopped := make(chan struct{})
	go func() {
		c.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("Stop returned while a task was running")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	<-stopped
	require.NoError(t, <-done)

	// The run finished its bookkeeping before Stop returned
	_, ok := store.last(schedule.TaskDaily)
	assert.True(t, ok)

	require.ErrorIs(t, c.RunTest(ctx, schedule.TaskDaily), schedule.ErrStopped)
}
