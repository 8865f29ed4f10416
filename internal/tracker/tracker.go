// Package tracker counts messages in memory and flushes them to the ledger.
package tracker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/coder/quartz"
	"github.com/disgoorg/snowflake/v2"
	"github.com/robalyx/chatrank/internal/database/types"
	"github.com/robalyx/chatrank/internal/metrics"
	"go.uber.org/zap"
)

// DefaultFlushInterval is the automatic flush period when none is configured.
const DefaultFlushInterval = time.Hour

// Ledger is the durable store behind the cache.
type Ledger interface {
	Flush(ctx context.Context, period types.Period, snapshot []types.PendingCount) error
	UserTotal(ctx context.Context, userID snowflake.ID, period types.Period) (int64, error)
}

// Status is a user's message count for the current month.
type Status struct {
	UserID  snowflake.ID
	Period  types.Period
	Stored  int64
	Pending int64
}

// Total returns the stored and pending counts combined.
func (s Status) Total() int64 {
	return s.Stored + s.Pending
}

// Tracker owns the counter cache and moves its contents into the ledger.
type Tracker struct {
	cache   *Cache
	ledger  Ledger
	clock   quartz.Clock
	loc     *time.Location
	metrics *metrics.Metrics
	logger  *zap.Logger
	flushMu sync.Mutex
}

// New creates a Tracker with an empty cache.
func New(
	ledger Ledger, clock quartz.Clock, loc *time.Location, m *metrics.Metrics, logger *zap.Logger,
) *Tracker {
	return &Tracker{
		cache:   NewCache(),
		ledger:  ledger,
		clock:   clock,
		loc:     loc,
		metrics: m,
		logger:  logger.Named("tracker"),
	}
}

// Increment counts one message. It never blocks on I/O.
func (t *Tracker) Increment(userID snowflake.ID, displayName string) {
	t.cache.Increment(userID, displayName)
	t.metrics.MessagesCounted.Inc()
	t.metrics.PendingUsers.Set(float64(t.cache.Len()))
}

// Pending returns the user's unflushed count.
func (t *Tracker) Pending(userID snowflake.ID) int64 {
	count, _ := t.cache.Pending(userID)
	return count
}

// Flush writes the cache into today's period.
func (t *Tracker) Flush(ctx context.Context) (int, error) {
	return t.FlushPeriod(ctx, types.DayOf(t.clock.Now(), t.loc))
}

// FlushPeriod drains the cache into the given period and returns the number of users written.
// On failure the drained counts are put back so nothing is lost.
func (t *Tracker) FlushPeriod(ctx context.Context, period types.Period) (int, error) {
	t.flushMu.Lock()
	defer t.flushMu.Unlock()

	snapshot := t.cache.Drain()
	if len(snapshot) == 0 {
		t.metrics.Flushes.WithLabelValues(metrics.ResultSkipped).Inc()
		return 0, nil
	}

	if err := t.ledger.Flush(ctx, period, snapshot); err != nil {
		t.cache.Restore(snapshot)
		t.metrics.Flushes.WithLabelValues(metrics.ResultFailure).Inc()
		t.metrics.PendingUsers.Set(float64(t.cache.Len()))

		return 0, fmt.Errorf("failed to flush into %s: %w", period, err)
	}

	t.metrics.Flushes.WithLabelValues(metrics.ResultSuccess).Inc()
	t.metrics.PendingUsers.Set(float64(t.cache.Len()))

	t.logger.Info("Flushed message counts",
		zap.String("period", period.Key()),
		zap.Int("users", len(snapshot)))

	return len(snapshot), nil
}

// Hold runs fn with flushing suspended. Flushes requested meanwhile,
// including scheduled and manual ones, wait until fn returns.
func (t *Tracker) Hold(fn func()) {
	t.flushMu.Lock()
	defer t.flushMu.Unlock()

	fn()
}

// Status returns the user's count for the current month including unflushed messages.
func (t *Tracker) Status(ctx context.Context, userID snowflake.ID) (Status, error) {
	month := types.MonthOf(t.clock.Now(), t.loc)

	stored, err := t.ledger.UserTotal(ctx, userID, month)
	if err != nil {
		return Status{}, fmt.Errorf("failed to get stored count: %w", err)
	}

	return Status{
		UserID:  userID,
		Period:  month,
		Stored:  stored,
		Pending: t.Pending(userID),
	}, nil
}

// RunAutoFlush flushes on every interval until ctx is done.
// Failed flushes are logged and retried on the next tick.
func (t *Tracker) RunAutoFlush(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultFlushInterval
	}

	t.logger.Info("Auto flush started", zap.Duration("interval", interval))

	waiter := t.clock.TickerFunc(ctx, interval, func() error {
		if _, err := t.Flush(ctx); err != nil {
			t.logger.Error("Auto flush failed", zap.Error(err))
		}

		return nil
	}, "tracker", "autoflush")

	err := waiter.Wait()
	if ctx.Err() != nil {
		return nil
	}

	return err
}
