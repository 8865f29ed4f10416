// Package dbtest provides migrated in-memory databases for tests.
package dbtest

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/robalyx/chatrank/internal/database"
	"github.com/robalyx/chatrank/internal/database/dbretry"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"go.uber.org/zap/zaptest"
)

var counter atomic.Int64 //nolint:gochecknoglobals // -

// Policy retries quickly so failing tests stay fast.
func Policy() dbretry.Policy {
	return dbretry.Policy{
		MaxAttempts: 3,
		Delay:       time.Millisecond,
		Retryable:   dbretry.IsTransient,
	}
}

// NewDB opens a private in-memory SQLite database with all migrations applied.
func NewDB(t testing.TB) *bun.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s_%d?mode=memory&cache=shared", name, counter.Add(1))

	db, err := database.OpenSQLite(t.Context(), dsn)
	require.NoError(t, err)

	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, database.Migrate(t.Context(), db, zaptest.NewLogger(t)))

	return db
}

// NewClient returns a database client backed by NewDB.
func NewClient(t testing.TB) database.Client {
	t.Helper()

	return database.NewClient(NewDB(t), Policy(), zaptest.NewLogger(t))
}

// FailInserts makes every insert of a message count for userID fail with message.
// The failure happens inside the database, so surrounding transactions see a real
// statement error.
func FailInserts(t testing.TB, db *bun.DB, userID uint64, message string) {
	t.Helper()

	_, err := db.ExecContext(t.Context(), fmt.Sprintf(
		`CREATE TRIGGER fail_insert_%[1]d BEFORE INSERT ON message_counts
		WHEN NEW.user_id = %[1]d
		BEGIN SELECT RAISE(ABORT, '%[2]s'); END`,
		userID, message,
	))
	require.NoError(t, err)
}

// FailureCounter is a query hook counting failed statements that start with a prefix.
type FailureCounter struct {
	prefix string
	count  atomic.Int64
}

// CountFailures installs a FailureCounter for statements starting with prefix.
func CountFailures(db *bun.DB, prefix string) *FailureCounter {
	counter := &FailureCounter{prefix: prefix}
	db.AddQueryHook(counter)

	return counter
}

// Count returns the number of failed statements seen so far.
func (c *FailureCounter) Count() int {
	return int(c.count.Load())
}

func (c *FailureCounter) BeforeQuery(ctx context.Context, _ *bun.QueryEvent) context.Context {
	return ctx
}

func (c *FailureCounter) AfterQuery(_ context.Context, event *bun.QueryEvent) {
	if event.Err != nil && strings.HasPrefix(event.Query, c.prefix) {
		c.count.Add(1)
	}
}
