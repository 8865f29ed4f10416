package rest_test

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/coder/quartz"
	"github.com/disgoorg/snowflake/v2"
	"github.com/robalyx/chatrank/internal/database/types"
	"github.com/robalyx/chatrank/internal/metrics"
	"github.com/robalyx/chatrank/internal/rest"
	"github.com/robalyx/chatrank/internal/rest/handler"
	restTypes "github.com/robalyx/chatrank/internal/rest/types"
	"github.com/robalyx/chatrank/internal/tracker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var errLedgerDown = errors.New("ledger unavailable")

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

type fakeStatus struct {
	status tracker.Status
	err    error
}

func (f *fakeStatus) Status(_ context.Context, userID snowflake.ID) (tracker.Status, error) {
	status := f.status
	status.UserID = userID

	return status, f.err
}

func newServer(t *testing.T, ranker *fakeRanker, status *fakeStatus) http.Handler {
	t.Helper()

	loc, err := time.LoadLocation("Asia/Tokyo")
	require.NoError(t, err)

	clock := quartz.NewMock(t)
	// 2024-05-18 08:00 in Tokyo.
	clock.Set(time.Date(2024, 5, 17, 23, 0, 0, 0, time.UTC))

	logger := zaptest.NewLogger(t)

	return rest.NewServer(
		handler.NewRankingHandler(ranker, clock, loc, 3, 100, logger),
		handler.NewUserHandler(status, logger),
		metrics.New().Handler(),
		logger,
	).Handler()
}

func get(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodGet, target, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	return rec
}

func TestGetRankingDefaults(t *testing.T) {
	t.Parallel()

	ranker := &fakeRanker{rows: []types.RankingRow{
		{Rank: 1, UserID: 1, DisplayName: "Alice", Count: 3},
		{Rank: 2, UserID: 2, DisplayName: "Bob", Count: 1},
	}}
	rec := get(t, newServer(t, ranker, &fakeStatus{}), "/v1/ranking")
	require.Equal(t, http.StatusOK, rec.Code)

	var body restTypes.GetRankingResponse
	require.NoError(t, sonic.Unmarshal(rec.Body.Bytes(), &body))

	assert.Equal(t, "day", body.Period)
	assert.Equal(t, "2024-05-18", body.Key)
	assert.Equal(t, 3, ranker.n)
	assert.Equal(t, []restTypes.RankingEntry{
		{Rank: 1, UserID: "1", DisplayName: "Alice", Count: 3},
		{Rank: 2, UserID: "2", DisplayName: "Bob", Count: 1},
	}, body.Rows)
}

func TestGetRankingQuery(t *testing.T) {
	t.Parallel()

	ranker := &fakeRanker{}
	rec := get(t, newServer(t, ranker, &fakeStatus{}), "/v1/ranking?period=month&date=2024-04-15&limit=500")
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, types.GranularityMonth, ranker.period.Granularity)
	assert.Equal(t, "2024-04-01", ranker.period.Key())
	assert.Equal(t, 100, ranker.n)
}

func TestGetRankingBadInput(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		target string
	}{
		{name: "unknown period", target: "/v1/ranking?period=week"},
		{name: "malformed date", target: "/v1/ranking?date=18-05-2024"},
		{name: "zero limit", target: "/v1/ranking?limit=0"},
		{name: "non-numeric limit", target: "/v1/ranking?limit=ten"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			rec := get(t, newServer(t, &fakeRanker{}, &fakeStatus{}), tt.target)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestGetRankingStoreFailure(t *testing.T) {
	t.Parallel()

	rec := get(t, newServer(t, &fakeRanker{err: errLedgerDown}, &fakeStatus{}), "/v1/ranking")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "Internal server error")
	assert.NotContains(t, rec.Body.String(), errLedgerDown.Error())
}

func TestGetUserStatus(t *testing.T) {
	t.Parallel()

	status := &fakeStatus{status: tracker.Status{
		Period:  types.MonthOf(time.Date(2024, 5, 18, 0, 0, 0, 0, time.UTC), time.UTC),
		Stored:  7,
		Pending: 3,
	}}
	h := newServer(t, &fakeRanker{}, status)

	rec := get(t, h, "/v1/users/1234/status")
	require.Equal(t, http.StatusOK, rec.Code)

	var body restTypes.GetUserStatusResponse
	require.NoError(t, sonic.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, restTypes.GetUserStatusResponse{
		UserID:  "1234",
		Count:   10,
		Pending: 3,
		Period:  "2024-05-01",
	}, body)

	assert.Equal(t, http.StatusBadRequest, get(t, h, "/v1/users/abc/status").Code)

	status.err = errLedgerDown
	assert.Equal(t, http.StatusInternalServerError, get(t, h, "/v1/users/1234/status").Code)
}

func TestHealthAndMetrics(t *testing.T) {
	t.Parallel()

	h := newServer(t, &fakeRanker{}, &fakeStatus{})

	rec := get(t, h, "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = get(t, h, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "chatrank_messages_counted_total")
}

func TestResponsesAreCompressed(t *testing.T) {
	t.Parallel()

	h := newServer(t, &fakeRanker{}, &fakeStatus{})

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	req.Header.Set("Accept-Encoding", "gzip")

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "gzip", rec.Header().Get("Content-Encoding"))
}

// blockingRanker holds a ranking request until released and fails if the request was cancelled.
type blockingRanker struct {
	entered chan struct{}
	release chan struct{}
}

func (b *blockingRanker) TopN(ctx context.Context, _ types.Period, _ int) ([]types.RankingRow, error) {
	close(b.entered)
	<-b.release

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return []types.RankingRow{{Rank: 1, UserID: 1, DisplayName: "Alice", Count: 3}}, nil
}

func TestServeFinishesInFlightRequestsOnShutdown(t *testing.T) {
	t.Parallel()

	ranker := &blockingRanker{entered: make(chan struct{}), release: make(chan struct{})}
	logger := zaptest.NewLogger(t)
	server := rest.NewServer(
		handler.NewRankingHandler(ranker, quartz.NewMock(t), time.UTC, 3, 100, logger),
		handler.NewUserHandler(&fakeStatus{}, logger),
		metrics.New().Handler(),
		logger,
	)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()

	served := make(chan error, 1)
	go func() { served <- server.Serve(ctx, ln) }()

	status := make(chan int, 1)
	go func() {
		resp, err := http.Get("http://" + ln.Addr().String() + "/v1/ranking")
		if err != nil {
			status <- 0
			return
		}
		defer resp.Body.Close()

		status <- resp.StatusCode
	}()

	<-ranker.entered
	cancel()
	time.Sleep(50 * time.Millisecond)
	close(ranker.release)

	assert.Equal(t, http.StatusOK, <-status)
	require.NoError(t, <-served)
}
