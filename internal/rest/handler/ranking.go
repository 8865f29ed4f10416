package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/coder/quartz"
	"github.com/robalyx/chatrank/internal/database/types"
	"github.com/robalyx/chatrank/internal/rest/convert"
	"github.com/uptrace/bunrouter"
	"go.uber.org/zap"
)

// Ranker computes rankings.
type Ranker interface {
	TopN(ctx context.Context, period types.Period, n int) ([]types.RankingRow, error)
}

// RankingHandler serves period rankings.
type RankingHandler struct {
	ranker       Ranker
	clock        quartz.Clock
	loc          *time.Location
	defaultLimit int
	maxLimit     int
	logger       *zap.Logger
}

// NewRankingHandler creates a new ranking handler.
func NewRankingHandler(
	ranker Ranker, clock quartz.Clock, loc *time.Location, defaultLimit, maxLimit int, logger *zap.Logger,
) *RankingHandler {
	return &RankingHandler{
		ranker:       ranker,
		clock:        clock,
		loc:          loc,
		defaultLimit: defaultLimit,
		maxLimit:     maxLimit,
		logger:       logger,
	}
}

// GetRanking handles GET /v1/ranking?period=day|month&date=YYYY-MM-DD&limit=N.
func (h *RankingHandler) GetRanking(w http.ResponseWriter, req bunrouter.Request) error {
	query := req.URL.Query()

	granularity := types.GranularityDay
	if raw := query.Get("period"); raw != "" {
		parsed, err := types.GranularityString(raw)
		if err != nil {
			http.Error(w, "Invalid period", http.StatusBadRequest)
			return nil
		}

		granularity = parsed
	}

	period := types.PeriodOf(granularity, h.clock.Now(), h.loc)
	if raw := query.Get("date"); raw != "" {
		parsed, err := types.ParsePeriod(granularity, raw, h.loc)
		if err != nil {
			http.Error(w, "Invalid date", http.StatusBadRequest)
			return nil
		}

		period = parsed
	}

	limit := h.defaultLimit
	if raw := query.Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			http.Error(w, "Invalid limit", http.StatusBadRequest)
			return nil
		}

		limit = min(parsed, h.maxLimit)
	}

	rows, err := h.ranker.TopN(req.Context(), period, limit)
	if err != nil {
		h.logger.Error("Failed to get ranking",
			zap.String("period", period.String()),
			zap.Int("limit", limit),
			zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)

		return nil
	}

	return bunrouter.JSON(w, convert.Ranking(period, rows))
}
