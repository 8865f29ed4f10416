package convert

import (
	"github.com/robalyx/chatrank/internal/database/types"
	restTypes "github.com/robalyx/chatrank/internal/rest/types"
	"github.com/robalyx/chatrank/internal/tracker"
)

// Ranking converts ledger ranking rows to the REST response.
func Ranking(period types.Period, rows []types.RankingRow) restTypes.GetRankingResponse {
	entries := make([]restTypes.RankingEntry, len(rows))
	for i, row := range rows {
		entries[i] = restTypes.RankingEntry{
			Rank:        row.Rank,
			UserID:      row.UserID.String(),
			DisplayName: row.DisplayName,
			Count:       row.Count,
		}
	}

	return restTypes.GetRankingResponse{
		Period: period.Granularity.String(),
		Key:    period.Key(),
		Rows:   entries,
	}
}

// UserStatus converts a tracker status to the REST response.
func UserStatus(status tracker.Status) restTypes.GetUserStatusResponse {
	return restTypes.GetUserStatusResponse{
		UserID:  status.UserID.String(),
		Count:   status.Total(),
		Pending: status.Pending,
		Period:  status.Period.Key(),
	}
}
