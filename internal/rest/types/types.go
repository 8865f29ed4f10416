package types

// RankingEntry is one ranked user.
type RankingEntry struct {
	Rank        int    `json:"rank"`
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
	Count       int64  `json:"count"`
}

// GetRankingResponse is the body of GET /v1/ranking.
type GetRankingResponse struct {
	Period string         `json:"period"`
	Key    string         `json:"key"`
	Rows   []RankingEntry `json:"rows"`
}

// GetUserStatusResponse is the body of GET /v1/users/:id/status.
type GetUserStatusResponse struct {
	UserID  string `json:"userId"`
	Count   int64  `json:"count"`
	Pending int64  `json:"pending"`
	Period  string `json:"period"`
}

// HealthResponse is the body of GET /healthz.
type HealthResponse struct {
	Status string `json:"status"`
}
