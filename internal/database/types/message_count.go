package types

import (
	"time"

	"github.com/disgoorg/snowflake/v2"
)

// AccumulatePolicy controls how a write combines with an existing ledger row.
//
//go:generate go tool enumer -type=AccumulatePolicy -trimprefix=Accumulate
type AccumulatePolicy int

const (
	// AccumulateAdd adds the written count to the stored count.
	AccumulateAdd AccumulatePolicy = iota
	// AccumulateOverwrite replaces the stored count.
	AccumulateOverwrite
)

// MessageCount is one ledger row: a user's message count for a period key.
type MessageCount struct {
	UserID       snowflake.ID `bun:",pk,type:bigint"  json:"userId"`
	Period       string       `bun:",pk"              json:"period"`
	Username     string       `bun:",notnull"         json:"username"`
	MessageCount int64        `bun:",notnull"         json:"messageCount"`
	CreatedAt    time.Time    `bun:",notnull"         json:"createdAt"`
}

// PendingCount is an unflushed in-memory count for a user.
type PendingCount struct {
	UserID      snowflake.ID `json:"userId"`
	DisplayName string       `json:"displayName"`
	Count       int64        `json:"count"`
}

// RankingRow is one entry of a ranking for a period.
type RankingRow struct {
	Rank        int          `bun:"-"             json:"rank"`
	UserID      snowflake.ID `bun:"user_id"       json:"userId"`
	DisplayName string       `bun:"display_name"  json:"displayName"`
	Count       int64        `bun:"total"         json:"count"`
}

// BatchResult summarizes a batch import.
type BatchResult struct {
	Imported int
	Failed   map[snowflake.ID]error
}
