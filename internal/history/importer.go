// Package history rebuilds the current month's counts from channel history.
package history

import (
	"context"
	"fmt"
	"time"

	"github.com/coder/quartz"
	"github.com/disgoorg/snowflake/v2"
	"github.com/robalyx/chatrank/internal/database/types"
	"go.uber.org/zap"
)

// PageSize is the number of messages requested per history page.
const PageSize = 100

// Message is the part of a chat message the importer needs.
type Message struct {
	ID         snowflake.ID
	AuthorID   snowflake.ID
	AuthorName string
	Bot        bool
	CreatedAt  time.Time
}

// Source reads guild channels and their history.
type Source interface {
	// TextChannels lists the text channels of the guild.
	TextChannels(ctx context.Context) ([]snowflake.ID, error)
	// MessagesBefore returns up to limit messages older than before, newest first.
	// A zero before starts at the most recent message.
	MessagesBefore(ctx context.Context, channelID, before snowflake.ID, limit int) ([]Message, error)
}

// Pacer delays consecutive history requests.
type Pacer interface {
	Wait(ctx context.Context) error
}

// Ledger receives the imported counts.
type Ledger interface {
	BatchImport(ctx context.Context, period types.Period, counts []types.PendingCount) (types.BatchResult, error)
}

// Report summarizes an import.
type Report struct {
	Period         types.Period
	Channels       int
	FailedChannels int
	Messages       int
	Result         types.BatchResult
}

// Importer counts this month's messages across all text channels and stores them.
type Importer struct {
	source Source
	pacer  Pacer
	ledger Ledger
	clock  quartz.Clock
	loc    *time.Location
	logger *zap.Logger
}

// NewImporter creates an Importer.
func NewImporter(
	source Source, pacer Pacer, ledger Ledger, clock quartz.Clock, loc *time.Location, logger *zap.Logger,
) *Importer {
	return &Importer{
		source: source,
		pacer:  pacer,
		ledger: ledger,
		clock:  clock,
		loc:    loc,
		logger: logger.Named("history"),
	}
}

// Import walks every text channel back to the start of the month and
// overwrites the month's ledger rows with the counted messages.
// A channel that fails is logged and left out of the counts.
func (i *Importer) Import(ctx context.Context) (Report, error) {
	month := types.MonthOf(i.clock.Now(), i.loc)
	report := Report{Period: month}

	channels, err := i.source.TextChannels(ctx)
	if err != nil {
		return report, fmt.Errorf("failed to list channels: %w", err)
	}

	i.logger.Info("Importing message history",
		zap.String("period", month.Key()),
		zap.Int("channels", len(channels)))

	totals := make(map[snowflake.ID]*types.PendingCount)
	var order []snowflake.ID

	for _, channelID := range channels {
		counts, messages, err := i.countChannel(ctx, channelID, month)
		if err != nil {
			if ctx.Err() != nil {
				return report, ctx.Err()
			}

			report.FailedChannels++
			i.logger.Error("Failed to read channel history, skipping",
				zap.Uint64("channelID", uint64(channelID)),
				zap.Error(err))

			continue
		}

		report.Channels++
		report.Messages += messages

		for _, count := range counts {
			total, ok := totals[count.UserID]
			if !ok {
				totals[count.UserID] = &types.PendingCount{UserID: count.UserID, DisplayName: count.DisplayName}
				total = totals[count.UserID]
				order = append(order, count.UserID)
			}

			total.Count += count.Count
		}
	}

	rows := make([]types.PendingCount, 0, len(order))
	for _, userID := range order {
		rows = append(rows, *totals[userID])
	}

	result, err := i.ledger.BatchImport(ctx, month, rows)
	if err != nil {
		return report, fmt.Errorf("failed to store imported counts: %w", err)
	}

	report.Result = result

	i.logger.Info("Imported message history",
		zap.String("period", month.Key()),
		zap.Int("channels", report.Channels),
		zap.Int("failedChannels", report.FailedChannels),
		zap.Int("messages", report.Messages),
		zap.Int("users", result.Imported),
		zap.Int("failedUsers", len(result.Failed)))

	return report, nil
}

// countChannel pages backwards through one channel until the month start.
func (i *Importer) countChannel(
	ctx context.Context, channelID snowflake.ID, month types.Period,
) ([]types.PendingCount, int, error) {
	var (
		counts   []types.PendingCount
		index    = make(map[snowflake.ID]int)
		messages int
		before   snowflake.ID
	)

	for page := 0; ; page++ {
		if page > 0 {
			if err := i.pacer.Wait(ctx); err != nil {
				return nil, 0, err
			}
		}

		batch, err := i.source.MessagesBefore(ctx, channelID, before, PageSize)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to fetch page %d: %w", page, err)
		}

		if len(batch) == 0 {
			return counts, messages, nil
		}

		for _, msg := range batch {
			if msg.CreatedAt.Before(month.Start) {
				return counts, messages, nil
			}

			if msg.Bot || !month.Contains(msg.CreatedAt) {
				continue
			}

			// Pages are newest first, so the first name seen is the latest one
			if pos, ok := index[msg.AuthorID]; ok {
				counts[pos].Count++
			} else {
				index[msg.AuthorID] = len(counts)
				counts = append(counts, types.PendingCount{
					UserID:      msg.AuthorID,
					DisplayName: msg.AuthorName,
					Count:       1,
				})
			}

			messages++
		}

		before = batch[len(batch)-1].ID

		i.logger.Debug("Read history page",
			zap.Uint64("channelID", uint64(channelID)),
			zap.Int("page", page),
			zap.Int("counted", messages))
	}
}
