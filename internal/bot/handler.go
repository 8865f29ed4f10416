package bot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/snowflake/v2"
	"github.com/robalyx/chatrank/internal/bot/constants"
	"github.com/robalyx/chatrank/internal/schedule"
	"github.com/robalyx/chatrank/internal/tracker"
	"go.uber.org/zap"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// ErrNotAvailable is returned for operator commands outside development.
var ErrNotAvailable = errors.New("command is not available in this environment")

// Tracker is the message counting service used by the bot.
type Tracker interface {
	Increment(userID snowflake.ID, displayName string)
	Flush(ctx context.Context) (int, error)
	Status(ctx context.Context, userID snowflake.ID) (tracker.Status, error)
}

// Submitter accepts work for serialized execution.
type Submitter interface {
	Submit(task func()) error
}

// TaskRunner runs scheduled tasks on demand.
type TaskRunner interface {
	RunTest(ctx context.Context, taskType schedule.TaskType) error
}

// Handler holds the command and event logic independent of the gateway client.
type Handler struct {
	guildID     snowflake.ID
	development bool
	tracker     Tracker
	queue       Submitter
	tasks       TaskRunner
	printer     *message.Printer
	logger      *zap.Logger
}

// NewHandler creates a Handler for a single guild.
func NewHandler(
	guildID snowflake.ID, development bool, tr Tracker, queue Submitter, tasks TaskRunner, logger *zap.Logger,
) *Handler {
	return &Handler{
		guildID:     guildID,
		development: development,
		tracker:     tr,
		queue:       queue,
		tasks:       tasks,
		printer:     message.NewPrinter(language.English),
		logger:      logger,
	}
}

// CountMessage queues an increment for a guild message.
// Messages from bots or other guilds are ignored.
func (h *Handler) CountMessage(guildID snowflake.ID, author discord.User) bool {
	if guildID != h.guildID || author.Bot || author.System {
		return false
	}

	userID := author.ID
	name := author.EffectiveName()

	if err := h.queue.Submit(func() { h.tracker.Increment(userID, name) }); err != nil {
		h.logger.Warn("Dropped message increment", zap.Uint64("user_id", uint64(userID)), zap.Error(err))
		return false
	}

	return true
}

// PingContent formats the gateway latency.
func (h *Handler) PingContent(latency time.Duration) string {
	return h.printer.Sprintf("Pong! Gateway latency is %d ms.", latency.Milliseconds())
}

// StatusEmbed builds the month count embed for a user.
func (h *Handler) StatusEmbed(ctx context.Context, user discord.User) (discord.Embed, error) {
	status, err := h.tracker.Status(ctx, user.ID)
	if err != nil {
		return discord.Embed{}, err
	}

	return discord.NewEmbedBuilder().
		SetTitle("Message Status").
		SetDescription(fmt.Sprintf("Messages sent by %s this month", user.Mention())).
		AddField("Total", h.printer.Sprintf("%d", status.Total()), false).
		AddField("Saved", h.printer.Sprintf("%d", status.Stored), true).
		AddField("Pending", h.printer.Sprintf("%d", status.Pending), true).
		SetFooterText("Period " + status.Period.Key()).
		SetColor(constants.DefaultEmbedColor).
		Build(), nil
}

// ErrorEmbed is the response to a command that failed.
func ErrorEmbed() discord.Embed {
	return discord.NewEmbedBuilder().
		SetTitle("Command Failed").
		SetDescription(constants.GenericErrorMessage).
		SetColor(constants.ErrorEmbedColor).
		Build()
}

// Save flushes pending counts and describes the result.
func (h *Handler) Save(ctx context.Context) (string, error) {
	if !h.development {
		return "", ErrNotAvailable
	}

	flushed, err := h.tracker.Flush(ctx)
	if err != nil {
		return "", err
	}

	if flushed == 0 {
		return "Nothing to save.", nil
	}

	return h.printer.Sprintf("Saved message counts for %d users.", flushed), nil
}

// Test runs a scheduled task immediately and describes the result.
func (h *Handler) Test(ctx context.Context, name string) (string, error) {
	if !h.development {
		return "", ErrNotAvailable
	}

	taskType, err := schedule.ParseTaskType(name)
	if err != nil {
		return "", err
	}

	if err := h.tasks.RunTest(ctx, taskType); err != nil {
		if errors.Is(err, schedule.ErrTaskRunning) {
			return fmt.Sprintf("The %s task is already running.", taskType), nil
		}

		return "", err
	}

	return fmt.Sprintf("The %s task completed.", taskType), nil
}
