package bot_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/snowflake/v2"
	"github.com/robalyx/chatrank/internal/bot"
	"github.com/robalyx/chatrank/internal/bot/constants"
	"github.com/robalyx/chatrank/internal/database/types"
	"github.com/robalyx/chatrank/internal/schedule"
	"github.com/robalyx/chatrank/internal/tracker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const guildID = snowflake.ID(1000)

var errLedgerDown = errors.New("ledger unavailable")

type increment struct {
	userID snowflake.ID
	name   string
}

type fakeTracker struct {
	increments []increment
	status     tracker.Status
	flushed    int
	err        error
}

func (f *fakeTracker) Increment(userID snowflake.ID, displayName string) {
	f.increments = append(f.increments, increment{userID: userID, name: displayName})
}

func (f *fakeTracker) Flush(context.Context) (int, error) {
	return f.flushed, f.err
}

func (f *fakeTracker) Status(_ context.Context, userID snowflake.ID) (tracker.Status, error) {
	status := f.status
	status.UserID = userID

	return status, f.err
}

// inlineQueue runs submitted tasks immediately.
type inlineQueue struct {
	err error
}

func (q inlineQueue) Submit(task func()) error {
	if q.err != nil {
		return q.err
	}

	task()

	return nil
}

type fakeTasks struct {
	ran []schedule.TaskType
	err error
}

func (f *fakeTasks) RunTest(_ context.Context, taskType schedule.TaskType) error {
	f.ran = append(f.ran, taskType)
	return f.err
}

func newHandler(t *testing.T, development bool, tr *fakeTracker, tasks *fakeTasks) *bot.Handler {
	t.Helper()
	return bot.NewHandler(guildID, development, tr, inlineQueue{}, tasks, zaptest.NewLogger(t))
}

func TestCountMessage(t *testing.T) {
	t.Parallel()

	global := "Alice"
	tr := &fakeTracker{}
	h := newHandler(t, false, tr, &fakeTasks{})

	assert.True(t, h.CountMessage(guildID, discord.User{ID: 1, Username: "alice", GlobalName: &global}))
	assert.True(t, h.CountMessage(guildID, discord.User{ID: 2, Username: "bob"}))
	assert.False(t, h.CountMessage(guildID, discord.User{ID: 3, Username: "helper", Bot: true}))
	assert.False(t, h.CountMessage(snowflake.ID(2000), discord.User{ID: 1, Username: "alice"}))

	assert.Equal(t, []increment{
		{userID: 1, name: "Alice"},
		{userID: 2, name: "bob"},
	}, tr.increments)
}

func TestCountMessageDroppedWhenQueueClosed(t *testing.T) {
	t.Parallel()

	tr := &fakeTracker{}
	h := bot.NewHandler(guildID, false, tr, inlineQueue{err: errors.New("closed")}, &fakeTasks{}, zaptest.NewLogger(t))

	assert.False(t, h.CountMessage(guildID, discord.User{ID: 1, Username: "alice"}))
	assert.Empty(t, tr.increments)
}

func TestStatusEmbed(t *testing.T) {
	t.Parallel()

	tr := &fakeTracker{status: tracker.Status{
		Period:  types.MonthOf(time.Date(2024, 5, 18, 0, 0, 0, 0, time.UTC), time.UTC),
		Stored:  12000,
		Pending: 345,
	}}
	h := newHandler(t, false, tr, &fakeTasks{})

	embed, err := h.StatusEmbed(t.Context(), discord.User{ID: 1, Username: "alice"})
	require.NoError(t, err)

	require.Len(t, embed.Fields, 3)
	assert.Equal(t, "12,345", embed.Fields[0].Value)
	assert.Equal(t, "12,000", embed.Fields[1].Value)
	assert.Equal(t, "345", embed.Fields[2].Value)
	assert.Contains(t, embed.Description, "<@1>")
	require.NotNil(t, embed.Footer)
	assert.Equal(t, "Period 2024-05-01", embed.Footer.Text)
}

func TestStatusEmbedPropagatesErrors(t *testing.T) {
	t.Parallel()

	h := newHandler(t, false, &fakeTracker{err: errLedgerDown}, &fakeTasks{})

	_, err := h.StatusEmbed(t.Context(), discord.User{ID: 1})
	require.ErrorIs(t, err, errLedgerDown)
}

func TestErrorEmbed(t *testing.T) {
	t.Parallel()

	embed := bot.ErrorEmbed()
	assert.Equal(t, constants.GenericErrorMessage, embed.Description)
	assert.Equal(t, constants.ErrorEmbedColor, embed.Color)
}

func TestOperatorCommandsRequireDevelopment(t *testing.T) {
	t.Parallel()

	tasks := &fakeTasks{}
	h := newHandler(t, false, &fakeTracker{}, tasks)

	_, err := h.Save(t.Context())
	require.ErrorIs(t, err, bot.ErrNotAvailable)

	_, err = h.Test(t.Context(), "daily")
	require.ErrorIs(t, err, bot.ErrNotAvailable)
	assert.Empty(t, tasks.ran)
}

func TestSave(t *testing.T) {
	t.Parallel()

	content, err := newHandler(t, true, &fakeTracker{flushed: 1200}, &fakeTasks{}).Save(t.Context())
	require.NoError(t, err)
	assert.Equal(t, "Saved message counts for 1,200 users.", content)

	content, err = newHandler(t, true, &fakeTracker{}, &fakeTasks{}).Save(t.Context())
	require.NoError(t, err)
	assert.Equal(t, "Nothing to save.", content)
}

func TestTestCommand(t *testing.T) {
	t.Parallel()

	tasks := &fakeTasks{}
	h := newHandler(t, true, &fakeTracker{}, tasks)

	content, err := h.Test(t.Context(), "monthly")
	require.NoError(t, err)
	assert.Equal(t, "The monthly task completed.", content)
	assert.Equal(t, []schedule.TaskType{schedule.TaskMonthly}, tasks.ran)

	_, err = h.Test(t.Context(), "weekly")
	require.ErrorIs(t, err, schedule.ErrUnknownTask)

	tasks.err = schedule.ErrTaskRunning
	content, err = h.Test(t.Context(), "daily")
	require.NoError(t, err)
	assert.Equal(t, "The daily task is already running.", content)
}

func TestCommandsByEnvironment(t *testing.T) {
	t.Parallel()

	names := func(commands []discord.ApplicationCommandCreate) []string {
		result := make([]string, len(commands))
		for i, command := range commands {
			result[i] = command.CommandName()
		}

		return result
	}

	assert.Equal(t, []string{constants.PingCommandName, constants.StatusCommandName}, names(bot.Commands(false)))
	assert.Equal(t, []string{
		constants.PingCommandName,
		constants.StatusCommandName,
		constants.DebugSaveCommandName,
		constants.TestCommandName,
	}, names(bot.Commands(true)))
}

func TestPingContent(t *testing.T) {
	t.Parallel()

	h := newHandler(t, false, &fakeTracker{}, &fakeTasks{})
	assert.Equal(t, "Pong! Gateway latency is 1,250 ms.", h.PingContent(1250*time.Millisecond))
}
