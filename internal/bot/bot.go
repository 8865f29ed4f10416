// Package bot connects the message tracker to the Discord gateway and serves its slash commands.
package bot

import (
	"context"
	"fmt"
	"time"

	"github.com/disgoorg/disgo"
	"github.com/disgoorg/disgo/bot"
	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/events"
	"github.com/disgoorg/disgo/gateway"
	"github.com/disgoorg/disgo/rest"
	"github.com/disgoorg/snowflake/v2"
	"github.com/robalyx/chatrank/internal/bot/constants"
	"github.com/robalyx/chatrank/internal/setup/config"
	"go.uber.org/zap"
)

// commandTimeout bounds the work done for a single slash command.
const commandTimeout = 30 * time.Second

// Bot owns the Discord client and routes gateway events to the Handler.
type Bot struct {
	client  bot.Client
	handler *Handler
	config  *config.Discord
	logger  *zap.Logger
}

// New creates the Discord client with the intents needed to count guild messages.
func New(cfg *config.Discord, handler *Handler, logger *zap.Logger) (*Bot, error) {
	b := &Bot{
		handler: handler,
		config:  cfg,
		logger:  logger.Named("bot"),
	}

	client, err := disgo.New(cfg.Token,
		bot.WithGatewayConfigOpts(
			gateway.WithIntents(
				gateway.IntentGuilds,
				gateway.IntentGuildMessages,
				gateway.IntentMessageContent,
				gateway.IntentGuildMembers,
			),
		),
		bot.WithEventListeners(&events.ListenerAdapter{
			OnReady:                         b.handleReady,
			OnGuildMessageCreate:            b.handleGuildMessageCreate,
			OnApplicationCommandInteraction: b.handleApplicationCommandInteraction,
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create discord client: %w", err)
	}

	b.client = client

	return b, nil
}

// Rest returns the REST client used for role and history requests.
func (b *Bot) Rest() rest.Rest {
	return b.client.Rest()
}

// Start registers the slash commands and opens the gateway connection.
func (b *Bot) Start(ctx context.Context) error {
	if err := b.registerCommands(); err != nil {
		return err
	}

	b.logger.Info("Starting bot")

	return b.client.OpenGateway(ctx)
}

// Close shuts down the gateway connection.
func (b *Bot) Close(ctx context.Context) {
	b.logger.Info("Closing bot")
	b.client.Close(ctx)
}

// registerCommands registers on the development guild in development and globally otherwise.
func (b *Bot) registerCommands() error {
	commands := Commands(b.config.IsDevelopment())

	if b.config.IsDevelopment() {
		guildID := b.config.DevelopmentGuildID
		if guildID == 0 {
			guildID = b.config.GuildID
		}

		if _, err := b.client.Rest().SetGuildCommands(b.client.ApplicationID(), snowflake.ID(guildID), commands); err != nil {
			return fmt.Errorf("failed to register guild commands: %w", err)
		}

		b.logger.Info("Registered guild commands",
			zap.Uint64("guild_id", guildID),
			zap.Int("count", len(commands)))

		return nil
	}

	if _, err := b.client.Rest().SetGlobalCommands(b.client.ApplicationID(), commands); err != nil {
		return fmt.Errorf("failed to register global commands: %w", err)
	}

	b.logger.Info("Registered global commands", zap.Int("count", len(commands)))

	return nil
}

func (b *Bot) handleReady(event *events.Ready) {
	b.logger.Info("Bot is ready",
		zap.String("username", event.User.Username),
		zap.Int("guilds", len(event.Guilds)))
}

func (b *Bot) handleGuildMessageCreate(event *events.GuildMessageCreate) {
	b.handler.CountMessage(event.GuildID, event.Message.Author)
}

// handleApplicationCommandInteraction answers slash commands in a goroutine so
// the gateway event loop is never blocked by database work.
func (b *Bot) handleApplicationCommandInteraction(event *events.ApplicationCommandInteractionCreate) {
	data := event.SlashCommandInteractionData()

	if data.CommandName() == constants.PingCommandName {
		content := b.handler.PingContent(b.client.Gateway().Latency())
		if err := event.CreateMessage(discord.NewMessageCreateBuilder().SetContent(content).Build()); err != nil {
			b.logger.Error("Failed to respond to ping", zap.Error(err))
		}

		return
	}

	go func() {
		ephemeral := data.CommandName() != constants.StatusCommandName
		if err := event.DeferCreateMessage(ephemeral); err != nil {
			b.logger.Error("Failed to defer create message", zap.Error(err))
			return
		}

		start := time.Now()

		defer func() {
			if r := recover(); r != nil {
				b.logger.Error("Panic in application command handler", zap.Any("panic", r))
				b.respond(event, discord.NewMessageUpdateBuilder().SetEmbeds(ErrorEmbed()))
			}

			b.logger.Debug("Application command handled",
				zap.String("command", data.CommandName()),
				zap.Duration("duration", time.Since(start)))
		}()

		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()

		update, err := b.runCommand(ctx, event, data)
		if err != nil {
			b.logger.Error("Command failed",
				zap.String("command", data.CommandName()),
				zap.Uint64("user_id", uint64(event.User().ID)),
				zap.Error(err))

			update = discord.NewMessageUpdateBuilder().SetEmbeds(ErrorEmbed())
		}

		b.respond(event, update)
	}()
}

func (b *Bot) runCommand(
	ctx context.Context, event *events.ApplicationCommandInteractionCreate, data discord.SlashCommandInteractionData,
) (*discord.MessageUpdateBuilder, error) {
	switch data.CommandName() {
	case constants.StatusCommandName:
		user, ok := data.OptUser(constants.StatusUserOption)
		if !ok {
			user = event.User()
		}

		embed, err := b.handler.StatusEmbed(ctx, user)
		if err != nil {
			return nil, err
		}

		return discord.NewMessageUpdateBuilder().SetEmbeds(embed), nil

	case constants.DebugSaveCommandName:
		content, err := b.handler.Save(ctx)
		if err != nil {
			return nil, err
		}

		return discord.NewMessageUpdateBuilder().SetContent(content), nil

	case constants.TestCommandName:
		content, err := b.handler.Test(ctx, data.String(constants.TestTypeOption))
		if err != nil {
			return nil, err
		}

		return discord.NewMessageUpdateBuilder().SetContent(content), nil

	default:
		return discord.NewMessageUpdateBuilder().SetContent("This command is not available."), nil
	}
}

func (b *Bot) respond(event *events.ApplicationCommandInteractionCreate, update *discord.MessageUpdateBuilder) {
	if _, err := event.Client().Rest().UpdateInteractionResponse(
		event.ApplicationID(), event.Token(), update.Build(),
	); err != nil {
		b.logger.Error("Failed to update interaction response", zap.Error(err))
	}
}
