// Package guild adapts the Discord REST API to the role directory and
// history source used by the rank and import components.
package guild

import (
	"context"
	"fmt"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/rest"
	"github.com/disgoorg/snowflake/v2"
	"github.com/robalyx/chatrank/internal/history"
	"github.com/robalyx/chatrank/internal/roles"
	"go.uber.org/zap"
)

// MemberPageSize is the largest member page Discord returns.
const MemberPageSize = 1000

// Rest is the part of the disgo REST client the guild adapter calls.
type Rest interface {
	GetMembers(guildID snowflake.ID, limit int, after snowflake.ID, opts ...rest.RequestOpt) ([]discord.Member, error)
	AddMemberRole(guildID, userID, roleID snowflake.ID, opts ...rest.RequestOpt) error
	RemoveMemberRole(guildID, userID, roleID snowflake.ID, opts ...rest.RequestOpt) error
	GetGuildChannels(guildID snowflake.ID, opts ...rest.RequestOpt) ([]discord.GuildChannel, error)
	GetMessages(
		channelID, around, before, after snowflake.ID, limit int, opts ...rest.RequestOpt,
	) ([]discord.Message, error)
}

var (
	_ roles.Directory = (*Guild)(nil)
	_ history.Source  = (*Guild)(nil)
)

// Guild reads and mutates a single guild through the REST API.
type Guild struct {
	rest   Rest
	id     snowflake.ID
	logger *zap.Logger
}

// New creates a Guild for the given guild ID.
func New(client Rest, guildID snowflake.ID, logger *zap.Logger) *Guild {
	return &Guild{
		rest:   client,
		id:     guildID,
		logger: logger.Named("guild"),
	}
}

// Members lists every member of the guild with their current roles.
func (g *Guild) Members(ctx context.Context) ([]roles.Member, error) {
	var (
		members []roles.Member
		after   snowflake.ID
	)

	for {
		chunk, err := g.rest.GetMembers(g.id, MemberPageSize, after, rest.WithCtx(ctx))
		if err != nil {
			return nil, fmt.Errorf("failed to get guild members: %w", err)
		}

		for _, member := range chunk {
			members = append(members, roles.Member{
				UserID:  member.User.ID,
				RoleIDs: member.RoleIDs,
			})
		}

		// Less than a full page means this was the last one
		if len(chunk) < MemberPageSize {
			break
		}

		after = chunk[len(chunk)-1].User.ID
	}

	g.logger.Debug("Listed guild members", zap.Int("count", len(members)))

	return members, nil
}

// AddRole grants a role to a member.
func (g *Guild) AddRole(ctx context.Context, userID, roleID snowflake.ID) error {
	if err := g.rest.AddMemberRole(g.id, userID, roleID, rest.WithCtx(ctx)); err != nil {
		return fmt.Errorf("failed to add role %s to %s: %w", roleID, userID, err)
	}

	return nil
}

// RemoveRole takes a role away from a member.
func (g *Guild) RemoveRole(ctx context.Context, userID, roleID snowflake.ID) error {
	if err := g.rest.RemoveMemberRole(g.id, userID, roleID, rest.WithCtx(ctx)); err != nil {
		return fmt.Errorf("failed to remove role %s from %s: %w", roleID, userID, err)
	}

	return nil
}

// TextChannels lists the guild's text channels.
func (g *Guild) TextChannels(ctx context.Context) ([]snowflake.ID, error) {
	channels, err := g.rest.GetGuildChannels(g.id, rest.WithCtx(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to get guild channels: %w", err)
	}

	ids := make([]snowflake.ID, 0, len(channels))
	for _, channel := range channels {
		if channel.Type() == discord.ChannelTypeGuildText {
			ids = append(ids, channel.ID())
		}
	}

	return ids, nil
}

// MessagesBefore returns up to limit messages older than before, newest first.
func (g *Guild) MessagesBefore(
	ctx context.Context, channelID, before snowflake.ID, limit int,
) ([]history.Message, error) {
	messages, err := g.rest.GetMessages(channelID, 0, before, 0, limit, rest.WithCtx(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to get messages for channel %s: %w", channelID, err)
	}

	result := make([]history.Message, len(messages))
	for i, message := range messages {
		result[i] = history.Message{
			ID:         message.ID,
			AuthorID:   message.Author.ID,
			AuthorName: message.Author.EffectiveName(),
			Bot:        message.Author.Bot,
			CreatedAt:  message.CreatedAt,
		}
	}

	return result, nil
}
