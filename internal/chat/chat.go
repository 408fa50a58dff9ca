// Package chat is the chat-platform boundary: a narrow API interface
// covering the calls the core consumes, a discordgo-backed
// implementation, and the process-wide rate limits. Everything above
// this package talks to the platform through the interface so tests can
// substitute a mock.
package chat

import "context"

// Member is one live guild member as the platform reports it.
type Member struct {
	ID          string
	Username    string
	DisplayName string
	Locale      string
	IsBot       bool
	RoleIDs     []string
}

// Message is a fetched channel message, reduced to what the core reads.
type Message struct {
	ID        string
	ChannelID string
	Content   string
}

// EmbedField is one name/value pair of an embed.
type EmbedField struct {
	Name   string
	Value  string
	Inline bool
}

// Embed is a platform-neutral rich message body.
type Embed struct {
	Title       string
	Description string
	Color       int
	Fields      []EmbedField
	Footer      string
}

// ScheduledEvent describes a native platform scheduled event.
type ScheduledEvent struct {
	Name        string
	Description string
	Location    string
	StartAt     int64 // unix seconds
	EndAt       int64
}

// API is the platform contract the core consumes. Implementations must
// honor ctx cancellation and map platform 404s to herr.ErrNotFound and
// 403s to herr.ErrForbidden.
type API interface {
	SendMessage(ctx context.Context, channelID, content string) (string, error)
	SendEmbed(ctx context.Context, channelID string, e *Embed) (string, error)
	EditEmbed(ctx context.Context, channelID, messageID string, e *Embed) error
	DeleteMessage(ctx context.Context, channelID, messageID string) error
	FetchMessage(ctx context.Context, channelID, messageID string) (*Message, error)

	AddReaction(ctx context.Context, channelID, messageID, emoji string) error
	ClearReactions(ctx context.Context, channelID, messageID string) error
	RemoveReaction(ctx context.Context, channelID, messageID, emoji, userID string) error

	GuildMembers(ctx context.Context, guildID string) ([]Member, error)
	GuildMember(ctx context.Context, guildID, memberID string) (*Member, error)
	SetNickname(ctx context.Context, guildID, memberID, nick string) error

	CreateScheduledEvent(ctx context.Context, guildID string, ev *ScheduledEvent) (string, error)

	DirectMessage(ctx context.Context, userID, content string) error
}
