package chat

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/guildtools/herald/internal/herr"
)

// callTimeout bounds every platform call.
const callTimeout = 10 * time.Second

// membersPageSize is the platform's per-page maximum for member lists.
const membersPageSize = 1000

// Discord adapts a discordgo session to the API interface.
type Discord struct {
	s *discordgo.Session
}

var _ API = (*Discord)(nil)

// NewDiscord wraps an open discordgo session.
func NewDiscord(s *discordgo.Session) *Discord {
	return &Discord{s: s}
}

// mapErr translates REST failures into the core taxonomy. A 404 means
// the entity is already gone; callers treat that as cleanup done.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if rerr, ok := err.(*discordgo.RESTError); ok && rerr.Response != nil {
		switch rerr.Response.StatusCode {
		case http.StatusNotFound:
			return fmt.Errorf("%w: %v", herr.ErrNotFound, err)
		case http.StatusForbidden:
			return fmt.Errorf("%w: %v", herr.ErrForbidden, err)
		case http.StatusTooManyRequests, http.StatusBadGateway,
			http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			return fmt.Errorf("%w: %v", herr.ErrTransient, err)
		}
	}
	return err
}

func bounded(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, callTimeout)
}

func (d *Discord) SendMessage(ctx context.Context, channelID, content string) (string, error) {
	ctx, cancel := bounded(ctx)
	defer cancel()
	m, err := d.s.ChannelMessageSend(channelID, content, discordgo.WithContext(ctx))
	if err != nil {
		return "", mapErr(err)
	}
	return m.ID, nil
}

func (d *Discord) SendEmbed(ctx context.Context, channelID string, e *Embed) (string, error) {
	ctx, cancel := bounded(ctx)
	defer cancel()
	m, err := d.s.ChannelMessageSendEmbed(channelID, toDiscordEmbed(e), discordgo.WithContext(ctx))
	if err != nil {
		return "", mapErr(err)
	}
	return m.ID, nil
}

func (d *Discord) EditEmbed(ctx context.Context, channelID, messageID string, e *Embed) error {
	ctx, cancel := bounded(ctx)
	defer cancel()
	_, err := d.s.ChannelMessageEditEmbed(channelID, messageID, toDiscordEmbed(e), discordgo.WithContext(ctx))
	return mapErr(err)
}

func (d *Discord) DeleteMessage(ctx context.Context, channelID, messageID string) error {
	ctx, cancel := bounded(ctx)
	defer cancel()
	return mapErr(d.s.ChannelMessageDelete(channelID, messageID, discordgo.WithContext(ctx)))
}

func (d *Discord) FetchMessage(ctx context.Context, channelID, messageID string) (*Message, error) {
	ctx, cancel := bounded(ctx)
	defer cancel()
	m, err := d.s.ChannelMessage(channelID, messageID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, mapErr(err)
	}
	return &Message{ID: m.ID, ChannelID: m.ChannelID, Content: m.Content}, nil
}

func (d *Discord) AddReaction(ctx context.Context, channelID, messageID, emoji string) error {
	ctx, cancel := bounded(ctx)
	defer cancel()
	return mapErr(d.s.MessageReactionAdd(channelID, messageID, emoji, discordgo.WithContext(ctx)))
}

func (d *Discord) ClearReactions(ctx context.Context, channelID, messageID string) error {
	ctx, cancel := bounded(ctx)
	defer cancel()
	return mapErr(d.s.MessageReactionsRemoveAll(channelID, messageID, discordgo.WithContext(ctx)))
}

func (d *Discord) RemoveReaction(ctx context.Context, channelID, messageID, emoji, userID string) error {
	ctx, cancel := bounded(ctx)
	defer cancel()
	return mapErr(d.s.MessageReactionRemove(channelID, messageID, emoji, userID, discordgo.WithContext(ctx)))
}

// GuildMembers pages through the full member list.
func (d *Discord) GuildMembers(ctx context.Context, guildID string) ([]Member, error) {
	var out []Member
	after := ""
	for {
		ctx, cancel := bounded(ctx)
		page, err := d.s.GuildMembers(guildID, after, membersPageSize, discordgo.WithContext(ctx))
		cancel()
		if err != nil {
			return nil, mapErr(err)
		}
		for _, gm := range page {
			out = append(out, fromGuildMember(gm))
		}
		if len(page) < membersPageSize {
			return out, nil
		}
		after = page[len(page)-1].User.ID
	}
}

func (d *Discord) GuildMember(ctx context.Context, guildID, memberID string) (*Member, error) {
	ctx, cancel := bounded(ctx)
	defer cancel()
	gm, err := d.s.GuildMember(guildID, memberID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, mapErr(err)
	}
	m := fromGuildMember(gm)
	return &m, nil
}

func (d *Discord) SetNickname(ctx context.Context, guildID, memberID, nick string) error {
	ctx, cancel := bounded(ctx)
	defer cancel()
	return mapErr(d.s.GuildMemberNickname(guildID, memberID, nick, discordgo.WithContext(ctx)))
}

func (d *Discord) CreateScheduledEvent(ctx context.Context, guildID string, ev *ScheduledEvent) (string, error) {
	ctx, cancel := bounded(ctx)
	defer cancel()
	start := time.Unix(ev.StartAt, 0)
	end := time.Unix(ev.EndAt, 0)
	created, err := d.s.GuildScheduledEventCreate(guildID, &discordgo.GuildScheduledEventParams{
		Name:               ev.Name,
		Description:        ev.Description,
		ScheduledStartTime: &start,
		ScheduledEndTime:   &end,
		EntityType:         discordgo.GuildScheduledEventEntityTypeExternal,
		PrivacyLevel:       discordgo.GuildScheduledEventPrivacyLevelGuildOnly,
		EntityMetadata: &discordgo.GuildScheduledEventEntityMetadata{
			Location: ev.Location,
		},
	}, discordgo.WithContext(ctx))
	if err != nil {
		return "", mapErr(err)
	}
	return created.ID, nil
}

func (d *Discord) DirectMessage(ctx context.Context, userID, content string) error {
	ctx, cancel := bounded(ctx)
	defer cancel()
	ch, err := d.s.UserChannelCreate(userID, discordgo.WithContext(ctx))
	if err != nil {
		return mapErr(err)
	}
	_, err = d.s.ChannelMessageSend(ch.ID, content, discordgo.WithContext(ctx))
	return mapErr(err)
}

func fromGuildMember(gm *discordgo.Member) Member {
	m := Member{
		DisplayName: gm.Nick,
		RoleIDs:     gm.Roles,
	}
	if gm.User != nil {
		m.ID = gm.User.ID
		m.Username = gm.User.Username
		m.Locale = gm.User.Locale
		m.IsBot = gm.User.Bot
		if m.DisplayName == "" {
			m.DisplayName = gm.User.Username
		}
	}
	return m
}

func toDiscordEmbed(e *Embed) *discordgo.MessageEmbed {
	if e == nil {
		return &discordgo.MessageEmbed{}
	}
	out := &discordgo.MessageEmbed{
		Title:       e.Title,
		Description: e.Description,
		Color:       e.Color,
	}
	for _, f := range e.Fields {
		out.Fields = append(out.Fields, &discordgo.MessageEmbedField{
			Name: f.Name, Value: f.Value, Inline: f.Inline,
		})
	}
	if e.Footer != "" {
		out.Footer = &discordgo.MessageEmbedFooter{Text: e.Footer}
	}
	return out
}
