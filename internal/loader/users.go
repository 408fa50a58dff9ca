package loader

import (
	"context"
	"database/sql"

	"github.com/guildtools/herald/internal/cache"
	"github.com/guildtools/herald/internal/types"
)

// loadUserData hydrates the per-member onboarding artifacts (welcome
// message locators).
func (l *Loader) loadUserData(ctx context.Context) error {
	query := "SELECT guild_id, member_id, channel_id, message_id FROM welcome_messages"
	return l.gw.FetchAll(ctx, query, nil, func(rows *sql.Rows) error {
		var w types.WelcomeMessage
		if err := rows.Scan(&w.GuildID, &w.MemberID, &w.ChannelID, &w.MessageID); err != nil {
			return err
		}
		l.cache.Set(cache.UserData, &w, w.GuildID, w.MemberID, "welcome")
		return nil
	})
}
