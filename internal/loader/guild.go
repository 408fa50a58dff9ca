package loader

import (
	"context"
	"database/sql"

	"github.com/guildtools/herald/internal/cache"
	"github.com/guildtools/herald/internal/types"
)

// loadGuildData hydrates settings, roles, channels and static groups
// for every guild.
func (l *Loader) loadGuildData(ctx context.Context) error {
	if err := l.loadSettings(ctx, ""); err != nil {
		return err
	}
	if err := l.loadRoles(ctx, ""); err != nil {
		return err
	}
	if err := l.loadChannels(ctx, ""); err != nil {
		return err
	}
	return l.loadStaticGroups(ctx, "")
}

// refreshGuild re-materializes one guild's guild_data projections.
func (l *Loader) refreshGuild(ctx context.Context, guildID string) error {
	if err := l.loadSettings(ctx, guildID); err != nil {
		return err
	}
	if err := l.loadRoles(ctx, guildID); err != nil {
		return err
	}
	if err := l.loadChannels(ctx, guildID); err != nil {
		return err
	}
	return l.loadStaticGroups(ctx, guildID)
}

// guildFilter appends an optional per-guild WHERE clause.
func guildFilter(query, column, guildID string) (string, []any) {
	if guildID == "" {
		return query, nil
	}
	return query + " WHERE " + column + " = ?", []any{guildID}
}

func (l *Loader) loadSettings(ctx context.Context, guildID string) error {
	query, args := guildFilter(`
		SELECT gs.guild_id, gs.guild_lang, gs.guild_name, gs.guild_game,
		       gs.guild_server, gs.initialized, gs.premium, gs.guild_ptb,
		       COALESCE(gl.id, 0)
		FROM guild_settings gs
		LEFT JOIN games_list gl ON gl.game_name = gs.guild_game`, "gs.guild_id", guildID)
	return l.gw.FetchAll(ctx, query, args, func(rows *sql.Rows) error {
		var s types.GuildSettings
		if err := rows.Scan(&s.GuildID, &s.Lang, &s.Name, &s.Game, &s.Server,
			&s.Initialized, &s.Premium, &s.PTB, &s.GameID); err != nil {
			return err
		}
		l.cache.Set(cache.GuildData, &s, s.GuildID, "settings")
		return nil
	})
}

func (l *Loader) loadRoles(ctx context.Context, guildID string) error {
	query, args := guildFilter(`
		SELECT guild_id, members, absent_members, rules_ok, guild_master,
		       officer, guardian, allies, diplomats, friends, applicant, config_ok
		FROM guild_roles`, "guild_id", guildID)
	return l.gw.FetchAll(ctx, query, args, func(rows *sql.Rows) error {
		var r types.GuildRoles
		if err := rows.Scan(&r.GuildID, &r.Members, &r.AbsentMembers, &r.RulesOK,
			&r.GuildMaster, &r.Officer, &r.Guardian, &r.Allies, &r.Diplomats,
			&r.Friends, &r.Applicant, &r.ConfigOK); err != nil {
			return err
		}
		l.cache.Set(cache.GuildData, &r, r.GuildID, "roles")
		return nil
	})
}

func (l *Loader) loadChannels(ctx context.Context, guildID string) error {
	query, args := guildFilter(`
		SELECT guild_id, events_channel, members_channel, rules_channel,
		       rules_message, abs_channel, groups_channel, statics_channel,
		       statics_message, notifications_channel, create_room_channel,
		       voice_war_channel
		FROM guild_channels`, "guild_id", guildID)
	return l.gw.FetchAll(ctx, query, args, func(rows *sql.Rows) error {
		var c types.GuildChannels
		if err := rows.Scan(&c.GuildID, &c.EventsChannel, &c.MembersChannel,
			&c.RulesChannel, &c.RulesMessage, &c.AbsChannel, &c.GroupsChannel,
			&c.StaticsChannel, &c.StaticsMessage, &c.NotificationsChannel,
			&c.CreateRoomChannel, &c.VoiceWarChannel); err != nil {
			return err
		}
		l.cache.Set(cache.GuildData, &c, c.GuildID, "channels")
		return nil
	})
}

// loadStaticGroups materializes the per-guild static-group registry as
// one guild_data entry holding the ordered groups.
func (l *Loader) loadStaticGroups(ctx context.Context, guildID string) error {
	query, args := guildFilter(`
		SELECT g.id, g.guild_id, g.group_name, g.leader_id, g.is_active,
		       m.member_id
		FROM guild_static_groups g
		LEFT JOIN guild_static_members m ON m.group_id = g.id`, "g.guild_id", guildID)
	query += " ORDER BY g.guild_id, g.id, m.position_order"

	byGuild := make(map[string][]*types.StaticGroup)
	current := make(map[int64]*types.StaticGroup)
	err := l.gw.FetchAll(ctx, query, args, func(rows *sql.Rows) error {
		var (
			g        types.StaticGroup
			memberID sql.NullString
		)
		if err := rows.Scan(&g.ID, &g.GuildID, &g.Name, &g.LeaderID, &g.Active, &memberID); err != nil {
			return err
		}
		grp := current[g.ID]
		if grp == nil {
			grp = &types.StaticGroup{ID: g.ID, GuildID: g.GuildID, Name: g.Name, LeaderID: g.LeaderID, Active: g.Active}
			current[g.ID] = grp
			byGuild[g.GuildID] = append(byGuild[g.GuildID], grp)
		}
		if memberID.Valid {
			grp.Members = append(grp.Members, memberID.String)
		}
		return nil
	})
	if err != nil {
		return err
	}
	for gid, groups := range byGuild {
		l.cache.Set(cache.GuildData, groups, gid, "statics")
	}
	return nil
}
