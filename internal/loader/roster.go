package loader

import (
	"context"
	"database/sql"

	"github.com/guildtools/herald/internal/cache"
	"github.com/guildtools/herald/internal/types"
)

const memberColumns = `guild_id, member_id, username, language,
	COALESCE(GS, 0), COALESCE(build, ''), COALESCE(weapons, 'NULL'),
	COALESCE(class, 'NULL'), COALESCE(DKP, 0), COALESCE(nb_events, 0),
	COALESCE(registrations, 0), COALESCE(attendances, 0)`

func scanMember(rows *sql.Rows) (*types.MemberProjection, error) {
	var m types.MemberProjection
	err := rows.Scan(&m.GuildID, &m.MemberID, &m.Username, &m.Language,
		&m.GS, &m.Build, &m.Weapons, &m.Class, &m.DKP,
		&m.NbEvents, &m.Registrations, &m.Attendances)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// loadRosterData hydrates the full guild-members projection, keyed by
// (guild, member).
func (l *Loader) loadRosterData(ctx context.Context) error {
	return l.gw.FetchAll(ctx, "SELECT "+memberColumns+" FROM guild_members", nil,
		func(rows *sql.Rows) error {
			m, err := scanMember(rows)
			if err != nil {
				return err
			}
			l.cache.Set(cache.RosterData, m, m.GuildID, m.MemberID)
			return nil
		})
}

// refreshMember re-materializes one (guild, member) projection.
func (l *Loader) refreshMember(ctx context.Context, guildID, memberID string) error {
	query := "SELECT " + memberColumns + " FROM guild_members WHERE guild_id = ? AND member_id = ?"
	return l.gw.FetchAll(ctx, query, []any{guildID, memberID}, func(rows *sql.Rows) error {
		m, err := scanMember(rows)
		if err != nil {
			return err
		}
		l.cache.Set(cache.RosterData, m, m.GuildID, m.MemberID)
		return nil
	})
}

// GuildRoster returns the cached projections of one guild, loading the
// category first when needed.
func (l *Loader) GuildRoster(ctx context.Context, guildID string) (map[string]*types.MemberProjection, error) {
	if err := l.Ensure(ctx, cache.RosterData); err != nil {
		return nil, err
	}
	out := make(map[string]*types.MemberProjection)
	query := "SELECT member_id FROM guild_members WHERE guild_id = ?"
	err := l.gw.FetchAll(ctx, query, []any{guildID}, func(rows *sql.Rows) error {
		var memberID string
		if err := rows.Scan(&memberID); err != nil {
			return err
		}
		if v, ok := l.cache.Get(cache.RosterData, guildID, memberID); ok {
			if m, ok := v.(*types.MemberProjection); ok {
				out[memberID] = m
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
