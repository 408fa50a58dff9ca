package loader

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"github.com/guildtools/herald/internal/cache"
	"github.com/guildtools/herald/internal/herr"
	"github.com/guildtools/herald/internal/types"
)

// view reads a cached projection, refreshing the key once on a miss.
func (l *Loader) view(ctx context.Context, cat cache.Category, args ...any) (any, error) {
	if v, ok := l.cache.Get(cat, args...); ok {
		return v, nil
	}
	if err := l.RefreshKey(ctx, cache.Key(cat, args...)); err != nil {
		return nil, err
	}
	if v, ok := l.cache.Get(cat, args...); ok {
		return v, nil
	}
	return nil, fmt.Errorf("%w: %s", herr.ErrNotFound, cache.Key(cat, args...))
}

// Settings returns one guild's settings projection.
func (l *Loader) Settings(ctx context.Context, guildID string) (*types.GuildSettings, error) {
	v, err := l.view(ctx, cache.GuildData, guildID, "settings")
	if err != nil {
		return nil, err
	}
	return v.(*types.GuildSettings), nil
}

// Roles returns one guild's configured role ids.
func (l *Loader) Roles(ctx context.Context, guildID string) (*types.GuildRoles, error) {
	v, err := l.view(ctx, cache.GuildData, guildID, "roles")
	if err != nil {
		return nil, err
	}
	return v.(*types.GuildRoles), nil
}

// Channels returns one guild's configured channel ids.
func (l *Loader) Channels(ctx context.Context, guildID string) (*types.GuildChannels, error) {
	v, err := l.view(ctx, cache.GuildData, guildID, "channels")
	if err != nil {
		return nil, err
	}
	return v.(*types.GuildChannels), nil
}

// Statics returns one guild's static-group registry.
func (l *Loader) Statics(ctx context.Context, guildID string) ([]*types.StaticGroup, error) {
	v, err := l.view(ctx, cache.GuildData, guildID, "statics")
	if err != nil {
		return nil, err
	}
	return v.([]*types.StaticGroup), nil
}

// Event returns one cached event record, refreshing it on a miss.
func (l *Loader) Event(ctx context.Context, guildID, eventID string) (*types.EventRecord, error) {
	v, err := l.view(ctx, cache.EventsData, guildID, eventID)
	if err != nil {
		return nil, err
	}
	return v.(*types.EventRecord), nil
}

// Events returns every well-formed event record straight from the
// store, refreshing the cache as a side effect. Malformed rows are
// logged and skipped; the scheduler procedures only ever act on rows
// that parse.
func (l *Loader) Events(ctx context.Context) ([]*types.EventRecord, error) {
	var out []*types.EventRecord
	err := l.gw.FetchAll(ctx, "SELECT "+eventColumns+" FROM events_data", nil,
		func(rows *sql.Rows) error {
			e, err := scanEvent(rows)
			if err != nil {
				l.log.Error("skipping malformed events_data row", zap.Error(err))
				return nil
			}
			l.cache.Set(cache.EventsData, e, e.GuildID, e.EventID)
			out = append(out, e)
			return nil
		})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// OnboardingSetup collects the cached onboarding-setup artifacts for
// the given members. The onboarding flow parks them under user_data;
// members without one are simply absent and fall back to zeroed
// defaults downstream.
func (l *Loader) OnboardingSetup(guildID string, memberIDs []string) map[string]*types.OnboardingData {
	out := make(map[string]*types.OnboardingData)
	for _, id := range memberIDs {
		v, ok := l.cache.Get(cache.UserData, guildID, id, "setup")
		if !ok {
			continue
		}
		if ob, ok := v.(*types.OnboardingData); ok {
			out[id] = ob
		}
	}
	return out
}
