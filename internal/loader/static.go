package loader

import (
	"context"
	"database/sql"
	"sort"

	"github.com/guildtools/herald/internal/cache"
	"github.com/guildtools/herald/internal/types"
)

// loadStaticData hydrates the per-game weapon catalogues, class
// combinations and game metadata.
func (l *Loader) loadStaticData(ctx context.Context) error {
	catalogs := make(map[int64]*types.StaticCatalog)
	catalog := func(gameID int64) *types.StaticCatalog {
		c := catalogs[gameID]
		if c == nil {
			c = &types.StaticCatalog{
				GameID:       gameID,
				Weapons:      make(map[string]string),
				Combinations: make(map[[2]string]string),
			}
			catalogs[gameID] = c
		}
		return c
	}

	err := l.gw.FetchAll(ctx, "SELECT game_id, code, name FROM weapons", nil,
		func(rows *sql.Rows) error {
			var (
				gameID     int64
				code, name string
			)
			if err := rows.Scan(&gameID, &code, &name); err != nil {
				return err
			}
			catalog(gameID).Weapons[code] = name
			return nil
		})
	if err != nil {
		return err
	}

	err = l.gw.FetchAll(ctx, "SELECT game_id, weapon1, weapon2, role FROM weapons_combinations", nil,
		func(rows *sql.Rows) error {
			var (
				gameID       int64
				w1, w2, role string
			)
			if err := rows.Scan(&gameID, &w1, &w2, &role); err != nil {
				return err
			}
			// Combinations are keyed by the sorted pair so lookups are
			// order-independent.
			pair := [2]string{w1, w2}
			sort.Strings(pair[:])
			catalog(gameID).Combinations[pair] = role
			return nil
		})
	if err != nil {
		return err
	}

	for gameID, c := range catalogs {
		l.cache.Set(cache.StaticData, c, gameID, "catalog")
	}

	return l.gw.FetchAll(ctx, "SELECT id, game_name, max_members FROM games_list", nil,
		func(rows *sql.Rows) error {
			var g types.Game
			if err := rows.Scan(&g.ID, &g.Name, &g.MaxMembers); err != nil {
				return err
			}
			l.cache.Set(cache.StaticData, &g, g.ID, "game")
			return nil
		})
}

// Catalog returns the cached weapon catalogue of a game, ensuring
// static_data is loaded first.
func (l *Loader) Catalog(ctx context.Context, gameID int64) (*types.StaticCatalog, error) {
	if err := l.Ensure(ctx, cache.StaticData); err != nil {
		return nil, err
	}
	if v, ok := l.cache.Get(cache.StaticData, gameID, "catalog"); ok {
		if c, ok := v.(*types.StaticCatalog); ok {
			return c, nil
		}
	}
	return nil, nil
}
