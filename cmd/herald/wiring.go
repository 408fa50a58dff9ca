package main

import (
	"context"
	"database/sql"

	"go.uber.org/multierr"

	"github.com/guildtools/herald/internal/chat"
	"github.com/guildtools/herald/internal/events"
	"github.com/guildtools/herald/internal/groups"
	"github.com/guildtools/herald/internal/loader"
	"github.com/guildtools/herald/internal/roster"
	"github.com/guildtools/herald/internal/store"
	"github.com/guildtools/herald/internal/types"
)

// groupFormer bridges the event lifecycle to the pure group-formation
// pipeline.
type groupFormer struct{}

func (groupFormer) FormGroups(book *types.RegistrationBook, projection map[string]*types.MemberProjection, statics []*types.StaticGroup) ([]events.FormedGroup, error) {
	formed := groups.Form(groups.FromBook(book, projection), statics)
	out := make([]events.FormedGroup, 0, len(formed))
	for _, g := range formed {
		fg := events.FormedGroup{Name: g.Name, AvgGS: g.AvgGS()}
		for _, m := range g.Members {
			fg.Members = append(fg.Members, m.ID)
		}
		out = append(out, fg)
	}
	return out, nil
}

// reconcileAll sweeps every configured guild through the roster
// reconciler. Per-guild failures are aggregated, not fatal.
func reconcileAll(ctx context.Context, gw *store.Gateway, ld *loader.Loader, api chat.API, r *roster.Reconciler) error {
	var guildIDs []string
	err := gw.FetchAll(ctx, "SELECT guild_id FROM guild_settings WHERE initialized = 1", nil,
		func(rows *sql.Rows) error {
			var id string
			if err := rows.Scan(&id); err != nil {
				return err
			}
			guildIDs = append(guildIDs, id)
			return nil
		})
	if err != nil {
		return err
	}

	var errs error
	for _, guildID := range guildIDs {
		if err := reconcileGuild(ctx, ld, api, r, guildID); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	return errs
}

func reconcileGuild(ctx context.Context, ld *loader.Loader, api chat.API, r *roster.Reconciler, guildID string) error {
	settings, err := ld.Settings(ctx, guildID)
	if err != nil {
		return err
	}
	roles, err := ld.Roles(ctx, guildID)
	if err != nil {
		return err
	}
	catalog, err := ld.Catalog(ctx, settings.GameID)
	if err != nil {
		return err
	}
	members, err := api.GuildMembers(ctx, guildID)
	if err != nil {
		return err
	}

	live := make([]roster.LiveMember, 0, len(members))
	memberIDs := make([]string, 0, len(members))
	for _, m := range members {
		live = append(live, roster.LiveMember{
			ID:          m.ID,
			DisplayName: m.DisplayName,
			Locale:      m.Locale,
			IsBot:       m.IsBot,
			RoleIDs:     m.RoleIDs,
		})
		memberIDs = append(memberIDs, m.ID)
	}

	_, err = r.Reconcile(ctx, roster.Input{
		GuildID:    guildID,
		Live:       live,
		Roles:      roles,
		Onboarding: ld.OnboardingSetup(guildID, memberIDs),
		Catalog:    catalog,
	})
	return err
}
