// Package roster reconciles the authoritative guild_members table, the
// cached roster projection and the live chat-platform roster. The diff
// (delete/update/insert) is applied as one atomic transactional batch;
// the cache is only touched after the batch commits.
package roster

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/guildtools/herald/internal/cache"
	"github.com/guildtools/herald/internal/store"
	"github.com/guildtools/herald/internal/types"
)

// opsCapAdvisory is logged when a single reconciliation exceeds it.
// The batch is still applied; the cap is advisory only.
const opsCapAdvisory = 1000

// updatableColumns is the allow-list for dynamic SET clause assembly.
// Reconciliation may never write a column outside this set.
var updatableColumns = map[string]bool{
	"username": true,
	"language": true,
	"GS":       true,
	"build":    true,
	"weapons":  true,
	"class":    true,
}

// LiveMember is one member of the live chat-platform roster.
type LiveMember struct {
	ID          string
	DisplayName string
	Locale      string
	IsBot       bool
	RoleIDs     []string
}

// NameNormalizer is the pluggable hook for guild-name normalization
// (typo-variant dedup is out of core scope).
type NameNormalizer interface {
	Normalize(name string) string
}

type passthrough struct{}

func (passthrough) Normalize(name string) string { return name }

// Reconciler computes and applies the roster diff for one guild.
type Reconciler struct {
	gw         *store.Gateway
	cache      *cache.Cache
	log        *zap.Logger
	normalizer NameNormalizer
}

// New builds a reconciler with the pass-through name normalizer.
func New(gw *store.Gateway, c *cache.Cache, log *zap.Logger) *Reconciler {
	return &Reconciler{gw: gw, cache: c, log: log, normalizer: passthrough{}}
}

// SetNameNormalizer replaces the name-normalization hook.
func (r *Reconciler) SetNameNormalizer(n NameNormalizer) {
	if n != nil {
		r.normalizer = n
	}
}

// Input bundles everything one reconciliation needs.
type Input struct {
	GuildID    string
	Live       []LiveMember
	Roles      *types.GuildRoles
	Onboarding map[string]*types.OnboardingData
	Catalog    *types.StaticCatalog
}

// Result reports the applied operation counts.
type Result struct {
	Deleted  int
	Updated  int
	Inserted int
}

// Reconcile diffs the live roster against the store snapshot and
// applies the delta atomically. On transaction failure it returns a
// zero Result and leaves both store and cache untouched.
func (r *Reconciler) Reconcile(ctx context.Context, in Input) (Result, error) {
	actual := r.filterLive(in)

	stored, err := r.snapshot(ctx, in.GuildID)
	if err != nil {
		return Result{}, fmt.Errorf("reading roster snapshot: %w", err)
	}

	storedIDs := lo.Keys(stored)
	actualIDs := lo.Keys(actual)

	toDelete, _ := lo.Difference(storedIDs, actualIDs)
	toInsert, _ := lo.Difference(actualIDs, storedIDs)
	common := lo.Intersect(storedIDs, actualIDs)

	var stmts []store.Stmt
	if len(toDelete) > 0 {
		stmts = append(stmts, deleteStmt(in.GuildID, toDelete))
	}

	updated := 0
	touched := make([]any, 0, len(common)+len(toInsert))
	for _, id := range common {
		changes := r.changeSet(stored[id], actual[id], in.Onboarding[id], in.Catalog)
		if len(changes) == 0 {
			continue
		}
		stmt, err := updateStmt(in.GuildID, id, changes)
		if err != nil {
			return Result{}, err
		}
		stmts = append(stmts, stmt)
		touched = append(touched, id)
		updated++
	}

	inserted := 0
	for _, id := range toInsert {
		stmts = append(stmts, upsertStmt(r.insertRow(in, actual[id])))
		touched = append(touched, id)
		inserted++
	}

	if len(stmts) == 0 {
		return Result{}, nil
	}
	if len(stmts) > opsCapAdvisory {
		r.log.Warn("roster batch exceeds advisory cap",
			zap.String("guild", in.GuildID), zap.Int("ops", len(stmts)))
	}

	if err := r.gw.ExecBatch(ctx, stmts); err != nil {
		r.log.Error("roster reconciliation batch failed",
			zap.String("guild", in.GuildID), zap.Error(err))
		return Result{}, err
	}

	// Post-apply: drop the stale projections (one-hop rule graph pulls
	// events_data along) and refresh the touched rows from the store.
	r.cache.InvalidateCategory(cache.RosterData)
	r.cache.InvalidateRelated(cache.RosterData)
	r.refreshProjections(ctx, in.GuildID, touched)

	return Result{Deleted: len(toDelete), Updated: updated, Inserted: inserted}, nil
}

// filterLive drops bots and restricts to members carrying the members
// or absent-members role.
func (r *Reconciler) filterLive(in Input) map[string]LiveMember {
	out := make(map[string]LiveMember, len(in.Live))
	for _, m := range in.Live {
		if m.IsBot {
			continue
		}
		if in.Roles != nil && !hasAnyRole(m.RoleIDs, in.Roles.Members, in.Roles.AbsentMembers) {
			continue
		}
		out[m.ID] = m
	}
	return out
}

func hasAnyRole(roleIDs []string, wanted ...string) bool {
	for _, have := range roleIDs {
		for _, want := range wanted {
			if want != "" && have == want {
				return true
			}
		}
	}
	return false
}

// memberColumns coalesces nullable columns so projections always carry
// concrete values (GS null reads as 0).
const memberColumns = `guild_id, member_id, username, language,
	COALESCE(GS, 0), COALESCE(build, ''), COALESCE(weapons, 'NULL'),
	COALESCE(class, 'NULL'), COALESCE(DKP, 0), COALESCE(nb_events, 0),
	COALESCE(registrations, 0), COALESCE(attendances, 0)`

func scanMember(rows *sql.Rows) (*types.MemberProjection, error) {
	var m types.MemberProjection
	if err := rows.Scan(&m.GuildID, &m.MemberID, &m.Username, &m.Language,
		&m.GS, &m.Build, &m.Weapons, &m.Class, &m.DKP,
		&m.NbEvents, &m.Registrations, &m.Attendances); err != nil {
		return nil, err
	}
	return &m, nil
}

// snapshot reads the current guild_members rows for the guild.
func (r *Reconciler) snapshot(ctx context.Context, guildID string) (map[string]*types.MemberProjection, error) {
	out := make(map[string]*types.MemberProjection)
	query := "SELECT " + memberColumns + " FROM guild_members WHERE guild_id = ?"
	err := r.gw.FetchAll(ctx, query, []any{guildID}, func(rows *sql.Rows) error {
		m, err := scanMember(rows)
		if err != nil {
			return err
		}
		out[m.MemberID] = m
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// refreshProjections re-reads the touched rows after the batch commits
// so the cache reflects the merged store state. Best effort: on failure
// the category stays cold and the next read reloads it.
func (r *Reconciler) refreshProjections(ctx context.Context, guildID string, memberIDs []any) {
	if len(memberIDs) == 0 {
		return
	}
	query := "SELECT " + memberColumns + " FROM guild_members WHERE guild_id = ? AND member_id IN (%s)"
	err := r.gw.FetchIN(ctx, query, []any{guildID}, memberIDs, func(rows *sql.Rows) error {
		m, err := scanMember(rows)
		if err != nil {
			return err
		}
		r.cache.Set(cache.RosterData, m, m.GuildID, m.MemberID)
		return nil
	})
	if err != nil {
		r.log.Warn("roster projection refresh failed",
			zap.String("guild", guildID), zap.Error(err))
	}
}

// changeSet compares a stored row against the live member field by
// field and returns the columns to update. Gear score and build come
// from the onboarding-setup snapshot; without one those columns are
// left alone.
func (r *Reconciler) changeSet(stored *types.MemberProjection, live LiveMember, ob *types.OnboardingData, catalog *types.StaticCatalog) map[string]any {
	changes := make(map[string]any)

	if name := r.normalizer.Normalize(live.DisplayName); name != "" && name != stored.Username {
		changes["username"] = name
	}
	if lang := BaseLanguage(live.Locale); live.Locale != "" && lang != stored.Language {
		changes["language"] = lang
	}
	if ob != nil {
		if ob.GS != stored.GS {
			changes["GS"] = ob.GS
		}
		if ob.Build != stored.Build {
			changes["build"] = ob.Build
		}
	}
	normalized := NormalizeWeapons(stored.Weapons, catalog)
	if normalized != stored.Weapons {
		changes["weapons"] = normalized
	}
	if class := DeriveClass(normalized, catalog); class != stored.Class {
		changes["class"] = class
	}
	return changes
}

// insertRow builds the projection for a member joining the store,
// seeded from onboarding data when present, zeroed otherwise.
func (r *Reconciler) insertRow(in Input, live LiveMember) *types.MemberProjection {
	row := &types.MemberProjection{
		GuildID:  in.GuildID,
		MemberID: live.ID,
		Username: r.normalizer.Normalize(live.DisplayName),
		Language: BaseLanguage(live.Locale),
		Weapons:  types.ClassUnknown,
		Class:    types.ClassUnknown,
	}
	if ob := in.Onboarding[live.ID]; ob != nil {
		row.Language = BaseLanguage(ob.Locale)
		row.GS = ob.GS
		row.Build = ob.Build
		row.Weapons = NormalizeWeapons(ob.Weapons, in.Catalog)
		row.Class = DeriveClass(row.Weapons, in.Catalog)
	}
	return row
}

func deleteStmt(guildID string, ids []string) store.Stmt {
	if len(ids) == 1 {
		return store.Stmt{
			SQL:  "DELETE FROM guild_members WHERE guild_id = ? AND member_id = ?",
			Args: []any{guildID, ids[0]},
		}
	}
	args := make([]any, 0, len(ids)+1)
	args = append(args, guildID)
	for _, id := range ids {
		args = append(args, id)
	}
	return store.Stmt{
		SQL: fmt.Sprintf("DELETE FROM guild_members WHERE guild_id = ? AND member_id IN (%s)",
			store.Placeholders(len(ids))),
		Args: args,
	}
}

// updateStmt assembles a SET clause restricted to the column
// allow-list. Unknown columns are an error, not a skip: a stray name
// here means a bug upstream, and dynamic SQL is the injection surface.
func updateStmt(guildID, memberID string, changes map[string]any) (store.Stmt, error) {
	cols := lo.Keys(changes)
	// Deterministic statement text for identical change sets.
	sort.Strings(cols)

	sets := make([]string, 0, len(cols))
	args := make([]any, 0, len(cols)+2)
	for _, col := range cols {
		if !updatableColumns[col] {
			return store.Stmt{}, fmt.Errorf("column %q not in roster update allow-list", col)
		}
		sets = append(sets, "`"+col+"` = ?")
		args = append(args, changes[col])
	}
	args = append(args, guildID, memberID)
	return store.Stmt{
		SQL:  "UPDATE guild_members SET " + joinSets(sets) + " WHERE guild_id = ? AND member_id = ?",
		Args: args,
	}, nil
}

func upsertStmt(m *types.MemberProjection) store.Stmt {
	return store.Stmt{
		SQL: `INSERT INTO guild_members
			(guild_id, member_id, username, language, GS, build, weapons, class, DKP, nb_events, registrations, attendances)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON DUPLICATE KEY UPDATE
			username = VALUES(username), language = VALUES(language),
			GS = VALUES(GS), build = VALUES(build), weapons = VALUES(weapons),
			class = VALUES(class)`,
		Args: []any{m.GuildID, m.MemberID, m.Username, m.Language, m.GS,
			m.Build, m.Weapons, m.Class, m.DKP, m.NbEvents,
			m.Registrations, m.Attendances},
	}
}

func joinSets(sets []string) string {
	return strings.Join(sets, ", ")
}
