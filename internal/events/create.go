package events

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/guildtools/herald/internal/chat"
	"github.com/guildtools/herald/internal/herr"
	"github.com/guildtools/herald/internal/types"
)

// defaultDuration applies when a creation request carries none.
const defaultDuration = 60 // minutes

// CreateRequest is one manual event creation.
type CreateRequest struct {
	Name     string
	When     string // natural-language date/time, e.g. "tomorrow at 20:30"
	Duration int    // minutes
	DKPValue int
	DKPIns   int
}

// CreateManual parses the request, announces the event in the guild's
// events channel and persists the Planned record. The announcement
// message id becomes the event id.
func (lc *Lifecycle) CreateManual(ctx context.Context, guildID string, req CreateRequest) (*types.EventRecord, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: event name required", herr.ErrValidation)
	}

	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	now := lc.now().In(lc.loc)
	r, err := w.Parse(req.When, now)
	if err != nil || r == nil {
		return nil, fmt.Errorf("%w: cannot parse %q as a date", herr.ErrValidation, req.When)
	}
	start := r.Time.In(lc.loc)
	if !start.After(now) {
		return nil, fmt.Errorf("%w: %q is in the past", herr.ErrValidation, req.When)
	}

	duration := req.Duration
	if duration <= 0 {
		duration = defaultDuration
	}

	settings, err := lc.loader.Settings(ctx, guildID)
	if err != nil {
		return nil, err
	}

	e := &types.EventRecord{
		GuildID:        guildID,
		Name:           name,
		Date:           time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, lc.loc),
		StartTime:      start.Format("15:04"),
		Duration:       duration,
		DKPValue:       req.DKPValue,
		DKPIns:         req.DKPIns,
		Status:         types.StatusPlanned,
		Book:           types.NewRegistrationBook(),
		ActualPresence: []string{},
		GameID:         settings.GameID,
	}
	if err := lc.announce(ctx, e); err != nil {
		return nil, err
	}
	return e, nil
}

// announce posts the embed, seeds the marker reactions, persists the
// record and mirrors it as a platform scheduled event. Only the store
// insert is load-bearing; reaction and scheduled-event failures are
// logged.
func (lc *Lifecycle) announce(ctx context.Context, e *types.EventRecord) error {
	channels, err := lc.loader.Channels(ctx, e.GuildID)
	if err != nil {
		return err
	}
	if channels.EventsChannel == "" {
		return fmt.Errorf("%w: guild %s has no events channel", herr.ErrValidation, e.GuildID)
	}

	e.InitialMembers = lc.initialMembers(ctx, e.GuildID)

	messageID, err := lc.api.SendEmbed(ctx, channels.EventsChannel, Render(e, lc.loc))
	if err != nil {
		return err
	}
	e.EventID = messageID

	for _, emoji := range []string{EmojiPresence, EmojiTentative, EmojiAbsence} {
		if err := lc.api.AddReaction(ctx, channels.EventsChannel, messageID, emoji); err != nil {
			lc.log.Warn("seeding marker reaction",
				zap.String("event", messageID), zap.String("emoji", emoji), zap.Error(err))
		}
	}

	if err := lc.insert(ctx, e); err != nil {
		return err
	}

	start := e.StartAt(lc.loc)
	if _, err := lc.api.CreateScheduledEvent(ctx, e.GuildID, &chat.ScheduledEvent{
		Name:     e.Name,
		Location: "In game",
		StartAt:  start.Unix(),
		EndAt:    e.EndAt(lc.loc).Unix(),
	}); err != nil {
		lc.log.Warn("platform scheduled event not created",
			zap.String("event", e.EventID), zap.Error(err))
	}
	return nil
}

// initialMembers snapshots the members-role holders eligible when the
// event is announced. Best effort: an unreadable roster leaves the
// snapshot empty instead of blocking the announcement.
func (lc *Lifecycle) initialMembers(ctx context.Context, guildID string) []string {
	roles, err := lc.loader.Roles(ctx, guildID)
	if err != nil {
		lc.log.Warn("roles unavailable for eligibility snapshot",
			zap.String("guild", guildID), zap.Error(err))
		return []string{}
	}
	live, err := lc.api.GuildMembers(ctx, guildID)
	if err != nil {
		lc.log.Warn("roster unavailable for eligibility snapshot",
			zap.String("guild", guildID), zap.Error(err))
		return []string{}
	}
	out := []string{}
	for _, m := range live {
		if m.IsBot || !hasRole(m.RoleIDs, roles.Members) {
			continue
		}
		out = append(out, m.ID)
	}
	return out
}

// calendarEntries reads the per-game weekly calendar slots for one
// weekday.
func (lc *Lifecycle) calendarEntries(ctx context.Context, day time.Weekday) ([]types.CalendarEntry, error) {
	var out []types.CalendarEntry
	err := lc.gw.FetchAll(ctx,
		`SELECT game_id, weekday, name, start_hh, start_mm, duration, dkp_value
		 FROM games_calendar WHERE weekday = ?`, []any{int(day)},
		func(rows *sql.Rows) error {
			var (
				e  types.CalendarEntry
				wd int
			)
			if err := rows.Scan(&e.GameID, &wd, &e.Name, &e.StartHH, &e.StartMM,
				&e.Duration, &e.DKPValue); err != nil {
				return err
			}
			e.Weekday = time.Weekday(wd)
			out = append(out, e)
			return nil
		})
	return out, err
}

// CreateDailyEvents materializes today's calendar slots as Planned
// events for every initialized guild playing the slot's game. Already
// announced (guild, name, date) combinations are skipped, so the job is
// idempotent within a day.
func (lc *Lifecycle) CreateDailyEvents(ctx context.Context) error {
	today := lc.now().In(lc.loc)
	entries, err := lc.calendarEntries(ctx, today.Weekday())
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return nil
	}

	type guildGame struct {
		guildID string
		gameID  int64
	}
	var guilds []guildGame
	err = lc.gw.FetchAll(ctx,
		`SELECT gs.guild_id, COALESCE(gl.id, 0)
		 FROM guild_settings gs
		 LEFT JOIN games_list gl ON gl.game_name = gs.guild_game
		 WHERE gs.initialized = 1`, nil,
		func(rows *sql.Rows) error {
			var g guildGame
			if err := rows.Scan(&g.guildID, &g.gameID); err != nil {
				return err
			}
			guilds = append(guilds, g)
			return nil
		})
	if err != nil {
		return err
	}

	existing := make(map[string]bool)
	all, err := lc.loader.Events(ctx)
	if err != nil {
		return err
	}
	for _, e := range all {
		existing[e.GuildID+"|"+e.Name+"|"+e.Date.Format("2006-01-02")] = true
	}

	date := time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, lc.loc)
	var errs error
	for _, g := range guilds {
		for _, entry := range entries {
			if entry.GameID != g.gameID {
				continue
			}
			if existing[g.guildID+"|"+entry.Name+"|"+date.Format("2006-01-02")] {
				continue
			}
			e := &types.EventRecord{
				GuildID:        g.guildID,
				Name:           entry.Name,
				Date:           date,
				StartTime:      fmt.Sprintf("%02d:%02d", entry.StartHH, entry.StartMM),
				Duration:       entry.Duration,
				DKPValue:       entry.DKPValue,
				Status:         types.StatusPlanned,
				Book:           types.NewRegistrationBook(),
				ActualPresence: []string{},
				GameID:         entry.GameID,
			}
			if err := lc.announce(ctx, e); err != nil {
				lc.log.Error("daily event creation failed",
					zap.String("guild", g.guildID), zap.String("name", entry.Name), zap.Error(err))
				errs = multierr.Append(errs, err)
			}
		}
	}
	return errs
}
