package loader

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/guildtools/herald/internal/cache"
	"github.com/guildtools/herald/internal/types"
)

const eventColumns = `guild_id, event_id, name, event_date, event_time,
	duration, dkp_value, dkp_ins, status, initial_members, registrations,
	actual_presence, COALESCE(game_id, 0)`

// scanEvent materializes one events_data row under the strict JSON
// schema. Malformed blobs are rejected, never coerced to empty.
func scanEvent(rows *sql.Rows) (*types.EventRecord, error) {
	var (
		e                     types.EventRecord
		date                  time.Time
		initial, regs, actual []byte
	)
	if err := rows.Scan(&e.GuildID, &e.EventID, &e.Name, &date, &e.StartTime,
		&e.Duration, &e.DKPValue, &e.DKPIns, &e.Status,
		&initial, &regs, &actual, &e.GameID); err != nil {
		return nil, err
	}
	e.Date = date
	if !e.Status.Valid() {
		return nil, fmt.Errorf("event %s/%s: unknown status %q", e.GuildID, e.EventID, e.Status)
	}
	book, err := types.UnmarshalBook(regs)
	if err != nil {
		return nil, fmt.Errorf("event %s/%s: %w", e.GuildID, e.EventID, err)
	}
	e.Book = book
	if e.InitialMembers, err = types.UnmarshalIDList(initial); err != nil {
		return nil, fmt.Errorf("event %s/%s: %w", e.GuildID, e.EventID, err)
	}
	if e.ActualPresence, err = types.UnmarshalIDList(actual); err != nil {
		return nil, fmt.Errorf("event %s/%s: %w", e.GuildID, e.EventID, err)
	}
	return &e, nil
}

// loadEventsData hydrates every event record and its registration
// book. Rows failing JSON validation are flagged for manual repair:
// the loader keeps going, caches the good rows, and returns the
// aggregated error so the category stays unmarked.
func (l *Loader) loadEventsData(ctx context.Context) error {
	var malformed error
	err := l.gw.FetchAll(ctx, "SELECT "+eventColumns+" FROM events_data", nil,
		func(rows *sql.Rows) error {
			e, err := scanEvent(rows)
			if err != nil {
				l.log.Error("events_data row needs manual repair", zap.Error(err))
				malformed = multierr.Append(malformed, err)
				return nil
			}
			l.cache.Set(cache.EventsData, e, e.GuildID, e.EventID)
			return nil
		})
	if err != nil {
		return err
	}
	return malformed
}

// refreshEvent re-materializes one (guild, event) record.
func (l *Loader) refreshEvent(ctx context.Context, guildID, eventID string) error {
	query := "SELECT " + eventColumns + " FROM events_data WHERE guild_id = ? AND event_id = ?"
	return l.gw.FetchAll(ctx, query, []any{guildID, eventID}, func(rows *sql.Rows) error {
		e, err := scanEvent(rows)
		if err != nil {
			return err
		}
		l.cache.Set(cache.EventsData, e, e.GuildID, e.EventID)
		return nil
	})
}
