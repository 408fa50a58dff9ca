// Package events owns the event lifecycle: creation (manual and
// calendar-driven), the reaction-registration protocol, and the
// scheduled close, reminder and delete procedures. An event's id is the
// id of its announcement message in the guild's events channel.
package events

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"

	"github.com/guildtools/herald/internal/cache"
	"github.com/guildtools/herald/internal/chat"
	"github.com/guildtools/herald/internal/herr"
	"github.com/guildtools/herald/internal/i18n"
	"github.com/guildtools/herald/internal/loader"
	"github.com/guildtools/herald/internal/store"
	"github.com/guildtools/herald/internal/types"
)

// The three exclusive registration markers.
const (
	EmojiPresence  = "✅"
	EmojiTentative = "❔"
	EmojiAbsence   = "❌"
)

// Ignore-hint bounds: a removal echo arrives within a platform
// round-trip, 3 s is generous; the cap keeps the map bounded under
// reaction storms.
const (
	hintTTL = 3 * time.Second
	hintCap = 1024
)

// Close window around an event's start instant.
const (
	closeBefore = 60 * time.Minute
	closeAfter  = 15 * time.Minute
)

func markerFor(emoji string) (types.Marker, bool) {
	switch emoji {
	case EmojiPresence:
		return types.MarkerPresence, true
	case EmojiTentative:
		return types.MarkerTentative, true
	case EmojiAbsence:
		return types.MarkerAbsence, true
	}
	return "", false
}

func emojiFor(m types.Marker) string {
	switch m {
	case types.MarkerPresence:
		return EmojiPresence
	case types.MarkerTentative:
		return EmojiTentative
	default:
		return EmojiAbsence
	}
}

// Attendance receives the frozen registration book at close for DKP
// accounting. The accounting itself lives outside the core.
type Attendance interface {
	RecordAttendance(ctx context.Context, e *types.EventRecord) error
}

type noopAttendance struct{}

func (noopAttendance) RecordAttendance(context.Context, *types.EventRecord) error { return nil }

// GroupFormer turns a frozen book plus roster into posted groups.
// Satisfied by the groups package via the Former adapter in cmd.
type GroupFormer interface {
	FormGroups(book *types.RegistrationBook, roster map[string]*types.MemberProjection, statics []*types.StaticGroup) ([]FormedGroup, error)
}

// FormedGroup is the lifecycle-facing view of one formed group.
type FormedGroup struct {
	Name    string
	Members []string // member ids, placement order
	AvgGS   float64
}

// Lifecycle drives events through their states.
type Lifecycle struct {
	gw     *store.Gateway
	cache  *cache.Cache
	loader *loader.Loader
	api    chat.API
	bundle *i18n.Bundle
	log    *zap.Logger

	attendance Attendance
	former     GroupFormer
	loc        *time.Location
	now        func() time.Time

	lockMu sync.Mutex
	locks  map[string]*eventLock
	hints  *expirable.LRU[string, struct{}]
}

type eventLock struct {
	mu   sync.Mutex
	refs int
}

// New builds the lifecycle. Times are interpreted in Europe/Paris; the
// zone falling back to UTC only happens on hosts without tzdata.
func New(gw *store.Gateway, c *cache.Cache, ld *loader.Loader, api chat.API, bundle *i18n.Bundle, log *zap.Logger) *Lifecycle {
	loc, err := time.LoadLocation("Europe/Paris")
	if err != nil {
		log.Warn("Europe/Paris tzdata unavailable, using UTC", zap.Error(err))
		loc = time.UTC
	}
	return &Lifecycle{
		gw:         gw,
		cache:      c,
		loader:     ld,
		api:        api,
		bundle:     bundle,
		log:        log,
		attendance: noopAttendance{},
		loc:        loc,
		now:        time.Now,
		locks:      make(map[string]*eventLock),
		hints:      expirable.NewLRU[string, struct{}](hintCap, nil, hintTTL),
	}
}

// SetAttendance installs the DKP accounting collaborator.
func (lc *Lifecycle) SetAttendance(a Attendance) {
	if a != nil {
		lc.attendance = a
	}
}

// SetFormer installs the group-formation collaborator.
func (lc *Lifecycle) SetFormer(f GroupFormer) { lc.former = f }

// SetClock replaces the time source (tests).
func (lc *Lifecycle) SetClock(now func() time.Time) { lc.now = now }

// Location returns the pinned event timezone.
func (lc *Lifecycle) Location() *time.Location { return lc.loc }

// lockEvent serializes all mutation of one event record. Same
// refcounted pattern as the cache's per-key locks so the map never
// grows past the set of events under concurrent mutation.
func (lc *Lifecycle) lockEvent(eventID string) func() {
	lc.lockMu.Lock()
	l := lc.locks[eventID]
	if l == nil {
		l = &eventLock{}
		lc.locks[eventID] = l
	}
	l.refs++
	lc.lockMu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		lc.lockMu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(lc.locks, eventID)
		}
		lc.lockMu.Unlock()
	}
}

// Confirm transitions Planned -> Confirmed.
func (lc *Lifecycle) Confirm(ctx context.Context, guildID, eventID string) error {
	return lc.transition(ctx, guildID, eventID, types.StatusConfirmed, types.StatusPlanned)
}

// Cancel transitions Planned or Confirmed -> Canceled.
func (lc *Lifecycle) Cancel(ctx context.Context, guildID, eventID string) error {
	return lc.transition(ctx, guildID, eventID, types.StatusCanceled,
		types.StatusPlanned, types.StatusConfirmed)
}

func (lc *Lifecycle) transition(ctx context.Context, guildID, eventID string, to types.EventStatus, from ...types.EventStatus) error {
	unlock := lc.lockEvent(eventID)
	defer unlock()

	e, err := lc.loader.Event(ctx, guildID, eventID)
	if err != nil {
		return err
	}
	allowed := false
	for _, s := range from {
		if e.Status == s {
			allowed = true
		}
	}
	if !allowed {
		return fmt.Errorf("%w: event %s is %s, cannot move to %s",
			herr.ErrValidation, eventID, e.Status, to)
	}

	if _, err := lc.gw.Exec(ctx,
		"UPDATE events_data SET status = ? WHERE guild_id = ? AND event_id = ?",
		string(to), guildID, eventID); err != nil {
		return err
	}
	next := *e
	next.Status = to
	lc.cache.Set(cache.EventsData, &next, guildID, eventID)
	return nil
}

// persistBook writes the registration book, then publishes the updated
// record to the cache. The store write always precedes the cache and
// embed updates.
func (lc *Lifecycle) persistBook(ctx context.Context, e *types.EventRecord, book *types.RegistrationBook) (*types.EventRecord, error) {
	raw, err := types.MarshalBook(book)
	if err != nil {
		return nil, err
	}
	if _, err := lc.gw.Exec(ctx,
		"UPDATE events_data SET registrations = ? WHERE guild_id = ? AND event_id = ?",
		string(raw), e.GuildID, e.EventID); err != nil {
		return nil, err
	}
	next := *e
	next.Book = book
	lc.cache.Set(cache.EventsData, &next, e.GuildID, e.EventID)
	return &next, nil
}

// insert writes a new event row, merging on the primary key so a
// replayed creation stays idempotent.
func (lc *Lifecycle) insert(ctx context.Context, e *types.EventRecord) error {
	book, err := types.MarshalBook(e.Book)
	if err != nil {
		return err
	}
	initial, err := types.MarshalIDList(e.InitialMembers)
	if err != nil {
		return err
	}
	actual, err := types.MarshalIDList(e.ActualPresence)
	if err != nil {
		return err
	}
	_, err = lc.gw.Exec(ctx, `INSERT INTO events_data
		(guild_id, event_id, name, event_date, event_time, duration,
		 dkp_value, dkp_ins, status, initial_members, registrations,
		 actual_presence, game_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
		name = VALUES(name), event_date = VALUES(event_date),
		event_time = VALUES(event_time), duration = VALUES(duration),
		dkp_value = VALUES(dkp_value), dkp_ins = VALUES(dkp_ins),
		status = VALUES(status), registrations = VALUES(registrations),
		actual_presence = VALUES(actual_presence)`,
		e.GuildID, e.EventID, e.Name, e.Date.Format("2006-01-02"),
		e.StartTime, e.Duration, e.DKPValue, e.DKPIns, string(e.Status),
		string(initial), string(book), string(actual), e.GameID)
	if err != nil {
		return err
	}
	lc.cache.Set(cache.EventsData, e, e.GuildID, e.EventID)
	return nil
}
