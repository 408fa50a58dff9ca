package events

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/guildtools/herald/internal/cache"
	"github.com/guildtools/herald/internal/herr"
	"github.com/guildtools/herald/internal/types"
)

// Translation keys with constant fallbacks.
const (
	keyReminderDM      = "event.reminder.dm"
	keyReminderSummary = "event.reminder.summary"

	fallbackReminderDM      = "Reminder: %s starts today and you have not registered yet."
	fallbackReminderSummary = "%s: %d members reminded."
)

func sameDate(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// CloseDue closes every Planned or Confirmed event whose start is
// within the close window around now. Per-event failures are logged and
// retried on the next tick; one bad event never blocks the sweep.
func (lc *Lifecycle) CloseDue(ctx context.Context) error {
	all, err := lc.loader.Events(ctx)
	if err != nil {
		return err
	}
	now := lc.now().In(lc.loc)

	var errs error
	for _, e := range all {
		if e.Status != types.StatusPlanned && e.Status != types.StatusConfirmed {
			continue
		}
		start := e.StartAt(lc.loc)
		if now.Before(start.Add(-closeBefore)) || now.After(start.Add(closeAfter)) {
			continue
		}
		if err := lc.closeOne(ctx, e.GuildID, e.EventID); err != nil {
			lc.log.Error("event close failed",
				zap.String("event", e.EventID), zap.Error(err))
			errs = multierr.Append(errs, err)
		}
	}
	return errs
}

// closeOne freezes one event: status Closed, presence snapshot persisted,
// reactions cleared, groups formed and posted, book handed to the
// attendance collaborator.
func (lc *Lifecycle) closeOne(ctx context.Context, guildID, eventID string) error {
	unlock := lc.lockEvent(eventID)
	defer unlock()

	e, err := lc.loader.Event(ctx, guildID, eventID)
	if err != nil {
		return err
	}
	if e.Status != types.StatusPlanned && e.Status != types.StatusConfirmed {
		return nil // raced with another close
	}

	actual, err := types.MarshalIDList(e.Book.Presence)
	if err != nil {
		return err
	}
	if _, err := lc.gw.Exec(ctx,
		"UPDATE events_data SET status = ?, actual_presence = ? WHERE guild_id = ? AND event_id = ?",
		string(types.StatusClosed), string(actual), guildID, eventID); err != nil {
		return err
	}
	next := *e
	next.Status = types.StatusClosed
	next.ActualPresence = e.Book.Members(types.MarkerPresence)
	lc.cache.Set(cache.EventsData, &next, guildID, eventID)

	channels, err := lc.loader.Channels(ctx, guildID)
	if err != nil {
		return err
	}
	if err := lc.api.ClearReactions(ctx, channels.EventsChannel, eventID); err != nil &&
		!errors.Is(err, herr.ErrNotFound) {
		lc.log.Warn("clearing reactions at close",
			zap.String("event", eventID), zap.Error(err))
	}
	lc.editEmbed(ctx, channels.EventsChannel, &next)

	lc.postGroups(ctx, &next, channels.GroupsChannel)

	if err := lc.attendance.RecordAttendance(ctx, &next); err != nil {
		lc.log.Error("attendance handoff failed",
			zap.String("event", eventID), zap.Error(err))
	}
	return nil
}

// postGroups runs the group former over the frozen book and posts the
// composition. Skipped when no former is wired or the guild has no
// groups channel.
func (lc *Lifecycle) postGroups(ctx context.Context, e *types.EventRecord, groupsChannel string) {
	if lc.former == nil || groupsChannel == "" {
		return
	}
	roster, err := lc.guildRoster(ctx, e.GuildID)
	if err != nil {
		lc.log.Error("roster unavailable for group formation",
			zap.String("guild", e.GuildID), zap.Error(err))
		return
	}
	statics, err := lc.loader.Statics(ctx, e.GuildID)
	if err != nil && !errors.Is(err, herr.ErrNotFound) {
		lc.log.Warn("static registry unavailable",
			zap.String("guild", e.GuildID), zap.Error(err))
	}
	formed, err := lc.former.FormGroups(e.Book, roster, statics)
	if err != nil {
		lc.log.Error("group formation failed",
			zap.String("event", e.EventID), zap.Error(err))
		return
	}
	if _, err := lc.api.SendEmbed(ctx, groupsChannel, RenderGroups(e.Name, formed)); err != nil {
		lc.log.Warn("posting groups", zap.String("event", e.EventID), zap.Error(err))
	}
}

func (lc *Lifecycle) guildRoster(ctx context.Context, guildID string) (map[string]*types.MemberProjection, error) {
	return lc.loader.GuildRoster(ctx, guildID)
}

// RemindDue direct-messages every members-role holder who has not
// registered on a Confirmed event scheduled today, then posts a summary
// to the notifications channel.
func (lc *Lifecycle) RemindDue(ctx context.Context) error {
	all, err := lc.loader.Events(ctx)
	if err != nil {
		return err
	}
	today := lc.now().In(lc.loc)

	var errs error
	for _, e := range all {
		if e.Status != types.StatusConfirmed || !sameDate(e.Date.In(lc.loc), today) {
			continue
		}
		if err := lc.remindOne(ctx, e); err != nil {
			lc.log.Error("reminder sweep failed",
				zap.String("event", e.EventID), zap.Error(err))
			errs = multierr.Append(errs, err)
		}
	}
	return errs
}

func (lc *Lifecycle) remindOne(ctx context.Context, e *types.EventRecord) error {
	roles, err := lc.loader.Roles(ctx, e.GuildID)
	if err != nil {
		return err
	}
	live, err := lc.api.GuildMembers(ctx, e.GuildID)
	if err != nil {
		return err
	}

	registered := make(map[string]bool)
	for _, id := range e.Book.Registered() {
		registered[id] = true
	}

	reminded := 0
	for _, m := range live {
		if m.IsBot || registered[m.ID] || !hasRole(m.RoleIDs, roles.Members) {
			continue
		}
		msg := lc.resolve(ctx, e.GuildID, m.ID, keyReminderDM, fallbackReminderDM, e.Name)
		if err := lc.api.DirectMessage(ctx, m.ID, msg); err != nil {
			lc.log.Warn("reminder DM failed",
				zap.String("member", m.ID), zap.Error(err))
			continue
		}
		reminded++
	}

	channels, err := lc.loader.Channels(ctx, e.GuildID)
	if err != nil {
		return err
	}
	if channels.NotificationsChannel != "" {
		summary := lc.resolve(ctx, e.GuildID, "", keyReminderSummary, fallbackReminderSummary, e.Name, reminded)
		if _, err := lc.api.SendMessage(ctx, channels.NotificationsChannel, summary); err != nil {
			lc.log.Warn("reminder summary failed",
				zap.String("event", e.EventID), zap.Error(err))
		}
	}
	return nil
}

func hasRole(roleIDs []string, want string) bool {
	if want == "" {
		return false
	}
	for _, id := range roleIDs {
		if id == want {
			return true
		}
	}
	return false
}

// resolve renders a localized message along the member > guild > en-US
// chain, with a constant fallback when the bundle has no key.
func (lc *Lifecycle) resolve(ctx context.Context, guildID, memberID, key, fallback string, args ...any) string {
	var chain []string
	if memberID != "" {
		if v, ok := lc.cache.Get(cache.RosterData, guildID, memberID); ok {
			if p, ok := v.(*types.MemberProjection); ok && p.Language != "" {
				chain = append(chain, p.Language)
			}
		}
	}
	if settings, err := lc.loader.Settings(ctx, guildID); err == nil && settings.Lang != "" {
		chain = append(chain, settings.Lang)
	}
	if msg := lc.bundle.Resolvef(key, chain, args...); msg != "" {
		return msg
	}
	return fmt.Sprintf(fallback, args...)
}

// DeleteExpired sweeps events whose end instant has passed: the
// announcement is removed (a 404 means it is already gone) and the
// record of a Canceled or Closed event is deleted. A Planned or
// Confirmed event that somehow outlived its end keeps its record for
// manual inspection; only the announcement goes.
func (lc *Lifecycle) DeleteExpired(ctx context.Context) error {
	all, err := lc.loader.Events(ctx)
	if err != nil {
		return err
	}
	now := lc.now().In(lc.loc)

	var errs error
	for _, e := range all {
		if !e.EndAt(lc.loc).Before(now) {
			continue
		}
		if err := lc.deleteOne(ctx, e); err != nil {
			lc.log.Error("event delete failed",
				zap.String("event", e.EventID), zap.Error(err))
			errs = multierr.Append(errs, err)
		}
	}
	return errs
}

func (lc *Lifecycle) deleteOne(ctx context.Context, e *types.EventRecord) error {
	unlock := lc.lockEvent(e.EventID)
	defer unlock()

	channels, err := lc.loader.Channels(ctx, e.GuildID)
	if err != nil {
		return err
	}
	if err := lc.api.DeleteMessage(ctx, channels.EventsChannel, e.EventID); err != nil {
		if !errors.Is(err, herr.ErrNotFound) {
			return err // 403 or transport: retried next tick
		}
	}

	if e.Status != types.StatusCanceled && e.Status != types.StatusClosed {
		return nil
	}
	if _, err := lc.gw.Exec(ctx,
		"DELETE FROM events_data WHERE guild_id = ? AND event_id = ?",
		e.GuildID, e.EventID); err != nil {
		return err
	}
	lc.cache.Delete(cache.EventsData, e.GuildID, e.EventID)
	return nil
}
