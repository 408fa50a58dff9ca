package events

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/guildtools/herald/internal/cache"
	"github.com/guildtools/herald/internal/chat"
	"github.com/guildtools/herald/internal/herr"
	"github.com/guildtools/herald/internal/i18n"
	"github.com/guildtools/herald/internal/loader"
	"github.com/guildtools/herald/internal/store"
	"github.com/guildtools/herald/internal/types"
)

// fakeAPI records platform calls in order and answers with canned
// values.
type fakeAPI struct {
	mu    sync.Mutex
	calls []string

	nextMessageID string
	deleteErr     error
	members       []chat.Member
}

func (f *fakeAPI) record(format string, args ...any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, fmt.Sprintf(format, args...))
}

func (f *fakeAPI) callLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeAPI) SendMessage(_ context.Context, channelID, content string) (string, error) {
	f.record("SendMessage %s %s", channelID, content)
	return "m1", nil
}

func (f *fakeAPI) SendEmbed(_ context.Context, channelID string, _ *chat.Embed) (string, error) {
	f.record("SendEmbed %s", channelID)
	if f.nextMessageID == "" {
		return "msg-new", nil
	}
	return f.nextMessageID, nil
}

func (f *fakeAPI) EditEmbed(_ context.Context, channelID, messageID string, _ *chat.Embed) error {
	f.record("EditEmbed %s %s", channelID, messageID)
	return nil
}

func (f *fakeAPI) DeleteMessage(_ context.Context, channelID, messageID string) error {
	f.record("DeleteMessage %s %s", channelID, messageID)
	return f.deleteErr
}

func (f *fakeAPI) FetchMessage(_ context.Context, channelID, messageID string) (*chat.Message, error) {
	f.record("FetchMessage %s %s", channelID, messageID)
	return &chat.Message{ID: messageID, ChannelID: channelID}, nil
}

func (f *fakeAPI) AddReaction(_ context.Context, channelID, messageID, emoji string) error {
	f.record("AddReaction %s %s %s", channelID, messageID, emoji)
	return nil
}

func (f *fakeAPI) ClearReactions(_ context.Context, channelID, messageID string) error {
	f.record("ClearReactions %s %s", channelID, messageID)
	return nil
}

func (f *fakeAPI) RemoveReaction(_ context.Context, channelID, messageID, emoji, userID string) error {
	f.record("RemoveReaction %s %s %s %s", channelID, messageID, emoji, userID)
	return nil
}

func (f *fakeAPI) GuildMembers(context.Context, string) ([]chat.Member, error) {
	f.record("GuildMembers")
	return f.members, nil
}

func (f *fakeAPI) GuildMember(_ context.Context, _, memberID string) (*chat.Member, error) {
	return &chat.Member{ID: memberID}, nil
}

func (f *fakeAPI) SetNickname(context.Context, string, string, string) error { return nil }

func (f *fakeAPI) CreateScheduledEvent(_ context.Context, guildID string, _ *chat.ScheduledEvent) (string, error) {
	f.record("CreateScheduledEvent %s", guildID)
	return "se1", nil
}

func (f *fakeAPI) DirectMessage(_ context.Context, userID, content string) error {
	f.record("DirectMessage %s", userID)
	return nil
}

type fakeAttendance struct {
	events []*types.EventRecord
}

func (f *fakeAttendance) RecordAttendance(_ context.Context, e *types.EventRecord) error {
	f.events = append(f.events, e)
	return nil
}

type fakeFormer struct {
	books []*types.RegistrationBook
}

func (f *fakeFormer) FormGroups(book *types.RegistrationBook, _ map[string]*types.MemberProjection, _ []*types.StaticGroup) ([]FormedGroup, error) {
	f.books = append(f.books, book)
	return []FormedGroup{{Name: "Group 1", Members: book.Presence, AvgGS: 2500}}, nil
}

func newTestLifecycle(t *testing.T) (*Lifecycle, *fakeAPI, *cache.Cache, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	gw := store.NewGateway(db, store.Options{PoolSize: 2, QueryTimeout: 5 * time.Second}, zap.NewNop())
	c := cache.New(zap.NewNop())
	ld := loader.New(gw, c, zap.NewNop())
	bundle, err := i18n.Parse([]byte(`{"en-US": {}}`), zap.NewNop())
	require.NoError(t, err)

	api := &fakeAPI{}
	lc := New(gw, c, ld, api, bundle, zap.NewNop())

	// Pin the clock mid-day so window arithmetic never crosses
	// midnight during a test run.
	base := time.Date(2026, 3, 10, 12, 0, 0, 0, lc.Location())
	lc.SetClock(func() time.Time { return base })
	return lc, api, c, mock
}

func seedGuild(c *cache.Cache, guildID string) {
	c.Set(cache.GuildData, &types.GuildSettings{GuildID: guildID, Lang: "en", GameID: 1, Initialized: true}, guildID, "settings")
	c.Set(cache.GuildData, &types.GuildRoles{GuildID: guildID, Members: "R1"}, guildID, "roles")
	c.Set(cache.GuildData, &types.GuildChannels{
		GuildID:              guildID,
		EventsChannel:        "ch-events",
		GroupsChannel:        "ch-groups",
		NotificationsChannel: "ch-notify",
	}, guildID, "channels")
	c.Set(cache.GuildData, []*types.StaticGroup{}, guildID, "statics")
}

func seedEvent(c *cache.Cache, lc *Lifecycle, status types.EventStatus, start time.Time) *types.EventRecord {
	loc := lc.Location()
	start = start.In(loc)
	e := &types.EventRecord{
		GuildID:        "G",
		EventID:        "E1",
		Name:           "Siege",
		Date:           time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, loc),
		StartTime:      start.Format("15:04"),
		Duration:       60,
		Status:         status,
		Book:           types.NewRegistrationBook(),
		InitialMembers: []string{},
		ActualPresence: []string{},
	}
	c.Set(cache.EventsData, e, e.GuildID, e.EventID)
	return e
}

// S2: a user reacting ✅ while listed tentative ends up only in
// presence; the superseded reaction is pulled with a hint so its echo
// does not touch the book.
func TestReactionAddExclusive(t *testing.T) {
	lc, api, c, mock := newTestLifecycle(t)
	e := seedEvent(c, lc, types.StatusPlanned, lc.now().Add(2*time.Hour))
	e.Book.Assign("u1", types.MarkerTentative)

	mock.ExpectExec("UPDATE events_data SET registrations").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, lc.HandleReactionAdd(context.Background(), "G", "ch-events", "E1", "u1", EmojiPresence))
	require.NoError(t, mock.ExpectationsWereMet())

	v, ok := c.Get(cache.EventsData, "G", "E1")
	require.True(t, ok)
	book := v.(*types.EventRecord).Book
	assert.Equal(t, []string{"u1"}, book.Presence)
	assert.Empty(t, book.Tentative)

	calls := api.callLog()
	require.Len(t, calls, 2)
	assert.Contains(t, calls[0], "RemoveReaction ch-events E1 "+EmojiTentative)
	assert.Contains(t, calls[1], "EditEmbed ch-events E1")

	// The platform echoes our removal; the hint swallows it without
	// any store call.
	require.NoError(t, lc.HandleReactionRemove(context.Background(), "G", "ch-events", "E1", "u1", EmojiTentative))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReactionAddUnknownEmojiIgnored(t *testing.T) {
	lc, api, c, mock := newTestLifecycle(t)
	seedEvent(c, lc, types.StatusPlanned, lc.now().Add(2*time.Hour))

	require.NoError(t, lc.HandleReactionAdd(context.Background(), "G", "ch-events", "E1", "u1", "🎉"))
	require.NoError(t, mock.ExpectationsWereMet())
	assert.Empty(t, api.callLog())
}

func TestReactionRemoveUserInitiated(t *testing.T) {
	lc, _, c, mock := newTestLifecycle(t)
	e := seedEvent(c, lc, types.StatusConfirmed, lc.now().Add(2*time.Hour))
	e.Book.Assign("u1", types.MarkerPresence)

	mock.ExpectExec("UPDATE events_data SET registrations").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, lc.HandleReactionRemove(context.Background(), "G", "ch-events", "E1", "u1", EmojiPresence))
	require.NoError(t, mock.ExpectationsWereMet())

	v, _ := c.Get(cache.EventsData, "G", "E1")
	assert.Empty(t, v.(*types.EventRecord).Book.Presence)
}

func TestReactionsFrozenWhenClosed(t *testing.T) {
	lc, api, c, mock := newTestLifecycle(t)
	e := seedEvent(c, lc, types.StatusClosed, lc.now().Add(-time.Hour))
	e.Book.Assign("u1", types.MarkerPresence)

	require.NoError(t, lc.HandleReactionAdd(context.Background(), "G", "ch-events", "E1", "u2", EmojiPresence))
	require.NoError(t, lc.HandleReactionRemove(context.Background(), "G", "ch-events", "E1", "u1", EmojiPresence))
	require.NoError(t, mock.ExpectationsWereMet())
	assert.Empty(t, api.callLog())

	v, _ := c.Get(cache.EventsData, "G", "E1")
	assert.Equal(t, []string{"u1"}, v.(*types.EventRecord).Book.Presence)
}

func TestConfirmAndCancelTransitions(t *testing.T) {
	lc, _, c, mock := newTestLifecycle(t)
	seedEvent(c, lc, types.StatusPlanned, lc.now().Add(2*time.Hour))

	mock.ExpectExec("UPDATE events_data SET status").
		WithArgs(string(types.StatusConfirmed), "G", "E1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, lc.Confirm(context.Background(), "G", "E1"))

	// Confirming twice is a validation error.
	err := lc.Confirm(context.Background(), "G", "E1")
	require.Error(t, err)
	assert.ErrorIs(t, err, herr.ErrValidation)

	mock.ExpectExec("UPDATE events_data SET status").
		WithArgs(string(types.StatusCanceled), "G", "E1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, lc.Cancel(context.Background(), "G", "E1"))

	// Canceled is terminal for commands.
	assert.ErrorIs(t, lc.Cancel(context.Background(), "G", "E1"), herr.ErrValidation)
	require.NoError(t, mock.ExpectationsWereMet())
}

func eventRows(events ...*types.EventRecord) *sqlmock.Rows {
	rows := sqlmock.NewRows([]string{
		"guild_id", "event_id", "name", "event_date", "event_time",
		"duration", "dkp_value", "dkp_ins", "status", "initial_members",
		"registrations", "actual_presence", "game_id",
	})
	for _, e := range events {
		book, _ := types.MarshalBook(e.Book)
		initial, _ := types.MarshalIDList(e.InitialMembers)
		actual, _ := types.MarshalIDList(e.ActualPresence)
		rows.AddRow(e.GuildID, e.EventID, e.Name, e.Date, e.StartTime,
			e.Duration, e.DKPValue, e.DKPIns, string(e.Status),
			initial, book, actual, e.GameID)
	}
	return rows
}

func TestCloseDueWindow(t *testing.T) {
	lc, api, c, mock := newTestLifecycle(t)
	seedGuild(c, "G")

	att := &fakeAttendance{}
	former := &fakeFormer{}
	lc.SetAttendance(att)
	lc.SetFormer(former)

	now := lc.now().In(lc.Location())
	due := seedEvent(c, lc, types.StatusConfirmed, now.Add(30*time.Minute))
	due.Book.Assign("u1", types.MarkerPresence)
	due.Book.Assign("u2", types.MarkerTentative)

	farOut := *due
	farOut.EventID = "E2"
	farOut.StartTime = now.Add(3 * time.Hour).Format("15:04")

	mock.ExpectQuery("FROM events_data").
		WillReturnRows(eventRows(due, &farOut))
	mock.ExpectExec("UPDATE events_data SET status = ., actual_presence").
		WillReturnResult(sqlmock.NewResult(0, 1))
	// Group formation pulls the roster category plus the per-guild
	// member-id list.
	mock.ExpectQuery("FROM guild_members").
		WillReturnRows(sqlmock.NewRows([]string{"member_id"}))
	mock.ExpectQuery("SELECT member_id FROM guild_members").
		WillReturnRows(sqlmock.NewRows([]string{"member_id"}))

	require.NoError(t, lc.CloseDue(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())

	v, _ := c.Get(cache.EventsData, "G", "E1")
	closed := v.(*types.EventRecord)
	assert.Equal(t, types.StatusClosed, closed.Status)
	assert.Equal(t, []string{"u1"}, closed.ActualPresence)

	// E2 starts outside the window and stays Confirmed.
	v2, _ := c.Get(cache.EventsData, "G", "E2")
	assert.Equal(t, types.StatusConfirmed, v2.(*types.EventRecord).Status)

	require.Len(t, att.events, 1)
	assert.Equal(t, types.StatusClosed, att.events[0].Status)
	require.Len(t, former.books, 1)
	assert.Equal(t, []string{"u1"}, former.books[0].Presence)

	calls := api.callLog()
	assert.Contains(t, calls, "ClearReactions ch-events E1")
	assert.Contains(t, calls, "SendEmbed ch-groups")
}

func TestRemindDue(t *testing.T) {
	lc, api, c, mock := newTestLifecycle(t)
	seedGuild(c, "G")

	now := lc.now().In(lc.Location())
	e := seedEvent(c, lc, types.StatusConfirmed, now.Add(5*time.Hour))
	e.Book.Assign("u1", types.MarkerPresence)

	api.members = []chat.Member{
		{ID: "u1", RoleIDs: []string{"R1"}},           // registered
		{ID: "u2", RoleIDs: []string{"R1"}},           // to remind
		{ID: "u3", RoleIDs: []string{"R1"}, IsBot: true},
		{ID: "u4", RoleIDs: []string{"RX"}},           // not a member
	}

	mock.ExpectQuery("FROM events_data").WillReturnRows(eventRows(e))

	require.NoError(t, lc.RemindDue(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())

	calls := api.callLog()
	assert.Contains(t, calls, "DirectMessage u2")
	assert.NotContains(t, calls, "DirectMessage u1")
	assert.NotContains(t, calls, "DirectMessage u3")
	assert.NotContains(t, calls, "DirectMessage u4")

	var summaries int
	for _, call := range calls {
		if call == "SendMessage ch-notify Siege: 1 members reminded." {
			summaries++
		}
	}
	assert.Equal(t, 1, summaries)
}

func TestDeleteExpired(t *testing.T) {
	lc, api, c, mock := newTestLifecycle(t)
	seedGuild(c, "G")

	now := lc.now().In(lc.Location())
	gone := seedEvent(c, lc, types.StatusCanceled, now.Add(-3*time.Hour))
	// Announcement already deleted by a moderator: 404 is fine.
	api.deleteErr = fmt.Errorf("%w: unknown message", herr.ErrNotFound)

	mock.ExpectQuery("FROM events_data").WillReturnRows(eventRows(gone))
	mock.ExpectExec("DELETE FROM events_data").
		WithArgs("G", "E1").WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, lc.DeleteExpired(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())

	_, ok := c.Get(cache.EventsData, "G", "E1")
	assert.False(t, ok)
}

func TestDeleteExpiredKeepsUnclosedRecord(t *testing.T) {
	lc, _, c, mock := newTestLifecycle(t)
	seedGuild(c, "G")

	now := lc.now().In(lc.Location())
	stale := seedEvent(c, lc, types.StatusPlanned, now.Add(-3*time.Hour))

	mock.ExpectQuery("FROM events_data").WillReturnRows(eventRows(stale))
	// No DELETE expected: the record survives for manual inspection.
	require.NoError(t, lc.DeleteExpired(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateManual(t *testing.T) {
	lc, api, c, mock := newTestLifecycle(t)
	seedGuild(c, "G")
	api.nextMessageID = "msg42"
	api.members = []chat.Member{
		{ID: "u1", RoleIDs: []string{"R1"}},
		{ID: "u2", RoleIDs: []string{"R1"}, IsBot: true},
		{ID: "u3", RoleIDs: []string{"RX"}},
	}

	mock.ExpectExec("INSERT INTO events_data").
		WillReturnResult(sqlmock.NewResult(0, 1))

	e, err := lc.CreateManual(context.Background(), "G", CreateRequest{
		Name: "Siege", When: "tomorrow at 20:30", DKPValue: 10,
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())

	assert.Equal(t, "msg42", e.EventID)
	assert.Equal(t, types.StatusPlanned, e.Status)
	assert.Equal(t, "20:30", e.StartTime)
	assert.Equal(t, defaultDuration, e.Duration)
	// Eligibility snapshot at announce time: members-role holders only,
	// bots excluded.
	assert.Equal(t, []string{"u1"}, e.InitialMembers)

	calls := api.callLog()
	assert.Contains(t, calls, "SendEmbed ch-events")
	assert.Contains(t, calls, "AddReaction ch-events msg42 "+EmojiPresence)
	assert.Contains(t, calls, "AddReaction ch-events msg42 "+EmojiTentative)
	assert.Contains(t, calls, "AddReaction ch-events msg42 "+EmojiAbsence)
	assert.Contains(t, calls, "CreateScheduledEvent G")

	// The announced record is cached.
	_, ok := c.Get(cache.EventsData, "G", "msg42")
	assert.True(t, ok)
}

func TestCreateManualValidation(t *testing.T) {
	lc, _, c, _ := newTestLifecycle(t)
	seedGuild(c, "G")

	_, err := lc.CreateManual(context.Background(), "G", CreateRequest{Name: "", When: "tomorrow"})
	assert.ErrorIs(t, err, herr.ErrValidation)

	_, err = lc.CreateManual(context.Background(), "G", CreateRequest{Name: "Siege", When: "no such date"})
	assert.ErrorIs(t, err, herr.ErrValidation)

	_, err = lc.CreateManual(context.Background(), "G", CreateRequest{Name: "Siege", When: "yesterday at noon"})
	assert.ErrorIs(t, err, herr.ErrValidation)
}
