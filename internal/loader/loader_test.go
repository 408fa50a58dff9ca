package loader

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/guildtools/herald/internal/cache"
	"github.com/guildtools/herald/internal/herr"
	"github.com/guildtools/herald/internal/store"
	"github.com/guildtools/herald/internal/types"
)

func newTestLoader(t *testing.T) (*Loader, *cache.Cache, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	gw := store.NewGateway(db, store.Options{PoolSize: 2, QueryTimeout: 5 * time.Second}, zap.NewNop())
	c := cache.New(zap.NewNop())
	return New(gw, c, zap.NewNop()), c, mock
}

func memberRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"guild_id", "member_id", "username", "language", "GS", "build",
		"weapons", "class", "DKP", "nb_events", "registrations", "attendances",
	})
}

func TestEnsureRosterIdempotent(t *testing.T) {
	l, c, mock := newTestLoader(t)
	mock.ExpectQuery("FROM guild_members").WillReturnRows(
		memberRows().
			AddRow("g1", "m1", "Ragnar", "fr", 2800, "url", "GS/SNS", types.ClassTank, 10, 3, 3, 2).
			AddRow("g1", "m2", "Freya", "en", 2650, "", "IB/WB", types.ClassHealer, 5, 1, 1, 1))

	require.NoError(t, l.Ensure(context.Background(), cache.RosterData))

	v, ok := c.Get(cache.RosterData, "g1", "m1")
	require.True(t, ok)
	m := v.(*types.MemberProjection)
	assert.Equal(t, "Ragnar", m.Username)
	assert.Equal(t, 2800, m.GS)

	// Second Ensure is a no-op: the mock has no expectation left.
	require.NoError(t, l.Ensure(context.Background(), cache.RosterData))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReloadClearsMarker(t *testing.T) {
	l, _, mock := newTestLoader(t)
	mock.ExpectQuery("FROM guild_members").WillReturnRows(memberRows())
	require.NoError(t, l.Ensure(context.Background(), cache.RosterData))

	mock.ExpectQuery("FROM guild_members").WillReturnRows(
		memberRows().AddRow("g1", "m3", "Bjorn", "de", 2400, "", "NULL", types.ClassUnknown, 0, 0, 0, 0))
	require.NoError(t, l.Reload(context.Background(), cache.RosterData))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFailedLoaderDoesNotMark(t *testing.T) {
	l, _, mock := newTestLoader(t)
	mock.ExpectQuery("FROM guild_members").WillReturnError(assertErr{})
	require.Error(t, l.Ensure(context.Background(), cache.RosterData))

	// Marker not set: the next Ensure hits the store again.
	mock.ExpectQuery("FROM guild_members").WillReturnRows(memberRows())
	require.NoError(t, l.Ensure(context.Background(), cache.RosterData))
	require.NoError(t, mock.ExpectationsWereMet())
}

type assertErr struct{}

func (assertErr) Error() string { return "connection refused" }

func eventRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"guild_id", "event_id", "name", "event_date", "event_time", "duration",
		"dkp_value", "dkp_ins", "status", "initial_members", "registrations",
		"actual_presence", "game_id",
	})
}

func TestEventsLoaderStrictJSON(t *testing.T) {
	l, c, mock := newTestLoader(t)
	date := time.Date(2026, 3, 7, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery("FROM events_data").WillReturnRows(
		eventRows().
			AddRow("g1", "e1", "War", date, "20:30", 90, 10, 2, "Planned",
				`["1","2"]`, `{"presence":["1"],"tentative":[],"absence":[]}`, `[]`, 1).
			AddRow("g1", "e2", "Broken", date, "21:00", 60, 5, 1, "Planned",
				`["1"]`, `{"presence":"oops"}`, `[]`, 1))

	err := l.Ensure(context.Background(), cache.EventsData)
	require.Error(t, err, "malformed row must keep the category unmarked")
	assert.ErrorIs(t, err, herr.ErrMalformedRow)

	// The good row is still cached.
	v, ok := c.Get(cache.EventsData, "g1", "e1")
	require.True(t, ok)
	e := v.(*types.EventRecord)
	assert.Equal(t, types.StatusPlanned, e.Status)
	assert.Equal(t, []string{"1"}, e.Book.Presence)

	// The bad row is not.
	_, ok = c.Get(cache.EventsData, "g1", "e2")
	assert.False(t, ok)
}

func TestLoadAllAggregatesWithoutAborting(t *testing.T) {
	l, c, mock := newTestLoader(t)
	mock.MatchExpectationsInOrder(false)

	mock.ExpectQuery("FROM guild_settings").WillReturnError(assertErr{})
	mock.ExpectQuery("FROM welcome_messages").WillReturnRows(
		sqlmock.NewRows([]string{"guild_id", "member_id", "channel_id", "message_id"}).
			AddRow("g1", "m1", "c1", "msg1"))
	mock.ExpectQuery("FROM events_data").WillReturnRows(eventRows())
	mock.ExpectQuery("FROM guild_members").WillReturnRows(memberRows())
	mock.ExpectQuery("SELECT game_id, code, name FROM weapons").WillReturnRows(sqlmock.NewRows([]string{"game_id", "code", "name"}))
	mock.ExpectQuery("FROM weapons_combinations").WillReturnRows(sqlmock.NewRows([]string{"game_id", "weapon1", "weapon2", "role"}))
	mock.ExpectQuery("FROM games_list").WillReturnRows(sqlmock.NewRows([]string{"id", "game_name", "max_members"}))

	err := l.LoadAll(context.Background())
	require.Error(t, err, "guild_data failure must be reported")

	// Siblings completed despite the failure.
	_, ok := c.Get(cache.UserData, "g1", "m1", "welcome")
	assert.True(t, ok)
}

func TestOnboardingSetupFromUserData(t *testing.T) {
	l, c, _ := newTestLoader(t)
	c.Set(cache.UserData, &types.OnboardingData{Locale: "fr-FR", GS: 2500, Weapons: "sns/gs"}, "g1", "m1", "setup")
	c.Set(cache.UserData, &types.WelcomeMessage{GuildID: "g1", MemberID: "m2"}, "g1", "m2", "welcome")

	got := l.OnboardingSetup("g1", []string{"m1", "m2", "m3"})
	require.Len(t, got, 1)
	require.NotNil(t, got["m1"])
	assert.Equal(t, 2500, got["m1"].GS)
}
