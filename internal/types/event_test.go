package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guildtools/herald/internal/herr"
)

func TestBookExclusivity(t *testing.T) {
	b := NewRegistrationBook()

	b.Assign("u1", MarkerPresence)
	assert.Equal(t, []string{"u1"}, b.Presence)

	removed := b.Assign("u1", MarkerAbsence)
	assert.Equal(t, []Marker{MarkerPresence}, removed)
	assert.Empty(t, b.Presence)
	assert.Empty(t, b.Tentative)
	assert.Equal(t, []string{"u1"}, b.Absence)

	// Invariant: at most one set holds the id.
	count := 0
	for _, m := range []Marker{MarkerPresence, MarkerTentative, MarkerAbsence} {
		for _, id := range b.Members(m) {
			if id == "u1" {
				count++
			}
		}
	}
	assert.Equal(t, 1, count)
}

func TestBookAssignIdempotent(t *testing.T) {
	b := NewRegistrationBook()
	b.Assign("u1", MarkerTentative)
	b.Assign("u1", MarkerTentative)
	assert.Equal(t, []string{"u1"}, b.Tentative)
}

func TestBookRemove(t *testing.T) {
	b := NewRegistrationBook()
	b.Assign("u1", MarkerAbsence)
	assert.True(t, b.Remove("u1", MarkerAbsence))
	assert.False(t, b.Remove("u1", MarkerAbsence))
	assert.False(t, b.Contains("u1"))
}

func TestUnmarshalBookStrict(t *testing.T) {
	b, err := UnmarshalBook([]byte(`{"presence":["1","2"],"tentative":[],"absence":["3"]}`))
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2"}, b.Presence)
	assert.Equal(t, []string{"3"}, b.Absence)

	cases := map[string]string{
		"unknown field":  `{"presence":[],"tentative":[],"absence":[],"extra":[]}`,
		"wrong type":     `{"presence":"u1"}`,
		"duplicate id":   `{"presence":["1"],"tentative":["1"],"absence":[]}`,
		"empty blob":     ``,
		"not an object":  `[1,2,3]`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := UnmarshalBook([]byte(raw))
			assert.ErrorIs(t, err, herr.ErrMalformedRow)
		})
	}
}

func TestUnmarshalIDList(t *testing.T) {
	ids, err := UnmarshalIDList([]byte(`["10","20"]`))
	require.NoError(t, err)
	assert.Equal(t, []string{"10", "20"}, ids)

	_, err = UnmarshalIDList([]byte(`{"a":1}`))
	assert.ErrorIs(t, err, herr.ErrMalformedRow)
}

func TestEventStartEnd(t *testing.T) {
	paris, err := time.LoadLocation("Europe/Paris")
	require.NoError(t, err)

	e := &EventRecord{
		Date:      time.Date(2026, 3, 7, 0, 0, 0, 0, paris),
		StartTime: "20:30",
		Duration:  90,
	}
	start := e.StartAt(paris)
	assert.Equal(t, 20, start.Hour())
	assert.Equal(t, 30, start.Minute())
	assert.Equal(t, start.Add(90*time.Minute), e.EndAt(paris))
}
