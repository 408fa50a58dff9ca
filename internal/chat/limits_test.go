package chat

import (
	"net/http"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guildtools/herald/internal/herr"
)

func TestLimiterGlobalBucket(t *testing.T) {
	l := NewLimiter(10)
	for i := 0; i < 10; i++ {
		require.NoError(t, l.Admit(), "call %d within burst", i)
	}
	err := l.Admit()
	require.Error(t, err)
	assert.ErrorIs(t, err, herr.ErrCooldown)
}

func TestLimiterAdminCooldown(t *testing.T) {
	l := NewLimiter(1000)
	now := time.Now()
	l.now = func() time.Time { return now }

	require.NoError(t, l.AdmitAdmin("u1"))

	err := l.AdmitAdmin("u1")
	require.Error(t, err)
	assert.ErrorIs(t, err, herr.ErrCooldown)

	// A different admin is not affected.
	require.NoError(t, l.AdmitAdmin("u2"))

	// The cooldown expires.
	now = now.Add(adminCooldown + time.Second)
	require.NoError(t, l.AdmitAdmin("u1"))
}

func TestLimiterPrune(t *testing.T) {
	l := NewLimiter(1000)
	now := time.Now()
	l.now = func() time.Time { return now }

	require.NoError(t, l.AdmitAdmin("u1"))
	require.NoError(t, l.AdmitAdmin("u2"))
	assert.Equal(t, 0, l.Prune(), "fresh entries stay")

	now = now.Add(adminCooldown + time.Minute)
	assert.Equal(t, 2, l.Prune())
	require.NoError(t, l.AdmitAdmin("u1"))
}

func TestMapErrTaxonomy(t *testing.T) {
	rest := func(code int) error {
		return &discordgo.RESTError{Response: &http.Response{StatusCode: code}}
	}
	assert.ErrorIs(t, mapErr(rest(http.StatusNotFound)), herr.ErrNotFound)
	assert.ErrorIs(t, mapErr(rest(http.StatusForbidden)), herr.ErrForbidden)
	assert.ErrorIs(t, mapErr(rest(http.StatusBadGateway)), herr.ErrTransient)
	assert.NoError(t, mapErr(nil))

	plain := assert.AnError
	assert.Equal(t, plain, mapErr(plain))
}
