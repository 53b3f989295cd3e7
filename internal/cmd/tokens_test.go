package cmd

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/dotcommander/groksearch/internal/config"
	"github.com/dotcommander/groksearch/internal/errs"
	"github.com/dotcommander/groksearch/internal/present"
	"github.com/dotcommander/groksearch/internal/storage"
	"github.com/dotcommander/groksearch/internal/tokens"
)

type testClock struct{ t time.Time }

func (c *testClock) now() time.Time { return c.t }

func newTestManager(t *testing.T) (*tokens.Manager, *testClock) {
	t.Helper()
	db, err := storage.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	c := &testClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	mgr := tokens.NewManager(db, config.Default().Tokens, zerolog.Nop(), tokens.WithClock(c.now))
	require.NoError(t, mgr.Reload(context.Background()))
	return mgr, c
}

func TestAddTokens(t *testing.T) {
	ctx := context.Background()

	t.Run("adds to the pool", func(t *testing.T) {
		mgr, _ := newTestManager(t)
		var out bytes.Buffer
		require.NoError(t, addTokens(ctx, &out, mgr, []string{"sso=token-one-abcdef", "token-two-abcdef"}, tokens.PoolSuper, "ci", false))

		records := mgr.List()
		require.Len(t, records, 2)
		for _, rec := range records {
			require.Equal(t, tokens.PoolSuper, rec.Pool)
			require.Equal(t, "ci", rec.Note)
			require.Contains(t, out.String(), rec.ID[:storage.SHA1Short])
		}
		require.Equal(t, "token-one-abcdef", records[0].Token)
	})

	t.Run("unknown pool", func(t *testing.T) {
		mgr, _ := newTestManager(t)
		err := addTokens(ctx, &bytes.Buffer{}, mgr, []string{"token"}, "ssoGold", "", true)
		require.ErrorIs(t, err, tokens.ErrUnknownPool)
		require.Empty(t, mgr.List())
	})

	t.Run("quiet", func(t *testing.T) {
		mgr, _ := newTestManager(t)
		var out bytes.Buffer
		require.NoError(t, addTokens(ctx, &out, mgr, []string{"token-abcdef"}, tokens.PoolBasic, "", true))
		require.Empty(t, out.String())
	})
}

func TestRemoveTokens(t *testing.T) {
	ctx := context.Background()
	mgr, _ := newTestManager(t)
	require.NoError(t, addTokens(ctx, &bytes.Buffer{}, mgr, []string{"token-a-abcdef"}, tokens.PoolBasic, "laptop", true))
	require.NoError(t, addTokens(ctx, &bytes.Buffer{}, mgr, []string{"token-b-abcdef"}, tokens.PoolBasic, "", true))

	t.Run("no match", func(t *testing.T) {
		err := removeTokens(ctx, &bytes.Buffer{}, mgr, []string{"ffffffffff"}, true)
		require.ErrorIs(t, err, storage.ErrNoMatches)
		var e errs.Error
		require.ErrorAs(t, err, &e)
		require.Contains(t, e.Reason, "No token matches")
	})

	t.Run("by note", func(t *testing.T) {
		var out bytes.Buffer
		require.NoError(t, removeTokens(ctx, &out, mgr, []string{"laptop"}, false))
		require.Contains(t, out.String(), "Removed")
		require.Len(t, mgr.List(), 1)
	})

	t.Run("by id prefix", func(t *testing.T) {
		id := mgr.List()[0].ID
		require.NoError(t, removeTokens(ctx, &bytes.Buffer{}, mgr, []string{id[:storage.SHA1Short]}, true))
		require.Empty(t, mgr.List())
	})
}

func TestPruneTokens(t *testing.T) {
	ctx := context.Background()

	t.Run("nothing stale", func(t *testing.T) {
		mgr, _ := newTestManager(t)
		require.NoError(t, addTokens(ctx, &bytes.Buffer{}, mgr, []string{"token-abcdef"}, tokens.PoolBasic, "", true))
		var out bytes.Buffer
		require.NoError(t, pruneTokens(ctx, &out, mgr, 24*time.Hour, false, false))
		require.Contains(t, out.String(), "No tokens found.")
		require.Len(t, mgr.List(), 1)
	})

	t.Run("non interactive asks for quiet", func(t *testing.T) {
		mgr, c := newTestManager(t)
		require.NoError(t, addTokens(ctx, &bytes.Buffer{}, mgr, []string{"token-abcdef"}, tokens.PoolBasic, "", true))
		c.t = c.t.Add(48 * time.Hour)

		var out bytes.Buffer
		err := pruneTokens(ctx, &out, mgr, 24*time.Hour, false, false)
		require.Error(t, err)
		require.Contains(t, err.Error(), "--quiet")
		require.Contains(t, out.String(), storage.Mask("token-abcdef"))
		require.Len(t, mgr.List(), 1)
	})

	t.Run("quiet prunes", func(t *testing.T) {
		mgr, c := newTestManager(t)
		require.NoError(t, addTokens(ctx, &bytes.Buffer{}, mgr, []string{"old-token-abcdef"}, tokens.PoolBasic, "", true))
		c.t = c.t.Add(48 * time.Hour)
		require.NoError(t, addTokens(ctx, &bytes.Buffer{}, mgr, []string{"new-token-abcdef"}, tokens.PoolBasic, "", true))

		var out bytes.Buffer
		require.NoError(t, pruneTokens(ctx, &out, mgr, 24*time.Hour, true, false))
		require.Empty(t, out.String())
		records := mgr.List()
		require.Len(t, records, 1)
		require.Equal(t, "new-token-abcdef", records[0].Token)
	})
}

func TestPrintTokens(t *testing.T) {
	now := time.Now()
	records := []storage.Record{
		{ID: storage.Fingerprint("token-a-abcdef"), Token: "token-a-abcdef", Pool: tokens.PoolBasic, Status: tokens.StatusActive, Quota: 80, Note: "laptop"},
		{ID: storage.Fingerprint("token-b-abcdef"), Token: "token-b-abcdef", Pool: tokens.PoolSuper, Status: tokens.StatusCooling, UsedAt: now.Add(-2 * time.Hour)},
	}
	var out bytes.Buffer
	printTokens(&out, records)

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	require.Contains(t, lines[0], records[0].ID[:storage.SHA1Short])
	require.Contains(t, lines[0], "laptop")
	require.Contains(t, lines[0], "never used")
	require.NotContains(t, lines[0], "token-a-abcdef")
	require.Contains(t, lines[1], tokens.PoolSuper)
	require.Contains(t, lines[1], tokens.StatusCooling)
	require.Contains(t, lines[1], "ago")
}

func TestStatusText(t *testing.T) {
	s := present.MakeStyles(lipgloss.NewRenderer(&bytes.Buffer{}, termenv.WithProfile(termenv.Ascii)))
	for _, status := range []string{tokens.StatusActive, tokens.StatusCooling, tokens.StatusDisabled} {
		require.Equal(t, status, statusText(s, status))
	}
}
