package tokens

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/dotcommander/groksearch/internal/config"
	"github.com/dotcommander/groksearch/internal/metrics"
	"github.com/dotcommander/groksearch/internal/storage"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func testConfig() config.Tokens {
	return config.Tokens{
		ReloadInterval: 30 * time.Second,
		Cooldown:       2 * time.Hour,
		BasicQuota:     80,
		SuperQuota:     140,
	}
}

func testManager(tb testing.TB, cfg config.Tokens, opts ...Option) (*Manager, *storage.DB, *clock) {
	tb.Helper()
	db, err := storage.Open(":memory:")
	require.NoError(tb, err)
	tb.Cleanup(func() { require.NoError(tb, db.Close()) })
	c := &clock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	opts = append([]Option{WithClock(c.now)}, opts...)
	return NewManager(db, cfg, zerolog.Nop(), opts...), db, c
}

func TestEffort(t *testing.T) {
	require.Equal(t, 1, EffortLow.Cost())
	require.Equal(t, 4, EffortHigh.Cost())
	require.Equal(t, "low", EffortLow.String())
	require.Equal(t, "high", EffortHigh.String())
}

func TestGet(t *testing.T) {
	ctx := context.Background()

	t.Run("empty pool", func(t *testing.T) {
		m, _, _ := testManager(t, testConfig())
		require.NoError(t, m.Reload(ctx))
		_, ok := m.Get(PoolBasic)
		require.False(t, ok)
	})

	t.Run("pool isolation", func(t *testing.T) {
		m, _, _ := testManager(t, testConfig())
		_, err := m.Add(ctx, "super-token", PoolSuper, "")
		require.NoError(t, err)

		_, ok := m.Get(PoolBasic)
		require.False(t, ok)
		tok, ok := m.Get(PoolSuper)
		require.True(t, ok)
		require.Equal(t, "super-token", tok)
	})

	t.Run("highest quota then least recently used", func(t *testing.T) {
		m, _, c := testManager(t, testConfig())
		for _, tok := range []string{"a-token", "b-token", "c-token"} {
			_, err := m.Add(ctx, tok, PoolBasic, "")
			require.NoError(t, err)
		}

		require.NoError(t, m.Consume(ctx, "a-token", EffortLow))
		c.advance(time.Minute)
		require.NoError(t, m.Consume(ctx, "b-token", EffortLow))

		tok, ok := m.Get(PoolBasic)
		require.True(t, ok)
		require.Equal(t, "c-token", tok)

		c.advance(time.Minute)
		require.NoError(t, m.Consume(ctx, "c-token", EffortLow))

		// all at 79 now; a was used longest ago
		tok, ok = m.Get(PoolBasic)
		require.True(t, ok)
		require.Equal(t, "a-token", tok)
	})

	t.Run("sso prefix is stripped", func(t *testing.T) {
		m, _, _ := testManager(t, testConfig())
		_, err := m.Add(ctx, "sso=cookie-token", "", "")
		require.NoError(t, err)
		tok, ok := m.Get(PoolBasic)
		require.True(t, ok)
		require.Equal(t, "cookie-token", tok)
	})
}

func TestConsume(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown token", func(t *testing.T) {
		m, _, _ := testManager(t, testConfig())
		require.ErrorIs(t, m.Consume(ctx, "nope", EffortLow), ErrUnknownToken)
	})

	t.Run("persists usage", func(t *testing.T) {
		m, db, c := testManager(t, testConfig())
		_, err := m.Add(ctx, "a-token", PoolBasic, "")
		require.NoError(t, err)
		require.NoError(t, m.Consume(ctx, "a-token", EffortHigh))

		rec, err := db.Find(storage.Fingerprint("a-token"))
		require.NoError(t, err)
		require.Equal(t, 76, rec.Quota)
		require.Equal(t, 1, rec.UseCount)
		require.True(t, c.t.Equal(rec.UsedAt))
	})

	t.Run("cooldown and reactivation", func(t *testing.T) {
		cfg := testConfig()
		cfg.BasicQuota = 2
		m, _, c := testManager(t, cfg)
		_, err := m.Add(ctx, "a-token", PoolBasic, "")
		require.NoError(t, err)

		require.NoError(t, m.Consume(ctx, "a-token", EffortLow))
		require.NoError(t, m.Consume(ctx, "a-token", EffortLow))
		_, ok := m.Get(PoolBasic)
		require.False(t, ok)
		require.Equal(t, StatusCooling, m.List()[0].Status)
		require.InDelta(t, 0, testutil.ToFloat64(metrics.TokensAvailable.WithLabelValues(PoolBasic)), 0)

		c.advance(time.Hour)
		_, ok = m.Get(PoolBasic)
		require.False(t, ok)

		c.advance(time.Hour)
		tok, ok := m.Get(PoolBasic)
		require.True(t, ok)
		require.Equal(t, "a-token", tok)
		require.Equal(t, 2, m.List()[0].Quota)
	})

	t.Run("high effort floors at zero", func(t *testing.T) {
		cfg := testConfig()
		cfg.BasicQuota = 3
		m, _, _ := testManager(t, cfg)
		_, err := m.Add(ctx, "a-token", PoolBasic, "")
		require.NoError(t, err)
		require.NoError(t, m.Consume(ctx, "a-token", EffortHigh))
		require.Equal(t, 0, m.List()[0].Quota)
		require.Equal(t, StatusCooling, m.List()[0].Status)
	})

	t.Run("store failure", func(t *testing.T) {
		store := &failingStore{}
		m := NewManager(store, testConfig(), zerolog.Nop())
		m.records[storage.Fingerprint("a-token")] = storage.Record{ID: storage.Fingerprint("a-token"), Token: "a-token", Pool: PoolBasic, Quota: 5, Status: StatusActive}
		store.err = errors.New("disk full")
		require.ErrorContains(t, m.Consume(ctx, "a-token", EffortLow), "disk full")
	})
}

func TestDisable(t *testing.T) {
	ctx := context.Background()

	t.Run("rejected token leaves rotation", func(t *testing.T) {
		m, db, _ := testManager(t, testConfig())
		for _, tok := range []string{"a-token", "b-token"} {
			_, err := m.Add(ctx, tok, PoolBasic, "")
			require.NoError(t, err)
		}

		first, ok := m.Get(PoolBasic)
		require.True(t, ok)
		require.NoError(t, m.Disable(ctx, first))

		second, ok := m.Get(PoolBasic)
		require.True(t, ok)
		require.NotEqual(t, first, second)

		rec, err := db.Find(storage.Fingerprint(first))
		require.NoError(t, err)
		require.Equal(t, StatusDisabled, rec.Status)
		require.Equal(t, map[string]int{PoolBasic: 1, PoolSuper: 0}, m.Available())

		require.NoError(t, m.Disable(ctx, second))
		_, ok = m.Get(PoolBasic)
		require.False(t, ok)
	})

	t.Run("survives reload", func(t *testing.T) {
		m, _, _ := testManager(t, testConfig())
		_, err := m.Add(ctx, "a-token", PoolBasic, "")
		require.NoError(t, err)
		require.NoError(t, m.Disable(ctx, "a-token"))
		require.NoError(t, m.Reload(ctx))
		_, ok := m.Get(PoolBasic)
		require.False(t, ok)
	})

	t.Run("unknown token", func(t *testing.T) {
		m, _, _ := testManager(t, testConfig())
		require.ErrorIs(t, m.Disable(ctx, "nope"), ErrUnknownToken)
	})

	t.Run("add brings it back", func(t *testing.T) {
		m, _, _ := testManager(t, testConfig())
		_, err := m.Add(ctx, "a-token", PoolBasic, "")
		require.NoError(t, err)
		require.NoError(t, m.Disable(ctx, "a-token"))
		rec, err := m.Add(ctx, "a-token", PoolBasic, "")
		require.NoError(t, err)
		require.Equal(t, StatusActive, rec.Status)
		tok, ok := m.Get(PoolBasic)
		require.True(t, ok)
		require.Equal(t, "a-token", tok)
	})
}

func TestSharedStore(t *testing.T) {
	ctx := context.Background()

	open := func(t *testing.T, dir string) *Manager {
		t.Helper()
		db, err := storage.Open(dir)
		require.NoError(t, err)
		t.Cleanup(func() { require.NoError(t, db.Close()) })
		m := NewManager(db, testConfig(), zerolog.Nop())
		require.NoError(t, m.Reload(ctx))
		return m
	}

	t.Run("removed token stays removed", func(t *testing.T) {
		dir := t.TempDir()
		server := open(t, dir)
		_, err := server.Add(ctx, "x-token", PoolBasic, "")
		require.NoError(t, err)

		cli := open(t, dir)
		_, err = cli.Remove(ctx, storage.Fingerprint("x-token")[:8])
		require.NoError(t, err)

		tok, ok := server.Get(PoolBasic)
		require.True(t, ok)
		require.ErrorIs(t, server.Consume(ctx, tok, EffortLow), ErrUnknownToken)
		require.Empty(t, server.List())

		require.NoError(t, cli.Reload(ctx))
		require.Empty(t, cli.List())
	})

	t.Run("usage from both processes adds up", func(t *testing.T) {
		dir := t.TempDir()
		a := open(t, dir)
		_, err := a.Add(ctx, "x-token", PoolBasic, "")
		require.NoError(t, err)
		b := open(t, dir)

		require.NoError(t, a.Consume(ctx, "x-token", EffortLow))
		require.NoError(t, b.Consume(ctx, "x-token", EffortHigh))
		require.NoError(t, a.Consume(ctx, "x-token", EffortLow))

		require.NoError(t, b.Reload(ctx))
		rec := b.List()[0]
		require.Equal(t, 80-6, rec.Quota)
		require.Equal(t, 3, rec.UseCount)
	})
}

func TestReload(t *testing.T) {
	ctx := context.Background()

	t.Run("if stale", func(t *testing.T) {
		m, db, c := testManager(t, testConfig())
		require.NoError(t, m.ReloadIfStale(ctx))

		other := NewManager(db, testConfig(), zerolog.Nop())
		_, err := other.Add(ctx, "a-token", PoolBasic, "")
		require.NoError(t, err)

		require.NoError(t, m.ReloadIfStale(ctx))
		require.Empty(t, m.List())

		c.advance(31 * time.Second)
		require.NoError(t, m.ReloadIfStale(ctx))
		require.Len(t, m.List(), 1)
	})

	t.Run("store error", func(t *testing.T) {
		m := NewManager(&failingStore{err: errors.New("boom")}, testConfig(), zerolog.Nop())
		require.ErrorContains(t, m.ReloadIfStale(ctx), "boom")
	})

	t.Run("token command", func(t *testing.T) {
		cfg := testConfig()
		cfg.TokenCmd = "pass show grok/sso"
		var ran string
		m, db, _ := testManager(t, cfg, WithCommandRunner(func(_ context.Context, line string) ([]byte, error) {
			ran = line
			return []byte("cmd-token-1\n# comment\n\nsso=cmd-token-2\n"), nil
		}))
		_, err := m.Add(ctx, "cmd-token-1", PoolSuper, "mine")
		require.NoError(t, err)

		require.NoError(t, m.Reload(ctx))
		require.Equal(t, "pass show grok/sso", ran)

		list := m.List()
		require.Len(t, list, 2)
		rec, err := db.Find(storage.Fingerprint("cmd-token-1"))
		require.NoError(t, err)
		require.Equal(t, PoolSuper, rec.Pool)
		rec, err = db.Find(storage.Fingerprint("cmd-token-2"))
		require.NoError(t, err)
		require.Equal(t, PoolBasic, rec.Pool)
		require.Equal(t, "cmd-token-2", rec.Token)
	})

	t.Run("token command failure keeps store tokens", func(t *testing.T) {
		cfg := testConfig()
		cfg.TokenCmd = "false"
		m, _, _ := testManager(t, cfg, WithCommandRunner(func(context.Context, string) ([]byte, error) {
			return nil, errors.New("exit status 1")
		}))
		_, err := m.Add(ctx, "a-token", PoolBasic, "")
		require.NoError(t, err)
		require.NoError(t, m.Reload(ctx))
		require.Len(t, m.List(), 1)
	})
}

func TestRunCommand(t *testing.T) {
	out, err := runCommand(context.Background(), `echo "tok-a"`)
	require.NoError(t, err)
	require.Equal(t, "tok-a", strings.TrimSpace(string(out)))

	_, err = runCommand(context.Background(), "")
	require.Error(t, err)
}

func TestManagement(t *testing.T) {
	ctx := context.Background()

	t.Run("add validates", func(t *testing.T) {
		m, _, _ := testManager(t, testConfig())
		_, err := m.Add(ctx, "tok", "ssoGold", "")
		require.ErrorIs(t, err, ErrUnknownPool)
		_, err = m.Add(ctx, "sso=", PoolBasic, "")
		require.Error(t, err)
	})

	t.Run("add existing updates", func(t *testing.T) {
		m, _, _ := testManager(t, testConfig())
		_, err := m.Add(ctx, "tok", PoolBasic, "first")
		require.NoError(t, err)
		require.NoError(t, m.Consume(ctx, "tok", EffortLow))
		rec, err := m.Add(ctx, "tok", PoolSuper, "")
		require.NoError(t, err)
		require.Equal(t, PoolSuper, rec.Pool)
		require.Equal(t, "first", rec.Note)
		require.Equal(t, 1, rec.UseCount)
		require.Len(t, m.List(), 1)
	})

	t.Run("remove", func(t *testing.T) {
		m, db, _ := testManager(t, testConfig())
		_, err := m.Add(ctx, "tok", PoolBasic, "laptop")
		require.NoError(t, err)

		_, err = m.Remove(ctx, "nothing")
		require.ErrorIs(t, err, storage.ErrNoMatches)

		rec, err := m.Remove(ctx, "laptop")
		require.NoError(t, err)
		require.Equal(t, "tok", rec.Token)
		require.Empty(t, m.List())
		require.Empty(t, db.List())
	})

	t.Run("prune", func(t *testing.T) {
		m, _, c := testManager(t, testConfig())
		_, err := m.Add(ctx, "old", PoolBasic, "")
		require.NoError(t, err)
		_, err = m.Add(ctx, "used", PoolBasic, "")
		require.NoError(t, err)

		c.advance(48 * time.Hour)
		require.NoError(t, m.Consume(ctx, "used", EffortLow))
		c.advance(time.Hour)
		_, err = m.Add(ctx, "new", PoolBasic, "")
		require.NoError(t, err)

		require.Len(t, m.Stale(24*time.Hour), 1)
		pruned, err := m.Prune(ctx, 24*time.Hour)
		require.NoError(t, err)
		require.Len(t, pruned, 1)
		require.Equal(t, "old", pruned[0].Token)
		require.Len(t, m.List(), 2)
	})

	t.Run("available and completions", func(t *testing.T) {
		m, _, _ := testManager(t, testConfig())
		_, err := m.Add(ctx, "a", PoolBasic, "alpha")
		require.NoError(t, err)
		_, err = m.Add(ctx, "b", PoolSuper, "")
		require.NoError(t, err)
		require.Equal(t, map[string]int{PoolBasic: 1, PoolSuper: 1}, m.Available())
		require.Contains(t, m.Completions("al"), "alpha\t"+storage.Fingerprint("a")[:storage.SHA1Short])
	})
}

type failingStore struct {
	err error
}

func (s *failingStore) Load(context.Context) ([]storage.Record, error) { return nil, s.err }
func (s *failingStore) Save(context.Context, storage.Record) error     { return s.err }
func (s *failingStore) Delete(context.Context, string) error           { return s.err }

func (s *failingStore) Update(context.Context, string, func(*storage.Record) error) (storage.Record, error) {
	return storage.Record{}, s.err
}
