// Package tokens keeps the pool of upstream session tokens: which ones are
// usable, how much quota they have left and when cooled-down tokens come
// back.
package tokens

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/dotcommander/groksearch/internal/config"
	"github.com/dotcommander/groksearch/internal/metrics"
	"github.com/dotcommander/groksearch/internal/storage"
)

// Pools.
const (
	PoolBasic = "ssoBasic"
	PoolSuper = "ssoSuper"
)

// Token states.
const (
	StatusActive   = "active"
	StatusCooling  = "cooling"
	StatusDisabled = "disabled"
)

var (
	// ErrUnknownToken is returned when consuming a token the pool does not hold.
	ErrUnknownToken = errors.New("unknown token")
	// ErrUnknownPool is returned when adding a token to a pool that does not exist.
	ErrUnknownPool = errors.New("unknown pool")
)

// Store persists token records.
type Store interface {
	Load(ctx context.Context) ([]storage.Record, error)
	Save(ctx context.Context, rec storage.Record) error
	Delete(ctx context.Context, id string) error
	// Update applies fn to the stored record atomically. It returns
	// storage.ErrNotFound when the record is gone.
	Update(ctx context.Context, id string, fn func(*storage.Record) error) (storage.Record, error)
}

// Manager serves tokens out of an in-memory snapshot of the store. It is
// safe for concurrent use.
type Manager struct {
	store Store
	cfg   config.Tokens
	log   zerolog.Logger
	now   func() time.Time
	run   func(context.Context, string) ([]byte, error)

	reloadMu sync.Mutex

	mu       sync.RWMutex
	records  map[string]storage.Record
	loadedAt time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithCommandRunner replaces the runner of tokens.token-cmd.
func WithCommandRunner(run func(context.Context, string) ([]byte, error)) Option {
	return func(m *Manager) { m.run = run }
}

// NewManager returns a manager over store. Nothing is loaded until the
// first Reload or ReloadIfStale.
func NewManager(store Store, cfg config.Tokens, log zerolog.Logger, opts ...Option) *Manager {
	m := &Manager{
		store:   store,
		cfg:     cfg,
		log:     log.With().Str("component", "tokens").Logger(),
		now:     time.Now,
		run:     runCommand,
		records: map[string]storage.Record{},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// ReloadIfStale reloads when the snapshot is older than the reload interval.
func (m *Manager) ReloadIfStale(ctx context.Context) error {
	if !m.stale() {
		return nil
	}
	m.reloadMu.Lock()
	defer m.reloadMu.Unlock()
	if !m.stale() {
		return nil
	}
	return m.reload(ctx)
}

// Reload replaces the snapshot with the store contents, merging in the
// output of tokens.token-cmd when configured.
func (m *Manager) Reload(ctx context.Context) error {
	m.reloadMu.Lock()
	defer m.reloadMu.Unlock()
	return m.reload(ctx)
}

func (m *Manager) stale() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.loadedAt.IsZero() || m.now().Sub(m.loadedAt) >= m.cfg.ReloadInterval
}

func (m *Manager) reload(ctx context.Context) error {
	records, err := m.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("reload tokens: %w", err)
	}

	byID := make(map[string]storage.Record, len(records))
	for _, rec := range records {
		byID[rec.ID] = rec
	}

	if m.cfg.TokenCmd != "" {
		lines, err := commandTokens(ctx, m.run, m.cfg.TokenCmd)
		if err != nil {
			// keep serving what the store has
			m.log.Warn().Err(err).Msg("token-cmd failed")
		}
		for _, token := range lines {
			rec := m.newRecord(token, PoolBasic, "token-cmd")
			if _, ok := byID[rec.ID]; ok {
				continue
			}
			if err := m.store.Save(ctx, rec); err != nil {
				return fmt.Errorf("reload tokens: %w", err)
			}
			byID[rec.ID] = rec
		}
	}

	m.mu.Lock()
	m.records = byID
	m.loadedAt = m.now()
	m.mu.Unlock()

	m.updateGauge()
	m.log.Debug().Int("tokens", len(byID)).Msg("tokens reloaded")
	return nil
}

// Get returns the best usable token of pool: the one with the most quota
// left, the least recently used on ties. Cooling tokens whose cooldown has
// passed are reactivated with the pool's default quota.
func (m *Manager) Get(pool string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	var best *storage.Record
	for id, rec := range m.records {
		if rec.Pool != pool {
			continue
		}
		if m.reactivate(&rec, now) {
			m.records[id] = rec
		}
		if rec.Status != StatusActive || rec.Quota <= 0 {
			continue
		}
		if best == nil || better(rec, *best) {
			r := rec
			best = &r
		}
	}
	if best == nil {
		return "", false
	}
	return best.Token, true
}

func better(a, b storage.Record) bool {
	if a.Quota != b.Quota {
		return a.Quota > b.Quota
	}
	if !a.UsedAt.Equal(b.UsedAt) {
		return a.UsedAt.Before(b.UsedAt)
	}
	return a.ID < b.ID
}

// Consume charges one request of the given effort to token and persists
// the new state. The charge is applied to the stored record, so usage by
// other processes sharing the store is not lost. A token that runs out of
// quota starts cooling down.
func (m *Manager) Consume(ctx context.Context, token string, effort Effort) error {
	now := m.now()
	var cooled bool
	rec, err := m.update(ctx, token, func(rec *storage.Record) error {
		m.reactivate(rec, now)
		rec.Quota = max(rec.Quota-effort.Cost(), 0)
		rec.UseCount++
		rec.UsedAt = now
		cooled = rec.Quota == 0 && rec.Status == StatusActive
		if cooled {
			rec.Status = StatusCooling
			rec.CoolUntil = now.Add(m.cfg.Cooldown)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("consume %s: %w", storage.Mask(token), err)
	}
	if cooled {
		m.log.Info().
			Str("token", storage.Mask(rec.Token)).
			Str("pool", rec.Pool).
			Time("until", rec.CoolUntil).
			Msg("token out of quota, cooling down")
	}
	return nil
}

// Disable takes token out of rotation until it is added again. It is used
// for tokens the upstream rejects.
func (m *Manager) Disable(ctx context.Context, token string) error {
	rec, err := m.update(ctx, token, func(rec *storage.Record) error {
		rec.Status = StatusDisabled
		rec.CoolUntil = time.Time{}
		return nil
	})
	if err != nil {
		return fmt.Errorf("disable %s: %w", storage.Mask(token), err)
	}
	m.log.Warn().
		Str("token", storage.Mask(rec.Token)).
		Str("pool", rec.Pool).
		Msg("token rejected upstream, disabled")
	return nil
}

// update runs fn on the stored record of token and mirrors the result in
// the snapshot. A record deleted from the store is dropped from the
// snapshot too.
func (m *Manager) update(ctx context.Context, token string, fn func(*storage.Record) error) (storage.Record, error) {
	id := storage.Fingerprint(token)
	rec, err := m.store.Update(ctx, id, fn)
	if errors.Is(err, storage.ErrNotFound) {
		m.mu.Lock()
		delete(m.records, id)
		m.mu.Unlock()
		m.updateGauge()
		return storage.Record{}, ErrUnknownToken
	}
	if err != nil {
		return storage.Record{}, err
	}

	m.mu.Lock()
	m.records[id] = rec
	m.mu.Unlock()
	m.updateGauge()
	return rec, nil
}

// reactivate ends a finished cooldown, refilling the pool's default quota.
func (m *Manager) reactivate(rec *storage.Record, now time.Time) bool {
	if rec.Status != StatusCooling || rec.CoolUntil.After(now) {
		return false
	}
	rec.Status = StatusActive
	rec.Quota = m.defaultQuota(rec.Pool)
	rec.CoolUntil = time.Time{}
	return true
}

// Add stores a new token in pool. Adding a token that already exists
// updates its pool and note, and brings it back if it was disabled.
func (m *Manager) Add(ctx context.Context, token, pool, note string) (storage.Record, error) {
	if pool == "" {
		pool = PoolBasic
	}
	if pool != PoolBasic && pool != PoolSuper {
		return storage.Record{}, fmt.Errorf("%w: %q, valid pools are: %s, %s", ErrUnknownPool, pool, PoolBasic, PoolSuper)
	}
	if storage.CleanToken(token) == "" {
		return storage.Record{}, errors.New("empty token")
	}

	rec := m.newRecord(token, pool, note)

	m.mu.Lock()
	if existing, ok := m.records[rec.ID]; ok {
		existing.Pool = pool
		if existing.Status == StatusDisabled {
			existing.Status = StatusActive
			existing.Quota = m.defaultQuota(pool)
		}
		if note != "" {
			existing.Note = note
		}
		rec = existing
	}
	m.records[rec.ID] = rec
	m.mu.Unlock()

	if err := m.store.Save(ctx, rec); err != nil {
		return storage.Record{}, fmt.Errorf("add token: %w", err)
	}
	m.updateGauge()
	return rec, nil
}

// Remove deletes the token identified by an ID prefix or note.
func (m *Manager) Remove(ctx context.Context, in string) (storage.Record, error) {
	rec, err := storage.Find(m.List(), in)
	if err != nil {
		return storage.Record{}, err
	}
	if err := m.store.Delete(ctx, rec.ID); err != nil {
		return storage.Record{}, fmt.Errorf("remove token: %w", err)
	}

	m.mu.Lock()
	delete(m.records, rec.ID)
	m.mu.Unlock()

	m.updateGauge()
	return *rec, nil
}

// Prune removes tokens not used for at least unusedFor and returns them.
// Tokens that were never used count from their creation time.
func (m *Manager) Prune(ctx context.Context, unusedFor time.Duration) ([]storage.Record, error) {
	cutoff := m.now().Add(-unusedFor)
	var pruned []storage.Record
	for _, rec := range m.List() {
		if !rec.LastActive().Before(cutoff) {
			continue
		}
		if err := m.store.Delete(ctx, rec.ID); err != nil {
			return pruned, fmt.Errorf("prune tokens: %w", err)
		}
		m.mu.Lock()
		delete(m.records, rec.ID)
		m.mu.Unlock()
		pruned = append(pruned, rec)
	}
	m.updateGauge()
	return pruned, nil
}

// Stale returns the tokens Prune would remove.
func (m *Manager) Stale(unusedFor time.Duration) []storage.Record {
	cutoff := m.now().Add(-unusedFor)
	var out []storage.Record
	for _, rec := range m.List() {
		if rec.LastActive().Before(cutoff) {
			out = append(out, rec)
		}
	}
	return out
}

// List returns the snapshot, oldest first.
func (m *Manager) List() []storage.Record {
	m.mu.RLock()
	out := make([]storage.Record, 0, len(m.records))
	for _, rec := range m.records {
		out = append(out, rec)
	}
	m.mu.RUnlock()
	storage.SortByCreated(out)
	return out
}

// Completions returns shell completion candidates for token IDs and notes.
func (m *Manager) Completions(in string) []string {
	return storage.Completions(m.List(), in)
}

// Available counts the tokens of each pool that could be served now.
func (m *Manager) Available() map[string]int {
	now := m.now()
	counts := map[string]int{PoolBasic: 0, PoolSuper: 0}
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, rec := range m.records {
		switch {
		case rec.Status == StatusActive && rec.Quota > 0:
			counts[rec.Pool]++
		case rec.Status == StatusCooling && !rec.CoolUntil.After(now):
			counts[rec.Pool]++
		}
	}
	return counts
}

func (m *Manager) updateGauge() {
	for pool, n := range m.Available() {
		metrics.TokensAvailable.WithLabelValues(pool).Set(float64(n))
	}
}

func (m *Manager) newRecord(token, pool, note string) storage.Record {
	token = storage.CleanToken(token)
	return storage.Record{
		ID:        storage.Fingerprint(token),
		Token:     token,
		Pool:      pool,
		Quota:     m.defaultQuota(pool),
		Status:    StatusActive,
		CreatedAt: m.now().UTC(),
		Note:      strings.TrimSpace(note),
	}
}

func (m *Manager) defaultQuota(pool string) int {
	if pool == PoolSuper {
		return m.cfg.SuperQuota
	}
	return m.cfg.BasicQuota
}

// Pools lists the known pool names.
func Pools() []string {
	return []string{PoolBasic, PoolSuper}
}
