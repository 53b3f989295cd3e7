package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gofrs/flock"
)

const (
	indexFileName      = "tokens.jsonl"
	compactMinOps      = 256
	compactScaleFactor = 4
)

type tokenEvent struct {
	Op     string  `json:"op"`
	ID     string  `json:"id,omitempty"`
	Record *Record `json:"record,omitempty"`
}

// Open loads the token store from the given datasource.
//
// The datasource is usually a directory path. The special value ":memory:"
// creates a temporary store (primarily used for tests).
func Open(ds string) (*DB, error) {
	dir, cleanupDir, err := resolveStoreDir(ds)
	if err != nil {
		return nil, fmt.Errorf("could not resolve store path: %w", err)
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("could not create store directory: %w", err)
	}

	c := &DB{
		indexPath:      filepath.Join(dir, indexFileName),
		lock:           flock.New(filepath.Join(dir, "tokens.lock")),
		records:        make(map[string]Record),
		cleanupTempDir: cleanupDir,
	}
	if err := c.load(); err != nil {
		return nil, err
	}

	return c, nil
}

// DB is an append-only JSONL-backed token store. Several processes may
// share one directory; writes and compaction take a file lock.
type DB struct {
	mu             sync.RWMutex
	indexPath      string
	lock           *flock.Flock
	records        map[string]Record
	ops            int
	cleanupTempDir string
}

// Close releases temporary resources (used for :memory: stores).
func (c *DB) Close() error {
	if c.cleanupTempDir == "" {
		return nil
	}
	if err := os.RemoveAll(c.cleanupTempDir); err != nil {
		return fmt.Errorf("close: %w", err)
	}
	return nil
}

// Load re-reads the index, picking up writes of other processes, and
// returns every record.
func (c *DB) Load(context.Context) ([]Record, error) {
	c.mu.Lock()
	err := c.load()
	c.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("Load: %w", err)
	}
	return c.List(), nil
}

// Save upserts a token record.
func (c *DB) Save(_ context.Context, rec Record) error {
	if strings.TrimSpace(rec.ID) == "" {
		return fmt.Errorf("Save: %w", errors.New("empty id"))
	}
	if strings.TrimSpace(rec.Token) == "" {
		return fmt.Errorf("Save: %w", errors.New("empty token"))
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.records[rec.ID] = rec
	if err := c.appendEventLocked(tokenEvent{Op: "upsert", Record: &rec}); err != nil {
		return fmt.Errorf("Save: %w", err)
	}
	if err := c.compactIfNeededLocked(); err != nil {
		return fmt.Errorf("Save: %w", err)
	}

	return nil
}

// Delete removes a token record by ID.
func (c *DB) Delete(_ context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("Delete: %w", errors.New("empty id"))
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.records[id]; !ok {
		return nil
	}
	delete(c.records, id)

	if err := c.appendEventLocked(tokenEvent{Op: "delete", ID: id}); err != nil {
		return fmt.Errorf("Delete: %w", err)
	}
	if err := c.compactIfNeededLocked(); err != nil {
		return fmt.Errorf("Delete: %w", err)
	}
	return nil
}

// Update applies fn to the current record with the given ID and stores the
// result. The index is replayed under the file lock first, so fn sees writes
// of other processes and a record deleted elsewhere yields ErrNotFound.
func (c *DB) Update(_ context.Context, id string, fn func(*Record) error) (Record, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec, err := c.updateLocked(id, fn)
	if err != nil {
		return Record{}, fmt.Errorf("Update: %w", err)
	}
	if err := c.compactIfNeededLocked(); err != nil {
		return Record{}, fmt.Errorf("Update: %w", err)
	}
	return rec, nil
}

func (c *DB) updateLocked(id string, fn func(*Record) error) (Record, error) {
	if c.lock != nil {
		if err := c.lock.Lock(); err != nil {
			return Record{}, fmt.Errorf("lock index: %w", err)
		}
		defer func() { _ = c.lock.Unlock() }()
	}
	if err := c.replayLocked(); err != nil {
		return Record{}, err
	}

	rec, ok := c.records[id]
	if !ok {
		return Record{}, ErrNotFound
	}
	if err := fn(&rec); err != nil {
		return Record{}, err
	}
	rec.ID = id
	if err := c.writeEvent(tokenEvent{Op: "upsert", Record: &rec}); err != nil {
		return Record{}, err
	}
	c.records[id] = rec
	return rec, nil
}

// Completions returns shell completion candidates for IDs and notes.
func (c *DB) Completions(in string) []string {
	return Completions(c.List(), in)
}

// Find resolves a token by ID prefix or exact note.
func (c *DB) Find(in string) (*Record, error) {
	return Find(c.List(), in)
}

// List returns records oldest first.
func (c *DB) List() []Record {
	c.mu.RLock()
	records := make([]Record, 0, len(c.records))
	for _, rec := range c.records {
		records = append(records, rec)
	}
	c.mu.RUnlock()

	SortByCreated(records)
	return records
}

func resolveStoreDir(ds string) (dir string, cleanupDir string, err error) {
	if ds == ":memory:" {
		tempDir, err := os.MkdirTemp("", "groksearch-tokens-*")
		if err != nil {
			return "", "", fmt.Errorf("could not create temp tokens directory: %w", err)
		}
		return tempDir, tempDir, nil
	}

	if filepath.Ext(ds) == ".jsonl" {
		return filepath.Dir(ds), "", nil
	}

	return ds, "", nil
}

func (c *DB) load() error {
	if c.lock != nil {
		if err := c.lock.Lock(); err != nil {
			return fmt.Errorf("could not lock index file: %w", err)
		}
		defer func() { _ = c.lock.Unlock() }()
	}
	return c.replayLocked()
}

// replayLocked rebuilds the in-memory records from the index file. The
// caller holds the file lock.
func (c *DB) replayLocked() error {
	records := make(map[string]Record, len(c.records))
	ops := 0

	file, err := os.Open(c.indexPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			c.records, c.ops = records, 0
			return nil
		}
		return fmt.Errorf("could not open index file: %w", err)
	}
	defer file.Close() //nolint:errcheck

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var evt tokenEvent
		if err := json.Unmarshal([]byte(line), &evt); err != nil {
			return fmt.Errorf("could not parse index event: %w", err)
		}
		if err := applyEvent(records, &evt); err != nil {
			return err
		}
		ops++
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("could not scan index file: %w", err)
	}

	c.records, c.ops = records, ops
	return nil
}

func applyEvent(records map[string]Record, evt *tokenEvent) error {
	switch evt.Op {
	case "upsert":
		if evt.Record == nil {
			return fmt.Errorf("invalid upsert event: missing record")
		}
		if strings.TrimSpace(evt.Record.ID) == "" {
			return fmt.Errorf("invalid upsert event: empty id")
		}
		records[evt.Record.ID] = *evt.Record
	case "delete":
		if strings.TrimSpace(evt.ID) == "" {
			return fmt.Errorf("invalid delete event: empty id")
		}
		delete(records, evt.ID)
	default:
		return fmt.Errorf("invalid index event op: %q", evt.Op)
	}
	return nil
}

func (c *DB) appendEventLocked(evt tokenEvent) error {
	if c.lock != nil {
		if err := c.lock.Lock(); err != nil {
			return fmt.Errorf("lock index: %w", err)
		}
		defer func() { _ = c.lock.Unlock() }()
	}
	return c.writeEvent(evt)
}

// writeEvent appends evt to the index. The caller holds the file lock.
func (c *DB) writeEvent(evt tokenEvent) error {
	file, err := os.OpenFile(c.indexPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("open index: %w", err)
	}
	defer func() { _ = file.Close() }()

	bts, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal index event: %w", err)
	}
	bts = append(bts, '\n')
	if _, err := file.Write(bts); err != nil {
		return fmt.Errorf("write index event: %w", err)
	}
	if err := file.Sync(); err != nil {
		return fmt.Errorf("sync index: %w", err)
	}

	c.ops++
	return nil
}

func (c *DB) compactIfNeededLocked() error {
	if c.ops < compactMinOps {
		return nil
	}
	if len(c.records) > 0 && c.ops < len(c.records)*compactScaleFactor {
		return nil
	}
	return c.compactLocked()
}

// compactLocked rewrites the index with one upsert per live record. The
// file is replayed first so records appended by other processes survive.
func (c *DB) compactLocked() error {
	if c.lock != nil {
		if err := c.lock.Lock(); err != nil {
			return fmt.Errorf("lock index: %w", err)
		}
		defer func() { _ = c.lock.Unlock() }()
	}
	if err := c.replayLocked(); err != nil {
		return err
	}

	items := make([]Record, 0, len(c.records))
	for _, rec := range c.records {
		items = append(items, rec)
	}
	SortByCreated(items)

	tmpPath := c.indexPath + ".tmp"
	file, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("open compacted index: %w", err)
	}

	enc := json.NewEncoder(file)
	for _, rec := range items {
		event := tokenEvent{Op: "upsert", Record: &rec}
		if err := enc.Encode(event); err != nil {
			_ = file.Close()
			return fmt.Errorf("write compacted index: %w", err)
		}
	}
	if err := file.Sync(); err != nil {
		_ = file.Close()
		return fmt.Errorf("sync compacted index: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("close compacted index: %w", err)
	}

	if err := os.Rename(tmpPath, c.indexPath); err != nil {
		return fmt.Errorf("replace index with compacted version: %w", err)
	}
	_ = syncDir(filepath.Dir(c.indexPath))

	c.ops = len(c.records)
	return nil
}

func syncDir(path string) error {
	d, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = d.Close() }()
	return d.Sync()
}
