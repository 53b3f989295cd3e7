package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dotcommander/groksearch/internal/config"
)

const maxUpdateRetries = 10

// Redis stores token records in one hash, "<prefix>:tokens", keyed by ID
// with the JSON record as value.
type Redis struct {
	rdb *redis.Client
	key string
}

// OpenRedis connects to redis and checks the connection.
func OpenRedis(ctx context.Context, cfg config.Redis) (*Redis, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return NewRedis(rdb, cfg.Prefix), nil
}

// NewRedis wraps an existing client.
func NewRedis(rdb *redis.Client, prefix string) *Redis {
	prefix = strings.TrimSuffix(prefix, ":")
	if prefix == "" {
		prefix = "groksearch"
	}
	return &Redis{rdb: rdb, key: prefix + ":tokens"}
}

// Close closes the client.
func (r *Redis) Close() error {
	return r.rdb.Close()
}

// Load returns every record, oldest first.
func (r *Redis) Load(ctx context.Context) ([]Record, error) {
	values, err := r.rdb.HGetAll(ctx, r.key).Result()
	if err != nil {
		return nil, fmt.Errorf("Load: hgetall %s: %w", r.key, err)
	}
	records := make([]Record, 0, len(values))
	for id, v := range values {
		var rec Record
		if err := json.Unmarshal([]byte(v), &rec); err != nil {
			return nil, fmt.Errorf("Load: decode %s: %w", id, err)
		}
		records = append(records, rec)
	}
	SortByCreated(records)
	return records, nil
}

// Save upserts a token record.
func (r *Redis) Save(ctx context.Context, rec Record) error {
	if strings.TrimSpace(rec.ID) == "" {
		return fmt.Errorf("Save: %w", errors.New("empty id"))
	}
	if strings.TrimSpace(rec.Token) == "" {
		return fmt.Errorf("Save: %w", errors.New("empty token"))
	}
	bts, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("Save: %w", err)
	}
	if err := r.rdb.HSet(ctx, r.key, rec.ID, bts).Err(); err != nil {
		return fmt.Errorf("Save: hset %s: %w", r.key, err)
	}
	return nil
}

// Update applies fn to the stored record with the given ID inside a
// WATCH/MULTI transaction, retrying when another writer got in between.
func (r *Redis) Update(ctx context.Context, id string, fn func(*Record) error) (Record, error) {
	var rec Record
	txf := func(tx *redis.Tx) error {
		v, err := tx.HGet(ctx, r.key, id).Result()
		if errors.Is(err, redis.Nil) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("hget %s: %w", r.key, err)
		}
		rec = Record{}
		if err := json.Unmarshal([]byte(v), &rec); err != nil {
			return fmt.Errorf("decode %s: %w", id, err)
		}
		if err := fn(&rec); err != nil {
			return err
		}
		rec.ID = id
		bts, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, r.key, id, bts)
			return nil
		})
		return err
	}

	for range maxUpdateRetries {
		err := r.rdb.Watch(ctx, txf, r.key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return Record{}, fmt.Errorf("Update: %w", err)
		}
		return rec, nil
	}
	return Record{}, fmt.Errorf("Update: %s: too much contention", id)
}

// Delete removes a token record by ID.
func (r *Redis) Delete(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("Delete: %w", errors.New("empty id"))
	}
	if err := r.rdb.HDel(ctx, r.key, id).Err(); err != nil {
		return fmt.Errorf("Delete: hdel %s: %w", r.key, err)
	}
	return nil
}
