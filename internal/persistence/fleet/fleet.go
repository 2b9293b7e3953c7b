// Package fleet shares load history between servers through Redis, so a ship loaded
// on one server is recognised as a repeat on the others.
package fleet

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/redis/go-redis/v9"

	"shipyard.ai/internal/persistence/ledger"
)

const defaultPrefix = "shipyard:"

// Counter implements the save/load ledger operations on Redis. Load counts expire
// after TTL when it is positive.
type Counter struct {
	client *redis.Client
	prefix string
	TTL    time.Duration
}

func NewCounter(redisURL string) (*Counter, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return NewCounterWithClient(client, defaultPrefix), nil
}

func NewCounterWithClient(client *redis.Client, prefix string) *Counter {
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &Counter{client: client, prefix: prefix}
}

func (c *Counter) loadKey(originGridID, checksum string) string {
	return fmt.Sprintf("%sloads:%s:%016x", c.prefix, originGridID, xxhash.Sum64String(checksum))
}

func (c *Counter) saveKey(originGridID string) string {
	return c.prefix + "saves:" + originGridID
}

// RecordSave keeps the latest save of each origin grid.
func (c *Counter) RecordSave(ctx context.Context, r ledger.SaveRecord) error {
	err := c.client.HSet(ctx, c.saveKey(r.OriginGridID), map[string]any{
		"checksum":  r.Checksum,
		"owner_id":  r.OwnerID,
		"ship_name": r.ShipName,
		"saved_at":  r.At.UTC().Format(time.RFC3339Nano),
	}).Err()
	if err != nil {
		return fmt.Errorf("record save: %w", err)
	}
	return nil
}

func (c *Counter) RecordLoad(ctx context.Context, r ledger.LoadRecord) error {
	key := c.loadKey(r.OriginGridID, r.Checksum)
	pipe := c.client.TxPipeline()
	pipe.Incr(ctx, key)
	if c.TTL > 0 {
		pipe.Expire(ctx, key, c.TTL)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("record load: %w", err)
	}
	return nil
}

func (c *Counter) PriorLoads(ctx context.Context, originGridID, checksum string) (int, error) {
	v, err := c.client.Get(ctx, c.loadKey(originGridID, checksum)).Result()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("prior loads: %w", err)
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("prior loads: bad counter %q", v)
	}
	return n, nil
}

// LastSave returns the latest save recorded for originGridID anywhere in the fleet.
func (c *Counter) LastSave(ctx context.Context, originGridID string) (ledger.SaveRecord, bool, error) {
	m, err := c.client.HGetAll(ctx, c.saveKey(originGridID)).Result()
	if err != nil {
		return ledger.SaveRecord{}, false, fmt.Errorf("last save: %w", err)
	}
	if len(m) == 0 {
		return ledger.SaveRecord{}, false, nil
	}
	at, _ := time.Parse(time.RFC3339Nano, m["saved_at"])
	return ledger.SaveRecord{
		Checksum:     m["checksum"],
		OriginGridID: originGridID,
		OwnerID:      m["owner_id"],
		ShipName:     m["ship_name"],
		At:           at,
	}, true, nil
}

func (c *Counter) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *Counter) Close() error {
	return c.client.Close()
}
