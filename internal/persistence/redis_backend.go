package persistence

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/aixgo-dev/swarm/pkg/config"
)

// RedisBackend stores checkpoints in Redis: each blob under
// <prefix>blob:<id> and an index sorted set <prefix>index scored by save
// time in milliseconds.
type RedisBackend struct {
	client *redis.Client
	prefix string
	now    func() time.Time
	mu     sync.RWMutex
	closed bool
}

// NewRedisBackend connects to Redis and verifies the connection.
func NewRedisBackend(ctx context.Context, cfg config.RedisConfig) (*RedisBackend, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis address is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return NewRedisBackendFromClient(client, cfg.Prefix), nil
}

// NewRedisBackendFromClient wraps an existing client.
func NewRedisBackendFromClient(client *redis.Client, prefix string) *RedisBackend {
	if prefix == "" {
		prefix = "swarm:checkpoint:"
	}
	return &RedisBackend{client: client, prefix: prefix, now: time.Now}
}

func (b *RedisBackend) blobKey(id string) string { return b.prefix + "blob:" + id }
func (b *RedisBackend) indexKey() string         { return b.prefix + "index" }

func (b *RedisBackend) checkOpen() error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}
	return nil
}

// Save stores blob and indexes it.
func (b *RedisBackend) Save(ctx context.Context, id string, blob []byte) error {
	if err := validateID(id); err != nil {
		return err
	}
	if err := b.checkOpen(); err != nil {
		return err
	}

	pipe := b.client.TxPipeline()
	pipe.Set(ctx, b.blobKey(id), blob, 0)
	pipe.ZAdd(ctx, b.indexKey(), redis.Z{Score: float64(b.now().UnixMilli()), Member: id})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}

// Load returns the blob stored under id.
func (b *RedisBackend) Load(ctx context.Context, id string) ([]byte, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}
	if err := b.checkOpen(); err != nil {
		return nil, err
	}
	data, err := b.client.Get(ctx, b.blobKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get checkpoint: %w", err)
	}
	return data, nil
}

// List returns the indexed checkpoints, oldest first.
func (b *RedisBackend) List(ctx context.Context) ([]Info, error) {
	if err := b.checkOpen(); err != nil {
		return nil, err
	}
	zs, err := b.client.ZRangeWithScores(ctx, b.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	out := make([]Info, 0, len(zs))
	for _, z := range zs {
		id, _ := z.Member.(string)
		size, err := b.client.StrLen(ctx, b.blobKey(id)).Result()
		if err != nil {
			return nil, fmt.Errorf("stat checkpoint %s: %w", id, err)
		}
		out = append(out, Info{
			ID:      id,
			SavedAt: time.UnixMilli(int64(z.Score)).UTC(),
			Size:    int(size),
		})
	}
	return out, nil
}

// Latest returns the most recently saved checkpoint.
func (b *RedisBackend) Latest(ctx context.Context) (Info, []byte, error) {
	if err := b.checkOpen(); err != nil {
		return Info{}, nil, err
	}
	zs, err := b.client.ZRevRangeWithScores(ctx, b.indexKey(), 0, 0).Result()
	if err != nil {
		return Info{}, nil, fmt.Errorf("latest checkpoint: %w", err)
	}
	if len(zs) == 0 {
		return Info{}, nil, ErrNotFound
	}
	id, _ := zs[0].Member.(string)
	data, err := b.Load(ctx, id)
	if err != nil {
		return Info{}, nil, err
	}
	return Info{ID: id, SavedAt: time.UnixMilli(int64(zs[0].Score)).UTC(), Size: len(data)}, data, nil
}

// Delete removes a checkpoint and its index entry.
func (b *RedisBackend) Delete(ctx context.Context, id string) error {
	if err := validateID(id); err != nil {
		return err
	}
	if err := b.checkOpen(); err != nil {
		return err
	}
	pipe := b.client.TxPipeline()
	pipe.Del(ctx, b.blobKey(id))
	pipe.ZRem(ctx, b.indexKey(), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("delete checkpoint: %w", err)
	}
	return nil
}

// Ping checks the connection.
func (b *RedisBackend) Ping(ctx context.Context) error {
	if err := b.checkOpen(); err != nil {
		return err
	}
	return b.client.Ping(ctx).Err()
}

// Close releases the client.
func (b *RedisBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	return b.client.Close()
}
