package history

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	redisKeyPrefix = "vai-canvas:session:"
	redisIndexKey  = "vai-canvas:sessions"
)

// RedisStore keeps each snapshot as a JSON string plus a sorted-set index
// scored by start time.
type RedisStore struct {
	client *redis.Client
}

// OpenRedis connects to the redis server at url (redis://host:port/db).
func OpenRedis(ctx context.Context, url string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis: parse url: %w", err)
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return &RedisStore{client: client}, nil
}

// NewRedisStore wraps an existing client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Close() error { return s.client.Close() }

func (s *RedisStore) Save(ctx context.Context, snap Snapshot) error {
	buf, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	_, err = s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, redisKeyPrefix+snap.SessionID, buf, 0)
		p.ZAdd(ctx, redisIndexKey, redis.Z{
			Score:  float64(snap.StartTime.UnixMilli()),
			Member: snap.SessionID,
		})
		return nil
	})
	return err
}

func (s *RedisStore) List(ctx context.Context) ([]Snapshot, error) {
	ids, err := s.client.ZRevRange(ctx, redisIndexKey, 0, -1).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = redisKeyPrefix + id
	}
	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	out := make([]Snapshot, 0, len(vals))
	for i, v := range vals {
		raw, ok := v.(string)
		if !ok {
			// Index entry without a value; skip it.
			continue
		}
		var snap Snapshot
		if err := json.Unmarshal([]byte(raw), &snap); err != nil {
			return nil, fmt.Errorf("decode snapshot %s: %w", ids[i], err)
		}
		out = append(out, snap)
	}
	return out, nil
}

func (s *RedisStore) Delete(ctx context.Context, sessionID string) error {
	var del *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		del = p.Del(ctx, redisKeyPrefix+sessionID)
		p.ZRem(ctx, redisIndexKey, sessionID)
		return nil
	})
	if err != nil {
		return err
	}
	if del.Val() == 0 {
		return ErrNotFound
	}
	return nil
}
