package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fadelink/fadelink/models"
)

const keyPrefix = "file:"

// casScript swaps the value only while it still holds the bytes the caller
// read, keeping the key's TTL so the store-level expiry backstop survives
// every decrement. GET+SET inside one script run is atomic on Redis.
var casScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	redis.call("SET", KEYS[1], ARGV[2], "KEEPTTL")
	return 1
end
return 0
`)

// RedisStore implements MetadataStore on Redis. Records are JSON strings;
// only this adapter writes them, so byte equality of the serialized form is
// a valid record-version check for the conditional write.
type RedisStore struct {
	rdb *redis.Client
}

func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

func (s *RedisStore) Get(ctx context.Context, id string) (*models.ShareLink, error) {
	raw, err := s.rdb.Get(ctx, keyPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", id, err)
	}
	var rec models.ShareLink
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("decode record %s: %w", id, err)
	}
	return &rec, nil
}

func (s *RedisStore) Create(ctx context.Context, id string, rec *models.ShareLink, ttl time.Duration) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record %s: %w", id, err)
	}
	ok, err := s.rdb.SetNX(ctx, keyPrefix+id, raw, ttl).Result()
	if err != nil {
		return fmt.Errorf("redis setnx %s: %w", id, err)
	}
	if !ok {
		return ErrIDTaken
	}
	return nil
}

func (s *RedisStore) CompareAndSwap(ctx context.Context, id string, prev, next *models.ShareLink) error {
	prevRaw, err := json.Marshal(prev)
	if err != nil {
		return fmt.Errorf("encode record %s: %w", id, err)
	}
	nextRaw, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("encode record %s: %w", id, err)
	}
	n, err := casScript.Run(ctx, s.rdb, []string{keyPrefix + id}, prevRaw, nextRaw).Int()
	if err != nil {
		return fmt.Errorf("redis cas %s: %w", id, err)
	}
	if n == 0 {
		return ErrConflict
	}
	return nil
}

// Delete removes the key; deleting an absent key is not an error.
func (s *RedisStore) Delete(ctx context.Context, id string) error {
	if err := s.rdb.Del(ctx, keyPrefix+id).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", id, err)
	}
	return nil
}

var _ MetadataStore = (*RedisStore)(nil)
