package pacing

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	appErrors "github.com/unclebandit/campaign-dispatch/internal/errors"
)

// Stores unix milliseconds, keeping the larger of the stored and new value.
const recordMaxScript = `
local cur = tonumber(redis.call("GET", KEYS[1]) or "0")
local at = tonumber(ARGV[1])
if at > cur then
    redis.call("SET", KEYS[1], ARGV[1])
    return 1
end
return 0
`

const releaseScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
    return redis.call("del", KEYS[1])
else
    return 0
end
`

// RedisStore shares pacing state between worker processes.
type RedisStore struct {
	client       *redis.Client
	recordScript *redis.Script
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, recordScript: redis.NewScript(recordMaxScript)}
}

func lastSendKey(campaignID string) string {
	return fmt.Sprintf("pacing:last:%s", campaignID)
}

func (s *RedisStore) LastSend(ctx context.Context, campaignID string) (time.Time, bool, error) {
	v, err := s.client.Get(ctx, lastSendKey(campaignID)).Result()
	if err == redis.Nil {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, false, appErrors.Wrapf(err, "corrupt last-send value %q", v)
	}
	return time.UnixMilli(ms), true, nil
}

func (s *RedisStore) RecordSend(ctx context.Context, campaignID string, at time.Time) error {
	return s.recordScript.Run(ctx, s.client, []string{lastSendKey(campaignID)}, at.UnixMilli()).Err()
}

func (s *RedisStore) Reset(ctx context.Context, campaignID string) error {
	return s.client.Del(ctx, lastSendKey(campaignID)).Err()
}

// RedisLocker implements Locker with SET NX and an owner token.
type RedisLocker struct {
	client  *redis.Client
	release *redis.Script
}

func NewRedisLocker(client *redis.Client) *RedisLocker {
	return &RedisLocker{client: client, release: redis.NewScript(releaseScript)}
}

func (l *RedisLocker) Acquire(ctx context.Context, campaignID string, ttl time.Duration) (Lock, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return nil, err
	}
	lk := &redisLock{
		locker: l,
		key:    fmt.Sprintf("lock:pacing:%s", campaignID),
		value:  hex.EncodeToString(b),
	}
	ok, err := l.client.SetNX(ctx, lk.key, lk.value, ttl).Result()
	if err != nil {
		return nil, appErrors.Wrapf(err, "acquire lock %s", lk.key)
	}
	if !ok {
		return nil, appErrors.ErrLockNotAcquired
	}
	return lk, nil
}

type redisLock struct {
	locker *RedisLocker
	key    string
	value  string
}

// Release deletes the key only while this holder still owns it.
func (l *redisLock) Release(ctx context.Context) error {
	return l.locker.release.Run(ctx, l.locker.client, []string{l.key}, l.value).Err()
}
