package storage

import (
	"context"
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
)

const alertKeyPrefix = "ldapapi:alert:"

// AlertLock de-duplicates alerts across instances sharing one Redis.
type AlertLock struct {
	rdb   redis.Cmdable
	owner string
}

// NewAlertLock returns a lock whose holder is recorded as this host.
func NewAlertLock(rdb redis.Cmdable) *AlertLock {
	owner, err := os.Hostname()
	if err != nil || owner == "" {
		owner = "unknown"
	}
	return &AlertLock{rdb: rdb, owner: owner}
}

// Acquire reports whether the caller may send the alert named key.
// The claim expires after ttl, after which the next failure alerts again.
func (l *AlertLock) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := l.rdb.SetNX(ctx, alertKeyPrefix+key, l.owner, ttl).Result()
	if err != nil {
		return false, errors.Wrapf(err, "acquire alert lock %s", key)
	}
	return ok, nil
}

// Release drops the claim so the next failure alerts immediately.
func (l *AlertLock) Release(ctx context.Context, key string) error {
	if err := l.rdb.Del(ctx, alertKeyPrefix+key).Err(); err != nil {
		return errors.Wrapf(err, "release alert lock %s", key)
	}
	return nil
}
