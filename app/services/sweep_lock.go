package services

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"time"

	"github.com/redis/go-redis/v9"
)

// SweepLock guards a periodic job so one replica runs it per tick
type SweepLock interface {
	// TryAcquire returns a release func when the lock was taken, nil otherwise
	TryAcquire(ctx context.Context, name string, ttl time.Duration) (func(context.Context) error, error)
}

var releaseLockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type RedisSweepLock struct {
	rc     *redis.Client
	prefix string
}

func NewRedisSweepLock(rc *redis.Client, prefix string) *RedisSweepLock {
	return &RedisSweepLock{rc: rc, prefix: prefix}
}

func (l *RedisSweepLock) TryAcquire(ctx context.Context, name string, ttl time.Duration) (func(context.Context) error, error) {
	key := "lock:" + name
	if l.prefix != "" {
		key = l.prefix + ":" + key
	}

	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return nil, err
	}
	owner := hex.EncodeToString(buf)

	ok, err := l.rc.SetNX(ctx, key, owner, ttl).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}

	return func(ctx context.Context) error {
		return releaseLockScript.Run(ctx, l.rc, []string{key}, owner).Err()
	}, nil
}

// LocalSweepLock is a process-local lock used when redis is not configured
type LocalSweepLock struct {
	held chan struct{}
}

func NewLocalSweepLock() *LocalSweepLock {
	return &LocalSweepLock{held: make(chan struct{}, 1)}
}

func (l *LocalSweepLock) TryAcquire(ctx context.Context, name string, ttl time.Duration) (func(context.Context) error, error) {
	select {
	case l.held <- struct{}{}:
		return func(context.Context) error {
			<-l.held
			return nil
		}, nil
	default:
		return nil, nil
	}
}
