// Package lock provides per-wallet mutual exclusion for the sync
// read-merge-write. KeyedMutex serves a single process; RedisLocker
// extends the guarantee across instances sharing one Redis.
package lock

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Locker acquires an exclusive lock on key. The returned func releases it
// and is safe to call once.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

var (
	_ Locker = (*KeyedMutex)(nil)
	_ Locker = (*RedisLocker)(nil)
)

// KeyedMutex is an in-process Locker with one slot per key. Entries are
// dropped once nobody holds or waits on them.
type KeyedMutex struct {
	mu    sync.Mutex
	slots map[string]*slot
}

type slot struct {
	ch   chan struct{}
	refs int
}

// NewKeyedMutex creates an empty in-process locker.
func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{slots: make(map[string]*slot)}
}

func (k *KeyedMutex) Lock(ctx context.Context, key string) (func(), error) {
	k.mu.Lock()
	s, ok := k.slots[key]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		k.slots[key] = s
	}
	s.refs++
	k.mu.Unlock()

	select {
	case s.ch <- struct{}{}:
	case <-ctx.Done():
		k.release(key, s)
		return nil, fmt.Errorf("waiting for lock %s: %w", key, ctx.Err())
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-s.ch
			k.release(key, s)
		})
	}, nil
}

func (k *KeyedMutex) release(key string, s *slot) {
	k.mu.Lock()
	defer k.mu.Unlock()
	s.refs--
	if s.refs == 0 {
		delete(k.slots, key)
	}
}

// Len reports how many keys are currently held or awaited.
func (k *KeyedMutex) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.slots)
}

// ErrLockExpired is logged by callers when a Redis lock lapsed before
// release; another holder may have run concurrently.
var ErrLockExpired = errors.New("lock expired before release")

// releaseScript deletes the key only if it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// RedisLocker is a Locker backed by SET NX PX. The TTL bounds how long a
// crashed holder can block others.
type RedisLocker struct {
	rdb   redis.Cmdable
	ttl   time.Duration
	retry time.Duration
	onErr func(key string, err error)
}

// NewRedisLocker creates a distributed locker. onErr, if non-nil, receives
// release failures.
func NewRedisLocker(rdb redis.Cmdable, ttl time.Duration, onErr func(key string, err error)) *RedisLocker {
	return &RedisLocker{rdb: rdb, ttl: ttl, retry: 50 * time.Millisecond, onErr: onErr}
}

func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	token, err := newToken()
	if err != nil {
		return nil, fmt.Errorf("generating lock token: %w", err)
	}
	redisKey := "lock:" + key

	for {
		ok, err := l.rdb.SetNX(ctx, redisKey, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("acquiring lock %s: %w", key, err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("waiting for lock %s: %w", key, ctx.Err())
		case <-time.After(l.retry):
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			// Release must outlive a cancelled request context.
			rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			n, err := releaseScript.Run(rctx, l.rdb, []string{redisKey}, token).Int()
			if err == nil && n == 0 {
				err = ErrLockExpired
			}
			if err != nil && l.onErr != nil {
				l.onErr(key, err)
			}
		})
	}, nil
}

func newToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
