// Package lock provides short-lived mutual exclusion keyed by string, backed by
// Redis across processes or by an in-process map for single-node deployments.
package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// ErrNotAcquired is returned when the key stays held past the wait deadline.
var ErrNotAcquired = shared.NewError(shared.KindConcurrency, "lock: not acquired")

// Locker acquires a key and returns its release function.
type Locker interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}

const pollInterval = 20 * time.Millisecond

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// Redis implements Locker with SET NX PX and token-checked release.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
	wait   time.Duration
}

// NewRedis builds a Redis-backed locker. ttl bounds how long a crashed holder blocks
// others and wait bounds how long Acquire polls.
func NewRedis(client *redis.Client, ttl, wait time.Duration) *Redis {
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	if wait <= 0 {
		wait = 2 * time.Second
	}
	return &Redis{client: client, ttl: ttl, wait: wait}
}

// Acquire blocks until key is held, the wait deadline passes or ctx ends.
func (l *Redis) Acquire(ctx context.Context, key string) (func(), error) {
	token := uuid.NewString()
	deadline := time.Now().Add(l.wait)
	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("lock: acquire %s: %w", key, err)
		}
		if ok {
			return func() {
				_ = releaseScript.Run(context.WithoutCancel(ctx), l.client, []string{key}, token).Err()
			}, nil
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("%w: %s", ErrNotAcquired, key)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

// Local implements Locker with per-key channels inside one process.
type Local struct {
	mu   sync.Mutex
	held map[string]chan struct{}
	wait time.Duration
}

// NewLocal builds an in-process locker.
func NewLocal(wait time.Duration) *Local {
	if wait <= 0 {
		wait = 2 * time.Second
	}
	return &Local{held: make(map[string]chan struct{}), wait: wait}
}

// Acquire blocks until key is free, the wait deadline passes or ctx ends.
func (l *Local) Acquire(ctx context.Context, key string) (func(), error) {
	timer := time.NewTimer(l.wait)
	defer timer.Stop()
	for {
		l.mu.Lock()
		ch, busy := l.held[key]
		if !busy {
			done := make(chan struct{})
			l.held[key] = done
			l.mu.Unlock()
			var once sync.Once
			return func() {
				once.Do(func() {
					l.mu.Lock()
					delete(l.held, key)
					l.mu.Unlock()
					close(done)
				})
			}, nil
		}
		l.mu.Unlock()
		select {
		case <-ch:
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
			return nil, fmt.Errorf("%w: %s", ErrNotAcquired, key)
		}
	}
}
