package lock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func lockers(t *testing.T) map[string]Locker {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return map[string]Locker{
		"redis": NewRedis(client, time.Second, 100*time.Millisecond),
		"local": NewLocal(100 * time.Millisecond),
	}
}

func TestLockerExclusive(t *testing.T) {
	for name, l := range lockers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			release, err := l.Acquire(ctx, "doc:1")
			require.NoError(t, err)

			_, err = l.Acquire(ctx, "doc:1")
			require.ErrorIs(t, err, ErrNotAcquired)

			other, err := l.Acquire(ctx, "doc:2")
			require.NoError(t, err)
			other()

			release()
			again, err := l.Acquire(ctx, "doc:1")
			require.NoError(t, err)
			again()
		})
	}
}

func TestLockerSerialisesCriticalSection(t *testing.T) {
	for name, l := range lockers(t) {
		t.Run(name, func(t *testing.T) {
			var inside, maxInside int32
			var wg sync.WaitGroup
			for i := 0; i < 5; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					var release func()
					var err error
					for {
						release, err = l.Acquire(ctx, "doc:9")
						if err == nil {
							break
						}
						if ctx.Err() != nil {
							return
						}
					}
					n := atomic.AddInt32(&inside, 1)
					for {
						m := atomic.LoadInt32(&maxInside)
						if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
							break
						}
					}
					time.Sleep(5 * time.Millisecond)
					atomic.AddInt32(&inside, -1)
					release()
				}()
			}
			wg.Wait()
			require.Equal(t, int32(1), maxInside)
		})
	}
}

func TestRedisReleaseIgnoresForeignToken(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	l := NewRedis(client, time.Second, 50*time.Millisecond)

	release, err := l.Acquire(context.Background(), "doc:3")
	require.NoError(t, err)
	require.NoError(t, mr.Set("doc:3", "someone-else"))
	release()
	got, err := mr.Get("doc:3")
	require.NoError(t, err)
	require.Equal(t, "someone-else", got)
}
