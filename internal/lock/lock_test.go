package lock

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyedMutexSerializesSameKey(t *testing.T) {
	km := NewKeyedMutex()
	var inside, peak atomic.Int32

	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := km.Lock(context.Background(), "W1")
			if !assert.NoError(t, err) {
				return
			}
			n := inside.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			inside.Add(-1)
			unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), peak.Load())
	assert.Equal(t, 0, km.Len())
}

func TestKeyedMutexIndependentKeys(t *testing.T) {
	km := NewKeyedMutex()

	unlockA, err := km.Lock(context.Background(), "A")
	require.NoError(t, err)
	defer unlockA()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	unlockB, err := km.Lock(ctx, "B")
	require.NoError(t, err)
	unlockB()
}

func TestKeyedMutexHonoursContext(t *testing.T) {
	km := NewKeyedMutex()

	unlock, err := km.Lock(context.Background(), "W1")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = km.Lock(ctx, "W1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))

	unlock()
	unlock() // second call is a no-op
	assert.Equal(t, 0, km.Len())
}
