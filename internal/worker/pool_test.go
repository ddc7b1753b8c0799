package worker

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPool(t *testing.T) {
	p := NewPool[int](context.Background(), 5, 10)
	assert.Equal(t, 5, p.workers)

	p = NewPool[int](context.Background(), 0, 10)
	assert.Equal(t, 1, p.workers, "non-positive worker count defaults to 1")

	p = NewPool[int](context.Background(), 8, 3)
	assert.Equal(t, 3, p.workers, "never more workers than jobs")
}

func TestPool_PreservesOrder(t *testing.T) {
	p := NewPool[int](context.Background(), 4, 50)
	p.Start()
	for i := 0; i < 50; i++ {
		i := i
		require.True(t, p.Submit(i, func(context.Context) int {
			// Later jobs finish first.
			time.Sleep(time.Duration(50-i) * 100 * time.Microsecond)
			return i * i
		}))
	}
	results, done := p.Wait()
	for i := range results {
		assert.True(t, done[i])
		assert.Equal(t, i*i, results[i])
	}
}

func TestPool_BoundedConcurrency(t *testing.T) {
	var running, peak int32
	p := NewPool[struct{}](context.Background(), 3, 30)
	p.Start()
	for i := 0; i < 30; i++ {
		p.Submit(i, func(context.Context) struct{} {
			n := atomic.AddInt32(&running, 1)
			for {
				old := atomic.LoadInt32(&peak)
				if n <= old || atomic.CompareAndSwapInt32(&peak, old, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&running, -1)
			return struct{}{}
		})
	}
	p.Wait()
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(3))
}

func TestPool_Shutdown(t *testing.T) {
	p := NewPool[int](context.Background(), 2, 4)
	p.Start()
	p.Shutdown()
	assert.False(t, p.Submit(0, func(context.Context) int { return 1 }))
}

func TestMap(t *testing.T) {
	out := Map(context.Background(), 3, []string{"a", "bb", "ccc"},
		func(_ context.Context, s string) int { return len(s) },
		func(string) int { return -1 },
	)
	assert.Equal(t, []int{1, 2, 3}, out)

	assert.Nil(t, Map(context.Background(), 3, nil,
		func(_ context.Context, s string) int { return len(s) },
		func(string) int { return -1 },
	))
}

func TestMap_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out := Map(ctx, 2, []int{1, 2, 3},
		func(_ context.Context, n int) int { return n },
		func(int) int { return -1 },
	)
	require.Len(t, out, 3)
	for _, v := range out {
		// A cancelled pool may run nothing, or race a job through before noticing.
		assert.Contains(t, []int{-1, 1, 2, 3}, v)
	}
}
