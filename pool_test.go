package rrdcached

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pior/rrdcached/internal/testutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var poolFactories = map[string]PoolFactory{
	"puddle":  NewPuddlePool,
	"channel": NewChannelPool,
}

func mockConstructor(created *atomic.Int32) func(ctx context.Context) (*Session, error) {
	return func(ctx context.Context) (*Session, error) {
		created.Add(1)
		return NewSession(testutils.NewConnectionMock(), SessionConfig{}), nil
	}
}

func TestPool_AcquireRelease(t *testing.T) {
	for name, factory := range poolFactories {
		t.Run(name, func(t *testing.T) {
			var created atomic.Int32
			pool, err := factory(mockConstructor(&created), 2)
			require.NoError(t, err)
			defer pool.Close()

			ctx := context.Background()

			res, err := pool.Acquire(ctx)
			require.NoError(t, err)
			require.NotNil(t, res.Value())
			first := res.Value()

			stats := pool.Stats()
			assert.Equal(t, int32(1), stats.TotalConns)
			assert.Equal(t, int32(1), stats.ActiveConns)
			assert.Equal(t, uint64(1), stats.CreatedConns)

			res.Release()

			res, err = pool.Acquire(ctx)
			require.NoError(t, err)
			assert.Same(t, first, res.Value(), "idle session is reused")
			assert.Equal(t, int32(1), created.Load())
			res.Release()

			stats = pool.Stats()
			assert.Equal(t, int32(1), stats.IdleConns)
			assert.Equal(t, uint64(2), stats.AcquireCount)
		})
	}
}

func TestPool_Destroy(t *testing.T) {
	for name, factory := range poolFactories {
		t.Run(name, func(t *testing.T) {
			var created atomic.Int32
			pool, err := factory(mockConstructor(&created), 2)
			require.NoError(t, err)
			defer pool.Close()

			res, err := pool.Acquire(context.Background())
			require.NoError(t, err)
			s := res.Value()
			res.Destroy()

			// puddle destroys in the background
			require.Eventually(t, func() bool {
				stats := pool.Stats()
				return stats.DestroyedConns == 1 && stats.TotalConns == 0 && !s.IsConnected()
			}, time.Second, time.Millisecond)

			res, err = pool.Acquire(context.Background())
			require.NoError(t, err)
			assert.NotSame(t, s, res.Value())
			res.Release()
			assert.Equal(t, int32(2), created.Load())
		})
	}
}

func TestPool_WaitsWhenFull(t *testing.T) {
	for name, factory := range poolFactories {
		t.Run(name, func(t *testing.T) {
			var created atomic.Int32
			pool, err := factory(mockConstructor(&created), 1)
			require.NoError(t, err)
			defer pool.Close()

			res, err := pool.Acquire(context.Background())
			require.NoError(t, err)

			ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
			defer cancel()
			_, err = pool.Acquire(ctx)
			require.ErrorIs(t, err, context.DeadlineExceeded)

			go func() {
				time.Sleep(10 * time.Millisecond)
				res.Release()
			}()

			res2, err := pool.Acquire(context.Background())
			require.NoError(t, err)
			res2.Release()
			assert.Equal(t, int32(1), created.Load())
		})
	}
}

func TestPool_WaiterDialsAfterDestroy(t *testing.T) {
	for name, factory := range poolFactories {
		t.Run(name, func(t *testing.T) {
			var created atomic.Int32
			pool, err := factory(mockConstructor(&created), 1)
			require.NoError(t, err)
			defer pool.Close()

			res, err := pool.Acquire(context.Background())
			require.NoError(t, err)
			broken := res.Value()

			acquired := make(chan error, 1)
			go func() {
				ctx, cancel := context.WithTimeout(context.Background(), time.Second)
				defer cancel()
				res, err := pool.Acquire(ctx)
				if err == nil {
					if res.Value() == broken {
						err = errors.New("got the destroyed session")
					}
					res.Release()
				}
				acquired <- err
			}()

			time.Sleep(20 * time.Millisecond)
			res.Destroy()

			select {
			case err := <-acquired:
				require.NoError(t, err)
			case <-time.After(2 * time.Second):
				t.Fatal("waiter never acquired a session")
			}
			assert.Equal(t, int32(2), created.Load())
		})
	}
}

func TestPool_ConstructorError(t *testing.T) {
	for name, factory := range poolFactories {
		t.Run(name, func(t *testing.T) {
			boom := errors.New("connection refused")
			pool, err := factory(func(ctx context.Context) (*Session, error) {
				return nil, boom
			}, 1)
			require.NoError(t, err)
			defer pool.Close()

			_, err = pool.Acquire(context.Background())
			require.ErrorIs(t, err, boom)
			assert.Equal(t, int32(0), pool.Stats().TotalConns)
		})
	}
}

func TestPool_AcquireAllIdle(t *testing.T) {
	for name, factory := range poolFactories {
		t.Run(name, func(t *testing.T) {
			var created atomic.Int32
			pool, err := factory(mockConstructor(&created), 3)
			require.NoError(t, err)
			defer pool.Close()

			ctx := context.Background()
			r1, err := pool.Acquire(ctx)
			require.NoError(t, err)
			r2, err := pool.Acquire(ctx)
			require.NoError(t, err)
			r1.Release()
			r2.Release()

			idle := pool.AcquireAllIdle()
			assert.Len(t, idle, 2)
			for _, res := range idle {
				res.ReleaseUnused()
			}
			assert.Equal(t, int32(2), pool.Stats().IdleConns)
		})
	}
}

func TestPool_Close(t *testing.T) {
	for name, factory := range poolFactories {
		t.Run(name, func(t *testing.T) {
			var created atomic.Int32
			pool, err := factory(mockConstructor(&created), 2)
			require.NoError(t, err)

			res, err := pool.Acquire(context.Background())
			require.NoError(t, err)
			s := res.Value()
			res.Release()

			pool.Close()
			assert.False(t, s.IsConnected())

			_, err = pool.Acquire(context.Background())
			require.Error(t, err)
		})
	}
}

func TestChannelPool_ReleaseAfterClose(t *testing.T) {
	var created atomic.Int32
	pool, err := NewChannelPool(mockConstructor(&created), 2)
	require.NoError(t, err)

	res, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	s := res.Value()

	pool.Close()
	res.Release()

	assert.False(t, s.IsConnected())
	stats := pool.Stats()
	assert.Equal(t, int32(0), stats.TotalConns)
	assert.Equal(t, int32(0), stats.ActiveConns)
	assert.Equal(t, uint64(1), stats.DestroyedConns)
}
