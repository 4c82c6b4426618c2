package pipeline

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestMap_KeepsOrder(t *testing.T) {
	in := make([]int, 100)
	for i := range in {
		in[i] = i
	}

	for _, workers := range []int{0, 1, 3, 16} {
		out, err := Map(context.Background(), workers, in, func(_ context.Context, v int) (int, error) {
			return v * v, nil
		})
		require.NoError(t, err)
		require.Len(t, out, len(in))
		for i, v := range out {
			assert.Equal(t, i*i, v)
		}
	}
}

func TestMap_BoundsConcurrency(t *testing.T) {
	var running, peak int32
	in := make([]int, 50)

	_, err := Map(context.Background(), 2, in, func(_ context.Context, _ int) (struct{}, error) {
		n := atomic.AddInt32(&running, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		atomic.AddInt32(&running, -1)
		return struct{}{}, nil
	})
	require.NoError(t, err)
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(2))
}

func TestMap_Error(t *testing.T) {
	boom := errors.New("boom")
	out, err := Map(context.Background(), 4, []int{1, 2, 3, 4}, func(_ context.Context, v int) (int, error) {
		if v == 3 {
			return 0, boom
		}
		return v, nil
	})
	require.ErrorIs(t, err, boom)
	assert.Nil(t, out)
}

func TestMap_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var calls int32
	_, err := Map(ctx, 2, []int{1, 2, 3}, func(_ context.Context, v int) (int, error) {
		atomic.AddInt32(&calls, 1)
		return v, nil
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, atomic.LoadInt32(&calls))
}

func TestMap_Empty(t *testing.T) {
	out, err := Map(context.Background(), 4, nil, func(_ context.Context, v int) (int, error) {
		return v, nil
	})
	require.NoError(t, err)
	assert.Empty(t, out)
}
