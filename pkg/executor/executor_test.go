package executor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMap(t *testing.T) {
	t.Run("returns results in item order", func(t *testing.T) {
		items := []int{1, 2, 3, 4, 5, 6, 7}

		results, err := Map(context.Background(), items, Options{Concurrency: 3}, func(_ context.Context, item int) (int, error) {
			return item * 10, nil
		})

		require.NoError(t, err)
		assert.Equal(t, []int{10, 20, 30, 40, 50, 60, 70}, results)
	})

	t.Run("bounds in-flight work", func(t *testing.T) {
		var inFlight, maxInFlight int64
		var mu sync.Mutex

		items := make([]int, 50)
		_, err := Map(context.Background(), items, Options{Concurrency: 4}, func(_ context.Context, _ int) (int, error) {
			current := atomic.AddInt64(&inFlight, 1)
			mu.Lock()
			if current > maxInFlight {
				maxInFlight = current
			}
			mu.Unlock()
			defer atomic.AddInt64(&inFlight, -1)
			return 0, nil
		})

		require.NoError(t, err)
		assert.LessOrEqual(t, maxInFlight, int64(4))
	})

	t.Run("surfaces first failure in item order", func(t *testing.T) {
		errA := errors.New("a failed")
		errB := errors.New("b failed")

		items := []string{"ok", "a", "b", "ok"}
		_, err := Map(context.Background(), items, Options{Concurrency: 4}, func(_ context.Context, item string) (int, error) {
			switch item {
			case "a":
				return 0, errA
			case "b":
				return 0, errB
			default:
				return 0, nil
			}
		})

		assert.ErrorIs(t, err, errA)
	})

	t.Run("does not start later batches after a failure", func(t *testing.T) {
		var calls int64

		items := make([]int, 10)
		_, err := Map(context.Background(), items, Options{Concurrency: 2}, func(_ context.Context, _ int) (int, error) {
			atomic.AddInt64(&calls, 1)
			return 0, errors.New("boom")
		})

		require.Error(t, err)
		assert.Equal(t, int64(2), atomic.LoadInt64(&calls))
	})
}

func TestForEach(t *testing.T) {
	t.Run("invokes batch callback with running total", func(t *testing.T) {
		var totals []int

		items := make([]int, 7)
		err := ForEach(context.Background(), items, Options{
			Concurrency: 3,
			OnBatchComplete: func(_ context.Context, completed int) {
				totals = append(totals, completed)
			},
		}, func(_ context.Context, _ int) error {
			return nil
		})

		require.NoError(t, err)
		assert.Equal(t, []int{3, 6, 7}, totals)
	})

	t.Run("stops on cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		err := ForEach(ctx, []int{1, 2, 3}, Options{}, func(_ context.Context, _ int) error {
			t.Fatal("item executed after cancellation")
			return nil
		})

		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("empty input is a no-op", func(t *testing.T) {
		err := ForEach(context.Background(), nil, Options{}, func(_ context.Context, _ int) error {
			return errors.New("should not run")
		})

		assert.NoError(t, err)
	})
}
