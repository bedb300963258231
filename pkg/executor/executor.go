// Package executor runs homogeneous work items with bounded concurrency.
// Items are processed in batches of the concurrency width; the batch
// boundary is where callers emit scheduler heartbeats, so a stuck worker is
// noticed within one batch.
package executor

import (
	"context"
	"sync"
)

// DefaultConcurrency is the default number of concurrent item executions
const DefaultConcurrency = 10

// Options configures a run
type Options struct {
	// Concurrency bounds in-flight work. Zero or negative falls back to
	// DefaultConcurrency.
	Concurrency int
	// OnBatchComplete is invoked after every completed batch with the total
	// number of items processed so far. Optional.
	OnBatchComplete func(ctx context.Context, completed int)
}

func (o Options) concurrency() int {
	if o.Concurrency <= 0 {
		return DefaultConcurrency
	}
	return o.Concurrency
}

// ForEach runs fn over every item. On failure the remaining batches are not
// started and the first error in item order is returned; items already in
// flight run to completion.
func ForEach[T any](ctx context.Context, items []T, opts Options, fn func(ctx context.Context, item T) error) error {
	_, err := Map(ctx, items, opts, func(ctx context.Context, item T) (struct{}, error) {
		return struct{}{}, fn(ctx, item)
	})
	return err
}

// Map runs fn over every item and returns the results in item order. The
// error contract matches ForEach.
func Map[T, R any](ctx context.Context, items []T, opts Options, fn func(ctx context.Context, item T) (R, error)) ([]R, error) {
	results := make([]R, len(items))
	errs := make([]error, len(items))
	width := opts.concurrency()

	for start := 0; start < len(items); start += width {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		end := start + width
		if end > len(items) {
			end = len(items)
		}

		var wg sync.WaitGroup
		for i := start; i < end; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				results[i], errs[i] = fn(ctx, items[i])
			}(i)
		}
		wg.Wait()

		if opts.OnBatchComplete != nil {
			opts.OnBatchComplete(ctx, end)
		}

		for i := start; i < end; i++ {
			if errs[i] != nil {
				return nil, errs[i]
			}
		}
	}

	return results, nil
}
