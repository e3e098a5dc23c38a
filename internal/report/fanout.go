package report

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

type outcome[T any] struct {
	value T
	err   error
}

type indexedOutcome[T any] struct {
	index int
	name  string
	outcome[T]
}

// fanOut runs fn for every name with at most limit calls in flight. Branches only send their
// outcome; the calling goroutine places each one into the slot of the name it was issued for, so
// the result order always matches names. A failing branch does not cancel the others.
func fanOut[T any](ctx context.Context, limit int, names []string, fn func(ctx context.Context, name string) (T, error)) ([]outcome[T], error) {
	results := make(chan indexedOutcome[T], len(names))

	var group errgroup.Group
	if limit > 0 {
		group.SetLimit(limit)
	}
	for idx, name := range names {
		idx, name := idx, name
		group.Go(func() error {
			if err := ctx.Err(); err != nil {
				results <- indexedOutcome[T]{index: idx, name: name, outcome: outcome[T]{err: err}}
				return nil
			}
			value, err := fn(ctx, name)
			results <- indexedOutcome[T]{index: idx, name: name, outcome: outcome[T]{value: value, err: err}}
			return nil
		})
	}
	_ = group.Wait()
	close(results)

	merged := make([]outcome[T], len(names))
	filled := make([]bool, len(names))
	for item := range results {
		if item.index < 0 || item.index >= len(names) || names[item.index] != item.name || filled[item.index] {
			return nil, fmt.Errorf("%w: result for %q cannot be placed at index %d", ErrAggregationInconsistency, item.name, item.index)
		}
		merged[item.index] = item.outcome
		filled[item.index] = true
	}
	for idx, ok := range filled {
		if !ok {
			return nil, fmt.Errorf("%w: no result for %q", ErrAggregationInconsistency, names[idx])
		}
	}
	return merged, nil
}
