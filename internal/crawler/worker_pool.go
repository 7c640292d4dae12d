package crawler

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// runBounded calls fn for every index in [0, n) with at most limit calls in
// flight and waits for all of them. A panicking call is converted into an
// ErrLevelFailure so one level's collapse never takes down the run. The first
// non-nil error cancels the context handed to the remaining calls.
func runBounded(ctx context.Context, n, limit int, fn func(ctx context.Context, i int) error) error {
	if limit <= 0 {
		limit = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i := 0; i < n; i++ {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("%w: panic in worker: %v", ErrLevelFailure, r)
				}
			}()
			return fn(gctx, i)
		})
	}
	return g.Wait()
}
