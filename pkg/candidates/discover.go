package candidates

import (
	"context"
	"errors"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// Discover runs finder for every id concurrently with at most workers
// goroutines. Finders are read-only, so the only shared state is the
// result slice, written at distinct indices. Entities that vanished from
// the index are skipped.
func Discover(ctx context.Context, finder Finder, ids []int64, max, workers int) (map[int64][]Candidate, error) {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	results := make([][]Candidate, len(ids))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, id := range ids {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			found, err := finder.FindCandidates(id, max)
			if errors.Is(err, ErrUnknownEntity) {
				return nil
			}
			if err != nil {
				return err
			}
			results[i] = found
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make(map[int64][]Candidate, len(ids))
	for i, id := range ids {
		if len(results[i]) > 0 {
			out[id] = results[i]
		}
	}
	return out, nil
}
