package storage

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"
)

// BatchResult holds the objects a batch fetch read and the per-object
// failures.
type BatchResult struct {
	Objects map[string][]byte
	Errors  map[string]error
}

// FetchAll reads paths with at most concurrency reads in flight. A failed
// read is recorded in Errors and does not stop the others; only context
// cancellation fails the call.
func FetchAll(ctx context.Context, store ObjectStorage, paths []string, concurrency int) (*BatchResult, error) {
	result := &BatchResult{
		Objects: make(map[string][]byte, len(paths)),
		Errors:  make(map[string]error),
	}
	var mu sync.Mutex

	var g errgroup.Group
	g.SetLimit(max(concurrency, 1))
	for _, p := range paths {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			data, err := store.Get(ctx, p)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Errors[p] = err
			} else {
				result.Objects[p] = data
			}
			return nil
		})
	}
	g.Wait()

	if err := ctx.Err(); err != nil {
		return result, fmt.Errorf("storage: batch fetch interrupted: %w", err)
	}
	return result, nil
}
