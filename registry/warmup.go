package registry

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Warmup resolves the given identifiers concurrently, or every registered
// identifier when none are given. All failures are returned joined; one
// failing connection does not stop the others.
func (r *Registry) Warmup(ctx context.Context, ids ...string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if len(ids) == 0 {
		ids = r.IDs()
	}
	if len(ids) == 0 {
		return nil
	}

	var (
		mu   sync.Mutex
		errs []error
	)
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(r.workers)
	for _, id := range ids {
		group.Go(func() error {
			if _, err := r.Resolve(groupCtx, id); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = group.Wait()
	if len(errs) > 0 {
		r.logger.Warn().Int("failed", len(errs)).Int("total", len(ids)).Msg("connection warmup incomplete")
	}
	return errors.Join(errs...)
}
