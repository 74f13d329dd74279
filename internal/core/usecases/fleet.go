package usecases

import (
	"context"
	"errors"

	"golang.org/x/sync/errgroup"

	"github.com/samirrijal/plonk/internal/core/domain"
)

// RunFleet plays several sessions concurrently, at most maxConcurrent at a
// time. Session outcomes are collected, not propagated: one session going
// down never cancels its siblings. Records are positional; a slot is nil
// only when its session never produced a record.
func RunFleet(ctx context.Context, controllers []*SessionController, maxConcurrent int) ([]*domain.SessionRecord, error) {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}

	records := make([]*domain.SessionRecord, len(controllers))
	errs := make([]error, len(controllers))

	var g errgroup.Group
	g.SetLimit(maxConcurrent)
	for i, sc := range controllers {
		g.Go(func() error {
			records[i], errs[i] = sc.Run(ctx)
			return nil
		})
	}
	_ = g.Wait()

	return records, errors.Join(errs...)
}
