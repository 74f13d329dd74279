package ratelimit

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/samirrijal/plonk/internal/pkg/metrics"
)

// ErrGateTimeout is returned when a permit could not be acquired in time.
var ErrGateTimeout = errors.New("rate gate: acquisition timed out")

// Gate is a weighted admission semaphore shared by all concurrent rounds. It
// bounds in-flight inference calls so the fleet as a whole stays inside the
// backend's rate limits. Fairness is not guaranteed; starvation is bounded
// by the acquire timeout.
type Gate struct {
	sem     *semaphore.Weighted
	timeout time.Duration
}

// NewGate creates a gate admitting size concurrent holders. acquireTimeout
// bounds how long a caller may wait for a permit; zero means wait until the
// caller's context is done.
func NewGate(size int, acquireTimeout time.Duration) *Gate {
	return &Gate{
		sem:     semaphore.NewWeighted(int64(size)),
		timeout: acquireTimeout,
	}
}

// Acquire blocks until a permit is available. A gate timeout returns
// ErrGateTimeout; caller cancellation returns the context's error.
func (g *Gate) Acquire(ctx context.Context) error {
	start := time.Now()
	acquireCtx := ctx
	if g.timeout > 0 {
		var cancel context.CancelFunc
		acquireCtx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	err := g.sem.Acquire(acquireCtx, 1)
	metrics.GateWaitDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return ErrGateTimeout
	}
	return nil
}

// Release returns a permit acquired with Acquire.
func (g *Gate) Release() {
	g.sem.Release(1)
}
