package analysis

import (
	"context"
	"time"

	"github.com/lightningnetwork/lnd/fn/v2"
	"golang.org/x/sync/semaphore"
)

// Guard bounds every call with a timeout and limits how many calls are in
// flight across all sessions. Waiting for a slot counts against the timeout.
type Guard struct {
	next    Backend
	timeout time.Duration
	sem     *semaphore.Weighted
}

// NewGuard wraps next. A non-positive timeout disables it; a non-positive
// limit allows unbounded concurrency.
func NewGuard(next Backend, timeout time.Duration, limit int) *Guard {
	g := &Guard{next: next, timeout: timeout}
	if limit > 0 {
		g.sem = semaphore.NewWeighted(int64(limit))
	}
	return g
}

func (g *Guard) Describe(ctx context.Context, unit Unit, prompt string) fn.Result[string] {
	ctx, release, err := g.acquire(ctx)
	if err != nil {
		return fn.Err[string](err)
	}
	defer release()
	return g.next.Describe(ctx, unit, prompt)
}

func (g *Guard) IsDuplicate(ctx context.Context, current, previous string) fn.Result[bool] {
	ctx, release, err := g.acquire(ctx)
	if err != nil {
		return fn.Err[bool](err)
	}
	defer release()
	return g.next.IsDuplicate(ctx, current, previous)
}

func (g *Guard) acquire(ctx context.Context) (context.Context, func(), error) {
	cancel := func() {}
	if g.timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
	}
	if g.sem == nil {
		return ctx, cancel, nil
	}
	if err := g.sem.Acquire(ctx, 1); err != nil {
		cancel()
		return ctx, nil, Classify(err)
	}
	return ctx, func() {
		g.sem.Release(1)
		cancel()
	}, nil
}
