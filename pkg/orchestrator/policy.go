package orchestrator

import (
	"context"
	"time"

	"catalog-scraper/pkg/browser"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// Policy decides how category tasks are scheduled. Each calls fn once per
// index and returns early only when ctx ends while waiting for a slot.
type Policy interface {
	Each(ctx context.Context, n int, fn func(ctx context.Context, i int)) error
}

// pacer spaces task starts by delay. The first start is immediate.
func pacer(delay time.Duration) *rate.Limiter {
	if delay <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(delay), 1)
}

type sequential struct {
	delay time.Duration
	sleep func(context.Context, time.Duration) error
}

// Sequential runs one task at a time and waits delay after each task
// finishes before starting the next.
func Sequential(delay time.Duration) Policy {
	return &sequential{delay: delay, sleep: browser.Sleep}
}

func (p *sequential) Each(ctx context.Context, n int, fn func(ctx context.Context, i int)) error {
	for i := 0; i < n; i++ {
		if i > 0 {
			if err := p.sleep(ctx, p.delay); err != nil {
				return err
			}
		} else if err := ctx.Err(); err != nil {
			return err
		}
		fn(ctx, i)
	}
	return nil
}

type boundedParallel struct {
	limit   int
	limiter *rate.Limiter
}

// BoundedParallel runs up to limit tasks at once. Task starts are spaced
// at least delay apart; tasks may overlap.
func BoundedParallel(limit int, delay time.Duration) Policy {
	if limit < 1 {
		limit = 1
	}
	return &boundedParallel{limit: limit, limiter: pacer(delay)}
}

func (p *boundedParallel) Each(ctx context.Context, n int, fn func(ctx context.Context, i int)) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.limit)

	for i := 0; i < n; i++ {
		if err := p.limiter.Wait(gctx); err != nil {
			g.Wait()
			return err
		}
		g.Go(func() error {
			fn(gctx, i)
			return nil
		})
	}
	return g.Wait()
}
