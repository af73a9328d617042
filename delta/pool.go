package delta

import (
	"context"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// workerPool bounds how many units of work execute at once and, optionally,
// how fast new ones may start.
type workerPool struct {
	size    int64
	slots   *semaphore.Weighted
	limiter *rate.Limiter // nil if unlimited
}

func newWorkerPool(size int, opsPerSecond float64, burst int) *workerPool {
	if size <= 0 {
		size = 1
	}
	p := &workerPool{
		size:  int64(size),
		slots: semaphore.NewWeighted(int64(size)),
	}
	if opsPerSecond > 0 {
		if burst <= 0 {
			burst = size
		}
		p.limiter = rate.NewLimiter(rate.Limit(opsPerSecond), burst)
	}
	return p
}

// acquire waits for admission and a free slot. It fails only when ctx is
// done.
func (p *workerPool) acquire(ctx context.Context) error {
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return err
		}
	}
	return p.slots.Acquire(ctx, 1)
}

func (p *workerPool) release() {
	p.slots.Release(1)
}
