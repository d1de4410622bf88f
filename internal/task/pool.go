package task

import (
	"context"

	"golang.org/x/sync/semaphore"

	"github.com/osbuild/installer-core/internal/loop"
)

// Pool runs ad-hoc tasks, such as the geolocation lookup, next to the
// installation with a bound on how many run at once.
type Pool struct {
	sem  *semaphore.Weighted
	loop *loop.Loop
}

func NewPool(workers int64, l *loop.Loop) *Pool {
	if workers < 1 {
		workers = 1
	}
	return &Pool{
		sem:  semaphore.NewWeighted(workers),
		loop: l,
	}
}

// Start queues t and returns its handle. The task starts once a worker is
// free; cancelling the handle while it waits finishes it as cancelled.
func (p *Pool) Start(ctx context.Context, t Task) (*Handle, error) {
	h := NewHandle(t, p.loop)
	if err := p.StartHandle(ctx, h); err != nil {
		return nil, err
	}
	return h, nil
}

// StartHandle is Start for a handle created by the caller, for example to
// connect to its signals first.
func (p *Pool) StartHandle(ctx context.Context, h *Handle) error {
	runCtx, err := h.begin(ctx)
	if err != nil {
		return err
	}
	go h.execute(runCtx, func(ctx context.Context) (func(), error) {
		if err := p.sem.Acquire(ctx, 1); err != nil {
			return nil, err
		}
		return func() { p.sem.Release(1) }, nil
	})
	return nil
}
