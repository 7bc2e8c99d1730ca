package workerpool

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Pool bounds the number of background goroutines. When every slot is busy
// the task runs on the calling goroutine instead of being queued or dropped.
type Pool struct {
	sem *semaphore.Weighted
	wg  sync.WaitGroup
}

func New(size int) *Pool {
	if size <= 0 {
		size = 1
	}
	return &Pool{sem: semaphore.NewWeighted(int64(size))}
}

// Go runs fn on a pooled goroutine, or inline when the pool is full. It
// reports whether fn ran inline.
func (p *Pool) Go(ctx context.Context, fn func(ctx context.Context)) bool {
	if !p.sem.TryAcquire(1) {
		fn(ctx)
		return true
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer p.sem.Release(1)
		fn(ctx)
	}()
	return false
}

func (p *Pool) Wait() {
	p.wg.Wait()
}
