package engine

import (
	"sync"

	"golang.org/x/sync/errgroup"
)

// pool runs jobs on a fixed number of workers. Submit never blocks, so the
// dispatcher can keep feeding other backends while this one is saturated.
// Queued jobs are closures over small records; file content is only opened
// once a worker picks the job up.
type pool struct {
	mu      sync.Mutex
	cond    *sync.Cond
	queue   []func()
	pending int
	closed  bool
	g       errgroup.Group
}

func newPool(workers int) *pool {
	if workers < 1 {
		workers = 1
	}
	p := &pool{}
	p.cond = sync.NewCond(&p.mu)
	for range workers {
		p.g.Go(p.work)
	}
	return p
}

func (p *pool) work() error {
	for {
		p.mu.Lock()
		for len(p.queue) == 0 && !p.closed {
			p.cond.Wait()
		}
		if len(p.queue) == 0 {
			p.mu.Unlock()
			return nil
		}
		job := p.queue[0]
		p.queue[0] = nil
		p.queue = p.queue[1:]
		p.mu.Unlock()

		job()

		p.mu.Lock()
		p.pending--
		p.cond.Broadcast()
		p.mu.Unlock()
	}
}

// Submit queues job. It panics if the pool has been closed.
func (p *pool) Submit(job func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		panic("submit on closed pool")
	}
	p.queue = append(p.queue, job)
	p.pending++
	p.cond.Broadcast()
}

// Wait blocks until every submitted job has finished.
func (p *pool) Wait() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for p.pending > 0 {
		p.cond.Wait()
	}
}

// Close drains the queue and stops the workers.
func (p *pool) Close() {
	p.mu.Lock()
	p.closed = true
	p.cond.Broadcast()
	p.mu.Unlock()
	_ = p.g.Wait()
}
