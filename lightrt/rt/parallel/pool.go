package parallel

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// Pool is a fixed set of worker goroutines with per-worker queues.
// An idle worker steals from the other queues before blocking.
//
// Pool is safe for concurrent use.
type Pool struct {
	workers int
	queues  []chan func()
	done    chan struct{}
	wg      sync.WaitGroup
	running atomic.Bool
	next    atomic.Uint32
}

// NewPool starts a pool. If workers is 0 or negative, GOMAXPROCS is used.
func NewPool(workers int) *Pool {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	queueSize := workers * 4
	if queueSize < 8 {
		queueSize = 8
	}

	p := &Pool{
		workers: workers,
		queues:  make([]chan func(), workers),
		done:    make(chan struct{}),
	}
	for i := range workers {
		p.queues[i] = make(chan func(), queueSize)
	}

	p.running.Store(true)
	p.wg.Add(workers)
	for i := range workers {
		go p.worker(i)
	}
	return p
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()

	own := p.queues[id]
	for {
		select {
		case <-p.done:
			p.drain(own)
			return
		case work := <-own:
			work()
		default:
			if stolen := p.steal(id); stolen != nil {
				stolen()
				continue
			}
			select {
			case <-p.done:
				p.drain(own)
				return
			case work := <-own:
				work()
			}
		}
	}
}

func (p *Pool) drain(queue chan func()) {
	for {
		select {
		case work := <-queue:
			work()
		default:
			return
		}
	}
}

func (p *Pool) steal(id int) func() {
	for i := range p.workers {
		if i == id {
			continue
		}
		select {
		case work := <-p.queues[i]:
			return work
		default:
		}
	}
	return nil
}

// submit queues fn round-robin. It reports false when the pool is closed.
func (p *Pool) submit(fn func()) bool {
	if !p.running.Load() {
		return false
	}
	id := int(p.next.Add(1)) % p.workers
	select {
	case p.queues[id] <- fn:
		return true
	case <-p.done:
		return false
	}
}

// Close stops accepting work, runs everything already queued and stops the workers.
// Close is safe to call multiple times.
func (p *Pool) Close() {
	if !p.running.CompareAndSwap(true, false) {
		return
	}
	close(p.done)
	p.wg.Wait()
}

func (p *Pool) Workers() int {
	return p.workers
}

// Group collects tasks for one join point.
type Group struct {
	pool    *Pool
	pending []func()
	wg      sync.WaitGroup
}

func (p *Pool) NewGroup() *Group {
	return &Group{pool: p}
}

// Enqueue adds a task. Nothing runs before Flush.
func (g *Group) Enqueue(fn func()) {
	g.pending = append(g.pending, fn)
}

// Flush hands every enqueued task to the pool. Tasks the closed pool
// refuses run on the caller.
func (g *Group) Flush() {
	work := g.pending
	g.pending = nil
	g.wg.Add(len(work))
	for _, fn := range work {
		task := fn
		wrapped := func() {
			defer g.wg.Done()
			task()
		}
		if !g.pool.submit(wrapped) {
			wrapped()
		}
	}
}

// Wait blocks until every flushed task has finished.
func (g *Group) Wait() {
	g.wg.Wait()
}
