package worker

import (
	"sync"

	"github.com/baharkarakas/ledger-service/internal/metrics"
)

type Task func()

type Pool struct {
	wg   sync.WaitGroup
	mu   sync.RWMutex
	jobs chan Task
	done bool
}

func NewPool(n, queue int) *Pool {
	if n <= 0 {
		n = 1
	}
	if queue <= 0 {
		queue = 1024
	}
	p := &Pool{jobs: make(chan Task, queue)}
	for i := 0; i < n; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for job := range p.jobs {
				metrics.WorkerQueueDepth.Dec()
				job()
			}
		}()
	}
	return p
}

// Submit queues f without blocking. It reports false when the queue is full or the pool stopped.
func (p *Pool) Submit(f Task) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.done {
		return false
	}
	// counted before the send so a worker's Dec never runs first
	metrics.WorkerQueueDepth.Inc()
	select {
	case p.jobs <- f:
		return true
	default:
		metrics.WorkerQueueDepth.Dec()
		return false
	}
}

// Stop drains queued jobs and waits for the workers. Calling it twice is a no-op.
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.done {
		p.mu.Unlock()
		return
	}
	p.done = true
	close(p.jobs)
	p.mu.Unlock()
	p.wg.Wait()
}
