// Package workerpool is the bounded background-task pool used for
// fire-and-forget work spawned off request handlers and scheduler jobs
// (PTR resolution after ingest, precache A-queries): a fixed number of
// workers drain a buffered queue; a full queue drops the task and logs it
// rather than spawning unbounded goroutines.
package workerpool

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
)

// Task is a unit of background work. It receives a context already bound to
// the pool's lifetime, not the request that submitted it.
type Task func(ctx context.Context)

// Pool is a fixed-size worker pool with a bounded task queue.
type Pool struct {
	tasks  chan Task
	log    *logrus.Entry
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New starts a pool of workerCount goroutines draining a queue of depth
// queueDepth. Call Stop to shut it down; tasks still queued at that point
// may not run.
func New(workerCount, queueDepth int, log *logrus.Entry) *Pool {
	if workerCount <= 0 {
		workerCount = 1
	}
	if queueDepth <= 0 {
		queueDepth = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		tasks:  make(chan Task, queueDepth),
		log:    log,
		ctx:    ctx,
		cancel: cancel,
	}
	for i := 0; i < workerCount; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	return p
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for {
		select {
		case <-p.ctx.Done():
			return
		case task, ok := <-p.tasks:
			if !ok {
				return
			}
			p.run(task)
		}
	}
}

func (p *Pool) run(task Task) {
	defer func() {
		if r := recover(); r != nil && p.log != nil {
			p.log.WithField("panic", r).Error("workerpool: task panicked")
		}
	}()
	task(p.ctx)
}

// Submit enqueues task if there is room; otherwise it drops the task and
// logs a line, per the spec's overflow policy for background tasks.
func (p *Pool) Submit(task Task) {
	select {
	case p.tasks <- task:
	default:
		if p.log != nil {
			p.log.Warn("workerpool: queue full, dropping task")
		}
	}
}

// Stop cancels in-flight task contexts and waits for workers to exit.
func (p *Pool) Stop() {
	p.cancel()
	p.wg.Wait()
}
