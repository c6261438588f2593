package engine

import (
	"log/slog"
	"sync"
)

// WorkerPool runs background jobs on a fixed set of goroutines so API-driven
// enqueues cannot spawn unbounded work. Submit never blocks; the caller gets
// its job id back immediately and polls for progress.
type WorkerPool struct {
	tasks    chan func()
	wg       sync.WaitGroup
	stopOnce sync.Once
}

func NewWorkerPool(workers, queueSize int) *WorkerPool {
	if workers < 1 {
		workers = 1
	}
	p := &WorkerPool{
		tasks: make(chan func(), queueSize),
	}

	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.run()
	}
	return p
}

func (p *WorkerPool) run() {
	defer p.wg.Done()
	for task := range p.tasks {
		func() {
			defer func() {
				if r := recover(); r != nil {
					slog.Error("panic in worker pool task", "panic", r)
				}
			}()
			task()
		}()
	}
}

// Submit queues a task, reporting false when the queue is full. A dropped
// task is gone; the caller owns whatever bookkeeping that requires.
func (p *WorkerPool) Submit(task func()) bool {
	select {
	case p.tasks <- task:
		return true
	default:
		slog.Warn("worker pool queue full, task not scheduled")
		return false
	}
}

// Stop drains queued tasks and waits for in-flight ones.
func (p *WorkerPool) Stop() {
	p.stopOnce.Do(func() {
		close(p.tasks)
	})
	p.wg.Wait()
}
