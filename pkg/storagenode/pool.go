package storagenode

import (
	"sync"
)

// JobFunc is a function that can be enqueued in a worker pool.
type JobFunc func() error

// WorkerPool runs rebalance transfers with bounded concurrency.
type WorkerPool struct {
	workers int
	jobs    chan JobFunc
	wg      sync.WaitGroup
	workWg  sync.WaitGroup

	errMu sync.Mutex
	errs  []error
}

// NewWorkerPool creates a new worker pool with the given number of workers (min 1).
func NewWorkerPool(workers int) *WorkerPool {
	if workers < 1 {
		workers = 1
	}

	pool := &WorkerPool{
		workers: workers,
		jobs:    make(chan JobFunc, workers),
	}
	pool.start()

	return pool
}

// Enqueue adds a job to the worker pool. It blocks while every worker is busy and the
// queue is full. Enqueue after Wait panics.
func (pool *WorkerPool) Enqueue(job JobFunc) {
	pool.wg.Add(1)

	pool.jobs <- job
}

// Wait waits for every enqueued job, stops the workers and returns the job errors in
// completion order.
func (pool *WorkerPool) Wait() []error {
	pool.wg.Wait()
	close(pool.jobs)
	pool.workWg.Wait()

	pool.errMu.Lock()
	defer pool.errMu.Unlock()

	return pool.errs
}

// start starts the worker pool.
func (pool *WorkerPool) start() {
	pool.workWg.Add(pool.workers)

	for range pool.workers {
		go pool.worker()
	}
}

// worker is the main loop executed by each worker goroutine.
func (pool *WorkerPool) worker() {
	defer pool.workWg.Done()

	for job := range pool.jobs {
		err := job()
		if err != nil {
			pool.errMu.Lock()
			pool.errs = append(pool.errs, err)
			pool.errMu.Unlock()
		}

		pool.wg.Done()
	}
}
