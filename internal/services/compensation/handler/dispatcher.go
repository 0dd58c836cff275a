package handler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"realty-network/internal/services/compensation/metrics"
)

var (
	ErrQueueFull         = errors.New("dispatch queue is full")
	ErrDispatcherStopped = errors.New("dispatcher is stopped")
)

// Job is one unit of background work. The context carries the job deadline.
type Job func(ctx context.Context)

// Dispatcher runs jobs on a fixed pool of workers fed by a bounded queue.
// A zero timeout runs jobs without a deadline. Stop drains the queue before
// returning.
type Dispatcher struct {
	jobs    chan Job
	timeout time.Duration
	log     *logrus.Entry

	mu      sync.RWMutex
	stopped bool
	wg      sync.WaitGroup
}

func NewDispatcher(workers, queue int, timeout time.Duration, logger *logrus.Logger) *Dispatcher {
	if workers < 1 {
		workers = 1
	}
	if queue < 0 {
		queue = 0
	}
	d := &Dispatcher{
		jobs:    make(chan Job, queue),
		timeout: timeout,
		log:     logger.WithField("component", "dispatcher"),
	}
	d.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go d.work(i)
	}
	return d
}

func (d *Dispatcher) work(id int) {
	defer d.wg.Done()
	for job := range d.jobs {
		metrics.SetDispatchQueueDepth(len(d.jobs))
		d.run(id, job)
	}
}

func (d *Dispatcher) run(id int, job Job) {
	ctx := context.Background()
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			d.log.WithField("worker", id).Errorf("Job panicked: %v", r)
		}
	}()
	job(ctx)
}

// Submit enqueues job without blocking.
func (d *Dispatcher) Submit(job Job) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.stopped {
		return ErrDispatcherStopped
	}
	select {
	case d.jobs <- job:
		metrics.SetDispatchQueueDepth(len(d.jobs))
		return nil
	default:
		return ErrQueueFull
	}
}

func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.stopped = true
	close(d.jobs)
	d.mu.Unlock()

	d.wg.Wait()
	d.log.Info("Dispatcher drained")
}
