package comms

import (
	"context"
	"log/slog"
	"sync"
)

// Job is one unit of engine work: an outbound send or an inbound
// classification.
type Job func(ctx context.Context)

// Dispatcher runs jobs on a bounded worker pool while serializing all jobs
// that share a key. Jobs for the same request run one at a time in arrival
// order; jobs for different requests run concurrently up to the worker
// limit.
type Dispatcher struct {
	log      *slog.Logger
	workers  chan struct{}
	maxQueue int

	mu      sync.Mutex
	pending map[string][]Job
	active  map[string]bool
	queued  int
	closed  bool

	wg sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc
}

// NewDispatcher creates a Dispatcher with the given concurrency limit and
// total pending-job cap.
func NewDispatcher(workers, maxQueue int, log *slog.Logger) *Dispatcher {
	if workers <= 0 {
		workers = 4
	}
	if maxQueue <= 0 {
		maxQueue = 256
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		log:      log.With(slog.String("component", "dispatcher")),
		workers:  make(chan struct{}, workers),
		maxQueue: maxQueue,
		pending:  map[string][]Job{},
		active:   map[string]bool{},
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Submit enqueues a job under the given key. Returns false after Stop or
// when the queue is full.
func (d *Dispatcher) Submit(key string, job Job) bool {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return false
	}
	if d.queued >= d.maxQueue {
		d.mu.Unlock()
		d.log.Warn("dispatch queue full, rejecting job", slog.String("key", key))
		return false
	}
	d.queued++
	d.pending[key] = append(d.pending[key], job)
	if d.active[key] {
		d.mu.Unlock()
		return true
	}
	d.active[key] = true
	d.wg.Add(1)
	d.mu.Unlock()

	go d.drain(key)
	return true
}

// drain runs the key's jobs in FIFO order until its queue empties.
func (d *Dispatcher) drain(key string) {
	defer d.wg.Done()
	for {
		d.mu.Lock()
		queue := d.pending[key]
		if len(queue) == 0 {
			delete(d.pending, key)
			delete(d.active, key)
			d.mu.Unlock()
			return
		}
		job := queue[0]
		d.pending[key] = queue[1:]
		d.queued--
		d.mu.Unlock()

		select {
		case d.workers <- struct{}{}:
		case <-d.ctx.Done():
			d.log.Warn("dispatcher stopped with job pending", slog.String("key", key))
			continue
		}
		d.run(key, job)
		<-d.workers
	}
}

func (d *Dispatcher) run(key string, job Job) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("job panicked", slog.String("key", key), slog.Any("panic", r))
		}
	}()
	job(d.ctx)
}

// Stop cancels in-flight jobs and waits for runners to finish, up to the
// given context's deadline.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	d.cancel()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
