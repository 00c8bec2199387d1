package jobs

import (
	"context"
	"errors"
	"sync"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/ghostrun/internal/common"
	"github.com/ternarybob/ghostrun/internal/models"
)

var (
	// ErrQueueFull is returned when no more jobs can be buffered
	ErrQueueFull = errors.New("job queue is full")
	// ErrDispatcherStopped is returned by Enqueue after Stop
	ErrDispatcherStopped = errors.New("job dispatcher stopped")
)

// JobHandler executes one dequeued job to completion. job is the snapshot taken at submission.
type JobHandler func(ctx context.Context, job *models.Job)

// Dispatcher is a bounded in-process work queue drained by a fixed pool of workers.
// Each job is handled by exactly one worker.
type Dispatcher struct {
	queue   chan *models.Job
	workers int
	handle  JobHandler
	logger  arbor.ILogger

	ctx    context.Context // Passed to handlers, cancelled once draining gives up
	cancel context.CancelFunc
	quit   chan struct{}
	wg     sync.WaitGroup

	mu       sync.RWMutex
	started  bool
	stopped  bool
	stopOnce sync.Once
}

// NewDispatcher creates a dispatcher with workers goroutines and room for queueSize pending jobs
func NewDispatcher(workers, queueSize int, handle JobHandler, logger arbor.ILogger) *Dispatcher {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		queue:   make(chan *models.Job, queueSize),
		workers: workers,
		handle:  handle,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
		quit:    make(chan struct{}),
	}
}

// Start launches the workers. Calling it more than once is a no-op.
func (d *Dispatcher) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started || d.stopped {
		return
	}
	d.started = true

	d.logger.Info().
		Int("workers", d.workers).
		Int("queue_size", cap(d.queue)).
		Msg("Starting job dispatcher")

	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.worker(i)
	}
}

// Enqueue buffers job without blocking
func (d *Dispatcher) Enqueue(job *models.Job) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.stopped {
		return ErrDispatcherStopped
	}

	select {
	case d.queue <- job:
		return nil
	default:
		return ErrQueueFull
	}
}

// Pending returns the number of buffered jobs not yet picked up
func (d *Dispatcher) Pending() int {
	return len(d.queue)
}

// Stop refuses new work and waits for running jobs to finish. If ctx ends
// first, the jobs' context is cancelled and Stop still waits for the workers.
// Jobs left in the buffer stay pending.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.stopOnce.Do(func() {
		d.mu.Lock()
		d.stopped = true
		d.mu.Unlock()
		close(d.quit)
	})

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = ctx.Err()
		d.cancel()
		<-done
	}
	d.cancel()

	d.logger.Info().
		Int("abandoned", d.Pending()).
		Msg("Job dispatcher stopped")
	return err
}

func (d *Dispatcher) worker(workerID int) {
	defer d.wg.Done()

	d.logger.Debug().
		Int("worker_id", workerID).
		Msg("Worker started")

	for {
		// Quit wins over queued work
		select {
		case <-d.quit:
			d.logger.Debug().
				Int("worker_id", workerID).
				Msg("Worker stopped")
			return
		default:
		}

		select {
		case <-d.quit:
			d.logger.Debug().
				Int("worker_id", workerID).
				Msg("Worker stopped")
			return
		case job := <-d.queue:
			d.process(workerID, job)
		}
	}
}

func (d *Dispatcher) process(workerID int, job *models.Job) {
	defer common.RecoverPanic(d.logger, "job-worker")

	d.logger.Debug().
		Str("job_id", job.ID).
		Int("worker_id", workerID).
		Msg("Processing job")

	d.handle(d.ctx, job)
}
