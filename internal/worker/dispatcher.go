package worker

import (
	"container/list"
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

var (
	// ErrDispatcherBusy is returned when the job queue is full.
	ErrDispatcherBusy = errors.New("server is busy, please retry")
	// ErrDispatcherStopped is returned once Stop has been called.
	ErrDispatcherStopped = errors.New("dispatcher stopped")
)

type DispatcherConfig struct {
	MinWorkers        int
	MaxWorkers        int
	QueueSize         int
	WorkerIdleTimeout time.Duration
}

type keyQueue struct {
	jobs     []Job
	enqueued bool
}

// Dispatcher runs upstream jobs on a bounded worker pool. Jobs are grouped by key
// (the session id) and keys are served round-robin, so one busy session cannot
// starve the others.
type Dispatcher struct {
	pool     *jobChannelPool
	jobQueue chan Job // interface for outer jobs get in the dispatcher
	done     chan struct{}
	stopOnce sync.Once

	mu        sync.Mutex
	queues    map[string]*keyQueue // pending jobs for each key
	ready     *list.List           // round-robin queue of keys
	positions map[string]*list.Element
}

func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 1
	}
	d := &Dispatcher{
		pool:      newJobChannelPool(cfg.MinWorkers, cfg.MaxWorkers, cfg.WorkerIdleTimeout),
		jobQueue:  make(chan Job, queueSize),
		done:      make(chan struct{}),
		queues:    make(map[string]*keyQueue),
		ready:     list.New(),
		positions: make(map[string]*list.Element),
	}

	// warm up the minimum number of workers
	for i := 0; i < cfg.MinWorkers; i++ {
		d.pool.spawnWorker()
	}

	go d.run()
	return d
}

// Do queues fn under key and waits until it has run. fn receives ctx; a job whose
// ctx is already done when a worker picks it up is skipped and ctx.Err() returned.
// fn never runs after Do has returned.
func (d *Dispatcher) Do(ctx context.Context, key string, fn func(context.Context)) error {
	if fn == nil {
		return errors.New("job func required")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case <-d.done:
		return ErrDispatcherStopped
	default:
	}

	job := Job{Type: Run, Key: key, ctx: ctx, fn: fn, done: make(chan error, 1), state: new(atomic.Int32)}
	select {
	case d.jobQueue <- job:
	default:
		return ErrDispatcherBusy
	}

	select {
	case err := <-job.done:
		return err
	case <-d.done:
		if job.abandon() {
			return ErrDispatcherStopped
		}
		// fn already started; it owns caller state until it returns
		return <-job.done
	}
}

// Stop rejects new jobs, fails queued ones and retires the workers.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() {
		close(d.done)
		d.pool.close()
	})
}

func (d *Dispatcher) run() {
	for {
		// dispatch one job of the key in front of the round-robin queue
		if !d.dispatchOne() {
			select {
			case job := <-d.jobQueue:
				d.enqueueJob(job)
			case <-d.done:
				d.drain()
				return
			}
			continue
		}
		select {
		case job := <-d.jobQueue:
			d.enqueueJob(job)
		case <-d.done:
			d.drain()
			return
		default:
		}
	}
}

func (d *Dispatcher) enqueueJob(job Job) {
	d.mu.Lock()
	defer d.mu.Unlock()

	q := d.queues[job.Key]
	if q == nil {
		q = &keyQueue{}
		d.queues[job.Key] = q
	}
	q.jobs = append(q.jobs, job)
	if q.enqueued {
		return
	}
	q.enqueued = true
	d.positions[job.Key] = d.ready.PushBack(job.Key)
}

// dispatchOne takes the first key in the ready list and hands one of its jobs to a worker
func (d *Dispatcher) dispatchOne() bool {
	d.mu.Lock()
	elem := d.ready.Front()
	if elem == nil {
		d.mu.Unlock()
		return false
	}
	key := elem.Value.(string)
	q := d.queues[key]
	job := q.jobs[0]
	q.jobs = q.jobs[1:]
	if len(q.jobs) == 0 {
		// last pending job for this key; it leaves the ready list
		delete(d.queues, key)
		d.ready.Remove(elem)
		delete(d.positions, key)
	} else {
		d.ready.MoveToBack(elem)
	}
	d.mu.Unlock()

	workerChan := d.pool.acquire()
	if workerChan == nil {
		job.finish(ErrDispatcherStopped)
		return true
	}
	debugLog("[dispatcher] assign %s job for %s to worker-%d", job.Type, key, d.pool.workerID(workerChan))
	workerChan <- job
	return true
}

// drain fails every job still waiting once the dispatcher stops.
func (d *Dispatcher) drain() {
	d.mu.Lock()
	for key, q := range d.queues {
		for _, job := range q.jobs {
			job.finish(ErrDispatcherStopped)
		}
		delete(d.queues, key)
	}
	d.ready.Init()
	d.positions = make(map[string]*list.Element)
	d.mu.Unlock()
	for {
		select {
		case job := <-d.jobQueue:
			job.finish(ErrDispatcherStopped)
		default:
			return
		}
	}
}

// Stats is a point-in-time view of the dispatcher.
type Stats struct {
	Workers int
	Idle    int
	Pending int
}

func (d *Dispatcher) Stats() Stats {
	ps := d.pool.stats()
	d.mu.Lock()
	pending := 0
	for _, q := range d.queues {
		pending += len(q.jobs)
	}
	d.mu.Unlock()
	return Stats{Workers: ps.running, Idle: ps.idle, Pending: pending + len(d.jobQueue)}
}
