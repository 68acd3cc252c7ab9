package worker

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/rs/zerolog/log"
)

type JobType int

const (
	Run JobType = iota
	Stop
)

func (t JobType) String() string {
	switch t {
	case Run:
		return "run"
	case Stop:
		return "stop"
	default:
		return fmt.Sprintf("job(%d)", int(t))
	}
}

// Job is one unit of upstream work. Key groups jobs for fair scheduling.
type Job struct {
	Type JobType
	Key  string

	ctx  context.Context
	fn   func(context.Context)
	done chan error
	// state moves once from jobPending to jobRunning (worker) or jobAbandoned (caller).
	state *atomic.Int32
}

const (
	jobPending int32 = iota
	jobRunning
	jobAbandoned
)

// claim marks the job as running; false means the caller already gave up on it.
func (j Job) claim() bool {
	return j.state == nil || j.state.CompareAndSwap(jobPending, jobRunning)
}

// abandon withdraws a job that has not started; false means fn is running or done.
func (j Job) abandon() bool {
	return j.state != nil && j.state.CompareAndSwap(jobPending, jobAbandoned)
}

func (j Job) finish(err error) {
	if j.done == nil {
		return
	}
	select {
	case j.done <- err:
	default:
	}
}

type Worker struct {
	id         int
	pool       *jobChannelPool
	jobChannel chan Job
}

func NewWorker(id int, pool *jobChannelPool) *Worker {
	return &Worker{
		id:         id,
		pool:       pool,
		jobChannel: make(chan Job),
	}
}

func (w *Worker) Start() {
	go func() {
		for {
			if !w.pool.Release(w.jobChannel) {
				return
			}
			job := <-w.jobChannel
			if job.Type == Stop {
				w.pool.retire(w.jobChannel)
				debugLog("[worker-%d] stopped", w.id)
				return
			}
			w.run(job)
		}
	}()
}

func (w *Worker) run(job Job) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("key", job.Key).Int("worker", w.id).Msg("worker job panicked")
			job.finish(fmt.Errorf("job panicked: %v", r))
		}
	}()
	if !job.claim() {
		debugLog("[worker-%d] drop abandoned job for %s", w.id, job.Key)
		return
	}
	if err := job.ctx.Err(); err != nil {
		// caller gave up while the job was queued
		debugLog("[worker-%d] skip cancelled job for %s", w.id, job.Key)
		job.finish(err)
		return
	}
	job.fn(job.ctx)
	job.finish(nil)
}
