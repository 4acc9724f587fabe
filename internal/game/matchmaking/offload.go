package matchmaking

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

// ErrWorkerDead is returned when the offload worker has crashed and can no
// longer accept jobs.
var ErrWorkerDead = errors.New("matcher worker dead")

type offloadResult struct {
	groups []Group
	err    error
}

type offloadJob struct {
	requests   []Request
	minPlayers int
	result     chan offloadResult
}

// offloader runs Partition in a dedicated worker goroutine so a large
// partitioning pass never blocks the simulation tick. A panic inside the
// worker kills it for good; the queue falls back to the synchronous path.
type offloader struct {
	jobs chan offloadJob
	done chan struct{}
	dead atomic.Bool

	closeOnce sync.Once
}

func newOffloader() *offloader {
	o := &offloader{
		jobs: make(chan offloadJob),
		done: make(chan struct{}),
	}
	go o.run()
	return o
}

func (o *offloader) run() {
	defer o.dead.Store(true)
	for {
		select {
		case <-o.done:
			return
		case job := <-o.jobs:
			groups, err := guardedPartition(job.requests, job.minPlayers)
			job.result <- offloadResult{groups: groups, err: err}
			if err != nil {
				// Treat a panic as a worker crash: exit so subsequent
				// calls take the synchronous path.
				return
			}
		}
	}
}

// guardedPartition converts a matcher panic into an error.
func guardedPartition(requests []Request, minPlayers int) (groups []Group, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("matcher panicked: %v", r)
		}
	}()
	return Partition(requests, minPlayers), nil
}

// alive reports whether the worker can still accept jobs.
func (o *offloader) alive() bool {
	return !o.dead.Load()
}

// submit hands a job to the worker and returns the result channel.
//
// Postcondition: Returns ErrWorkerDead without submitting when the worker
// has exited.
func (o *offloader) submit(requests []Request, minPlayers int) (<-chan offloadResult, error) {
	if !o.alive() {
		return nil, ErrWorkerDead
	}
	job := offloadJob{
		requests:   requests,
		minPlayers: minPlayers,
		result:     make(chan offloadResult, 1),
	}
	// Non-blocking send: the single-in-flight discipline means the worker is
	// parked at the receive whenever it is alive, so a refused send means it
	// exited between the liveness check and here.
	select {
	case o.jobs <- job:
		return job.result, nil
	default:
		return nil, ErrWorkerDead
	}
}

// close stops the worker. The jobs channel is never closed: a submit racing
// a shutdown must fall into its non-blocking default, not panic on a send
// to a closed channel.
func (o *offloader) close() {
	o.closeOnce.Do(func() { close(o.done) })
}
