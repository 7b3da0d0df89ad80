package devctl

import "sync"

// ProcessFunc runs a single job and reports whether it succeeded. A panic
// inside ProcessFunc is recovered by the worker and treated as a failure.
type ProcessFunc[J any] func(id Id, job J) bool

type queuedJob[J any] struct {
	id  Id
	job J
}

// AsyncRunner is a single-consumer FIFO job queue parameterised by job type
// J. Jobs are posted by any number of producer goroutines and executed
// strictly in FIFO order by one dedicated worker goroutine. IDs are drawn
// from the process-wide monotonic counter in id.go, so they stay comparable
// across every AsyncRunner instance in the process.
type AsyncRunner[J any] struct {
	process ProcessFunc[J]

	queueMu sync.Mutex
	queueCV *sync.Cond
	queue   []queuedJob[J]
	running bool
	exiting bool

	statusMu sync.RWMutex
	status   map[Id]Status

	complMu    sync.Mutex
	complCV    *sync.Cond
	lastComplD Id

	releaseOnce sync.Once
	wg          sync.WaitGroup
}

// NewAsyncRunner starts the worker goroutine and returns a ready runner.
func NewAsyncRunner[J any](process ProcessFunc[J]) *AsyncRunner[J] {
	r := &AsyncRunner[J]{
		process: process,
		status:  make(map[Id]Status),
	}
	r.queueCV = sync.NewCond(&r.queueMu)
	r.complCV = sync.NewCond(&r.complMu)

	r.wg.Add(1)
	go r.work()
	return r
}

// Post enqueues job and returns its freshly allocated Id. If block is true,
// Post does not return until the job reaches a terminal status.
func (r *AsyncRunner[J]) Post(job J, block bool) Id {
	id := nextId()

	r.statusMu.Lock()
	r.status[id] = StatusPending
	r.statusMu.Unlock()

	r.queueMu.Lock()
	r.queue = append(r.queue, queuedJob[J]{id: id, job: job})
	r.running = true
	r.queueCV.Signal()
	r.queueMu.Unlock()

	if block {
		r.Wait(id)
	}
	return id
}

// Wait blocks until the worker has completed a job whose Id is >= id, or
// the runner has been released. It returns immediately if id is already
// terminal.
func (r *AsyncRunner[J]) Wait(id Id) {
	r.complMu.Lock()
	defer r.complMu.Unlock()
	for id > r.lastComplD && !r.exiting {
		r.complCV.Wait()
	}
}

// Status reports the last known status of id, or StatusInvalid if this
// runner never issued it (or it was dropped by Clear).
func (r *AsyncRunner[J]) Status(id Id) Status {
	r.statusMu.RLock()
	defer r.statusMu.RUnlock()
	s, ok := r.status[id]
	if !ok {
		return StatusInvalid
	}
	return s
}

// Clear drops every still-pending job from the queue, wipes the status
// map, and wakes any waiter blocked on an ID that will now never complete.
func (r *AsyncRunner[J]) Clear() {
	r.queueMu.Lock()
	r.queue = nil
	r.queueCV.Broadcast()
	r.queueMu.Unlock()

	r.complMu.Lock()
	r.lastComplD = Id(crossInstanceID.Load())
	r.complCV.Broadcast()
	r.complMu.Unlock()

	r.statusMu.Lock()
	r.status = make(map[Id]Status)
	r.statusMu.Unlock()
}

// Running reports whether the worker currently has a job in hand or the
// queue is non-empty.
func (r *AsyncRunner[J]) Running() bool {
	r.queueMu.Lock()
	defer r.queueMu.Unlock()
	return r.running
}

// ForEach is an advisory snapshot of still-pending jobs, for observability.
// The callback must not retain job values beyond the call.
func (r *AsyncRunner[J]) ForEach(f func(id Id, job J)) {
	r.queueMu.Lock()
	defer r.queueMu.Unlock()
	for _, qj := range r.queue {
		f(qj.id, qj.job)
	}
}

// Release signals the worker to exit after its current job and joins it.
// Idempotent.
func (r *AsyncRunner[J]) Release() {
	r.releaseOnce.Do(func() {
		r.queueMu.Lock()
		r.exiting = true
		r.queueCV.Broadcast()
		r.queueMu.Unlock()

		r.complMu.Lock()
		r.complCV.Broadcast()
		r.complMu.Unlock()

		r.wg.Wait()
	})
}

func (r *AsyncRunner[J]) work() {
	defer r.wg.Done()
	for {
		r.queueMu.Lock()
		for len(r.queue) == 0 && !r.exiting {
			r.running = false
			r.queueCV.Wait()
		}
		if len(r.queue) == 0 && r.exiting {
			r.queueMu.Unlock()
			return
		}
		qj := r.queue[0]
		r.queue = r.queue[1:]
		r.running = true
		r.queueMu.Unlock()

		r.statusMu.Lock()
		r.status[qj.id] = StatusRunning
		r.statusMu.Unlock()

		ok := r.runOne(qj.id, qj.job)

		r.statusMu.Lock()
		if ok {
			r.status[qj.id] = StatusSuccess
		} else {
			r.status[qj.id] = StatusFailed
		}
		r.statusMu.Unlock()

		r.complMu.Lock()
		r.lastComplD = qj.id
		r.complCV.Broadcast()
		r.complMu.Unlock()
	}
}

// runOne recovers a panicking process function and treats it as a failure,
// per §4.1's "exceptions must be caught and treated as Failed".
func (r *AsyncRunner[J]) runOne(id Id, job J) (ok bool) {
	defer func() {
		if rec := recover(); rec != nil {
			ok = false
		}
	}()
	return r.process(id, job)
}
