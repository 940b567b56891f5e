// Package worker provides a fair dispatcher for chat jobs. Jobs are queued
// per user and dispatched round-robin so one chatty user cannot starve the
// rest. At most one job per user is in flight at a time; a user's next job
// is dispatched only after the previous one returns.
package worker

import (
	"container/list"
	"errors"
	"sync"
)

// ErrBusy reports that the dispatcher's intake queue is full. Callers should
// surface this as back-pressure rather than blocking the request.
var ErrBusy = errors.New("dispatcher queue is full")

// Job is one unit of work bound to the user who requested it.
type Job struct {
	UserID string
	Run    func()
}

type userQueue struct {
	jobs     []Job
	enqueued bool
}

// Dispatcher fans jobs out to a fixed set of workers. Each user has a FIFO
// queue; the ready list rotates users so dispatch order is round-robin across
// users, FIFO within a user, and never more than one job per user at once.
type Dispatcher struct {
	intake   chan Job
	dispatch chan Job
	wake     chan struct{}
	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	mu     sync.Mutex
	queues map[string]*userQueue
	ready  *list.List
	busy   map[string]bool
}

func NewDispatcher(workers, queueSize int) *Dispatcher {
	if workers <= 0 {
		workers = 4
	}
	if queueSize <= 0 {
		queueSize = 64
	}
	d := &Dispatcher{
		intake:   make(chan Job, queueSize),
		dispatch: make(chan Job),
		wake:     make(chan struct{}, 1),
		stop:     make(chan struct{}),
		queues:   make(map[string]*userQueue),
		ready:    list.New(),
		busy:     make(map[string]bool),
	}

	for i := 0; i < workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
	d.wg.Add(1)
	go d.run()
	return d
}

// Submit queues a job without blocking. When the intake queue is full the
// caller gets ErrBusy immediately.
func (d *Dispatcher) Submit(job Job) error {
	if job.Run == nil {
		return errors.New("job has no work")
	}
	select {
	case d.intake <- job:
		return nil
	case <-d.stop:
		return errors.New("dispatcher stopped")
	default:
		return ErrBusy
	}
}

// Stop drains no further work and waits for in-flight jobs to finish.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() { close(d.stop) })
	d.wg.Wait()
}

// Done is closed when the dispatcher is stopping. Jobs accepted by Submit
// but not yet dispatched will never run once it closes, so callers waiting
// on a job's result must also wait on this.
func (d *Dispatcher) Done() <-chan struct{} {
	return d.stop
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	defer close(d.dispatch)
	for {
		if !d.dispatchOne() {
			// Nothing dispatchable: block until a job arrives or an
			// in-flight user finishes and frees their queue.
			select {
			case job := <-d.intake:
				d.enqueueJob(job)
			case <-d.wake:
			case <-d.stop:
				return
			}
			continue
		}
		select {
		case job := <-d.intake:
			d.enqueueJob(job)
		case <-d.stop:
			return
		default:
		}
	}
}

func (d *Dispatcher) enqueueJob(job Job) {
	d.mu.Lock()
	defer d.mu.Unlock()

	q := d.queues[job.UserID]
	if q == nil {
		q = &userQueue{}
		d.queues[job.UserID] = q
	}
	q.jobs = append(q.jobs, job)
	// A busy user rejoins the ready list when their in-flight job finishes.
	if q.enqueued || d.busy[job.UserID] {
		return
	}
	q.enqueued = true
	d.ready.PushBack(job.UserID)
}

// dispatchOne hands the front user's next job to a worker and marks the user
// busy until it completes. Returns false when no user is dispatchable.
func (d *Dispatcher) dispatchOne() bool {
	d.mu.Lock()
	elem := d.ready.Front()
	if elem == nil {
		d.mu.Unlock()
		return false
	}
	userID := elem.Value.(string)
	q := d.queues[userID]
	job := q.jobs[0]
	q.jobs = q.jobs[1:]
	d.busy[userID] = true
	q.enqueued = false
	d.ready.Remove(elem)
	if len(q.jobs) == 0 {
		delete(d.queues, userID)
	}
	d.mu.Unlock()

	select {
	case d.dispatch <- job:
		return true
	case <-d.stop:
		return true
	}
}

// finish returns the user to the ready list once their job is done, so their
// next queued job becomes dispatchable.
func (d *Dispatcher) finish(userID string) {
	d.mu.Lock()
	delete(d.busy, userID)
	if q := d.queues[userID]; q != nil && !q.enqueued {
		q.enqueued = true
		d.ready.PushBack(userID)
	}
	d.mu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for {
		select {
		case job, ok := <-d.dispatch:
			if !ok {
				return
			}
			job.Run()
			d.finish(job.UserID)
		case <-d.stop:
			return
		}
	}
}
