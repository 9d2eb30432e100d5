// Package scheduler implements the build engine's work queue: a FIFO of
// Buildables guarded by a queue_set (items currently queued or in flight)
// and a task_set (every item ever demanded), with the two admission modes
// described in spec §5 "Concurrency & resource model" — add_required
// (walking up the dependency graph, always demands work) and add_if_needed
// (walking down, wakes waiters only if already demanded). This dual
// admission discipline is what keeps an inference-driven search from
// exploring the whole tree: add_if_needed lets a finishing file wake only
// the consumers that some add_required walk already asked for.
package scheduler

import (
	"sync"

	"golang.org/x/sync/errgroup"
)

// Buildable is anything the scheduler can drive to completion: package
// graph's File and Job both implement it. Build attempts one build step
// and reports whether it finished (true) or deferred because it is
// waiting on something else the caller must queue (false). Identity for
// queue/task-set membership is the Buildable's own pointer identity —
// package graph interns File/Job so there is exactly one instance per
// logical item, matching the original's hash-based interning.
type Buildable interface {
	Done() bool
	Build() (bool, error)
}

// Queue is the FIFO scheduler: queue + queue_set + task_set, a worker
// pool, and fatal-error propagation (spec §5 "Fatal-error propagation").
type Queue struct {
	mu       sync.Mutex
	cond     *sync.Cond
	queue    []Buildable
	queueSet map[Buildable]bool
	taskSet  map[Buildable]bool

	stopped bool
}

// New returns an empty Queue.
func New() *Queue {
	q := &Queue{
		queueSet: map[Buildable]bool{},
		taskSet:  map[Buildable]bool{},
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

func (q *Queue) enqueueLocked(items []Buildable) bool {
	var added bool
	for _, item := range items {
		if q.queueSet[item] {
			continue
		}
		q.queueSet[item] = true
		q.queue = append(q.queue, item)
		added = true
	}
	if added {
		q.cond.Broadcast()
	}
	return added
}

// AddRequired adds every not-yet-done item in items to both the task set
// and the queue. Returns whether anything is left undone, matching the
// original's AddRequired ("used when going up the tree").
func (q *Queue) AddRequired(items []Buildable) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, item := range items {
		q.taskSet[item] = true
	}
	var unfinished []Buildable
	for _, item := range items {
		if !item.Done() {
			unfinished = append(unfinished, item)
		}
	}
	if len(unfinished) == 0 {
		return false
	}
	q.enqueueLocked(unfinished)
	return true
}

// AddIfNeeded adds every not-yet-done item in items that is ALSO already
// in the task set. Returns whether anything was added, matching the
// original's AddIfNeeded ("used when going down the tree") — this is the
// mechanism that keeps a producer's completion from waking consumers
// nobody asked for.
func (q *Queue) AddIfNeeded(items []Buildable) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	var needed []Buildable
	for _, item := range items {
		if !item.Done() && q.taskSet[item] {
			needed = append(needed, item)
		}
	}
	if len(needed) == 0 {
		return false
	}
	return q.enqueueLocked(needed)
}

// Working reports whether any item is currently queued or in flight.
func (q *Queue) Working() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.queueSet) > 0
}

// get returns the next item to build, or nil once the build has either
// been stopped (a fatal error elsewhere) or fully drained: nothing queued
// and nothing in flight, so nothing could enqueue further work.
func (q *Queue) get() Buildable {
	q.mu.Lock()
	defer q.mu.Unlock()
	for {
		if q.stopped {
			return nil
		}
		if len(q.queue) > 0 {
			item := q.queue[0]
			q.queue = q.queue[1:]
			return item
		}
		if len(q.queueSet) == 0 {
			q.stopped = true
			q.cond.Broadcast()
			return nil
		}
		q.cond.Wait()
	}
}

func (q *Queue) finish(item Buildable) {
	q.mu.Lock()
	delete(q.queueSet, item)
	q.mu.Unlock()
	q.cond.Broadcast()
}

func (q *Queue) stop() {
	q.mu.Lock()
	q.stopped = true
	q.mu.Unlock()
	q.cond.Broadcast()
}

// Run launches numWorkers goroutines that pull from the queue until it
// drains (Working() becomes false and the queue is empty) or a Build call
// returns a fatal error, then stops every worker and returns the first
// error observed (nil on a clean drain), matching the original driver's
// with-block semantics.
func (q *Queue) Run(numWorkers int) error {
	g := new(errgroup.Group)

	for i := 0; i < numWorkers; i++ {
		g.Go(func() error {
			for {
				item := q.get()
				if item == nil {
					return nil
				}
				_, err := item.Build()
				q.finish(item)
				if err != nil {
					q.stop()
					return err
				}
			}
		})
	}

	return g.Wait()
}
