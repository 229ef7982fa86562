// Package schedule implements the centralized ready-queue and per-task
// dependency bookkeeping that hands Jobs to the worker pool (§4.F).
package schedule

import (
	"sync"

	"github.com/rasterjit/engine/pkg/collections"
	"github.com/rasterjit/engine/pkg/task"
	"github.com/rasterjit/engine/pkg/utils"
)

// Priority is the reverse-topological rank of a task: lower numbers run
// first, so consumer tasks drain before their producers re-fill the cache
// (§4.F ordering).
type Priority map[int]int

// Scheduler is a centralized job queue with per-(task,coord) dependency
// counters. Jobs for the same (task, coord) are deduplicated: a job already
// queued absorbs further notifications rather than being pushed twice.
type Scheduler struct {
	mu       sync.Mutex
	cond     *sync.Cond
	ready    *collections.Queue[task.Job]
	queued   map[queueKey]bool
	priority Priority

	activeJobs int  // jobs handed out by NextJob but not yet completed
	seenAny    bool // at least one job has ever been queued; guards against
	// NextJob observing termination before evaluation start seeds its
	// initial jobs

	logger utils.Logger
}

type queueKey struct {
	taskID int
	coord  string
}

// New constructs a Scheduler. priority ranks tasks for the FIFO-within-
// priority ordering described in §4.F; a nil/missing entry defaults to 0.
func New(priority Priority, logger utils.Logger) *Scheduler {
	if logger == nil {
		logger = &utils.NullLogger{}
	}
	s := &Scheduler{
		ready:    collections.NewQueue[task.Job](64),
		queued:   make(map[queueKey]bool),
		priority: priority,
		logger:   logger,
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// AddJob pushes job to the ready queue if it is not already queued for the
// same (task, coord), and signals one waiter.
func (s *Scheduler) AddJob(job task.Job) {
	k := queueKey{taskID: job.TaskID, coord: job.Coord.String()}
	s.mu.Lock()
	if s.queued[k] {
		s.mu.Unlock()
		return
	}
	s.queued[k] = true
	s.seenAny = true
	s.ready.Enqueue(job)
	s.mu.Unlock()
	s.cond.Signal()
}

// NextJob blocks until a job is ready or the scheduler has terminated (empty
// queue, no active job, no outstanding work), in which case ok is false.
func (s *Scheduler) NextJob() (job task.Job, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for s.ready.IsEmpty() {
		if s.terminated() {
			return task.Job{}, false
		}
		s.cond.Wait()
	}
	job, _ = s.pickHighestPriority()
	s.activeJobs++
	return job, true
}

// pickHighestPriority scans the ready queue (small — bounded by in-flight
// fan-out) for the lowest-priority-number job, i.e. the one whose task is
// furthest downstream, and removes it. Caller must hold s.mu.
func (s *Scheduler) pickHighestPriority() (task.Job, bool) {
	n := s.ready.Len()
	if n == 0 {
		return task.Job{}, false
	}
	var best task.Job
	bestPrio := int(^uint(0) >> 1)
	bestSeen := false
	tmp := collections.NewQueue[task.Job](n)
	for i := 0; i < n; i++ {
		j, _ := s.ready.Dequeue()
		p := s.priority[j.TaskID]
		if !bestSeen || p < bestPrio {
			if bestSeen {
				tmp.Enqueue(best)
			}
			best, bestPrio, bestSeen = j, p, true
		} else {
			tmp.Enqueue(j)
		}
	}
	for !tmp.IsEmpty() {
		j, _ := tmp.Dequeue()
		s.ready.Enqueue(j)
	}
	delete(s.queued, queueKey{taskID: best.TaskID, coord: best.Coord.String()})
	return best, true
}

// JobDone marks a job handed out by NextJob as complete, decrementing the
// active-job count and waking any waiter that might now observe
// termination. Any jobs the completion unblocked must already have been
// pushed via AddJob before calling JobDone, or a waiter could wrongly
// observe termination in the gap.
func (s *Scheduler) JobDone(job task.Job) {
	s.mu.Lock()
	if s.activeJobs > 0 {
		s.activeJobs--
	}
	s.mu.Unlock()
	s.cond.Broadcast()
}

// terminated reports §4.F's condition: job queue empty AND no worker is
// mid-compute AND no outstanding outputs remain. Equivalent here to "every
// job ever queued has completed", since a Job is always in exactly one of
// {queued, active, done}. Caller must hold s.mu.
func (s *Scheduler) terminated() bool {
	return s.seenAny && s.ready.IsEmpty() && s.activeJobs == 0
}

// Pending reports the number of jobs currently queued, for diagnostics.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready.Len()
}
