package queue

import (
	"container/heap"
	"sync"
)

// PriorityQueue orders runnable jobs by (priority desc, created_at asc,
// submission order). It only orders; the worker pool enforces the
// concurrency ceiling. Safe for concurrent use.
type PriorityQueue struct {
	mu     sync.Mutex
	heap   jobHeap
	seq    uint64
	paused bool
	wake   chan struct{}
}

// NewPriorityQueue creates an empty queue.
func NewPriorityQueue() *PriorityQueue {
	return &PriorityQueue{wake: make(chan struct{}, 1)}
}

// Enqueue adds a job and wakes an idle worker. First-time submissions
// get a sequence number; re-enqueued jobs keep theirs so retries hold
// their original FIFO position among equal priorities.
func (q *PriorityQueue) Enqueue(job *Job) {
	q.mu.Lock()
	if job.seq == 0 {
		q.seq++
		job.seq = q.seq
	}
	heap.Push(&q.heap, job)
	q.mu.Unlock()
	q.notify()
}

// Dequeue removes and returns the highest-priority runnable job, or nil
// when the queue is empty, globally paused, or holds only paused jobs.
// Paused jobs are skipped, not removed; cancelled jobs are dropped.
func (q *PriorityQueue) Dequeue() *Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.paused {
		return nil
	}

	var skipped []*Job
	var picked *Job
	for q.heap.Len() > 0 {
		job := heap.Pop(&q.heap).(*Job)
		status := job.Status()
		if status.Terminal() {
			continue // cancelled while waiting, drop it
		}
		if status == StatusQueued && !job.Paused() {
			picked = job
			break
		}
		skipped = append(skipped, job)
	}
	for _, job := range skipped {
		heap.Push(&q.heap, job)
	}
	return picked
}

// Len returns the number of jobs currently held, paused ones included.
func (q *PriorityQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.heap.Len()
}

// PauseAll stops all dequeues until ResumeAll. In-flight downloads are
// not affected.
func (q *PriorityQueue) PauseAll() {
	q.mu.Lock()
	q.paused = true
	q.mu.Unlock()
}

// ResumeAll re-enables dequeues and wakes the workers.
func (q *PriorityQueue) ResumeAll() {
	q.mu.Lock()
	q.paused = false
	q.mu.Unlock()
	q.notify()
}

// GloballyPaused reports the global pause flag.
func (q *PriorityQueue) GloballyPaused() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.paused
}

// Wake returns a channel that receives a signal whenever new work may be
// available. Workers idle on it instead of busy-polling.
func (q *PriorityQueue) Wake() <-chan struct{} {
	return q.wake
}

// Notify nudges one idle worker. Used by the scheduler after resuming
// individual jobs.
func (q *PriorityQueue) Notify() {
	q.notify()
}

func (q *PriorityQueue) notify() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// jobHeap is a max-heap on (priority, -created_at, -seq).
type jobHeap []*Job

func (h jobHeap) Len() int { return len(h) }

func (h jobHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority > h[j].priority
	}
	if !h[i].createdAt.Equal(h[j].createdAt) {
		return h[i].createdAt.Before(h[j].createdAt)
	}
	return h[i].seq < h[j].seq
}

func (h jobHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *jobHeap) Push(x any) { *h = append(*h, x.(*Job)) }

func (h *jobHeap) Pop() any {
	old := *h
	n := len(old)
	job := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return job
}
