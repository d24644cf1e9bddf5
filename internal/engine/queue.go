package engine

import (
	"container/heap"
	"sync"
	"time"

	"github.com/selinon/selinon-sub000/internal/flow"
)

type jobKind int

const (
	jobTask jobKind = iota + 1
	jobFlow
)

// job is one unit of work for the Run loop: a task execution or a delivery
// of a flow message.
type job struct {
	kind    jobKind
	id      string
	readyAt time.Time
	seq     int64

	// Task jobs. flowID is the dispatching flow instance.
	flowID   string
	flowName string
	taskName string
	nodeArgs any
	parent   flow.Parent

	// Flow jobs carry the encoded dispatcher message.
	message []byte
	// redeliveries counts transient redeliveries of the same message.
	redeliveries int
}

// jobQueue is a thread-safe queue ordered by ready time, then by enqueue
// sequence, so jobs that are ready together run in FIFO order.
//
// The queue is unbounded so a step that starts many nodes never blocks.
type jobQueue struct {
	mu   sync.Mutex
	jobs jobHeap
}

func newJobQueue() *jobQueue {
	return &jobQueue{jobs: make(jobHeap, 0, 64)}
}

// Push adds a job.
func (q *jobQueue) Push(j *job) {
	q.mu.Lock()
	defer q.mu.Unlock()
	heap.Push(&q.jobs, j)
}

// Pop removes and returns the job that becomes ready first, whether or not
// it is ready yet. Returns false if the queue is empty.
func (q *jobQueue) Pop() (*job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.jobs) == 0 {
		return nil, false
	}
	return heap.Pop(&q.jobs).(*job), true
}

// Len returns the number of queued jobs.
func (q *jobQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}

type jobHeap []*job

func (h jobHeap) Len() int { return len(h) }

func (h jobHeap) Less(i, j int) bool {
	if !h[i].readyAt.Equal(h[j].readyAt) {
		return h[i].readyAt.Before(h[j].readyAt)
	}
	return h[i].seq < h[j].seq
}

func (h jobHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *jobHeap) Push(x any) { *h = append(*h, x.(*job)) }

func (h *jobHeap) Pop() any {
	old := *h
	n := len(old)
	j := old[n-1]
	// Nil out the slot so the backing array does not retain the job.
	old[n-1] = nil
	*h = old[:n-1]
	return j
}
