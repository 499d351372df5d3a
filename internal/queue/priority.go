// Package queue implements the in-process priority dispatch queue feeding the
// worker pool. Ordering is strict: urgent before high before normal before
// low, FIFO within a tier. Strict tiers admit starvation of lower tiers under
// sustained high-priority load; no aging is applied.
package queue

import (
	"errors"
	"sync"

	"transcription-scheduler/internal/models"
)

// ErrClosed is returned by Enqueue after Close.
var ErrClosed = errors.New("queue closed")

// Queue is a blocking multi-tier FIFO of job IDs.
type Queue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	tiers  [][]string
	closed bool
	drain  bool
}

// New creates an open queue with one FIFO per priority tier.
func New() *Queue {
	q := &Queue{tiers: make([][]string, len(models.Priorities))}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Enqueue appends a job ID to its priority tier and wakes one waiter.
func (q *Queue) Enqueue(jobID, priority string) error {
	idx, ok := models.PriorityIndex(priority)
	if !ok {
		idx, _ = models.PriorityIndex(models.PriorityNormal)
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}
	q.tiers[idx] = append(q.tiers[idx], jobID)
	q.cond.Signal()
	return nil
}

// Dequeue blocks until an item is available or the queue stops handing out
// work, in which case ok is false. After Close(drain=true) remaining items
// are still dispensed; after Close(drain=false) the sentinel is immediate.
func (q *Queue) Dequeue() (jobID string, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for {
		if q.closed && !q.drain {
			return "", false
		}
		for i := range q.tiers {
			if len(q.tiers[i]) > 0 {
				jobID = q.tiers[i][0]
				q.tiers[i] = q.tiers[i][1:]
				return jobID, true
			}
		}
		if q.closed {
			return "", false
		}
		q.cond.Wait()
	}
}

// Close shuts the queue down. With drain, queued items remain dequeuable
// until empty; without, blocked and future Dequeue calls return immediately
// and any remaining items are abandoned to the caller's cleanup.
func (q *Queue) Close(drain bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.drain = drain
	q.cond.Broadcast()
}

// Len returns the total number of queued items across tiers.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for i := range q.tiers {
		n += len(q.tiers[i])
	}
	return n
}

// Remaining pops every queued item, for cancelling pending work on abort.
func (q *Queue) Remaining() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []string
	for i := range q.tiers {
		out = append(out, q.tiers[i]...)
		q.tiers[i] = nil
	}
	return out
}
