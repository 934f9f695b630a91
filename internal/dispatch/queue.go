package dispatch

import (
	"context"
	"sync"
)

// Placement is a pending job's place in line.
type Placement struct {
	Job      *Job
	Position int // 1-based
	Ahead    int
}

// Queue is the FIFO of admitted jobs. A single pending list is both the
// ordering and the source of positions, so they can never disagree.
type Queue struct {
	mu      sync.Mutex
	pending []*Job
	wake    chan struct{}

	// moved runs under mu after every change with the placements that
	// changed and the job that left, if any. It must not block.
	moved func(ps []Placement, gone *Job)
}

func NewQueue(moved func(ps []Placement, gone *Job)) *Queue {
	if moved == nil {
		moved = func([]Placement, *Job) {}
	}
	return &Queue{wake: make(chan struct{}, 1), moved: moved}
}

// Enqueue appends j and returns its 1-based position.
func (q *Queue) Enqueue(j *Job) int {
	q.mu.Lock()
	q.pending = append(q.pending, j)
	pos := len(q.pending)
	q.moved([]Placement{{Job: j, Position: pos, Ahead: pos - 1}}, nil)
	q.mu.Unlock()

	q.signal()
	return pos
}

// Dequeue blocks until the head job is available or ctx ends. Removing
// the head republishes the positions of everyone behind it.
func (q *Queue) Dequeue(ctx context.Context) (*Job, error) {
	for {
		q.mu.Lock()
		if len(q.pending) > 0 {
			j := q.pending[0]
			q.pending[0] = nil
			q.pending = q.pending[1:]
			j.dequeued.Store(true)

			ps := make([]Placement, len(q.pending))
			for i, next := range q.pending {
				ps[i] = Placement{Job: next, Position: i + 1, Ahead: i}
			}
			q.moved(ps, j)
			more := len(q.pending) > 0
			q.mu.Unlock()

			if more {
				q.signal()
			}
			return j, nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-q.wake:
		}
	}
}

func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Snapshot returns the pending jobs in order.
func (q *Queue) Snapshot() []*Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]*Job(nil), q.pending...)
}
