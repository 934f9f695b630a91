package dispatch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type moveLog struct {
	mu    sync.Mutex
	moves [][]Placement
	gone  []*Job
}

func (m *moveLog) hook(ps []Placement, gone *Job) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.moves = append(m.moves, append([]Placement(nil), ps...))
	if gone != nil {
		m.gone = append(m.gone, gone)
	}
}

func TestQueueFIFOAndPositions(t *testing.T) {
	t.Parallel()
	var log moveLog
	q := NewQueue(log.hook)
	a, b, c := &Job{Target: "a"}, &Job{Target: "b"}, &Job{Target: "c"}

	assert.Equal(t, 1, q.Enqueue(a))
	assert.Equal(t, 2, q.Enqueue(b))
	assert.Equal(t, 3, q.Enqueue(c))
	assert.Equal(t, []Placement{{Job: c, Position: 3, Ahead: 2}}, log.moves[2])

	got, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	assert.Same(t, a, got)
	assert.True(t, a.dequeued.Load())
	assert.False(t, b.dequeued.Load())

	assert.Equal(t, []Placement{
		{Job: b, Position: 1, Ahead: 0},
		{Job: c, Position: 2, Ahead: 1},
	}, log.moves[3])
	assert.Equal(t, []*Job{a}, log.gone)
	assert.Equal(t, []*Job{b, c}, q.Snapshot())
}

func TestQueueDequeueBlocksUntilEnqueue(t *testing.T) {
	t.Parallel()
	q := NewQueue(nil)
	got := make(chan *Job, 1)
	go func() {
		j, err := q.Dequeue(context.Background())
		if err == nil {
			got <- j
		}
	}()

	j := &Job{Target: "late"}
	time.Sleep(10 * time.Millisecond)
	q.Enqueue(j)

	select {
	case x := <-got:
		assert.Same(t, j, x)
	case <-time.After(time.Second):
		t.Fatal("dequeue did not wake up")
	}
	assert.Zero(t, q.Len())
}

func TestQueueDequeueHonorsContext(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := NewQueue(nil).Dequeue(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestQueueConcurrentConsumersSeeEachJobOnce(t *testing.T) {
	t.Parallel()
	q := NewQueue(nil)
	const n = 50
	for range n {
		q.Enqueue(&Job{})
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	var (
		mu   sync.Mutex
		seen = map[*Job]int{}
		wg   sync.WaitGroup
	)
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				mu.Lock()
				if len(seen) == n {
					mu.Unlock()
					return
				}
				mu.Unlock()
				j, err := q.Dequeue(ctx)
				if err != nil {
					return
				}
				mu.Lock()
				seen[j]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Len(t, seen, n)
	for _, c := range seen {
		assert.Equal(t, 1, c)
	}
}
