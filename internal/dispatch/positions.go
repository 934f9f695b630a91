package dispatch

import (
	"context"
	"sort"
	"sync"
)

// positionFeed turns queue moves into status edits. It keeps only the
// latest placement per job, so a burst of moves costs one edit per
// waiting user, and it runs on its own goroutine so the queue lock is
// never held across a notifier call.
type positionFeed struct {
	c *Controller

	mu     sync.Mutex
	want   map[*Job]Placement
	dirty  map[*Job]struct{}
	almost map[*Job]struct{}
	kick   chan struct{}
}

func newPositionFeed(c *Controller) *positionFeed {
	return &positionFeed{
		c:      c,
		want:   map[*Job]Placement{},
		dirty:  map[*Job]struct{}{},
		almost: map[*Job]struct{}{},
		kick:   make(chan struct{}, 1),
	}
}

// moved is the Queue hook; it runs under the queue lock.
func (f *positionFeed) moved(ps []Placement, gone *Job) {
	f.mu.Lock()
	if gone != nil {
		delete(f.want, gone)
		delete(f.dirty, gone)
		delete(f.almost, gone)
	}
	for _, p := range ps {
		if old, ok := f.want[p.Job]; ok && old == p {
			continue
		}
		f.want[p.Job] = p
		f.dirty[p.Job] = struct{}{}
	}
	f.mu.Unlock()

	select {
	case f.kick <- struct{}{}:
	default:
	}
}

func (f *positionFeed) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-f.kick:
			f.flush()
		}
	}
}

type pendingEdit struct {
	p      Placement
	almost bool
}

func (f *positionFeed) flush() {
	threshold := f.c.cfg.AlmostThreshold

	f.mu.Lock()
	batch := make([]pendingEdit, 0, len(f.dirty))
	for j := range f.dirty {
		p := f.want[j]
		e := pendingEdit{p: p}
		if _, sent := f.almost[j]; !sent && threshold > 0 && p.Ahead == threshold {
			f.almost[j] = struct{}{}
			e.almost = true
		}
		batch = append(batch, e)
	}
	clear(f.dirty)
	f.mu.Unlock()

	sort.Slice(batch, func(a, b int) bool { return batch[a].p.Position < batch[b].p.Position })
	for _, e := range batch {
		f.send(e)
	}
}

func (f *positionFeed) send(e pendingEdit) {
	j := e.p.Job
	j.msg.Lock()
	// The worker owns the message once the job left the queue.
	if j.dequeued.Load() {
		j.msg.Unlock()
		return
	}
	done := make(chan struct{})
	j.feedEdit = done
	j.msg.Unlock()
	defer close(done)

	c := f.c
	c.edit(j.Reply, c.present.Queued(j, e.p.Position, e.p.Ahead))
	if e.almost {
		c.send(j.chat(), c.present.QueueAlmost(j))
	}
}
