package broadcast

import (
	"context"
	"fmt"
	"slices"
	"time"

	kit "restorebot/internal/transport"
	logx "restorebot/pkg/logx"
)

// NewJob queues text for every user in targets. Duplicate ids are sent
// once. progress may be nil.
func (s *Service) NewJob(name string, targets []int64, text string, opt *kit.SendOptions, progress ProgressFunc) (string, error) {
	targets = slices.Compact(slices.Sorted(slices.Values(targets)))
	if len(targets) == 0 {
		return "", ErrNoTargets
	}
	if !s.running() {
		return "", ErrNotRunning
	}

	now := time.Now()
	id := fmt.Sprintf("bc:%d", now.UnixNano())
	s.pruneStatus(now)
	s.statusMu.Lock()
	s.status[id] = &JobStatus{ID: id, Name: name, Total: len(targets), CreatedAt: now}
	s.statusMu.Unlock()

	select {
	case s.queue <- job{id: id, name: name, targets: targets, text: text, opt: opt, progress: progress}:
		s.log.Debug("broadcast job enqueued", logx.String("job", id), logx.String("name", name), logx.Int("total", len(targets)), logx.Int("queue_len", len(s.queue)))
		return id, nil
	default:
		s.statusMu.Lock()
		delete(s.status, id)
		s.statusMu.Unlock()
		s.log.Warn("broadcast queue full; dropping job", logx.String("name", name), logx.Int("queue_cap", cap(s.queue)))
		return "", ErrQueueFull
	}
}

func (s *Service) Status(jobID string) (JobStatus, bool) {
	s.statusMu.RLock()
	defer s.statusMu.RUnlock()
	st, ok := s.status[jobID]
	if !ok {
		return JobStatus{}, false
	}
	return *st, true
}

// Wait blocks until jobID finishes or ctx ends.
func (s *Service) Wait(ctx context.Context, jobID string) (JobStatus, error) {
	t := time.NewTicker(20 * time.Millisecond)
	defer t.Stop()
	for {
		st, ok := s.Status(jobID)
		if !ok {
			return JobStatus{}, fmt.Errorf("broadcast: unknown job %q", jobID)
		}
		if st.Finished() {
			return st, nil
		}
		select {
		case <-ctx.Done():
			return st, ctx.Err()
		case <-t.C:
		}
	}
}
