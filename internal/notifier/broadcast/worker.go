package broadcast

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"

	kit "restorebot/internal/transport"
	logx "restorebot/pkg/logx"
)

func (s *Service) runner(ctx context.Context, stopCh <-chan struct{}, queue <-chan job) {
	for {
		// stop wins over queued work
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		default:
		}

		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case j := <-queue:
			s.execJob(ctx, j)
		}
	}
}

func (s *Service) execJob(ctx context.Context, j job) {
	start := time.Now()
	s.mu.Lock()
	cfg := s.cfg
	lim := s.limiter
	sender := s.sender
	s.mu.Unlock()

	s.update(j.id, func(st *JobStatus) {
		st.StartedAt = start
		st.Running = true
	})
	s.log.Info("broadcast job started", logx.String("job", j.id), logx.String("name", j.name), logx.Int("total", len(j.targets)))

	targets := make(chan int64)
	var (
		wg     sync.WaitGroup
		progMu sync.Mutex
	)
	report := func(force bool) {
		if j.progress == nil {
			return
		}
		st, _ := s.Status(j.id)
		if !force && st.Done%cfg.ProgressEvery != 0 {
			return
		}
		progMu.Lock()
		defer progMu.Unlock()
		j.progress(st)
	}

	for range min(cfg.Workers, len(j.targets)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for uid := range targets {
				err := s.sendOne(ctx, lim, sender, uid, j)
				s.update(j.id, func(st *JobStatus) {
					st.Done++
					if err != nil {
						st.Failed++
						if errors.Is(err, kit.ErrBlocked) {
							st.Blocked++
						}
					}
				})
				report(false)
			}
		}()
	}

feed:
	for _, uid := range j.targets {
		select {
		case <-ctx.Done():
			break feed
		case targets <- uid:
		}
	}
	close(targets)
	wg.Wait()

	s.update(j.id, func(st *JobStatus) {
		st.DoneAt = time.Now()
		st.Running = false
	})
	report(true)

	st, _ := s.Status(j.id)
	fields := []logx.Field{
		logx.String("job", j.id),
		logx.String("name", j.name),
		logx.Int("total", st.Total),
		logx.Int("done", st.Done),
		logx.Int("failed", st.Failed),
		logx.Duration("dur", time.Since(start)),
	}
	if st.Failed > 0 || st.Done < st.Total {
		s.log.Warn("broadcast job finished with failures", fields...)
		return
	}
	s.log.Info("broadcast job finished", fields...)
}

func (s *Service) sendOne(ctx context.Context, lim *rate.Limiter, sender Sender, uid int64, j job) error {
	if err := lim.Wait(ctx); err != nil {
		return err
	}
	_, err := sender.Send(ctx, kit.ChatTarget{ChatID: uid}, j.text, j.opt)
	if err != nil {
		s.log.Debug("broadcast send failed", logx.String("job", j.id), logx.Int64("chat_id", uid), logx.Err(err))
	}
	return err
}

func (s *Service) update(id string, fn func(*JobStatus)) {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	if st := s.status[id]; st != nil {
		fn(st)
	}
}
