package dispatch

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"restorebot/internal/credential"
	"restorebot/internal/eventbus"
	"restorebot/internal/storage"
	logx "restorebot/pkg/logx"
)

// workerLoop returns the supervised body of worker id. It returns
// context.Canceled on a clean stop so the supervisor does not restart it.
func (c *Controller) workerLoop(id int) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		log := c.log.With(logx.Int("worker", id))
		log.Debug("worker started")
		for {
			select {
			case <-c.stopCh:
				return context.Canceled
			case <-ctx.Done():
				return context.Canceled
			default:
			}

			job, err := c.queue.Dequeue(c.stopCtx)
			if err != nil {
				if c.stopCtx.Err() != nil || ctx.Err() != nil {
					return context.Canceled
				}
				return fmt.Errorf("worker %d: dequeue: %w", id, err)
			}
			c.runJob(id, job)
		}
	}
}

// runJob executes one job and contains any panic so the worker survives.
func (c *Controller) runJob(worker int, job *Job) {
	c.busy.Add(1)
	defer c.busy.Add(-1)

	rec := Record{
		JobID:      job.ID,
		UserID:     job.UserID,
		Target:     job.Target,
		Worker:     worker,
		EnqueuedAt: job.EnqueuedAt,
		StartedAt:  c.cfg.Now(),
	}
	c.publish(eventbus.JobStarted, &rec)

	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("%w: %v", ErrWorkerFault, r)
			c.counters.faults.Add(1)
			c.log.Error("job panicked",
				logx.String("job", job.ID),
				logx.Int("worker", worker),
				logx.Err(err),
				logx.Stack(string(debug.Stack())),
			)
			rec.Outcome = OutcomeFailure
			rec.Err = err.Error()
			c.edit(job.Reply, c.present.Failed(job, "internal error"))
		}
		rec.FinishedAt = c.cfg.Now()
		c.finish(rec)
	}()

	c.execute(worker, job, &rec)
}

func (c *Controller) execute(worker int, job *Job, rec *Record) {
	ctx := c.runCtx
	log := c.log.With(logx.String("job", job.ID), logx.Int("worker", worker), logx.Int64("user_id", job.UserID))

	c.claim(job)

	cred, err := c.pool.Next()
	if err != nil {
		log.Error("job abandoned: credential pool is empty", logx.Err(err))
		rec.Outcome = OutcomeAbandoned
		rec.Err = err.Error()
		return
	}

	privileged, err := c.quota.IsPrivileged(ctx, job.UserID)
	if err != nil {
		log.Warn("privilege lookup failed; applying quota", logx.Err(err))
	}
	if !privileged {
		ok, err := c.quota.CanRequest(ctx, job.UserID)
		if err != nil {
			log.Warn("quota recheck failed", logx.Err(err))
		}
		if !ok {
			c.edit(job.Reply, c.present.LimitReached(job))
			rec.Outcome = OutcomeLimited
			return
		}
	}

	log.Info("job started", logx.String("target", job.Target), logx.String("credential", cred.Name))
	prog := c.startProgress(job, fmt.Sprintf("[Worker #%d] Processing request...", worker))
	defer prog.close()

	detail, attempts, err := c.attempt(ctx, job, cred, prog)
	rec.Attempts = attempts

	if err != nil {
		prog.close()
		rec.Outcome = OutcomeFailure
		rec.Err = err.Error()
		c.logRequest(job, storage.StatusFail)
		log.Warn("job failed", logx.Int("attempts", attempts), logx.Err(err))
		c.edit(job.Reply, c.present.Failed(job, failureReason(err)))
		return
	}

	rec.Outcome = OutcomeSuccess
	rec.Detail = detail
	if !privileged {
		if err := c.quota.Increment(ctx, job.UserID); err != nil {
			log.Error("quota increment failed", logx.Err(err))
		}
	}
	c.logRequest(job, storage.StatusSuccess)
	log.Info("job succeeded", logx.Int("attempts", attempts), logx.String("detail", detail))

	res, resErr := c.runCompanion(prog)
	prog.close()

	if d := c.cfg.SettleDelay; d > 0 {
		t := time.NewTimer(d)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
		}
	}

	c.remove(job.Reply)
	c.sendFinal(job.chat(), c.present.Succeeded(job, detail, res, resErr), c.finalPhoto())
}

// claim takes the status message over from the position feed. A dequeued
// job gets no further feed edits, so only one already in flight can land
// after this; claim waits for it, bounded by NotifyTimeout.
func (c *Controller) claim(job *Job) {
	job.msg.Lock()
	done := job.feedEdit
	job.msg.Unlock()
	if done == nil {
		return
	}
	t := time.NewTimer(c.cfg.NotifyTimeout)
	defer t.Stop()
	select {
	case <-done:
	case <-t.C:
		c.log.Warn("position edit still in flight; taking the message over", logx.String("job", job.ID))
	}
}

// attempt runs the executor, and after a credential expiry refreshes the
// pool once and retries once with a freshly selected credential.
func (c *Controller) attempt(ctx context.Context, job *Job, cred credential.Credential, prog *progressLog) (string, int, error) {
	for n := 1; ; n++ {
		detail, err := c.runExecutor(ctx, job, cred, prog)
		if err == nil {
			return detail, n, nil
		}
		if !errors.Is(err, ErrCredentialExpired) {
			return "", n, err
		}
		if n > 1 {
			return "", n, fmt.Errorf("%w: credential rejected again after refresh", ErrExecutionFailed)
		}

		prog.add("Credential expired, refreshing pool...")
		refreshed, rerr := c.refreshPool(ctx)
		if len(refreshed) == 0 {
			if rerr == nil {
				rerr = errors.New("no credential refreshed")
			}
			return "", n, fmt.Errorf("%w: refresh: %w", ErrExecutionFailed, rerr)
		}
		if rerr != nil {
			c.log.Warn("partial credential refresh", logx.Int("refreshed", len(refreshed)), logx.Err(rerr))
		}

		next, nerr := c.pool.Next()
		if nerr != nil {
			return "", n, nerr
		}
		cred = next
		prog.add("Retrying with " + cred.Name + "...")
	}
}

func (c *Controller) runExecutor(ctx context.Context, job *Job, cred credential.Credential, prog *progressLog) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.ExecTimeout)
	defer cancel()

	detail, err := c.exec.Run(ctx, job.Target, cred, prog.add)
	if err == nil {
		return detail, nil
	}
	if errors.Is(err, ErrCredentialExpired) {
		return "", err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "", fmt.Errorf("%w: timed out after %s", ErrExecutionFailed, c.cfg.ExecTimeout)
	}
	if errors.Is(err, ErrExecutionFailed) {
		return "", err
	}
	return "", fmt.Errorf("%w: %w", ErrExecutionFailed, err)
}

func (c *Controller) runCompanion(prog *progressLog) (*Resource, error) {
	if c.companion == nil {
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(c.runCtx, c.cfg.CompanionTimeout)
	defer cancel()
	res, err := c.companion.Provision(ctx, prog.add)
	if err != nil {
		c.log.Warn("companion action failed", logx.Err(err))
		return nil, err
	}
	return &res, nil
}

func (c *Controller) logRequest(job *Job, st storage.Status) {
	err := c.store.LogRequest(c.runCtx, storage.RequestLog{
		UserID:   job.UserID,
		TargetID: job.Target,
		Status:   st,
		At:       c.cfg.Now(),
	})
	if err != nil {
		c.log.Error("request log write failed", logx.String("job", job.ID), logx.Err(err))
	}
}

func (c *Controller) finalPhoto() string {
	photo, err := c.store.GetConfig(c.runCtx, storage.KeyDonatePhoto, c.cfg.DonatePhoto)
	if err != nil {
		return c.cfg.DonatePhoto
	}
	return photo
}

// failureReason is the user-facing cause without the package prefix.
func failureReason(err error) string {
	return strings.TrimPrefix(err.Error(), ErrExecutionFailed.Error()+": ")
}
