package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"restorebot/internal/eventbus"
	rtsup "restorebot/internal/runtime/supervisor"
	"restorebot/internal/storage"
	"restorebot/internal/transport"
	logx "restorebot/pkg/logx"
)

// Deps are the Controller's collaborators. Store, Notifier, Executor and
// Presenter are required.
type Deps struct {
	Store     Store
	Notifier  Notifier
	Executor  Executor
	Refresher Refresher
	Companion Companion
	Gate      Gate
	Presenter Presenter
	Bus       eventbus.Bus
	Log       logx.Logger
}

// Controller admits requests, queues them and runs the worker pool.
type Controller struct {
	cfg Config
	log logx.Logger
	bus eventbus.Bus

	store     Store
	notifier  Notifier
	exec      Executor
	refresher Refresher
	companion Companion
	gate      Gate
	present   Presenter

	pool  *Pool
	quota *QuotaGuard
	queue *Queue
	feed  *positionFeed

	enabled atomic.Bool
	busy    atomic.Int64

	mu       sync.Mutex
	started  bool
	stopping bool
	sup      *rtsup.Supervisor
	stopCh   chan struct{}
	stopDone chan struct{}

	// stopCtx ends idle waits at Stop; runCtx ends in-flight work only
	// when Stop runs out of time.
	stopCtx    context.Context
	stopCancel context.CancelFunc
	runCtx     context.Context
	runCancel  context.CancelFunc

	histMu  sync.Mutex
	history []Record

	counters struct {
		submitted, denied, succeeded, failed, abandoned, limited, refreshes, faults atomic.Uint64
	}
}

func New(cfg Config, deps Deps) (*Controller, error) {
	switch {
	case deps.Store == nil:
		return nil, errors.New("dispatch: store is required")
	case deps.Notifier == nil:
		return nil, errors.New("dispatch: notifier is required")
	case deps.Executor == nil:
		return nil, errors.New("dispatch: executor is required")
	case deps.Presenter == nil:
		return nil, errors.New("dispatch: presenter is required")
	}
	cfg = cfg.withDefaults()
	log := deps.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	bus := deps.Bus
	if bus == nil {
		bus = eventbus.Nop{}
	}

	c := &Controller{
		cfg:       cfg,
		log:       log.With(logx.String("comp", "dispatch")),
		bus:       bus,
		store:     deps.Store,
		notifier:  deps.Notifier,
		exec:      deps.Executor,
		refresher: deps.Refresher,
		companion: deps.Companion,
		gate:      deps.Gate,
		present:   deps.Presenter,
		pool:      NewPool(),
		quota:     NewQuotaGuard(deps.Store, cfg.SuperAdminID, cfg.DailyLimit, cfg.Now),
	}
	c.feed = newPositionFeed(c)
	c.queue = NewQueue(c.feed.moved)
	c.enabled.Store(true)
	c.runCtx, c.runCancel = context.WithCancel(context.Background())
	c.stopCtx, c.stopCancel = context.WithCancel(context.Background())
	return c, nil
}

func (c *Controller) Pool() *Pool { return c.pool }
func (c *Controller) Quota() *QuotaGuard { return c.quota }
func (c *Controller) Queue() *Queue { return c.queue }
func (c *Controller) Config() Config { return c.cfg }
func (c *Controller) Enabled() bool { return c.enabled.Load() }
func (c *Controller) IsSuperAdmin(u int64) bool { return c.quota.IsSuperAdmin(u) }

// Restore loads persisted runtime state: credentials, the maintenance
// switch and a daily limit override.
func (c *Controller) Restore(ctx context.Context) error {
	if err := c.LoadCredentials(ctx); err != nil {
		return err
	}
	v, err := c.store.GetConfig(ctx, storage.KeyBotEnabled, "1")
	if err != nil {
		return fmt.Errorf("load %s: %w", storage.KeyBotEnabled, err)
	}
	c.enabled.Store(v != "0")

	if v, err := c.store.GetConfig(ctx, storage.KeyDailyLimit, ""); err == nil && v != "" {
		if n, perr := strconv.Atoi(v); perr == nil {
			c.quota.SetLimit(n)
		}
	}
	return nil
}

// Start launches the workers and the position feed. It is idempotent.
func (c *Controller) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return nil
	}
	if c.stopping {
		return ErrStopped
	}
	c.started = true
	c.stopCh = make(chan struct{})
	c.stopDone = make(chan struct{})
	c.sup = rtsup.NewSupervisor(ctx,
		rtsup.WithLogger(c.log),
		rtsup.WithCancelOnError(false),
	)

	c.sup.Go0("dispatch.positions", func(sctx context.Context) {
		c.feed.run(mergeDone(sctx, c.stopCtx))
	})
	for i := 1; i <= c.cfg.Workers; i++ {
		c.sup.GoRestart("dispatch.worker."+strconv.Itoa(i), c.workerLoop(i),
			rtsup.WithRestartBackoff(200*time.Millisecond, 5*time.Second),
			rtsup.WithPublishFirstError(true),
		)
	}
	c.log.Info("dispatcher started",
		logx.Int("workers", c.cfg.Workers),
		logx.Int("credentials", c.pool.Len()),
		logx.Int("daily_limit", c.quota.Limit()),
	)
	return nil
}

// Stop refuses new submissions, lets in-flight jobs finish and waits for
// the workers until ctx ends. Jobs still pending stay unprocessed.
func (c *Controller) Stop(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	c.mu.Lock()
	if !c.started {
		c.stopping = true
		c.mu.Unlock()
		return nil
	}
	if c.stopping {
		done := c.stopDone
		c.mu.Unlock()
		select {
		case <-done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	c.stopping = true
	close(c.stopCh)
	sup := c.sup
	done := c.stopDone
	c.mu.Unlock()

	c.stopCancel()
	go func() {
		_ = sup.Wait(context.Background())
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = ctx.Err()
		c.log.Warn("dispatcher stop deadline reached; cancelling in-flight jobs", logx.Int64("busy", c.busy.Load()))
		c.runCancel()
		sup.Cancel()
	}
	if n := c.queue.Len(); n > 0 {
		c.log.Warn("dispatcher stopped with pending jobs", logx.Int("pending", n))
	}
	c.log.Info("dispatcher stopped")
	return err
}

func (c *Controller) isStopping() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopping
}

// Submit runs admission and queues the request. Denials return an
// *AdmissionError; privileged users skip every check.
func (c *Controller) Submit(ctx context.Context, req Request) (*Job, int, error) {
	if c.isStopping() {
		return nil, 0, ErrStopped
	}
	privileged, err := c.quota.IsPrivileged(ctx, req.UserID)
	if err != nil {
		return nil, 0, fmt.Errorf("privilege lookup: %w", err)
	}
	if !privileged {
		if err := c.admit(ctx, req.UserID); err != nil {
			c.counters.denied.Add(1)
			c.bus.Publish(eventbus.Event{Type: eventbus.JobDenied, Data: eventbus.JobEvent{UserID: req.UserID, Target: req.Target, Err: err.Error()}})
			return nil, 0, err
		}
	}

	job := &Job{
		ID:         uuid.NewString(),
		UserID:     req.UserID,
		Target:     req.Target,
		Label:      req.Label,
		Locale:     req.Locale,
		Reply:      req.Reply,
		EnqueuedAt: c.cfg.Now(),
	}
	if job.Label == "" {
		job.Label = job.Target
	}
	if job.Reply.MessageID == 0 {
		ahead := c.queue.Len()
		job.Reply = c.send(job.chat(), c.present.Queued(job, ahead+1, ahead))
	}

	pos := c.queue.Enqueue(job)
	c.counters.submitted.Add(1)
	c.bus.Publish(eventbus.Event{Type: eventbus.JobQueued, Data: eventbus.JobEvent{
		JobID: job.ID, UserID: job.UserID, Target: job.Target,
	}})
	c.log.Info("job queued",
		logx.String("job", job.ID),
		logx.Int64("user_id", job.UserID),
		logx.String("target", job.Target),
		logx.Int("position", pos),
	)
	return job, pos, nil
}

func (c *Controller) admit(ctx context.Context, userID int64) error {
	if !c.Enabled() {
		return &AdmissionError{Reason: DenyMaintenance}
	}
	ok, err := c.quota.CanRequest(ctx, userID)
	if err != nil {
		return fmt.Errorf("quota lookup: %w", err)
	}
	if !ok {
		return &AdmissionError{Reason: DenyQuota}
	}
	if c.gate != nil {
		missing, err := c.gate.Check(ctx, userID)
		if err != nil {
			c.log.Warn("membership check failed", logx.Int64("user_id", userID), logx.Err(err))
			return &AdmissionError{Reason: DenyMembership}
		}
		if len(missing) > 0 {
			return &AdmissionError{Reason: DenyMembership, Missing: missing}
		}
	}
	return nil
}

// SetEnabled flips the maintenance switch and persists it.
func (c *Controller) SetEnabled(ctx context.Context, on bool) error {
	v := "0"
	if on {
		v = "1"
	}
	if err := c.store.SetConfig(ctx, storage.KeyBotEnabled, v); err != nil {
		return err
	}
	c.enabled.Store(on)
	c.log.Info("maintenance switch changed", logx.Bool("enabled", on))
	return nil
}

// SetDailyLimit changes and persists the daily limit.
func (c *Controller) SetDailyLimit(ctx context.Context, n int) error {
	if n < 1 {
		return fmt.Errorf("daily limit must be positive, got %d", n)
	}
	if err := c.store.SetConfig(ctx, storage.KeyDailyLimit, strconv.Itoa(n)); err != nil {
		return err
	}
	c.quota.SetLimit(n)
	return nil
}

func (c *Controller) publish(typ string, rec *Record) {
	c.bus.Publish(eventbus.Event{Type: typ, Data: eventbus.JobEvent{
		JobID:    rec.JobID,
		UserID:   rec.UserID,
		Target:   rec.Target,
		Worker:   rec.Worker,
		Attempts: rec.Attempts,
		Detail:   rec.Detail,
		Err:      rec.Err,
	}})
}

func (c *Controller) finish(rec Record) {
	typ := eventbus.JobFailed
	switch rec.Outcome {
	case OutcomeSuccess:
		c.counters.succeeded.Add(1)
		typ = eventbus.JobSucceeded
	case OutcomeAbandoned:
		c.counters.abandoned.Add(1)
		typ = eventbus.JobAbandoned
	case OutcomeLimited:
		c.counters.limited.Add(1)
	default:
		c.counters.failed.Add(1)
	}
	c.publish(typ, &rec)

	c.histMu.Lock()
	c.history = append(c.history, rec)
	if over := len(c.history) - c.cfg.HistorySize; over > 0 {
		c.history = append(c.history[:0], c.history[over:]...)
	}
	c.histMu.Unlock()
}

// History returns finished jobs, newest last.
func (c *Controller) History() []Record {
	c.histMu.Lock()
	defer c.histMu.Unlock()
	return append([]Record(nil), c.history...)
}

func (c *Controller) Snapshot() Snapshot {
	return Snapshot{
		Workers:     c.cfg.Workers,
		Busy:        c.busy.Load(),
		Queued:      c.queue.Len(),
		Credentials: c.pool.Len(),
		Enabled:     c.Enabled(),
		DailyLimit:  c.quota.Limit(),
		Counters: Counters{
			Submitted: c.counters.submitted.Load(),
			Denied:    c.counters.denied.Load(),
			Succeeded: c.counters.succeeded.Load(),
			Failed:    c.counters.failed.Load(),
			Abandoned: c.counters.abandoned.Load(),
			Limited:   c.counters.limited.Load(),
			Refreshes: c.counters.refreshes.Load(),
			Faults:    c.counters.faults.Load(),
		},
		Recent: c.History(),
	}
}

// SupervisorCounters exposes worker goroutine counters for health output.
func (c *Controller) SupervisorCounters() rtsup.Counters {
	c.mu.Lock()
	sup := c.sup
	c.mu.Unlock()
	if sup == nil {
		return rtsup.Counters{}
	}
	return sup.Counters()
}

func mergeDone(a, b context.Context) context.Context {
	ctx, cancel := context.WithCancel(a)
	stop := context.AfterFunc(b, cancel)
	go func() {
		<-ctx.Done()
		stop()
	}()
	return ctx
}

// ChatOf is a convenience for front-ends building a Request.
func ChatOf(ref transport.MessageRef) transport.ChatTarget {
	return transport.ChatTarget{ChatID: ref.ChatID, ThreadID: ref.ThreadID}
}
