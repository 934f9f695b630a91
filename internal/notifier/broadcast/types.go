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

var (
	ErrNotRunning = errors.New("broadcast: not running")
	ErrQueueFull  = errors.New("broadcast: queue full")
	ErrNoTargets  = errors.New("broadcast: no targets")
)

type Config struct {
	Workers    int // 4
	RatePerSec int // 20
	QueueSize  int // 8
	// ProgressEvery reports progress after every N targets; 0 means 25.
	ProgressEvery int
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.RatePerSec <= 0 {
		c.RatePerSec = 20
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 8
	}
	if c.ProgressEvery <= 0 {
		c.ProgressEvery = 25
	}
	return c
}

// Sender delivers one message. notifier.Service satisfies it.
type Sender interface {
	Send(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error)
}

// ProgressFunc observes a running job. It is called from one goroutine
// at a time, after every ProgressEvery targets and once at the end.
type ProgressFunc func(JobStatus)

type job struct {
	id       string
	name     string
	targets  []int64
	text     string
	opt      *kit.SendOptions
	progress ProgressFunc
}

type JobStatus struct {
	ID    string
	Name  string
	Total int
	Done  int
	// Failed includes Blocked.
	Failed    int
	Blocked   int
	CreatedAt time.Time
	StartedAt time.Time
	DoneAt    time.Time
	Running   bool
}

// Finished reports whether every target has been attempted or the job
// was abandoned.
func (s JobStatus) Finished() bool { return !s.DoneAt.IsZero() }

type Service struct {
	mu sync.Mutex

	cfg    Config
	sender Sender
	log    logx.Logger

	limiter *rate.Limiter
	queue   chan job
	stopCh  chan struct{}
	// stopDone is non-nil while Stop is in progress.
	stopDone  chan struct{}
	runCtx    context.Context
	runCancel context.CancelFunc
	runnerWG  sync.WaitGroup

	statusMu  sync.RWMutex
	status    map[string]*JobStatus
	statusMax int
	statusTTL time.Duration
}
