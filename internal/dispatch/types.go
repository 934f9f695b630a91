package dispatch

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"restorebot/internal/credential"
	"restorebot/internal/storage"
	"restorebot/internal/transport"
)

// Request is what the chat front-end hands to Submit.
type Request struct {
	UserID int64
	Target string // external account id
	Label  string // display name shown to the user
	Locale string // client language tag; carried, not interpreted
	// Reply is the status message the job edits. A zero MessageID makes
	// Submit send a fresh status message into Reply.ChatID.
	Reply transport.MessageRef
}

// Job is one admitted unit of work. Fields are immutable after Submit.
type Job struct {
	ID         string
	UserID     int64
	Target     string
	Label      string
	Locale     string
	Reply      transport.MessageRef
	EnqueuedAt time.Time

	// msg guards the hand-over of the status message from the position
	// feed to the worker. It is never held across a notifier call.
	msg      sync.Mutex
	feedEdit chan struct{} // closed when the feed's in-flight edit ends
	dequeued atomic.Bool
}

func (j *Job) chat() transport.ChatTarget {
	return transport.ChatTarget{ChatID: j.Reply.ChatID, ThreadID: j.Reply.ThreadID}
}

type Outcome string

const (
	OutcomeSuccess   Outcome = "success"
	OutcomeFailure   Outcome = "failure"
	OutcomeAbandoned Outcome = "abandoned"
	OutcomeLimited   Outcome = "limited"
)

// Record is the history entry of a finished job.
type Record struct {
	JobID      string    `json:"job_id"`
	UserID     int64     `json:"user_id"`
	Target     string    `json:"target"`
	Worker     int       `json:"worker"`
	Outcome    Outcome   `json:"outcome"`
	Attempts   int       `json:"attempts"`
	Detail     string    `json:"detail,omitempty"`
	Err        string    `json:"err,omitempty"`
	EnqueuedAt time.Time `json:"enqueued_at"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// Progress receives human-readable step lines from long operations.
type Progress func(line string)

// Executor performs the external restore. It returns a short detail on
// success (e.g. an expiry date), an error wrapping credential.ErrExpired
// when the credential was rejected, or any other error for a failure.
type Executor interface {
	Run(ctx context.Context, target string, cred credential.Credential, progress Progress) (string, error)
}

// Refresher re-derives secret material for one credential.
type Refresher interface {
	Refresh(ctx context.Context, cred credential.Credential) (credential.Secret, error)
}

// Resource is what a Companion action produced.
type Resource struct {
	ID   string
	Link string
}

// Companion is the best-effort secondary action run after a success.
type Companion interface {
	Provision(ctx context.Context, progress Progress) (Resource, error)
}

// Gate is an optional admission prerequisite such as channel membership.
// It returns the ids of unmet requirements.
type Gate interface {
	Check(ctx context.Context, userID int64) ([]string, error)
}

// Notifier delivers user-visible updates. Every error it returns is
// logged and dropped by the engine.
type Notifier interface {
	SendStatus(ctx context.Context, to transport.ChatTarget, text string) (transport.MessageRef, error)
	EditStatus(ctx context.Context, ref transport.MessageRef, text string) error
	SendFinal(ctx context.Context, to transport.ChatTarget, text, photo string) error
	Delete(ctx context.Context, ref transport.MessageRef) error
}

// Presenter renders the texts the engine sends.
type Presenter interface {
	Queued(j *Job, position, ahead int) string
	QueueAlmost(j *Job) string
	LimitReached(j *Job) string
	Running(j *Job, lines []string) string
	Succeeded(j *Job, detail string, res *Resource, resErr error) string
	Failed(j *Job, reason string) string
}

// QuotaStore is the slice of storage QuotaGuard needs.
type QuotaStore interface {
	GetUsage(ctx context.Context, userID int64, day string) (int, error)
	IncrementUsage(ctx context.Context, userID int64, day string) (int, error)
	ResetUsage(ctx context.Context, userID int64, day string) error
	IsPrivileged(ctx context.Context, userID int64) (bool, error)
}

// Store is the slice of storage the Controller needs.
type Store interface {
	QuotaStore
	GetConfig(ctx context.Context, key, def string) (string, error)
	SetConfig(ctx context.Context, key, value string) error
	LogRequest(ctx context.Context, r storage.RequestLog) error
	SaveCredential(ctx context.Context, c credential.Credential) (credential.Credential, error)
	ListCredentials(ctx context.Context) ([]credential.Credential, error)
	UpdateCredentialSecret(ctx context.Context, id int64, s credential.Secret) error
	DeleteCredential(ctx context.Context, id int64) (bool, error)
}

// Config tunes the engine. Zero values pick the defaults noted per field.
type Config struct {
	Workers      int   // 3
	SuperAdminID int64 // exclusive rights over credentials; bypasses quota
	DailyLimit   int   // 5

	// AlmostThreshold is the ahead-count that triggers the "almost your
	// turn" notice. 0 means 2; negative disables it.
	AlmostThreshold int

	ExecTimeout      time.Duration // 3m, per executor attempt
	RefreshTimeout   time.Duration // 1m, per RefreshAll
	CompanionTimeout time.Duration // 30s
	NotifyTimeout    time.Duration // 10s, per notifier call

	ProgressLines    int           // 10
	ProgressInterval time.Duration // 1.5s between status edits

	// SettleDelay is the pause between success and the final message.
	// 0 means 2s; negative means none.
	SettleDelay time.Duration

	DonatePhoto string // fallback photo for the final message
	HistorySize int    // 50

	Now func() time.Time
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 3
	}
	if c.DailyLimit <= 0 {
		c.DailyLimit = 5
	}
	if c.AlmostThreshold == 0 {
		c.AlmostThreshold = 2
	}
	if c.ExecTimeout <= 0 {
		c.ExecTimeout = 3 * time.Minute
	}
	if c.RefreshTimeout <= 0 {
		c.RefreshTimeout = time.Minute
	}
	if c.CompanionTimeout <= 0 {
		c.CompanionTimeout = 30 * time.Second
	}
	if c.NotifyTimeout <= 0 {
		c.NotifyTimeout = 10 * time.Second
	}
	if c.ProgressLines <= 0 {
		c.ProgressLines = 10
	}
	if c.ProgressInterval <= 0 {
		c.ProgressInterval = 1500 * time.Millisecond
	}
	if c.SettleDelay == 0 {
		c.SettleDelay = 2 * time.Second
	}
	if c.HistorySize <= 0 {
		c.HistorySize = 50
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// Snapshot is a point-in-time view for health and stats output.
type Snapshot struct {
	Workers     int      `json:"workers"`
	Busy        int64    `json:"busy"`
	Queued      int      `json:"queued"`
	Credentials int      `json:"credentials"`
	Enabled     bool     `json:"enabled"`
	DailyLimit  int      `json:"daily_limit"`
	Counters    Counters `json:"counters"`
	Recent      []Record `json:"recent,omitempty"`
}

type Counters struct {
	Submitted uint64 `json:"submitted"`
	Denied    uint64 `json:"denied"`
	Succeeded uint64 `json:"succeeded"`
	Failed    uint64 `json:"failed"`
	Abandoned uint64 `json:"abandoned"`
	Limited   uint64 `json:"limited"`
	Refreshes uint64 `json:"refreshes"`
	Faults    uint64 `json:"faults"`
}
