package notifier

import "time"

// Config controls outbound delivery.
type Config struct {
	RatePerSec    int
	Burst         int
	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
	// ParseMode applies to every text this service sends. Empty means HTML.
	ParseMode string
}

func (c Config) withDefaults() Config {
	if c.RatePerSec <= 0 {
		c.RatePerSec = 25
	}
	if c.Burst <= 0 {
		c.Burst = c.RatePerSec
	}
	if c.RetryMax < 0 {
		c.RetryMax = 0
	}
	if c.RetryBase <= 0 {
		c.RetryBase = 500 * time.Millisecond
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = 10 * time.Second
	}
	if c.ParseMode == "" {
		c.ParseMode = "HTML"
	}
	return c
}

type HistoryItem struct {
	At   time.Time
	Op   string
	Text string
	Err  string
}

// Event types published on the bus.
const (
	EventSent   = "notifier.sent"
	EventFailed = "notifier.failed"
)

// NotificationEvent is the Data of notifier bus events.
type NotificationEvent struct {
	Op       string    `json:"op"`
	ChatID   int64     `json:"chat_id"`
	ThreadID int       `json:"thread_id,omitempty"`
	At       time.Time `json:"at"`
	Attempts int       `json:"attempts"`
	Error    string    `json:"error,omitempty"`
}
