package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	"restorebot/internal/credential"
	logx "restorebot/pkg/logx"
)

// Store is the persistence API the dispatcher and the chat front-end use.
// Implementations are safe for concurrent use.
type Store interface {
	GetUsage(ctx context.Context, userID int64, day string) (int, error)
	IncrementUsage(ctx context.Context, userID int64, day string) (int, error)
	ResetUsage(ctx context.Context, userID int64, day string) error
	PruneUsage(ctx context.Context, before string) (int64, error)

	IsPrivileged(ctx context.Context, userID int64) (bool, error)
	AddPrivileged(ctx context.Context, userID int64) error
	RemovePrivileged(ctx context.Context, userID int64) (bool, error)
	ListPrivileged(ctx context.Context) ([]PrivilegedUser, error)

	SaveCredential(ctx context.Context, c credential.Credential) (credential.Credential, error)
	ListCredentials(ctx context.Context) ([]credential.Credential, error)
	UpdateCredentialSecret(ctx context.Context, id int64, s credential.Secret) error
	DeleteCredential(ctx context.Context, id int64) (bool, error)

	GetConfig(ctx context.Context, key, def string) (string, error)
	SetConfig(ctx context.Context, key, value string) error

	LogRequest(ctx context.Context, r RequestLog) error
	RecentRequests(ctx context.Context, limit int) ([]RequestLog, error)
	AggregateStats(ctx context.Context) (Stats, error)

	TouchUser(ctx context.Context, userID int64) error
	ListUsers(ctx context.Context) ([]int64, error)

	Close() error
}

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	switch driver := strings.ToLower(strings.TrimSpace(cfg.Driver)); driver {
	case "", "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	case "file", "memory":
		return openFile(cfg, log)
	case "none":
		return nil, ErrDisabled
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}

// Day formats t as a usage-counter key.
func Day(t time.Time) string { return t.Format(DayLayout) }
