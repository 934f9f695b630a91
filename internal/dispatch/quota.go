package dispatch

import (
	"context"
	"sync/atomic"
	"time"

	"restorebot/internal/storage"
)

// QuotaGuard answers per-user daily admission questions. Usage only grows
// through Increment, which the worker calls after a success.
type QuotaGuard struct {
	store      QuotaStore
	superAdmin int64
	limit      atomic.Int64
	now        func() time.Time
}

func NewQuotaGuard(store QuotaStore, superAdmin int64, limit int, now func() time.Time) *QuotaGuard {
	if now == nil {
		now = time.Now
	}
	q := &QuotaGuard{store: store, superAdmin: superAdmin, now: now}
	q.SetLimit(limit)
	return q
}

// Today is the usage key for the server-local calendar day.
func (q *QuotaGuard) Today() string { return storage.Day(q.now()) }

func (q *QuotaGuard) Limit() int { return int(q.limit.Load()) }

// SetLimit changes the daily limit at runtime; values below 1 are ignored.
func (q *QuotaGuard) SetLimit(n int) {
	if n >= 1 {
		q.limit.Store(int64(n))
	}
}

func (q *QuotaGuard) Usage(ctx context.Context, userID int64) (int, error) {
	return q.store.GetUsage(ctx, userID, q.Today())
}

func (q *QuotaGuard) Remaining(ctx context.Context, userID int64) (int, error) {
	used, err := q.Usage(ctx, userID)
	if err != nil {
		return 0, err
	}
	return max(q.Limit()-used, 0), nil
}

// CanRequest reports whether userID may start another job today.
// Privileged users are never limited.
func (q *QuotaGuard) CanRequest(ctx context.Context, userID int64) (bool, error) {
	privileged, err := q.IsPrivileged(ctx, userID)
	if err != nil {
		return false, err
	}
	if privileged {
		return true, nil
	}
	used, err := q.Usage(ctx, userID)
	if err != nil {
		return false, err
	}
	return used < q.Limit(), nil
}

func (q *QuotaGuard) Increment(ctx context.Context, userID int64) error {
	_, err := q.store.IncrementUsage(ctx, userID, q.Today())
	return err
}

func (q *QuotaGuard) Reset(ctx context.Context, userID int64) error {
	return q.store.ResetUsage(ctx, userID, q.Today())
}

func (q *QuotaGuard) IsSuperAdmin(userID int64) bool {
	return q.superAdmin != 0 && userID == q.superAdmin
}

// IsPrivileged is true for the super-admin and for VIP users.
func (q *QuotaGuard) IsPrivileged(ctx context.Context, userID int64) (bool, error) {
	if q.IsSuperAdmin(userID) {
		return true, nil
	}
	return q.store.IsPrivileged(ctx, userID)
}
