// Package quota enforces per-user daily limits on AI inference requests.
package quota

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/org/journalsync/pkg/models"
)

// ErrQuotaExceeded is returned when a user has consumed their daily allowance.
var ErrQuotaExceeded = errors.New("daily inference quota exceeded")

// Tier names as stored on the usage record.
const (
	TierFree = "free"
	TierPaid = "paid"
)

// Store is the counter backend. IncrementQuota must atomically increment the
// day's counter only while it is below limit, reporting whether the increment
// was applied.
type Store interface {
	IncrementQuota(ctx context.Context, userID, day string, limit int) (bool, error)
	QuotaCount(ctx context.Context, userID, day string) (int, error)
}

// Ledger tracks daily inference usage against tiered limits. Days roll over
// at UTC midnight.
type Ledger struct {
	store     Store
	freeLimit int
	paidLimit int
	now       func() time.Time
}

// NewLedger creates a Ledger with the given per-tier daily limits.
func NewLedger(store Store, freeLimit, paidLimit int) *Ledger {
	return &Ledger{store: store, freeLimit: freeLimit, paidLimit: paidLimit, now: time.Now}
}

func (l *Ledger) limit(tier string) int {
	if tier == TierPaid {
		return l.paidLimit
	}
	return l.freeLimit
}

func dayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

func nextMidnight(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC).Add(24 * time.Hour)
}

// CheckAndIncrement consumes one request from today's allowance. It returns
// ErrQuotaExceeded without consuming anything when the user is already at
// their limit. The check and the increment are a single atomic operation so
// concurrent requests cannot overshoot the limit.
func (l *Ledger) CheckAndIncrement(ctx context.Context, userID, tier string) error {
	limit := l.limit(tier)
	// The store's conditional upsert only guards the update arm; a fresh
	// day's row would always be created with count 1, so a non-positive
	// limit has to be rejected before reaching the store.
	if limit <= 0 {
		return ErrQuotaExceeded
	}
	now := l.now()
	ok, err := l.store.IncrementQuota(ctx, userID, dayKey(now), limit)
	if err != nil {
		return fmt.Errorf("incrementing quota: %w", err)
	}
	if !ok {
		return ErrQuotaExceeded
	}
	return nil
}

// Usage reports the user's remaining allowance for the current UTC day. A
// user with no usage record today has their full allowance.
func (l *Ledger) Usage(ctx context.Context, userID, tier string) (models.UsageInfo, error) {
	now := l.now()
	count, err := l.store.QuotaCount(ctx, userID, dayKey(now))
	if err != nil {
		return models.UsageInfo{}, fmt.Errorf("reading quota count: %w", err)
	}
	remaining := l.limit(tier) - count
	if remaining < 0 {
		remaining = 0
	}
	if tier != TierPaid {
		tier = TierFree
	}
	return models.UsageInfo{
		RequestsRemaining: remaining,
		ResetAt:           nextMidnight(now).Format(time.RFC3339),
		Tier:              tier,
	}, nil
}
