// Package ratelimit gates web-search augmentation behind a per-user daily
// quota held in the record store. The policy is fail-open: if the store is
// unreachable the caller lets the search through rather than failing the
// whole chat request. That mapping is applied once, at FailOpen, never at
// individual call sites.
package ratelimit

import (
	"context"
	"encoding/json"
	"time"

	"vaultchat/internal/logger"
	"vaultchat/internal/store"
)

const usageField = "web_search_usage"

// Status is the outcome of a quota check. NeedsReset means the stored
// counter belongs to a previous day and must be reset before incrementing.
type Status struct {
	IsRateLimited bool
	NeedsReset    bool
	CurrentCount  int
}

// Limiter tracks per-user daily web-search usage.
type Limiter struct {
	store store.Store
	limit int
	now   func() time.Time
}

// NewLimiter creates a Limiter with the given daily quota.
func NewLimiter(s store.Store, limit int) *Limiter {
	return &Limiter{store: s, limit: limit, now: time.Now}
}

// NewLimiterAt is NewLimiter with an injectable clock, for tests.
func NewLimiterAt(s store.Store, limit int, now func() time.Time) *Limiter {
	return &Limiter{store: s, limit: limit, now: now}
}

func (l *Limiter) today() string {
	return l.now().UTC().Format("2006-01-02")
}

// Check reads the user's usage counter. A user with no counter is
// initialized to zero for today and reported as not limited.
func (l *Limiter) Check(ctx context.Context, userID string) (Status, error) {
	records, err := l.store.Find(ctx, store.CollectionUsers, store.Filter{"_id": userID})
	if err != nil {
		return Status{}, err
	}
	if len(records) == 0 {
		return Status{}, nil
	}

	var user store.User
	if err := fromUserRecord(records[0], &user); err != nil {
		return Status{}, err
	}

	if user.WebSearchUsage == nil {
		if err := l.Reset(ctx, userID); err != nil {
			return Status{}, err
		}
		return Status{}, nil
	}

	usage := user.WebSearchUsage
	if usage.Date != l.today() {
		return Status{NeedsReset: true, CurrentCount: usage.Counter}, nil
	}
	if usage.Counter >= l.limit {
		return Status{IsRateLimited: true, CurrentCount: usage.Counter}, nil
	}
	return Status{CurrentCount: usage.Counter}, nil
}

// Reset unconditionally sets the counter to zero for today.
func (l *Limiter) Reset(ctx context.Context, userID string) error {
	patch := store.Patch{usageField: store.WebSearchUsage{Date: l.today(), Counter: 0}}
	return l.store.Update(ctx, store.CollectionUsers, store.Filter{"_id": userID}, patch, store.OpSet)
}

// Increment charges one search against the quota. A stale or missing prior
// counter is replaced with {today, 1}; otherwise the store's atomic increment
// resolves races between concurrent requests.
func (l *Limiter) Increment(ctx context.Context, userID string, prior Status) error {
	if prior.NeedsReset {
		patch := store.Patch{usageField: store.WebSearchUsage{Date: l.today(), Counter: 1}}
		return l.store.Update(ctx, store.CollectionUsers, store.Filter{"_id": userID}, patch, store.OpSet)
	}

	patch := store.Patch{usageField + ".counter": 1}
	return l.store.Update(ctx, store.CollectionUsers, store.Filter{"_id": userID}, patch, store.OpInc)
}

// FailOpen maps a check error to the permissive zero Status. Availability
// over strictness: a broken quota store must not take chat down with it.
func FailOpen(status Status, err error) Status {
	if err != nil {
		logger.Log.WithError(err).Warn("Web-search quota check failed, allowing request")
		return Status{}
	}
	return status
}

func fromUserRecord(r store.Record, user *store.User) error {
	data, err := json.Marshal(r)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, user)
}
