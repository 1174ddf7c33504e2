package ratelimiter

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// DailyQuota enforces a per-user daily question limit backed by Redis
// counters. Counters expire at the next local midnight, so the quota
// resets automatically. Users on the exempt list are never limited.
type DailyQuota struct {
	client *redis.Client
	limit  int
	exempt map[string]struct{}
}

// NewDailyQuota creates a DailyQuota. exemptUserIDs are typically the
// operators' accounts.
func NewDailyQuota(client *redis.Client, limit int, exemptUserIDs []string) *DailyQuota {
	exempt := make(map[string]struct{}, len(exemptUserIDs))
	for _, id := range exemptUserIDs {
		exempt[id] = struct{}{}
	}
	return &DailyQuota{client: client, limit: limit, exempt: exempt}
}

func (q *DailyQuota) key(userID string, now time.Time) string {
	return fmt.Sprintf("quota:%s:%s", userID, now.Format("2006-01-02"))
}

// Allow increments the user's daily counter and reports whether the
// request is within quota, along with the remaining allowance.
func (q *DailyQuota) Allow(ctx context.Context, userID string) (bool, int, error) {
	if _, ok := q.exempt[userID]; ok {
		return true, q.limit, nil
	}

	now := time.Now()
	key := q.key(userID, now)

	count, err := q.client.Incr(ctx, key).Result()
	if err != nil {
		return false, 0, fmt.Errorf("failed to increment quota counter: %w", err)
	}
	if count == 1 {
		midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location()).AddDate(0, 0, 1)
		q.client.ExpireAt(ctx, key, midnight)
	}

	remaining := q.limit - int(count)
	if remaining < 0 {
		remaining = 0
	}
	return int(count) <= q.limit, remaining, nil
}
