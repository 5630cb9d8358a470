package redisstore

import (
	"context"
	"strconv"
	"time"
)

// RateLimiter is a fixed window counter per user. A limit <= 0 allows everything.
type RateLimiter struct {
	s      *Store
	limit  int64
	window time.Duration
}

func (s *Store) NewRateLimiter(limit int64, window time.Duration) *RateLimiter {
	if window <= 0 {
		window = time.Minute
	}
	return &RateLimiter{s: s, limit: limit, window: window}
}

func rateKey(userID uint64) string {
	return "rl:chat:" + strconv.FormatUint(userID, 10)
}

func (l *RateLimiter) Allow(ctx context.Context, userID uint64) (bool, error) {
	if l.limit <= 0 {
		return true, nil
	}
	k := rateKey(userID)
	pipe := l.s.rdb.TxPipeline()
	incr := pipe.Incr(ctx, k)
	// the window starts with the first hit and is not extended
	pipe.ExpireNX(ctx, k, l.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, err
	}
	return incr.Val() <= l.limit, nil
}
