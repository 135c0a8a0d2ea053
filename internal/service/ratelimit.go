package service

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var ErrTooManyAttempts = E(KindForbidden, "too many attempts, please try again later")

// RateLimiter throttles the abuse-prone endpoints (game creation, invitation
// joins, organizer link recovery) per client IP using redis counters.
type RateLimiter struct {
	redis *redis.Client
}

func NewRateLimiter(redis *redis.Client) *RateLimiter {
	return &RateLimiter{
		redis: redis,
	}
}

func (r *RateLimiter) CheckCreate(ctx context.Context, ip string) error {
	key := fmt.Sprintf("create_attempts:%s", ip)

	count, err := r.redis.Incr(ctx, key).Result()
	if err != nil {
		return err
	}

	if count == 1 {
		r.redis.Expire(ctx, key, 1*time.Hour)
	}

	if count > 10 {
		return ErrTooManyAttempts
	}

	return nil
}

func (r *RateLimiter) CheckJoin(ctx context.Context, ip string) error {
	key := fmt.Sprintf("join_attempts:%s", ip)

	count, err := r.redis.Incr(ctx, key).Result()
	if err != nil {
		return err
	}

	if count == 1 {
		r.redis.Expire(ctx, key, 15*time.Minute)
	}

	if count > 20 {
		return ErrTooManyAttempts
	}

	return nil
}

func (r *RateLimiter) CheckRecover(ctx context.Context, ip string) error {
	key := fmt.Sprintf("recover_attempts:%s", ip)

	count, err := r.redis.Incr(ctx, key).Result()
	if err != nil {
		return err
	}

	if count == 1 {
		r.redis.Expire(ctx, key, 1*time.Hour)
	}

	if count > 5 {
		return ErrTooManyAttempts
	}

	return nil
}

func (r *RateLimiter) ResetAttempts(ctx context.Context, ip, operation string) error {
	key := fmt.Sprintf("%s_attempts:%s", operation, ip)
	return r.redis.Del(ctx, key).Err()
}
