package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/JakeFAU/risk-screener/internal/metrics"
	"github.com/JakeFAU/risk-screener/internal/screening"
)

// admitScript prunes, checks and records atomically on the Redis side. Scores
// are unix milliseconds. Returns {1, 0} on admit or {0, oldestScore} on reject.
var admitScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local count = redis.call('ZCARD', key)
if count >= limit then
  local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
  return {0, tonumber(oldest[2])}
end
redis.call('ZADD', key, now, ARGV[4])
redis.call('PEXPIRE', key, window)
return {1, 0}
`)

// RedisLimiter shares sliding windows across replicas through a Redis sorted set per client.
type RedisLimiter struct {
	client    redis.UniversalClient
	cfg       Config
	keyPrefix string
	clock     screening.Clock
	logger    *zap.Logger
}

// NewRedis creates a RedisLimiter.
func NewRedis(client redis.UniversalClient, cfg Config, keyPrefix string, opts ...Option) *RedisLimiter {
	// Reuse the in-memory options for clock and logger.
	base := New(cfg, opts...)
	if keyPrefix == "" {
		keyPrefix = "ratelimit:"
	}
	return &RedisLimiter{
		client:    client,
		cfg:       base.cfg,
		keyPrefix: keyPrefix,
		clock:     base.clock,
		logger:    base.logger,
	}
}

// Limit returns the per-window quota.
func (l *RedisLimiter) Limit() int {
	return l.cfg.MaxCalls
}

// Admit records a call for clientID, or returns a *screening.RateLimitExceededError.
func (l *RedisLimiter) Admit(ctx context.Context, clientID string) error {
	if clientID == "" {
		return errors.New("client id is required")
	}
	now := l.clock.Now()
	nowMs := now.UnixMilli()
	windowMs := l.cfg.Window.Milliseconds()

	res, err := admitScript.Run(ctx, l.client, []string{l.key(clientID)},
		nowMs, windowMs, l.cfg.MaxCalls, uuid.NewString()).Int64Slice()
	if err != nil {
		return fmt.Errorf("redis admit: %w", err)
	}
	admitted, retryAfter, err := decodeAdmitReply(res, now, l.cfg.Window)
	if err != nil {
		return err
	}
	if admitted {
		return nil
	}

	metrics.ObserveRateLimitRejection()
	l.logger.Info("rate limit exceeded",
		zap.String("client_id", clientID),
		zap.Int("limit", l.cfg.MaxCalls),
		zap.Duration("retry_after", retryAfter),
	)
	return &screening.RateLimitExceededError{
		ClientID:   clientID,
		Limit:      l.cfg.MaxCalls,
		RetryAfter: retryAfter,
	}
}

// decodeAdmitReply interprets the script's {admitted, oldestScore} reply.
// retryAfter is when the oldest live entry leaves the window, never negative.
func decodeAdmitReply(res []int64, now time.Time, window time.Duration) (bool, time.Duration, error) {
	if len(res) != 2 {
		return false, 0, fmt.Errorf("redis admit: unexpected reply %v", res)
	}
	if res[0] == 1 {
		return true, 0, nil
	}
	retryAfter := time.UnixMilli(res[1]).Add(window).Sub(now)
	return false, max(0, retryAfter), nil
}

// Remaining counts live entries without recording a call.
func (l *RedisLimiter) Remaining(ctx context.Context, clientID string) (int, error) {
	cutoff := l.clock.Now().Add(-l.cfg.Window).UnixMilli()
	count, err := l.client.ZCount(ctx, l.key(clientID), "("+strconv.FormatInt(cutoff, 10), "+inf").Result()
	if err != nil {
		return 0, fmt.Errorf("redis remaining: %w", err)
	}
	return max(0, l.cfg.MaxCalls-int(count)), nil
}

func (l *RedisLimiter) key(clientID string) string {
	return l.keyPrefix + clientID
}

var _ screening.RateLimiter = (*RedisLimiter)(nil)
