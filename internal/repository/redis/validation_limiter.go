package redis

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/kisman271128/salesman-dashboard/internal/client"
	"github.com/kisman271128/salesman-dashboard/internal/config"
	"github.com/kisman271128/salesman-dashboard/internal/util"
)

const (
	attemptPrefix = "device_attempts:"
	lockPrefix    = "device_lock:"
)

// ValidationLimiter throttles device validation attempts per user. It is
// best effort: when Redis is down every check passes, because an
// infrastructure fault must never hard-block a login (same fail-open policy
// as the decision engine itself).
type ValidationLimiter struct {
	client *client.RedisClient
	cfg    config.DeviceConfig
}

func NewValidationLimiter(redisClient *client.RedisClient, cfg config.DeviceConfig) *ValidationLimiter {
	return &ValidationLimiter{client: redisClient, cfg: cfg}
}

// Allow records one attempt and reports whether the user may proceed.
func (l *ValidationLimiter) Allow(ctx context.Context, userID string) bool {
	if l.client == nil {
		return true
	}

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	locked, err := l.client.Exists(ctx, lockPrefix+userID)
	if err != nil {
		util.Warn("Rate limiter unavailable, allowing attempt",
			zap.String("user_id", userID),
			zap.Error(err))
		return true
	}
	if locked {
		return false
	}

	count, err := l.client.IncrWithExpire(ctx, attemptPrefix+userID, l.cfg.RateLimitWindow)
	if err != nil {
		util.Warn("Rate limiter unavailable, allowing attempt",
			zap.String("user_id", userID),
			zap.Error(err))
		return true
	}

	if count > int64(l.cfg.RateLimitMax) {
		if err := l.client.Set(ctx, lockPrefix+userID, "1", l.cfg.RateLimitLock); err != nil {
			util.Warn("Failed to set validation lock", zap.String("user_id", userID), zap.Error(err))
		}
		util.Info("User temporarily locked out of device validation",
			zap.String("user_id", userID),
			zap.Int("attempts", int(count)),
			zap.Duration("lock", l.cfg.RateLimitLock))
		return false
	}

	return true
}

// Reset clears the attempt counter and any lock, e.g. after an admin
// device reset.
func (l *ValidationLimiter) Reset(ctx context.Context, userID string) {
	if l.client == nil {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := l.client.Del(ctx, attemptPrefix+userID, lockPrefix+userID); err != nil &&
		!errors.Is(err, client.ErrKeyNotFound) {
		util.Warn("Failed to reset validation limiter", zap.String("user_id", userID), zap.Error(err))
	}
}
