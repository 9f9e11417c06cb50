package llm

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RateLimiter throttles provider calls proactively using Redis counters, so
// parallel runner workers share one budget.
type RateLimiter struct {
	redis    *redis.Client
	logger   *slog.Logger
	rpmLimit int64
	tpmLimit int64
	rpdLimit int64
}

// Conservative defaults sized for a shared research deployment.
const (
	DefaultRPM = 500
	DefaultTPM = 450_000
	DefaultRPD = 10_000
)

// NewRateLimiter builds a limiter over an existing Redis client.
func NewRateLimiter(client *redis.Client) *RateLimiter {
	return &RateLimiter{
		redis:    client,
		logger:   slog.Default().With("component", "llm-ratelimit"),
		rpmLimit: DefaultRPM,
		tpmLimit: DefaultTPM,
		rpdLimit: DefaultRPD,
	}
}

// checkScript increments all three counters atomically and reports which
// threshold, if any, was crossed. Check and increment must be one round trip
// or parallel workers race past the limit.
var checkScript = redis.NewScript(`
	local rpm_key = KEYS[1]
	local tpm_key = KEYS[2]
	local rpd_key = KEYS[3]
	local rpm_limit = tonumber(ARGV[1])
	local tpm_limit = tonumber(ARGV[2])
	local rpd_limit = tonumber(ARGV[3])
	local tokens = tonumber(ARGV[4])

	local rpm = redis.call('INCR', rpm_key)
	local tpm = redis.call('INCRBY', tpm_key, tokens)
	local rpd = redis.call('INCR', rpd_key)

	if rpm == 1 then redis.call('EXPIRE', rpm_key, 70) end
	if tpm == tokens then redis.call('EXPIRE', tpm_key, 70) end
	if rpd == 1 then redis.call('EXPIRE', rpd_key, 86400) end

	if rpm >= rpm_limit * 0.9 then
		return {-1, 'RPM', rpm, rpm_limit}
	end
	if tpm >= tpm_limit * 0.9 then
		return {-2, 'TPM', tpm, tpm_limit}
	end
	if rpd >= rpd_limit then
		return {-3, 'RPD', rpd, rpd_limit}
	end

	return {0, 'OK', rpm, tpm, rpd}
`)

// CheckAndIncrement increments the counters and returns an error naming the
// wait when a threshold is crossed.
func (r *RateLimiter) CheckAndIncrement(ctx context.Context, estimatedTokens int64) error {
	now := time.Now()
	minuteKey := fmt.Sprintf("llm:rpm:%s", now.Format("2006-01-02T15:04"))
	tpmKey := fmt.Sprintf("llm:tpm:%s", now.Format("2006-01-02T15:04"))
	dayKey := fmt.Sprintf("llm:rpd:%s", now.Format("2006-01-02"))

	result, err := checkScript.Run(ctx, r.redis,
		[]string{minuteKey, tpmKey, dayKey},
		r.rpmLimit, r.tpmLimit, r.rpdLimit, estimatedTokens).Result()
	if err != nil {
		return fmt.Errorf("rate limiter redis operation failed: %w", err)
	}

	resultSlice, ok := result.([]interface{})
	if !ok || len(resultSlice) < 2 {
		return fmt.Errorf("invalid rate limiter response format")
	}

	code := resultSlice[0].(int64)
	if code >= 0 {
		return nil
	}

	limitType := resultSlice[1].(string)
	current := resultSlice[2].(int64)
	limit := resultSlice[3].(int64)

	if code == -3 {
		tomorrow := now.Add(24 * time.Hour)
		midnight := time.Date(tomorrow.Year(), tomorrow.Month(), tomorrow.Day(), 0, 0, 0, 0, tomorrow.Location())
		waitTime := int(midnight.Sub(now).Seconds())
		return fmt.Errorf("daily quota exceeded: %d/%d requests (resets in %ds)", current, limit, waitTime)
	}

	waitTime := 60 - now.Second()
	if waitTime <= 0 {
		waitTime = 1
	}
	return fmt.Errorf("approaching %s limit (%d/%d), wait %ds", limitType, current, limit, waitTime)
}

// CheckAndIncrementWithRetry blocks until the window resets, respecting
// context cancellation. Daily quota errors return immediately.
func (r *RateLimiter) CheckAndIncrementWithRetry(ctx context.Context, estimatedTokens int64) error {
	for {
		err := r.CheckAndIncrement(ctx, estimatedTokens)
		if err == nil {
			return nil
		}
		if strings.Contains(err.Error(), "daily quota exceeded") {
			return err
		}
		if strings.Contains(err.Error(), "wait") {
			waitTime := extractWaitTime(err.Error())
			r.logger.Warn("rate limit approaching, throttling", "wait_seconds", waitTime)
			select {
			case <-time.After(time.Duration(waitTime) * time.Second):
				continue
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return err
	}
}

var waitPattern = regexp.MustCompile(`wait (\d+)s`)

func extractWaitTime(errMsg string) int {
	matches := waitPattern.FindStringSubmatch(errMsg)
	if len(matches) > 1 {
		if waitTime, err := strconv.Atoi(matches[1]); err == nil && waitTime > 0 {
			return waitTime
		}
	}
	return 60
}
