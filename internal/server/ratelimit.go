package server

import (
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RateLimitConfig tunes the per-user token bucket applied to scan routes.
type RateLimitConfig struct {
	Enabled        bool
	Capacity       int
	RefillTokens   int
	RefillInterval time.Duration
}

// tokenBucketScript refills and takes one token atomically. State lives in a
// redis hash per user so scanning bursts are bounded across backend replicas.
var tokenBucketScript = redis.NewScript(`
	local key = KEYS[1]
	local now_ms = tonumber(ARGV[1])
	local capacity = tonumber(ARGV[2])
	local refill_tokens = tonumber(ARGV[3])
	local interval_ms = tonumber(ARGV[4])
	local ttl_seconds = tonumber(ARGV[5])

	local state = redis.call('HMGET', key, 'tokens', 'last_refill_ms')
	local tokens = tonumber(state[1])
	local last_refill = tonumber(state[2])

	if tokens == nil or last_refill == nil then
		tokens = capacity
		last_refill = now_ms
	end

	if interval_ms > 0 and refill_tokens > 0 then
		local elapsed = math.max(0, now_ms - last_refill)
		local intervals = math.floor(elapsed / interval_ms)
		if intervals > 0 then
			tokens = math.min(capacity, tokens + (intervals * refill_tokens))
			last_refill = last_refill + (intervals * interval_ms)
		end
	end

	local allowed = 0
	local retry_after_ms = 0
	if tokens > 0 then
		allowed = 1
		tokens = tokens - 1
	else
		local until_next = interval_ms - (now_ms - last_refill)
		if until_next < 0 then until_next = 0 end
		retry_after_ms = until_next
	end

	redis.call('HMSET', key, 'tokens', tokens, 'last_refill_ms', last_refill)
	redis.call('EXPIRE', key, ttl_seconds)

	return { allowed, tokens, retry_after_ms }
`)

// rateLimitMiddleware limits scan-path requests per authenticated user. It
// fails open: when redis is unavailable the request proceeds and the failure
// is logged, since losing scans is worse than losing the limit.
func rateLimitMiddleware(cfg RateLimitConfig, client *redis.Client, logger *zap.Logger) gin.HandlerFunc {
	if !cfg.Enabled || client == nil {
		return func(c *gin.Context) { c.Next() }
	}

	ttlSeconds := int64(math.Ceil(cfg.RefillInterval.Seconds() * float64(cfg.Capacity)))
	if ttlSeconds < 60 {
		ttlSeconds = 60
	}

	return func(c *gin.Context) {
		subject := "anon"
		if value, exists := c.Get(userIDContextKey); exists {
			if userID, ok := value.(string); ok && userID != "" {
				subject = userID
			}
		}
		key := "ratelimit:scan:" + subject

		args := []interface{}{
			time.Now().UnixMilli(),
			cfg.Capacity,
			cfg.RefillTokens,
			cfg.RefillInterval.Milliseconds(),
			ttlSeconds,
		}

		values, err := tokenBucketScript.Run(c.Request.Context(), client, []string{key}, args...).Result()
		if err != nil {
			logger.Warn("rate limit check failed", zap.String("key", key), zap.Error(err))
			c.Next()
			return
		}

		arr, ok := values.([]interface{})
		if !ok || len(arr) != 3 {
			logger.Warn("unexpected rate limit script result", zap.String("key", key))
			c.Next()
			return
		}
		allowed := scriptInt(arr[0]) == 1
		remaining := scriptInt(arr[1])
		retryMs := scriptInt(arr[2])

		c.Writer.Header().Set("X-RateLimit-Limit", strconv.Itoa(cfg.Capacity))
		c.Writer.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))

		if !allowed {
			retrySeconds := int(math.Ceil(float64(retryMs) / 1000.0))
			if retrySeconds < 0 {
				retrySeconds = 0
			}
			c.Writer.Header().Set("Retry-After", strconv.Itoa(retrySeconds))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "too_many_requests",
				"retry_after": retrySeconds,
			})
			return
		}
		c.Next()
	}
}

func scriptInt(value interface{}) int64 {
	switch typed := value.(type) {
	case int64:
		return typed
	case int:
		return int64(typed)
	case float64:
		return int64(typed)
	case string:
		if parsed, err := strconv.ParseInt(typed, 10, 64); err == nil {
			return parsed
		}
	}
	return 0
}
