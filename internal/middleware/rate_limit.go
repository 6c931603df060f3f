package middleware

import (
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"monitorrunner/internal/config"
	"monitorrunner/internal/metrics"

	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// RateLimitRule defines rate limiting rules for a scenario.
type RateLimitRule struct {
	RPS   int `json:"rps"`
	Burst int `json:"burst"`
}

// RateLimitConfig holds the rate limit rules for the admin/dry-run surface.
type RateLimitConfig struct {
	Global          RateLimitRule            `json:"global"`
	PerEndpoint     map[string]RateLimitRule `json:"per_endpoint"`
	BurstProtection RateLimitRule            `json:"burst_protection"`
}

// MemoryRateLimiter is a per-key token bucket limiter, buckets evicted
// by go-cache an hour after they were created (lookups do not extend it).
type MemoryRateLimiter struct {
	limiters *cache.Cache
	mu       sync.RWMutex
	config   RateLimitConfig
	logger   *logrus.Logger
}

func NewMemoryRateLimiter(cfg *config.Config, logger *logrus.Logger) *MemoryRateLimiter {
	rateLimitConfig := RateLimitConfig{
		Global: RateLimitRule{
			RPS:   cfg.RateLimit.RPS,
			Burst: cfg.RateLimit.Burst,
		},
		PerEndpoint: map[string]RateLimitRule{
			"/monitors/:id/dryrun": {
				RPS:   5, // dry-run is the expensive path, cap it tighter than global
				Burst: 10,
			},
		},
		BurstProtection: RateLimitRule{
			RPS:   cfg.RateLimit.RPS * 5,
			Burst: 1,
		},
	}

	return &MemoryRateLimiter{
		limiters: cache.New(time.Hour, 10*time.Minute),
		config:   rateLimitConfig,
		logger:   logger,
	}
}

func (rl *MemoryRateLimiter) GetLimiter(key string, rule RateLimitRule) *rate.Limiter {
	rl.mu.RLock()
	if limiter, found := rl.limiters.Get(key); found {
		rl.mu.RUnlock()
		return limiter.(*rate.Limiter)
	}
	rl.mu.RUnlock()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	if limiter, found := rl.limiters.Get(key); found {
		return limiter.(*rate.Limiter)
	}

	limiter := rate.NewLimiter(rate.Limit(rule.RPS), rule.Burst)
	rl.limiters.Set(key, limiter, cache.DefaultExpiration)
	return limiter
}

func (rl *MemoryRateLimiter) Allow(key string, rule RateLimitRule) bool {
	return rl.GetLimiter(key, rule).Allow()
}

func (rl *MemoryRateLimiter) AllowN(key string, rule RateLimitRule, n int) bool {
	return rl.GetLimiter(key, rule).AllowN(time.Now(), n)
}

func (rl *MemoryRateLimiter) GetRuleForEndpoint(path string) RateLimitRule {
	if rule, exists := rl.config.PerEndpoint[path]; exists {
		return rule
	}
	return rl.config.Global
}

func (rl *MemoryRateLimiter) GetBurstProtectionRule() RateLimitRule {
	return rl.config.BurstProtection
}

var globalRateLimiter *MemoryRateLimiter

// RateLimit enforces global and per-endpoint request rates keyed by client IP.
func RateLimit(cfg *config.Config, logger *logrus.Logger) gin.HandlerFunc {
	if !cfg.RateLimit.Enabled {
		return func(c *gin.Context) {
			c.Next()
		}
	}

	if globalRateLimiter == nil {
		globalRateLimiter = NewMemoryRateLimiter(cfg, logger)
	}

	return func(c *gin.Context) {
		clientIP := c.ClientIP()
		path := c.FullPath()
		method := c.Request.Method

		rule := globalRateLimiter.GetRuleForEndpoint(path)

		checks := []struct {
			key       string
			rule      RateLimitRule
			limitType string
		}{
			{fmt.Sprintf("global:%s", clientIP), globalRateLimiter.config.Global, "global"},
			{fmt.Sprintf("endpoint:%s:%s:%s", method, path, clientIP), rule, "endpoint"},
		}

		for _, check := range checks {
			if !globalRateLimiter.Allow(check.key, check.rule) {
				c.Header("X-RateLimit-Limit", strconv.Itoa(check.rule.RPS))
				c.Header("X-RateLimit-Remaining", "0")
				c.Header("X-RateLimit-Type", check.limitType)
				c.Header("Retry-After", "60")

				logger.WithFields(logrus.Fields{
					"client_ip":  clientIP,
					"path":       path,
					"method":     method,
					"limit_type": check.limitType,
					"rate_limit": check.rule.RPS,
				}).Warn("rate limit exceeded")

				metrics.RecordRateLimitedRequest(clientIP)

				c.JSON(http.StatusTooManyRequests, gin.H{
					"success": false,
					"error": gin.H{
						"code":        "RATE_LIMITED",
						"message":     fmt.Sprintf("%s rate limit exceeded, please try again later", check.limitType),
						"limit_type":  check.limitType,
						"retry_after": 60,
					},
				})
				c.Abort()
				return
			}
		}

		c.Next()
	}
}

// BurstProtection flags clients issuing requests far faster than the
// configured global rate, ahead of the per-bucket limiter catching up.
func BurstProtection(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if globalRateLimiter == nil {
			c.Next()
			return
		}

		clientIP := c.ClientIP()
		key := fmt.Sprintf("burst:%s", clientIP)
		rule := globalRateLimiter.GetBurstProtectionRule()

		if !globalRateLimiter.AllowN(key, rule, 10) {
			logger.WithFields(logrus.Fields{
				"client_ip": clientIP,
				"path":      c.Request.URL.Path,
			}).Warn("potential burst attack detected")

			c.JSON(http.StatusTooManyRequests, gin.H{
				"success": false,
				"error": gin.H{
					"code":    "BURST_DETECTED",
					"message": "unusual burst activity detected, please wait before retrying",
				},
			})
			c.Abort()
			return
		}

		c.Next()
	}
}
