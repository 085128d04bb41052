package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"golang.org/x/time/rate"

	"github.com/medcert/medcert/internal/platform/auth"
)

// RateLimitConfig holds issuance rate limiting configuration. The limiter is
// keyed by clinician identity, not by IP: the goal is bounding the blast
// radius of a misbehaving or compromised clinician account, not general
// traffic shaping.
type RateLimitConfig struct {
	RequestsPerMinute float64
	BurstSize         int
}

// DefaultRateLimitConfig returns default issuance throttle settings.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerMinute: 30,
		BurstSize:         10,
	}
}

// limiterStore holds one token bucket per clinician.
type limiterStore struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
}

func newLimiterStore(cfg RateLimitConfig) *limiterStore {
	return &limiterStore{
		limiters: make(map[string]*rate.Limiter),
		limit:    rate.Limit(cfg.RequestsPerMinute / 60.0),
		burst:    cfg.BurstSize,
	}
}

func (s *limiterStore) get(key string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.limiters[key]
	if !ok {
		l = rate.NewLimiter(s.limit, s.burst)
		s.limiters[key] = l
	}
	return l
}

// IssuanceRateLimit throttles issuance-triggering actions per clinician.
// Exceeding the limit yields 429 without touching any workflow state.
// Unauthenticated requests fall back to the remote IP as the key; the auth
// middleware in front of issuance routes makes that a dev-only path.
func IssuanceRateLimit(cfg RateLimitConfig) echo.MiddlewareFunc {
	store := newLimiterStore(cfg)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key := auth.ActorIDFromContext(c.Request().Context())
			if key == "" {
				key = c.RealIP()
			}

			if !store.get(key).Allow() {
				c.Response().Header().Set("Retry-After", strconv.Itoa(int(time.Minute.Seconds())))
				return echo.NewHTTPError(http.StatusTooManyRequests, "issuance rate limit exceeded")
			}
			return next(c)
		}
	}
}
