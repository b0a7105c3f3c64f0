package middleware

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/kiranshivaraju/demandcast/internal/api/response"
	"github.com/kiranshivaraju/demandcast/internal/cache"
)

// Rate limit buckets. Every authenticated request counts against BucketAPI; forecast
// generation additionally counts against BucketForecast because each request starts
// a paid inference call.
const (
	BucketAPI      = "api"
	BucketForecast = "forecast"
)

const (
	defaultRequestsPerMinute  = 60
	defaultForecastsPerMinute = 10
	window                    = time.Minute
)

// Limits are per-key budgets for one minute. Zero selects the default.
type Limits struct {
	Requests  int
	Forecasts int
}

// RateLimit counts requests per API key prefix in fixed, minute-aligned windows.
type RateLimit struct {
	cache  cache.Cache
	limits Limits
	now    func() time.Time
}

func NewRateLimit(c cache.Cache, limits Limits) *RateLimit {
	if limits.Requests <= 0 {
		limits.Requests = defaultRequestsPerMinute
	}
	if limits.Forecasts <= 0 {
		limits.Forecasts = defaultForecastsPerMinute
	}
	return &RateLimit{cache: c, limits: limits, now: time.Now}
}

// Limit applies the general request budget.
func (rl *RateLimit) Limit(next http.Handler) http.Handler {
	return rl.bucket(BucketAPI, rl.limits.Requests, next)
}

// LimitForecasts applies the forecast budget. Asynchronous triggers count as well.
func (rl *RateLimit) LimitForecasts(next http.Handler) http.Handler {
	return rl.bucket(BucketForecast, rl.limits.Forecasts, next)
}

func (rl *RateLimit) bucket(name string, limit int, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		prefix, ok := getKeyPrefix(r)
		if !ok {
			// No key prefix means auth middleware didn't run; pass through
			next.ServeHTTP(w, r)
			return
		}

		now := rl.now()
		start := now.Truncate(window)
		reset := start.Add(window)

		// The counter outlives its window slightly so a late increment cannot reset it.
		count, err := rl.cache.IncrWithExpiry(r.Context(), cache.RateLimitKey(name, prefix, start), reset.Sub(now)+time.Second)
		if err != nil {
			// On cache error, allow the request (fail open)
			slog.Warn("rate limit check failed", "bucket", name, "key_prefix", prefix, "error", err)
			next.ServeHTTP(w, r)
			return
		}

		remaining := max(limit-int(count), 0)
		h := w.Header()
		h.Set("X-RateLimit-Limit", strconv.Itoa(limit))
		h.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		h.Set("X-RateLimit-Reset", strconv.FormatInt(reset.Unix(), 10))
		h.Set("X-RateLimit-Bucket", name)

		if count > int64(limit) {
			h.Set("Retry-After", strconv.Itoa(retryAfter(reset.Sub(now))))
			code, msg := "RATE_LIMIT_EXCEEDED", "Too many requests"
			if name == BucketForecast {
				code, msg = "FORECAST_RATE_LIMIT_EXCEEDED", "Too many forecasts requested for this key"
			}
			response.Error(w, http.StatusTooManyRequests, code, msg, map[string]any{
				"bucket": name,
				"limit":  limit,
			})
			return
		}

		next.ServeHTTP(w, r)
	})
}

// retryAfter rounds d up to whole seconds, at least one.
func retryAfter(d time.Duration) int {
	secs := int((d + time.Second - 1) / time.Second)
	return max(secs, 1)
}
