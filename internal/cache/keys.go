package cache

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// SignalKey identifies a cached signal payload. Region and sector are lower-cased so
// "Jaipur" and "jaipur" share an entry.
func SignalKey(provider, kind, region, sector string) string {
	return fmt.Sprintf("signal:%s:%s:%s:%s", provider, kind, strings.ToLower(region), strings.ToLower(sector))
}

// RunStatusKey identifies the status of a background forecast run.
func RunStatusKey(runID uuid.UUID) string {
	return fmt.Sprintf("run:%s", runID)
}

// RateLimitKey identifies the counter of one API key in one rate limit bucket for the
// fixed window starting at window.
func RateLimitKey(bucket, keyPrefix string, window time.Time) string {
	return fmt.Sprintf("ratelimit:%s:%s:%d", bucket, keyPrefix, window.Unix())
}
