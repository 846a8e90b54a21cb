package llm

import (
	"net/http"
	"strconv"
	"time"

	"github.com/sessionforge/agentcore/internal/auth"
)

// ParseRateLimitHeaders builds a usage snapshot from a provider's
// x-ratelimit response headers. The request window maps to the primary
// reading and the token window to the secondary. Returns nil when the
// response carries no usable rate-limit headers.
func ParseRateLimitHeaders(header http.Header, now time.Time) *auth.StoredRateLimitSnapshot {
	primary := parseRateLimitWindow(header, "requests", now)
	secondary := parseRateLimitWindow(header, "tokens", now)
	if primary == nil && secondary == nil {
		return nil
	}
	return &auth.StoredRateLimitSnapshot{
		FetchedAt: now,
		Primary:   primary,
		Secondary: secondary,
	}
}

func parseRateLimitWindow(header http.Header, kind string, now time.Time) *auth.RateLimitWindow {
	limitStr := header.Get("x-ratelimit-limit-" + kind)
	remainingStr := header.Get("x-ratelimit-remaining-" + kind)
	if limitStr == "" || remainingStr == "" {
		return nil
	}
	limit, err := strconv.ParseFloat(limitStr, 64)
	if err != nil || limit <= 0 {
		return nil
	}
	remaining, err := strconv.ParseFloat(remainingStr, 64)
	if err != nil || remaining < 0 {
		return nil
	}

	window := &auth.RateLimitWindow{
		UsedPercent: (limit - remaining) / limit * 100,
	}
	if resetStr := header.Get("x-ratelimit-reset-" + kind); resetStr != "" {
		if d, err := time.ParseDuration(resetStr); err == nil && d > 0 {
			at := now.Add(d)
			window.ResetAt = &at
		}
	}
	return window
}
