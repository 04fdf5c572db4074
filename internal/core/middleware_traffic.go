package core

import (
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"courier/internal/types"
)

const (
	defaultRateLimitMax    = 100
	defaultRateLimitWindow = time.Minute
)

// RateLimit enforces a fixed-window request budget per caller. The key is the
// authenticated Actor id, else the client IP.
//
// Every counted response carries X-RateLimit-Limit, X-RateLimit-Remaining and
// X-RateLimit-Reset. A denied request gets 429 with Retry-After. Store errors
// fail open.
func (s *Server) RateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.RateLimitStore == nil || !s.rateLimitEnabled() || authPublicPaths[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}

		key := "ip:" + extractClientIP(r)
		if actor, ok := types.GetActor(r.Context()); ok && actor.ID != "" {
			key = "user:" + actor.ID
		}
		limit, window := s.rateLimitPolicy()

		result, err := s.RateLimitStore.IncrementAndCheck(r.Context(), key, limit, window)
		if err != nil {
			s.Logger.Error("rate limit store error",
				slog.String("key", key),
				slog.String("error", err.Error()),
			)
			next.ServeHTTP(w, r)
			return
		}

		setRateLimitHeaders(w, limit, result)

		if !result.Allowed {
			s.Logger.Warn("rate limit exceeded",
				slog.String("key", key),
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
			)
			retryAfter := int(time.Until(result.ResetAt).Seconds())
			if retryAfter < 1 {
				retryAfter = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			Error(w, r, types.NewAppError(types.ErrCodeRateLimit,
				"Rate limit exceeded. Please retry after the reset time.", nil))
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) rateLimitEnabled() bool {
	return s.Config == nil || s.Config.RateLimit.Enabled
}

func (s *Server) rateLimitPolicy() (int, time.Duration) {
	limit, window := defaultRateLimitMax, defaultRateLimitWindow
	if s.Config != nil {
		if s.Config.RateLimit.MaxRequests > 0 {
			limit = int(s.Config.RateLimit.MaxRequests)
		}
		if s.Config.RateLimit.Window > 0 {
			window = s.Config.RateLimit.Window
		}
	}
	return limit, window
}

func setRateLimitHeaders(w http.ResponseWriter, limit int, result types.RateLimitResult) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))
}

// extractClientIP prefers the first X-Forwarded-For hop, then X-Real-Ip, then
// the connection address.
func extractClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if first, _, _ := strings.Cut(xff, ","); strings.TrimSpace(first) != "" {
			return strings.TrimSpace(first)
		}
	}
	if xri := strings.TrimSpace(r.Header.Get("X-Real-Ip")); xri != "" {
		return xri
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// ClientIP is exported for handlers that record caller metadata.
func ClientIP(r *http.Request) string {
	return extractClientIP(r)
}
