package http

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"
	"github.com/rs/zerolog"

	"github.com/logtide/logtide/internal/event"
	"github.com/logtide/logtide/internal/metrics"
	"github.com/logtide/logtide/internal/ratelimit"
)

type contextKey string

const requestIDKey contextKey = "request_id"

// RequestID tags every request with a unique id, honoring one supplied
// by the client, and echoes it in the response header.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}
		w.Header().Set("X-Request-ID", requestID)

		ctx := context.WithValue(r.Context(), requestIDKey, requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetRequestID retrieves the request ID from the context.
func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

// Recovery converts handler panics into a 500 response.
func Recovery(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error().
						Interface("panic", rec).
						Str("request_id", GetRequestID(r.Context())).
						Str("path", r.URL.Path).
						Msg("handler panicked")
					writeStatus(w, http.StatusInternalServerError, event.StatusError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// AccessLog emits one structured record per request.
func AccessLog(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			logger.Info().
				Str("request_id", GetRequestID(r.Context())).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Int("bytes", ww.BytesWritten()).
				Dur("took", time.Since(start)).
				Msg("request")
		})
	}
}

// RateLimit admits at most one request token per call for the caller's
// IP. Rejected requests get a 429 with RateLimit headers and a
// Retry-After hint sized for a full burst to recover, matching the
// token refill schedule.
func RateLimit(limiter *ratelimit.Limiter, m *metrics.Metrics, logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := clientIP(r)
			ok, info := limiter.AdmitWithInfo(key)
			if ok {
				next.ServeHTTP(w, r)
				return
			}

			m.RateLimited.Inc()
			logger.Debug().
				Str("client", key).
				Dur("retry_after", info.RetryAfter).
				Msg("request rate limited")

			secs := int64(info.RetryAfter / time.Second)
			if info.RetryAfter%time.Second != 0 {
				secs++
			}
			if secs < 1 {
				secs = 1
			}
			w.Header().Set("RateLimit-Limit", strconv.FormatInt(info.Limit, 10))
			w.Header().Set("RateLimit-Remaining", strconv.FormatInt(info.Remaining, 10))
			w.Header().Set("RateLimit-Reset", strconv.FormatInt(secs, 10))
			w.Header().Set("RateLimit-Policy",
				fmt.Sprintf("%d;w=%g", info.Limit, info.Window.Seconds()))
			w.Header().Set("Retry-After", strconv.FormatInt(secs, 10))
			writeStatus(w, http.StatusTooManyRequests, event.StatusError, "too many requests")
		})
	}
}

// DecompressGzip transparently inflates request bodies sent with
// Content-Encoding: gzip.
func DecompressGzip(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Encoding") == "gzip" {
			zr, err := gzip.NewReader(r.Body)
			if err != nil {
				writeStatus(w, http.StatusBadRequest, event.StatusFailed, "invalid gzip body")
				return
			}
			defer zr.Close()
			r.Body = zr
			r.Header.Del("Content-Encoding")
			r.ContentLength = -1
		}
		next.ServeHTTP(w, r)
	})
}

// MaxBytes caps the request body size. Oversized bodies surface as a
// decode error in the handler.
func MaxBytes(limit int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if limit > 0 {
				r.Body = http.MaxBytesReader(w, r.Body, limit)
			}
			next.ServeHTTP(w, r)
		})
	}
}
