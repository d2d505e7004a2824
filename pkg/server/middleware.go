package server

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/datapilot-io/datapilot/pkg/audit"
)

type contextKey string

const actorKey contextKey = "actor"

// maxAuditBody caps how much of a request body gets hashed.
const maxAuditBody = 10 << 20

// actorFrom returns the request's audit actor. The middleware always
// sets one; the zero value covers handlers tested in isolation.
func actorFrom(ctx context.Context) audit.Actor {
	if a, ok := ctx.Value(actorKey).(audit.Actor); ok {
		return a
	}
	return audit.Actor{User: "anonymous"}
}

// auditMiddleware tags every request with an id, resolves the acting
// user, and records a trail event with a hash of the request body.
// Raw bodies are only attached in debug mode.
func (s *Server) auditMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(r0 http.ResponseWriter, r *http.Request) {
		requestID := uuid.NewString()
		now := time.Now().UTC()

		actor := audit.Actor{
			User:    r.Header.Get("X-User-ID"),
			Session: r.Header.Get("X-Session-ID"),
			IP:      clientIP(r),
		}
		if actor.User == "" {
			actor.User = "anonymous"
		}

		w := &responseWriter{ResponseWriter: r0, hash: sha256.New()}
		w.Header().Set("X-Request-ID", requestID)
		w.Header().Set("X-Audit-Timestamp", now.Format(time.RFC3339))

		var bodyHash string
		var rawBody string
		if r.Body != nil && r.ContentLength != 0 {
			data, err := io.ReadAll(io.LimitReader(r.Body, maxAuditBody))
			if err == nil {
				sum := sha256.Sum256(data)
				bodyHash = hex.EncodeToString(sum[:])
				if s.auditDebug {
					rawBody = string(data)
				}
				r.Body = io.NopCloser(bytes.NewReader(data))
			}
		}

		ctx := context.WithValue(r.Context(), actorKey, actor)
		next.ServeHTTP(w, r.WithContext(ctx))

		if s.auditStore != nil {
			status := w.status
			if status == 0 {
				status = http.StatusOK
			}
			details := map[string]any{
				"request_id": requestID,
				"method":     r.Method,
				"path":       r.URL.Path,
				"status":     status,
			}
			if bodyHash != "" {
				details["body_sha256"] = bodyHash
			}
			details["response_sha256"] = hex.EncodeToString(w.hash.Sum(nil))
			if rawBody != "" {
				details["body"] = rawBody
			}
			if _, err := s.auditStore.Log(r.Context(), audit.Event{
				EventType: audit.EventDataAccess,
				Timestamp: now,
				User:      actor.User,
				Session:   actor.Session,
				IP:        actor.IP,
				Resource:  r.URL.Path,
				Action:    r.Method,
				Details:   details,
				Success:   status < 400,
			}); err != nil {
				slog.Error("Failed to write request audit event", "error", err)
			}
		}
	})
}

// rateLimitMiddleware throttles per caller, keyed by user header then
// client IP. Disabled when no limiter is configured.
func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter == nil {
			next.ServeHTTP(w, r)
			return
		}

		caller := r.Header.Get("X-User-ID")
		if caller == "" {
			caller = clientIP(r)
		}

		result := s.limiter.Allow(caller)
		if !result.Allowed {
			w.Header().Set("Retry-After", strconv.Itoa(int(result.RetryAfter.Seconds())+1))
			writeJSON(w, http.StatusTooManyRequests, errorBody{Error: "rate limit exceeded"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientIP prefers the leftmost X-Forwarded-For hop, then X-Real-IP,
// then the peer address.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if idx := strings.Index(fwd, ","); idx >= 0 {
			return strings.TrimSpace(fwd[:idx])
		}
		return strings.TrimSpace(fwd)
	}
	if real := r.Header.Get("X-Real-IP"); real != "" {
		return strings.TrimSpace(real)
	}
	host := r.RemoteAddr
	if idx := strings.LastIndex(host, ":"); idx >= 0 {
		host = host[:idx]
	}
	return host
}
