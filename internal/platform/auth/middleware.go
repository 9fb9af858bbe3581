package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/lookout-labs/lookout-go/internal/platform/httpserver"
)

type AuthorizeFunc func(r *http.Request, identity Identity) error

type DenyEvent struct {
	Time       time.Time
	Status     int
	Reason     string
	Error      string
	RequestID  string
	Method     string
	Path       string
	Subject    string
	Email      string
	Roles      []string
	RemoteAddr string
	UserAgent  string
}

type AuditFunc func(ctx context.Context, event DenyEvent) error

// Middleware authenticates and authorizes every request outside SkipPrefixes.
// Public prefixes bypass it entirely.
type Middleware struct {
	Logger        *slog.Logger
	Authenticator Authenticator
	Authorize     AuthorizeFunc
	Audit         AuditFunc
	SkipPrefixes  []string
}

func (m Middleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for _, prefix := range m.SkipPrefixes {
			if strings.HasPrefix(r.URL.Path, prefix) {
				next.ServeHTTP(w, r)
				return
			}
		}

		identity, err := m.Authenticator.Authenticate(r.Context(), r)
		if err != nil {
			reason := "invalid_token"
			code := "invalid_token"
			if errors.Is(err, ErrUnauthenticated) {
				reason = "unauthenticated"
				code = "unauthorized"
			}
			m.deny(w, r, Identity{}, http.StatusUnauthorized, reason, code, err)
			return
		}

		if m.Authorize != nil {
			if err := m.Authorize(r, identity); err != nil {
				m.deny(w, r, identity, http.StatusForbidden, "forbidden", "forbidden", err)
				return
			}
		}

		r = r.WithContext(ContextWithIdentity(r.Context(), identity))
		next.ServeHTTP(w, r)
	})
}

func (m Middleware) deny(w http.ResponseWriter, r *http.Request, identity Identity, status int, reason, code string, err error) {
	m.logDeny(r, status, reason, err, "subject", identity.Subject)
	m.auditDeny(r, identity, status, reason, err)
	httpserver.WriteError(w, r, status, code)
}

func (m Middleware) auditDeny(r *http.Request, identity Identity, status int, reason string, err error) {
	if m.Audit == nil {
		return
	}
	auditErr := m.Audit(r.Context(), DenyEvent{
		Time:       time.Now().UTC(),
		Status:     status,
		Reason:     reason,
		Error:      err.Error(),
		RequestID:  r.Header.Get(httpserver.HeaderRequestID),
		Method:     r.Method,
		Path:       r.URL.Path,
		Subject:    identity.Subject,
		Email:      identity.Email,
		Roles:      identity.Roles,
		RemoteAddr: r.RemoteAddr,
		UserAgent:  r.UserAgent(),
	})
	if auditErr == nil || m.Logger == nil {
		return
	}
	m.Logger.Warn("audit deny failed", "request_id", r.Header.Get(httpserver.HeaderRequestID), "error", auditErr.Error())
}

func (m Middleware) logDeny(r *http.Request, status int, reason string, err error, extra ...any) {
	if m.Logger == nil {
		return
	}
	fields := []any{
		"reason", reason,
		"status", status,
		"request_id", r.Header.Get(httpserver.HeaderRequestID),
		"method", r.Method,
		"path", r.URL.Path,
		"error", err.Error(),
	}
	fields = append(fields, extra...)
	m.Logger.Warn("auth deny", fields...)
}
