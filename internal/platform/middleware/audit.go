package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/triage/internal/platform/auth"
)

// AuditEntry records one clinical action taken through the API.
type AuditEntry struct {
	UserID     string
	UserRoles  []string
	Resource   string
	TargetID   string
	Action     string
	Method     string
	Route      string
	IPAddress  string
	RequestID  string
	StatusCode int
	Timestamp  time.Time
}

type AuditRecorder interface {
	RecordAccess(entry AuditEntry) error
}

type AuditRecorderFunc func(entry AuditEntry) error

func (f AuditRecorderFunc) RecordAccess(entry AuditEntry) error {
	return f(entry)
}

// Audit logs every state-changing request under prefix: who did it, to
// which resource, and with what outcome. Reads are not audited.
func Audit(logger zerolog.Logger, prefix string, recorders ...AuditRecorder) echo.MiddlewareFunc {
	logger = logger.With().Str("type", "triage_audit").Logger()

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if !strings.HasPrefix(req.URL.Path, prefix) || !isMutation(req.Method) {
				return next(c)
			}

			err := next(c)

			entry := AuditEntry{
				UserID:     auth.UserIDFromContext(req.Context()),
				UserRoles:  auth.RolesFromContext(req.Context()),
				Resource:   resourceOf(strings.TrimPrefix(req.URL.Path, prefix)),
				TargetID:   c.Param("id"),
				Action:     methodToAction(req.Method),
				Method:     req.Method,
				Route:      c.Path(),
				IPAddress:  c.RealIP(),
				StatusCode: statusOf(c, err),
				Timestamp:  time.Now().UTC(),
			}
			if rid, ok := c.Get(RequestIDKey).(string); ok {
				entry.RequestID = rid
			}

			for _, r := range recorders {
				if recErr := r.RecordAccess(entry); recErr != nil {
					logger.Error().Err(recErr).Str("request_id", entry.RequestID).Msg("failed to record audit entry")
				}
			}

			logger.Info().
				Str("request_id", entry.RequestID).
				Str("user_id", entry.UserID).
				Strs("user_roles", entry.UserRoles).
				Str("resource", entry.Resource).
				Str("target_id", entry.TargetID).
				Str("action", entry.Action).
				Str("route", entry.Route).
				Str("remote_ip", entry.IPAddress).
				Int("status", entry.StatusCode).
				Msg("clinical_action")
			return err
		}
	}
}

func isMutation(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

func methodToAction(method string) string {
	switch method {
	case http.MethodPost:
		return "create"
	case http.MethodPut, http.MethodPatch:
		return "update"
	case http.MethodDelete:
		return "delete"
	default:
		return "read"
	}
}

// resourceOf returns the first path segment: "/queue/p1" -> "queue".
func resourceOf(rest string) string {
	seg, _, _ := strings.Cut(strings.TrimPrefix(rest, "/"), "/")
	if seg == "" {
		return "unknown"
	}
	return seg
}
