package auth

import (
	"net/http"

	"github.com/sirupsen/logrus"
)

// Audit actions
const (
	ActionAuthSuccess     = "auth.success"
	ActionAuthFailure     = "auth.failure"
	ActionAccessGranted   = "access.granted"
	ActionAccessDenied    = "access.denied"
	ActionCacheInvalidate = "cache.invalidate"
	ActionRBACChange      = "rbac.change"
)

// Status constants
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
	StatusDenied  = "denied"
)

// AuditLogger writes security events to the structured log
type AuditLogger struct {
	logger logrus.FieldLogger
}

// NewAuditLogger creates a new audit logger
func NewAuditLogger(logger logrus.FieldLogger) *AuditLogger {
	return &AuditLogger{logger: logger.WithField("component", "audit")}
}

// LogFromRequest records an event for an HTTP request. p may be nil.
func (al *AuditLogger) LogFromRequest(r *http.Request, p *Principal, action, resource, status string, err error) {
	fields := logrus.Fields{
		"action":     action,
		"resource":   resource,
		"status":     status,
		"ip_address": getClientIP(r),
		"user_agent": r.UserAgent(),
	}
	if p != nil {
		fields["principal_id"] = p.ID
		fields["username"] = p.Username
	}

	entry := al.logger.WithFields(fields)
	switch {
	case err != nil:
		entry.WithError(err).Warn("security event")
	case status == StatusSuccess:
		entry.Debug("security event")
	default:
		entry.Info("security event")
	}
}

func getClientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		return forwarded
	}
	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return realIP
	}
	return r.RemoteAddr
}
