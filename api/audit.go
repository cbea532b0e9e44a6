package api

import (
	"log/slog"
	"net/http"
	"time"
)

// AuditEvent identifies the type of security-relevant action being logged.
type AuditEvent string

const (
	AuditLoginSuccess      AuditEvent = "login_success"
	AuditLoginFailure      AuditEvent = "login_failure"
	AuditCertIssued        AuditEvent = "cert_issued"
	AuditCertRevoked       AuditEvent = "cert_revoked"
	AuditProfileDownloaded AuditEvent = "profile_downloaded"
	AuditDownloadRejected  AuditEvent = "download_rejected"
)

// auditLogger writes structured security audit events to the logger
// and, when a store is configured, persists them for later review.
type auditLogger struct {
	logger *slog.Logger
	store  *AuditStore
}

func newAuditLogger(logger *slog.Logger, store *AuditStore) *auditLogger {
	return &auditLogger{
		logger: logger.With("component", "audit"),
		store:  store,
	}
}

// log writes one audit event. identity is the client identity the event
// concerns (empty for login events).
func (al *auditLogger) log(event AuditEvent, r *http.Request, identity string, attrs ...slog.Attr) {
	baseAttrs := []slog.Attr{
		slog.String("event", string(event)),
		slog.String("remote_addr", r.RemoteAddr),
	}
	if identity != "" {
		baseAttrs = append(baseAttrs, slog.String("identity", identity))
	}
	baseAttrs = append(baseAttrs, attrs...)
	al.logger.LogAttrs(r.Context(), slog.LevelInfo, "audit", baseAttrs...)

	if al.store != nil {
		entry := AuditEntry{
			Event:      event,
			Identity:   identity,
			RemoteAddr: r.RemoteAddr,
			CreatedAt:  time.Now().UTC().Format(time.RFC3339),
		}
		if err := al.store.Append(entry); err != nil {
			al.logger.Error("failed to persist audit entry", "error", err)
		}
	}
}

// logFailure logs a failed authentication or authorization attempt.
func (al *auditLogger) logFailure(event AuditEvent, r *http.Request, reason string) {
	al.log(event, r, "", slog.String("reason", reason))
}
