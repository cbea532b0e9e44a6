package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/easyvpn/easyvpn/fleet"
	"github.com/easyvpn/easyvpn/mgmt"
)

// Login handles POST /login.
func (a *API) Login(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeJSON[LoginRequest](w, r)
	if !ok {
		return
	}
	sessionToken, err := a.admin.Login(req.User, req.Pass)
	if err != nil {
		a.audit.logFailure(AuditLoginFailure, r, "invalid credentials")
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	a.audit.log(AuditLoginSuccess, r, "", slog.String("admin", req.User))
	writeJSON(w, http.StatusOK, LoginResponse{Token: sessionToken})
}

// Download handles GET /download. The capability token in the query is
// the only credential; no server-side lookup is involved.
func (a *API) Download(w http.ResponseWriter, r *http.Request) {
	bearer := r.URL.Query().Get("t")
	if bearer == "" {
		writeError(w, http.StatusBadRequest, "missing token")
		return
	}

	capability, err := a.tokens.Verify(bearer)
	if err != nil {
		// The cause (malformed, forged, expired) is logged server-side
		// but the response is uniform to avoid a forgery oracle.
		a.logger.Info("download token rejected", "error", err)
		a.audit.logFailure(AuditDownloadRejected, r, "token verification failed")
		writeError(w, http.StatusForbidden, "invalid or expired token")
		return
	}

	// A hand-crafted token can carry a valid MAC over a non-email
	// payload; that is a distinct, non-secret failure.
	identity, err := fleet.ValidateIdentity(capability.Identity())
	if err != nil {
		a.audit.logFailure(AuditDownloadRejected, r, "bad payload")
		writeError(w, http.StatusBadRequest, "bad payload")
		return
	}

	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", identity+".ovpn"))
	w.Header().Set("Content-Type", "application/x-openvpn-profile")
	w.Header().Set("Cache-Control", "no-store")

	cw := &countingWriter{w: w}
	if err := a.profiles.Stream(r.Context(), identity, capability.Passphrase(), cw); err != nil {
		a.logger.Error("profile stream failed",
			"identity", identity, "bytes_sent", cw.n, "error", err)
		if cw.n == 0 {
			// Nothing sent yet; the response can still be an error.
			w.Header().Del("Content-Disposition")
			w.Header().Del("Cache-Control")
			writeError(w, http.StatusForbidden, "invalid token or corrupt archive")
		}
		return
	}
	a.audit.log(AuditProfileDownloaded, r, identity)
}

// Create handles POST /create.
func (a *API) Create(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeJSON[BatchRequest](w, r)
	if !ok {
		return
	}
	if len(req.Emails) == 0 {
		writeError(w, http.StatusBadRequest, "missing emails array")
		return
	}

	results := a.fleet.IssueAll(r.Context(), req.Emails)
	admin := adminFromContext(r.Context())
	for _, o := range results {
		if o.Status == fleet.StatusSuccess {
			a.audit.log(AuditCertIssued, r, o.Identity, slog.String("admin", admin))
		}
	}
	writeJSON(w, http.StatusOK, BatchResponse{Results: results})
}

// Revoke handles POST /revoke.
func (a *API) Revoke(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeJSON[BatchRequest](w, r)
	if !ok {
		return
	}
	if len(req.Emails) == 0 {
		writeError(w, http.StatusBadRequest, "missing emails array")
		return
	}

	results := a.fleet.RevokeAll(r.Context(), req.Emails)
	admin := adminFromContext(r.Context())
	for _, o := range results {
		if o.Status == fleet.StatusSuccess {
			a.audit.log(AuditCertRevoked, r, o.Identity, slog.String("admin", admin))
		}
	}
	writeJSON(w, http.StatusOK, BatchResponse{Results: results})
}

// ConnectedUsers handles GET /connected-users.
func (a *API) ConnectedUsers(w http.ResponseWriter, r *http.Request) {
	sessions, err := a.sessions.Status(r.Context())
	if err != nil {
		a.logger.Error("management status query failed", "error", err)
		mapError(w, err)
		return
	}
	if sessions == nil {
		sessions = []mgmt.Session{}
	}
	writeJSON(w, http.StatusOK, ConnectedUsersResponse{Clients: sessions})
}

// ValidUsers handles GET /valid-users.
func (a *API) ValidUsers(w http.ResponseWriter, r *http.Request) {
	users, err := a.certs.ListLive(r.Context())
	if err != nil {
		a.logger.Error("listing live certificates failed", "error", err)
		mapError(w, err)
		return
	}
	if users == nil {
		users = []string{}
	}
	writeJSON(w, http.StatusOK, ValidUsersResponse{Users: users})
}

// ListAudit handles GET /audit.
func (a *API) ListAudit(w http.ResponseWriter, r *http.Request) {
	if a.store == nil {
		writeJSON(w, http.StatusOK, AuditResponse{Entries: []AuditEntry{}})
		return
	}
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
			limit = n
		}
	}
	entries, err := a.store.Recent(limit)
	if err != nil {
		a.logger.Error("reading audit entries failed", "error", err)
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, AuditResponse{Entries: entries})
}

// countingWriter tracks whether any response bytes have been sent, so
// a failed stream can still become a clean HTTP error when nothing has
// flowed yet.
type countingWriter struct {
	w http.ResponseWriter
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
