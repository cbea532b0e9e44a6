package api

import (
	"github.com/easyvpn/easyvpn/fleet"
	"github.com/easyvpn/easyvpn/mgmt"
)

// LoginRequest is the JSON body for POST /login.
type LoginRequest struct {
	User string `json:"user"`
	Pass string `json:"pass"`
}

// LoginResponse is returned from POST /login.
type LoginResponse struct {
	Token string `json:"token"`
}

// BatchRequest is the JSON body for POST /create and POST /revoke.
type BatchRequest struct {
	Emails []string `json:"emails"`
}

// BatchResponse is returned from POST /create and POST /revoke.
type BatchResponse struct {
	Results []fleet.Outcome `json:"results"`
}

// ConnectedUsersResponse is returned from GET /connected-users.
type ConnectedUsersResponse struct {
	Clients []mgmt.Session `json:"clients"`
}

// ValidUsersResponse is returned from GET /valid-users.
type ValidUsersResponse struct {
	Users []string `json:"users"`
}

// AuditResponse is returned from GET /audit.
type AuditResponse struct {
	Entries []AuditEntry `json:"entries"`
}

// ErrorResponse is returned for all error cases.
type ErrorResponse struct {
	Error string `json:"error"`
}
