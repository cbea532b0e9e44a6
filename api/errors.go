package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/easyvpn/easyvpn/auth"
	"github.com/easyvpn/easyvpn/fleet"
	"github.com/easyvpn/easyvpn/mgmt"
)

const maxRequestBodySize = 1 << 20

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

// mapError translates domain sentinels into HTTP responses. External
// tool detail never reaches the caller; it is logged where the error
// arose.
func mapError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, fleet.ErrInvalidIdentity):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, auth.ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, "invalid or expired token")
	case errors.Is(err, mgmt.ErrUnreachable):
		writeError(w, http.StatusInternalServerError, "unable to reach the VPN daemon")
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func decodeJSON[T any](w http.ResponseWriter, r *http.Request) (T, bool) {
	var v T
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return v, false
	}
	return v, true
}
