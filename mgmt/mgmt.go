// Package mgmt is a client for the VPN daemon's line-oriented control
// socket. Each operation opens a fresh connection, applies one bounded
// deadline and never retries. The protocol is externally owned and
// unversioned, so parsing is deliberately lenient.
package mgmt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"time"
)

// ErrUnreachable is returned when the control socket cannot be reached
// or written. Callers decide whether that is fatal (status query) or a
// warning (reload after a batch mutation).
var ErrUnreachable = errors.New("management socket unreachable")

// DefaultTimeout bounds every control-socket operation.
const DefaultTimeout = 2 * time.Second

// Session is one live client connection as reported by the daemon.
// Fields are passed through as reported, without schema validation.
type Session struct {
	CommonName     string `json:"common_name"`
	RealAddress    string `json:"real_address"`
	BytesReceived  string `json:"bytes_received"`
	BytesSent      string `json:"bytes_sent"`
	ConnectedSince string `json:"connected_since"`
}

// Client talks to the daemon's management socket.
type Client struct {
	socketPath string
	timeout    time.Duration
}

// NewClient creates a Client for the unix socket at socketPath. A
// non-positive timeout falls back to DefaultTimeout.
func NewClient(socketPath string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{socketPath: socketPath, timeout: timeout}
}

func (c *Client) dial(ctx context.Context) (net.Conn, error) {
	d := net.Dialer{Timeout: c.timeout}
	conn, err := d.DialContext(ctx, "unix", c.socketPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	conn.SetDeadline(time.Now().Add(c.timeout))
	return conn, nil
}

// Reload signals the daemon to re-read its configuration (SIGHUP).
// Reload is fire-and-forget: a daemon that never answers within the
// deadline is torn down and counted as success, because the caller
// cannot distinguish "busy" from "absent" and must not block on either.
func (c *Client) Reload(ctx context.Context) error {
	conn, err := c.dial(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	if _, err := io.WriteString(conn, "signal SIGHUP\nexit\n"); err != nil {
		if errors.Is(err, os.ErrDeadlineExceeded) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}

	// Drain until the daemon closes or the deadline fires; either way
	// the signal was sent with best effort.
	io.Copy(io.Discard, conn)
	return nil
}

// Status queries the daemon for its live client sessions.
func (c *Client) Status(ctx context.Context) ([]Session, error) {
	conn, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	if _, err := io.WriteString(conn, "status 2\nexit\n"); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}

	data, err := io.ReadAll(conn)
	if err != nil {
		return nil, fmt.Errorf("%w: reading status: %v", ErrUnreachable, err)
	}
	return parseStatus(string(data)), nil
}

// parseStatus extracts CLIENT_LIST records by fixed field position.
// Unrecognised lines are ignored and missing fields come through empty;
// the format is best-effort telemetry, not a contract.
func parseStatus(data string) []Session {
	var sessions []Session
	for _, line := range strings.Split(data, "\n") {
		if !strings.HasPrefix(line, "CLIENT_LIST") {
			continue
		}
		parts := strings.Split(line, ",")
		sessions = append(sessions, Session{
			CommonName:     field(parts, 1),
			RealAddress:    field(parts, 2),
			BytesReceived:  field(parts, 5),
			BytesSent:      field(parts, 6),
			ConnectedSince: field(parts, 7),
		})
	}
	return sessions
}

func field(parts []string, i int) string {
	if i < len(parts) {
		return parts[i]
	}
	return ""
}
