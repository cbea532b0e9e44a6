// Package profile renders OpenVPN client configuration documents and
// packages them into password-protected archives. The archive password
// is the download capability itself; the plaintext profile never
// persists once packaging returns.
package profile

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// ConnectionParams are the fixed connection directives embedded in
// every rendered profile.
type ConnectionParams struct {
	Hostname       string
	Port           int
	ServerCertName string
}

// Material is the PEM text embedded in a profile.
type Material struct {
	CACert     string
	ClientCert string
	ClientKey  string
}

// BuildProfile renders the client configuration document for identity.
// Pure function; no I/O.
func BuildProfile(m Material, p ConnectionParams) string {
	lines := []string{
		"client",
		"dev tun",
		"proto tcp",
		fmt.Sprintf("remote %s %d", p.Hostname, p.Port),
		"resolv-retry infinite",
		"nobind",
		"remote-cert-tls server",
		"cipher AES-256-GCM",
		"verb 3",
		"<ca>",
		m.CACert,
		"</ca>",
		"<cert>",
		m.ClientCert,
		"</cert>",
		"<key>",
		m.ClientKey,
		"</key>",
		"reneg-sec 0",
		fmt.Sprintf("verify-x509-name %s name", p.ServerCertName),
	}
	return strings.Join(lines, "\n")
}

// Packager writes profiles and drives the external archiver.
type Packager struct {
	dir      string
	archiver Archiver
	logger   *slog.Logger
}

// NewPackager creates a Packager writing archives under dir.
func NewPackager(dir string, archiver Archiver, logger *slog.Logger) *Packager {
	return &Packager{
		dir:      dir,
		archiver: archiver,
		logger:   logger.With("component", "packager"),
	}
}

// ArchivePath returns the archive location for identity.
func (p *Packager) ArchivePath(identity string) string {
	return filepath.Join(p.dir, identity+".7z")
}

func (p *Packager) profilePath(identity string) string {
	return filepath.Join(p.dir, identity+".ovpn")
}

// Exists reports whether a packaged archive exists for identity.
func (p *Packager) Exists(identity string) bool {
	_, err := os.Stat(p.ArchivePath(identity))
	return err == nil
}

// Remove deletes identity's packaged archive. Missing archives are not
// an error.
func (p *Packager) Remove(identity string) error {
	if err := os.Remove(p.ArchivePath(identity)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing archive for %s: %w", identity, err)
	}
	return nil
}

// Package writes the profile document for identity, produces a
// password-protected archive keyed by passphrase, and returns the
// archive path. The plaintext profile is removed on every exit path,
// archiver failure included.
func (p *Packager) Package(ctx context.Context, identity, document, passphrase string) (string, error) {
	if err := os.MkdirAll(p.dir, 0o700); err != nil {
		return "", fmt.Errorf("creating archive directory: %w", err)
	}

	plaintext := p.profilePath(identity)
	if err := os.WriteFile(plaintext, []byte(document), 0o600); err != nil {
		return "", fmt.Errorf("writing profile for %s: %w", identity, err)
	}
	defer func() {
		if err := os.Remove(plaintext); err != nil && !os.IsNotExist(err) {
			p.logger.Error("failed to remove plaintext profile", "identity", identity, "error", err)
		}
	}()

	archive := p.ArchivePath(identity)
	if err := p.archiver.Create(ctx, p.dir, passphrase, archive, filepath.Base(plaintext)); err != nil {
		return "", fmt.Errorf("packaging profile for %s: %w", identity, err)
	}
	return archive, nil
}

// Stream extracts identity's profile from its archive using passphrase,
// writing output directly to w without buffering the whole document.
// A non-zero archiver exit after output has begun is returned for
// observability; the caller cannot un-send what already flowed.
func (p *Packager) Stream(ctx context.Context, identity, passphrase string, w io.Writer) error {
	member := identity + ".ovpn"
	if err := p.archiver.Extract(ctx, passphrase, p.ArchivePath(identity), member, w); err != nil {
		return fmt.Errorf("streaming profile for %s: %w", identity, err)
	}
	return nil
}
