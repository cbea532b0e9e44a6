// Package pki adapts the external easy-rsa toolchain into the issue,
// revoke, enumerate and CRL operations the service needs. The CA owns
// all certificate state on disk; this package only orchestrates
// transitions and never touches key material cryptographically.
package pki

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// Material is the PEM text read back after an issuance.
type Material struct {
	CACert     string
	ClientCert string
	ClientKey  string
}

// ArchiveRemover removes a client's packaged archive. Revocation must
// destroy the archive alongside the certificate so the outstanding
// download capability dies with it.
type ArchiveRemover interface {
	Remove(identity string) error
}

// Store drives an easy-rsa working directory.
type Store struct {
	dir        string
	serverName string
	runner     Runner
	archives   ArchiveRemover
	logger     *slog.Logger
}

// NewStore creates a Store over the easy-rsa working directory at dir.
// serverName is the CA-side name of the VPN server's own certificate,
// excluded from ListLive.
func NewStore(dir, serverName string, runner Runner, archives ArchiveRemover, logger *slog.Logger) *Store {
	return &Store{
		dir:        dir,
		serverName: serverName,
		runner:     runner,
		archives:   archives,
		logger:     logger.With("component", "pki"),
	}
}

func (s *Store) binary() string {
	return filepath.Join(s.dir, "easyrsa")
}

func (s *Store) certPath(identity string) string {
	return filepath.Join(s.dir, "pki", "issued", identity+".crt")
}

func (s *Store) keyPath(identity string) string {
	return filepath.Join(s.dir, "pki", "private", identity+".key")
}

func (s *Store) reqPath(identity string) string {
	return filepath.Join(s.dir, "pki", "reqs", identity+".req")
}

func (s *Store) caCertPath() string {
	return filepath.Join(s.dir, "pki", "ca.crt")
}

// HasLive reports whether a live certificate exists for identity.
func (s *Store) HasLive(identity string) bool {
	_, err := os.Stat(s.certPath(identity))
	return err == nil
}

// Issue creates a client key pair and certificate bound to identity and
// reads the resulting material back as text. If a live certificate
// already exists it is revoked first; errors on that path are logged
// and swallowed so "become issued" stays idempotent even from a
// partially broken prior state.
func (s *Store) Issue(ctx context.Context, identity string) (Material, error) {
	if s.HasLive(identity) {
		s.logger.Info("revoking existing certificate before re-issue", "identity", identity)
		if _, err := s.Revoke(ctx, identity); err != nil {
			s.logger.Warn("pre-issue revoke failed", "identity", identity, "error", err)
		}
	}

	err := s.runner.Run(ctx, s.dir, s.binary(),
		"--batch",
		fmt.Sprintf("--subject-alt-name=email:%s", identity),
		"build-client-full", identity, "nopass")
	if err != nil {
		return Material{}, fmt.Errorf("issuing certificate for %s: %w", identity, err)
	}

	var m Material
	for _, f := range []struct {
		path string
		dst  *string
	}{
		{s.caCertPath(), &m.CACert},
		{s.certPath(identity), &m.ClientCert},
		{s.keyPath(identity), &m.ClientKey},
	} {
		data, err := os.ReadFile(f.path)
		if err != nil {
			return Material{}, fmt.Errorf("reading issued material: %w", err)
		}
		*f.dst = string(data)
	}
	return m, nil
}

// Revoke instructs the CA to revoke identity's certificate and removes
// its on-disk artifacts and packaged archive. It returns false (not an
// error) when no live certificate exists, making revoke a safe no-op.
// CRL regeneration is deliberately left to the caller so a batch of
// revocations pays for it once.
func (s *Store) Revoke(ctx context.Context, identity string) (bool, error) {
	if !s.HasLive(identity) {
		return false, nil
	}

	if err := s.runner.Run(ctx, s.dir, s.binary(), "--batch", "revoke", identity); err != nil {
		// The CA refusing a revoke (already-revoked index entry, for
		// example) must not leave the artifacts behind.
		s.logger.Warn("easyrsa revoke reported failure, removing artifacts anyway",
			"identity", identity, "error", err)
	}

	for _, path := range []string{s.certPath(identity), s.keyPath(identity), s.reqPath(identity)} {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return true, fmt.Errorf("removing %s: %w", path, err)
		}
	}

	if s.archives != nil {
		if err := s.archives.Remove(identity); err != nil {
			s.logger.Warn("removing packaged archive failed", "identity", identity, "error", err)
		}
	}
	return true, nil
}

// RegenerateCRL rebuilds the CA's revocation list. It must run at least
// once after any successful revoke before clients are considered cut
// off network-wise.
func (s *Store) RegenerateCRL(ctx context.Context) error {
	if err := s.runner.Run(ctx, s.dir, s.binary(), "gen-crl"); err != nil {
		return fmt.Errorf("regenerating CRL: %w", err)
	}
	return nil
}

// ListLive enumerates identities holding an issued, non-removed
// certificate, excluding the server's own.
func (s *Store) ListLive(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.dir, "pki", "issued"))
	if err != nil {
		return nil, fmt.Errorf("reading issued certificates: %w", err)
	}
	identities := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if !strings.HasSuffix(name, ".crt") {
			continue
		}
		identity := strings.TrimSuffix(name, ".crt")
		if identity == s.serverName {
			continue
		}
		identities = append(identities, identity)
	}
	return identities, nil
}
