// Package fleet orchestrates the client credential lifecycle: batch
// issuance and revocation against the certificate store, capability
// minting, profile packaging, and post-batch CRL regeneration and
// daemon reload. Nothing here is persisted; each batch is its own
// state machine.
package fleet

import (
	"context"
	"log/slog"
	"sync"

	"github.com/easyvpn/easyvpn/pki"
	"github.com/easyvpn/easyvpn/profile"
	"github.com/easyvpn/easyvpn/token"
)

// Status is the per-identity outcome kind.
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// Outcome reports one identity's result within a batch. Messages are
// human-readable reasons, never raw tool output or stack traces.
type Outcome struct {
	Identity    string `json:"email"`
	Status      Status `json:"status"`
	DownloadURL string `json:"downloadUrl,omitempty"`
	Message     string `json:"message,omitempty"`
}

func errorOutcome(identity, message string) Outcome {
	return Outcome{Identity: identity, Status: StatusError, Message: message}
}

// CertStore is the certificate-authority surface the orchestrator
// drives.
type CertStore interface {
	Issue(ctx context.Context, identity string) (pki.Material, error)
	Revoke(ctx context.Context, identity string) (bool, error)
	RegenerateCRL(ctx context.Context) error
}

// Packager produces the password-protected archive for an issuance.
type Packager interface {
	Package(ctx context.Context, identity, document, passphrase string) (string, error)
}

// Reloader pushes configuration changes to the running daemon.
type Reloader interface {
	Reload(ctx context.Context) error
}

// Manager ties the lifecycle components together.
type Manager struct {
	tokens      *token.Codec
	certs       CertStore
	packager    Packager
	daemon      Reloader
	params      profile.ConnectionParams
	downloadURL func(bearer string) string
	locks       *keyedMutex
	logger      *slog.Logger
}

// NewManager creates a Manager. downloadURL maps a bearer token to the
// caller-facing delivery URL.
func NewManager(
	tokens *token.Codec,
	certs CertStore,
	packager Packager,
	daemon Reloader,
	params profile.ConnectionParams,
	downloadURL func(bearer string) string,
	logger *slog.Logger,
) *Manager {
	return &Manager{
		tokens:      tokens,
		certs:       certs,
		packager:    packager,
		daemon:      daemon,
		params:      params,
		downloadURL: downloadURL,
		locks:       newKeyedMutex(),
		logger:      logger.With("component", "fleet"),
	}
}

// IssueAll attempts an issuance per requested identity. Failure domains
// are isolated: one identity's failure never aborts the batch. Attempts
// run concurrently, serialized per identity by a keyed lock.
func (m *Manager) IssueAll(ctx context.Context, identities []string) []Outcome {
	outcomes := m.forEach(ctx, identities, m.issueOne)
	m.finishBatch(ctx, outcomes)
	return outcomes
}

// RevokeAll attempts a revocation per requested identity, batching CRL
// regeneration and daemon reload the same way as IssueAll.
func (m *Manager) RevokeAll(ctx context.Context, identities []string) []Outcome {
	outcomes := m.forEach(ctx, identities, m.revokeOne)
	m.finishBatch(ctx, outcomes)
	return outcomes
}

func (m *Manager) forEach(ctx context.Context, identities []string, op func(context.Context, string) Outcome) []Outcome {
	outcomes := make([]Outcome, len(identities))
	var wg sync.WaitGroup
	for i, raw := range identities {
		wg.Add(1)
		go func(i int, raw string) {
			defer wg.Done()
			outcomes[i] = op(ctx, raw)
		}(i, raw)
	}
	wg.Wait()
	return outcomes
}

func (m *Manager) issueOne(ctx context.Context, raw string) Outcome {
	identity, err := ValidateIdentity(raw)
	if err != nil {
		return errorOutcome(raw, err.Error())
	}
	unlock := m.locks.lock(identity)
	defer unlock()

	material, err := m.certs.Issue(ctx, identity)
	if err != nil {
		m.logger.Error("certificate issuance failed", "identity", identity, "error", err)
		return errorOutcome(identity, "certificate issuance failed")
	}

	capability, err := m.tokens.Mint(identity)
	if err != nil {
		m.logger.Error("capability minting failed", "identity", identity, "error", err)
		return errorOutcome(identity, "internal error")
	}

	document := profile.BuildProfile(profile.Material{
		CACert:     material.CACert,
		ClientCert: material.ClientCert,
		ClientKey:  material.ClientKey,
	}, m.params)

	if _, err := m.packager.Package(ctx, identity, document, capability.Passphrase()); err != nil {
		m.logger.Error("profile packaging failed", "identity", identity, "error", err)
		return errorOutcome(identity, "profile packaging failed")
	}

	return Outcome{
		Identity:    identity,
		Status:      StatusSuccess,
		DownloadURL: m.downloadURL(capability.Bearer()),
	}
}

func (m *Manager) revokeOne(ctx context.Context, raw string) Outcome {
	identity, err := ValidateIdentity(raw)
	if err != nil {
		return errorOutcome(raw, err.Error())
	}
	unlock := m.locks.lock(identity)
	defer unlock()

	ok, err := m.certs.Revoke(ctx, identity)
	if err != nil {
		m.logger.Error("certificate revocation failed", "identity", identity, "error", err)
		return errorOutcome(identity, "certificate revocation failed")
	}
	if !ok {
		return errorOutcome(identity, "certificate not found")
	}
	return Outcome{Identity: identity, Status: StatusSuccess}
}

// finishBatch regenerates the CRL and reloads the daemon exactly once
// when any mutation in the batch succeeded. Reload failures are
// degraded to warnings: a successful certificate mutation is never
// rolled back because the daemon could not be told immediately.
func (m *Manager) finishBatch(ctx context.Context, outcomes []Outcome) {
	any := false
	for _, o := range outcomes {
		if o.Status == StatusSuccess {
			any = true
			break
		}
	}
	if !any {
		return
	}

	if err := m.certs.RegenerateCRL(ctx); err != nil {
		m.logger.Error("CRL regeneration failed", "error", err)
	}
	if err := m.daemon.Reload(ctx); err != nil {
		m.logger.Warn("daemon reload failed after batch", "error", err)
	}
}
