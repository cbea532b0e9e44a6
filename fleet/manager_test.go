package fleet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/awnumar/memguard"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/easyvpn/easyvpn/pki"
	"github.com/easyvpn/easyvpn/profile"
	"github.com/easyvpn/easyvpn/token"
)

type fakeCerts struct {
	mu       sync.Mutex
	live     map[string]bool
	issueErr error
	crlCalls int
	inflight map[string]bool
	overlap  bool
}

func newFakeCerts() *fakeCerts {
	return &fakeCerts{
		live:     make(map[string]bool),
		inflight: make(map[string]bool),
	}
}

func (f *fakeCerts) enter(identity string) {
	f.mu.Lock()
	if f.inflight[identity] {
		f.overlap = true
	}
	f.inflight[identity] = true
	f.mu.Unlock()
	// Widen the window so an unserialized duplicate would be caught.
	time.Sleep(5 * time.Millisecond)
}

func (f *fakeCerts) leave(identity string) {
	f.mu.Lock()
	f.inflight[identity] = false
	f.mu.Unlock()
}

func (f *fakeCerts) Issue(ctx context.Context, identity string) (pki.Material, error) {
	f.enter(identity)
	defer f.leave(identity)
	if f.issueErr != nil {
		return pki.Material{}, f.issueErr
	}
	f.mu.Lock()
	f.live[identity] = true
	f.mu.Unlock()
	return pki.Material{CACert: "CA", ClientCert: "CERT " + identity, ClientKey: "KEY " + identity}, nil
}

func (f *fakeCerts) Revoke(ctx context.Context, identity string) (bool, error) {
	f.enter(identity)
	defer f.leave(identity)
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.live[identity] {
		return false, nil
	}
	delete(f.live, identity)
	return true, nil
}

func (f *fakeCerts) RegenerateCRL(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.crlCalls++
	return nil
}

type fakePackager struct {
	mu          sync.Mutex
	passphrases map[string][]string
	err         error
}

func (f *fakePackager) Package(ctx context.Context, identity, document, passphrase string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.passphrases == nil {
		f.passphrases = make(map[string][]string)
	}
	f.passphrases[identity] = append(f.passphrases[identity], passphrase)
	return "/secrets/ovpns/" + identity + ".7z", nil
}

type fakeReloader struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeReloader) Reload(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.err
}

type managerFixture struct {
	manager  *Manager
	certs    *fakeCerts
	packager *fakePackager
	reloader *fakeReloader
}

func newFixture(t *testing.T) *managerFixture {
	t.Helper()
	// The fake clock advances a second per mint so back-to-back
	// issuances never share a timestamp.
	var mu sync.Mutex
	now := time.Now()
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(time.Second)
		return now
	}
	codec := token.NewCodec(memguard.NewEnclave([]byte("test-secret")), 24*time.Hour, token.WithClock(clock))

	certs := newFakeCerts()
	packager := &fakePackager{}
	reloader := &fakeReloader{}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	manager := NewManager(codec, certs, packager, reloader,
		profile.ConnectionParams{Hostname: "vpn.example.com", Port: 1194, ServerCertName: "easyvpn"},
		func(bearer string) string { return "https://vpn.example.com/download?t=" + bearer },
		logger)
	return &managerFixture{manager: manager, certs: certs, packager: packager, reloader: reloader}
}

func TestIssueAll(t *testing.T) {
	t.Run("mixed batch isolates failures", func(t *testing.T) {
		fx := newFixture(t)

		outcomes := fx.manager.IssueAll(context.Background(), []string{"valid@x.com", "not-an-email"})
		require.Len(t, outcomes, 2)

		assert.Equal(t, StatusSuccess, outcomes[0].Status)
		assert.Equal(t, "valid@x.com", outcomes[0].Identity)
		assert.True(t, strings.HasPrefix(outcomes[0].DownloadURL, "https://vpn.example.com/download?t="))

		assert.Equal(t, StatusError, outcomes[1].Status)
		assert.Contains(t, outcomes[1].Message, "invalid email")
		assert.Empty(t, outcomes[1].DownloadURL)

		// One CRL regeneration and one reload for the whole batch.
		assert.Equal(t, 1, fx.certs.crlCalls)
		assert.Equal(t, 1, fx.reloader.calls)
	})

	t.Run("all failures skip CRL and reload", func(t *testing.T) {
		fx := newFixture(t)
		fx.certs.issueErr = errors.New("ca broken")

		outcomes := fx.manager.IssueAll(context.Background(), []string{"a@x.com", "b@x.com"})
		for _, o := range outcomes {
			assert.Equal(t, StatusError, o.Status)
			// Generic reason, no tool detail leaked.
			assert.Equal(t, "certificate issuance failed", o.Message)
		}
		assert.Zero(t, fx.certs.crlCalls)
		assert.Zero(t, fx.reloader.calls)
	})

	t.Run("large batch still reloads once", func(t *testing.T) {
		fx := newFixture(t)
		var emails []string
		for i := 0; i < 20; i++ {
			emails = append(emails, fmt.Sprintf("user%d@x.com", i))
		}
		outcomes := fx.manager.IssueAll(context.Background(), emails)
		for _, o := range outcomes {
			assert.Equal(t, StatusSuccess, o.Status)
		}
		assert.Equal(t, 1, fx.certs.crlCalls)
		assert.Equal(t, 1, fx.reloader.calls)
	})

	t.Run("identity is normalized", func(t *testing.T) {
		fx := newFixture(t)
		outcomes := fx.manager.IssueAll(context.Background(), []string{"  Alice@Example.COM "})
		require.Len(t, outcomes, 1)
		assert.Equal(t, StatusSuccess, outcomes[0].Status)
		assert.Equal(t, "alice@example.com", outcomes[0].Identity)
	})

	t.Run("packaging failure yields error outcome", func(t *testing.T) {
		fx := newFixture(t)
		fx.packager.err = errors.New("7z missing")

		outcomes := fx.manager.IssueAll(context.Background(), []string{"a@x.com"})
		require.Len(t, outcomes, 1)
		assert.Equal(t, StatusError, outcomes[0].Status)
		assert.Equal(t, "profile packaging failed", outcomes[0].Message)
	})
}

func TestReissueRotatesPassphrase(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	first := fx.manager.IssueAll(ctx, []string{"alice@x.com"})
	second := fx.manager.IssueAll(ctx, []string{"alice@x.com"})
	require.Equal(t, StatusSuccess, first[0].Status)
	require.Equal(t, StatusSuccess, second[0].Status)

	passes := fx.packager.passphrases["alice@x.com"]
	require.Len(t, passes, 2)
	assert.NotEqual(t, passes[0], passes[1])
	assert.NotEqual(t, first[0].DownloadURL, second[0].DownloadURL)
}

func TestRevokeAll(t *testing.T) {
	t.Run("not found is an outcome, not a failure", func(t *testing.T) {
		fx := newFixture(t)

		outcomes := fx.manager.RevokeAll(context.Background(), []string{"ghost@x.com"})
		require.Len(t, outcomes, 1)
		assert.Equal(t, StatusError, outcomes[0].Status)
		assert.Equal(t, "certificate not found", outcomes[0].Message)
		assert.Zero(t, fx.certs.crlCalls)
		assert.Zero(t, fx.reloader.calls)
	})

	t.Run("mixed batch", func(t *testing.T) {
		fx := newFixture(t)
		ctx := context.Background()
		fx.manager.IssueAll(ctx, []string{"alice@x.com"})
		crlBefore := fx.certs.crlCalls

		outcomes := fx.manager.RevokeAll(ctx, []string{"alice@x.com", "ghost@x.com"})
		require.Len(t, outcomes, 2)
		assert.Equal(t, StatusSuccess, outcomes[0].Status)
		assert.Equal(t, StatusError, outcomes[1].Status)
		assert.Equal(t, crlBefore+1, fx.certs.crlCalls)
	})

	t.Run("reload failure does not fail the batch", func(t *testing.T) {
		fx := newFixture(t)
		ctx := context.Background()
		fx.manager.IssueAll(ctx, []string{"alice@x.com"})
		fx.reloader.err = errors.New("daemon gone")

		outcomes := fx.manager.RevokeAll(ctx, []string{"alice@x.com"})
		require.Len(t, outcomes, 1)
		assert.Equal(t, StatusSuccess, outcomes[0].Status)
	})
}

func TestSameIdentitySerialized(t *testing.T) {
	fx := newFixture(t)

	// Ten concurrent attempts on one identity; the keyed lock must keep
	// the store from ever seeing two at once.
	identities := make([]string, 10)
	for i := range identities {
		identities[i] = "alice@x.com"
	}
	outcomes := fx.manager.IssueAll(context.Background(), identities)
	for _, o := range outcomes {
		assert.Equal(t, StatusSuccess, o.Status)
	}
	assert.False(t, fx.certs.overlap, "same-identity mutations overlapped")
}
