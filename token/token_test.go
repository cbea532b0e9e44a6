package token

import (
	"encoding/base64"
	"strings"
	"testing"
	"time"

	"github.com/awnumar/memguard"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCodec(t *testing.T, maxAge time.Duration, opts ...Option) *Codec {
	t.Helper()
	secret := memguard.NewEnclave([]byte("test-signing-secret"))
	return NewCodec(secret, maxAge, opts...)
}

func TestMintVerifyRoundTrip(t *testing.T) {
	c := newTestCodec(t, 24*time.Hour)

	for _, identity := range []string{
		"alice@example.com",
		"bob.smith+vpn@corp.example.org",
		"x@y.io",
	} {
		capability, err := c.Mint(identity)
		require.NoError(t, err)

		got, err := c.Verify(capability.Bearer())
		require.NoError(t, err)
		assert.Equal(t, identity, got.Identity())
	}
}

func TestCapabilityDualRole(t *testing.T) {
	c := newTestCodec(t, time.Hour)
	capability, err := c.Mint("alice@example.com")
	require.NoError(t, err)

	// The bearer credential and the archive passphrase are views over
	// the same underlying secret string.
	assert.Equal(t, capability.Bearer(), capability.Passphrase())
	assert.NotEmpty(t, capability.Bearer())
}

func TestVerifyExpired(t *testing.T) {
	past := time.Now().Add(-48 * time.Hour)
	minter := newTestCodec(t, 24*time.Hour, WithClock(func() time.Time { return past }))

	// Valid MAC, artificially old timestamp.
	capability, err := minter.Mint("alice@example.com")
	require.NoError(t, err)

	verifier := newTestCodec(t, 24*time.Hour)
	_, err = verifier.Verify(capability.Bearer())
	assert.ErrorIs(t, err, ErrExpired)
}

func TestVerifyTamperedSignature(t *testing.T) {
	c := newTestCodec(t, time.Hour)
	capability, err := c.Mint("alice@example.com")
	require.NoError(t, err)

	raw, err := base64.RawURLEncoding.DecodeString(capability.Bearer())
	require.NoError(t, err)
	sep := strings.LastIndex(string(raw), ".")
	require.Greater(t, sep, 0)

	// Flipping any single signature character must be rejected as a
	// signature mismatch, wherever the flip lands.
	for i := sep + 1; i < len(raw); i++ {
		mutated := make([]byte, len(raw))
		copy(mutated, raw)
		if mutated[i] == 'a' {
			mutated[i] = 'b'
		} else {
			mutated[i] = 'a'
		}
		_, err := c.Verify(base64.RawURLEncoding.EncodeToString(mutated))
		assert.ErrorIs(t, err, ErrBadSignature, "flip at offset %d", i)
	}
}

func TestVerifyTamperedPayload(t *testing.T) {
	c := newTestCodec(t, time.Hour)
	capability, err := c.Mint("alice@example.com")
	require.NoError(t, err)

	raw, err := base64.RawURLEncoding.DecodeString(capability.Bearer())
	require.NoError(t, err)
	mutated := strings.Replace(string(raw), "alice", "mallory", 1)

	_, err = c.Verify(base64.RawURLEncoding.EncodeToString([]byte(mutated)))
	assert.ErrorIs(t, err, ErrBadSignature)
}

func TestVerifyMalformed(t *testing.T) {
	c := newTestCodec(t, time.Hour)

	t.Run("not base64url", func(t *testing.T) {
		_, err := c.Verify("!!not-base64!!")
		assert.ErrorIs(t, err, ErrMalformed)
	})

	t.Run("no signature separator", func(t *testing.T) {
		_, err := c.Verify(base64.RawURLEncoding.EncodeToString([]byte("1700000000:alice-at-example")))
		assert.ErrorIs(t, err, ErrMalformed)
	})

	t.Run("identity dot mistaken for separator", func(t *testing.T) {
		// The split lands inside ".com"; the leftover "com" can never
		// match a full-length MAC and is rejected as a bad signature.
		_, err := c.Verify(base64.RawURLEncoding.EncodeToString([]byte("1700000000:alice@example.com")))
		assert.ErrorIs(t, err, ErrBadSignature)
	})

	t.Run("empty", func(t *testing.T) {
		_, err := c.Verify("")
		assert.ErrorIs(t, err, ErrMalformed)
	})
}

func TestVerifyWrongSecret(t *testing.T) {
	minter := newTestCodec(t, time.Hour)
	capability, err := minter.Mint("alice@example.com")
	require.NoError(t, err)

	other := NewCodec(memguard.NewEnclave([]byte("different-secret")), time.Hour)
	_, err = other.Verify(capability.Bearer())
	assert.ErrorIs(t, err, ErrBadSignature)
}
