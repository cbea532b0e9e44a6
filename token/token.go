// Package token implements the self-verifying download capability. A
// capability is minted per issuance, never stored server-side, and is
// both the bearer credential for the download endpoint and the
// passphrase for the packaged archive. Verification is a pure function
// of the signing secret and the clock.
package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/awnumar/memguard"
)

var (
	// ErrMalformed indicates the token could not be decoded into a
	// payload and signature.
	ErrMalformed = errors.New("malformed token")
	// ErrBadSignature indicates the embedded MAC does not match the
	// recomputed one.
	ErrBadSignature = errors.New("token signature mismatch")
	// ErrExpired indicates the token's age exceeds the configured
	// maximum.
	ErrExpired = errors.New("token expired")
)

// Capability is the two-role view over one minted secret: the same
// encoded string acts as the bearer credential for the download URL and
// as the symmetric passphrase for the delivered archive. Keeping both
// roles on one value makes the dual use an explicit contract.
type Capability struct {
	identity string
	issuedAt time.Time
	encoded  string
}

// Identity returns the client identity the capability was minted for.
func (c Capability) Identity() string { return c.identity }

// IssuedAt returns the mint time recorded in the payload.
func (c Capability) IssuedAt() time.Time { return c.issuedAt }

// Bearer returns the capability in its URL-credential role.
func (c Capability) Bearer() string { return c.encoded }

// Passphrase returns the capability in its archive-passphrase role.
func (c Capability) Passphrase() string { return c.encoded }

// Codec mints and verifies capabilities with a process-wide secret.
type Codec struct {
	secret *memguard.Enclave
	maxAge time.Duration
	now    func() time.Time
}

// Option customizes a Codec.
type Option func(*Codec)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Codec) { c.now = now }
}

// NewCodec creates a Codec signing with the given sealed secret.
func NewCodec(secret *memguard.Enclave, maxAge time.Duration, opts ...Option) *Codec {
	c := &Codec{
		secret: secret,
		maxAge: maxAge,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Mint issues a capability for identity at the current time. It has no
// side effects; the result is a pure function of clock and secret.
func (c *Codec) Mint(identity string) (Capability, error) {
	issuedAt := c.now()
	payload := fmt.Sprintf("%d:%s", issuedAt.Unix(), identity)
	mac, err := c.sign(payload)
	if err != nil {
		return Capability{}, err
	}
	raw := payload + "." + mac
	return Capability{
		identity: identity,
		issuedAt: issuedAt,
		encoded:  base64.RawURLEncoding.EncodeToString([]byte(raw)),
	}, nil
}

// Verify decodes and validates a bearer string, returning the embedded
// capability. Failures are distinguished (ErrMalformed, ErrBadSignature,
// ErrExpired) so callers can log the cause; the HTTP layer collapses
// them into one generic response to avoid a forgery oracle.
func (c *Codec) Verify(bearer string) (Capability, error) {
	raw, err := base64.RawURLEncoding.DecodeString(bearer)
	if err != nil {
		return Capability{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	sep := strings.LastIndex(string(raw), ".")
	if sep < 0 {
		return Capability{}, fmt.Errorf("%w: missing signature separator", ErrMalformed)
	}
	payload := string(raw[:sep])
	mac := string(raw[sep+1:])

	expected, err := c.sign(payload)
	if err != nil {
		return Capability{}, err
	}
	// Equal-length precondition for the constant-time compare: a length
	// mismatch is itself a rejection, not a panic.
	if len(mac) != len(expected) ||
		subtle.ConstantTimeCompare([]byte(mac), []byte(expected)) != 1 {
		return Capability{}, ErrBadSignature
	}

	tsStr, identity, ok := strings.Cut(payload, ":")
	if !ok {
		return Capability{}, fmt.Errorf("%w: missing payload separator", ErrMalformed)
	}
	ts, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		return Capability{}, fmt.Errorf("%w: bad timestamp", ErrMalformed)
	}
	issuedAt := time.Unix(ts, 0)
	if c.now().Sub(issuedAt) > c.maxAge {
		return Capability{}, ErrExpired
	}

	return Capability{
		identity: identity,
		issuedAt: issuedAt,
		encoded:  bearer,
	}, nil
}

func (c *Codec) sign(payload string) (string, error) {
	key, err := c.secret.Open()
	if err != nil {
		return "", fmt.Errorf("opening signing secret: %w", err)
	}
	defer key.Destroy()

	mac := hmac.New(sha256.New, key.Bytes())
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil)), nil
}
