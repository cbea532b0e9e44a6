// Package auth verifies administrator credentials and issues short-lived
// session assertions for the privileged endpoints. Sessions are
// stateless: a signed, time-boxed claim of the admin user with no
// server-side revocation list.
package auth

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
	"golang.org/x/crypto/bcrypt"
)

// ErrUnauthorized is returned for every authentication failure. Callers
// must not learn whether the user, the password, the signature or the
// expiry was at fault.
var ErrUnauthorized = errors.New("unauthorized")

// Verifier checks admin credentials and signs session tokens.
type Verifier struct {
	adminUser string
	adminPass string
	secret    *memguard.Enclave
	ttl       time.Duration
	now       func() time.Time
}

// Option customizes a Verifier.
type Option func(*Verifier)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(v *Verifier) { v.now = now }
}

// NewVerifier creates a Verifier for the configured admin identity.
// adminPass may be a bcrypt hash (recognised by its "$2" prefix) or a
// plain value compared in constant time.
func NewVerifier(adminUser, adminPass string, secret *memguard.Enclave, ttl time.Duration, opts ...Option) *Verifier {
	v := &Verifier{
		adminUser: adminUser,
		adminPass: adminPass,
		secret:    secret,
		ttl:       ttl,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Login checks the credential pair and issues a session token. Failure
// is uniform: bad user and bad password are indistinguishable.
func (v *Verifier) Login(user, pass string) (string, error) {
	userOK := subtle.ConstantTimeCompare([]byte(user), []byte(v.adminUser)) == 1
	if !userOK || !v.passwordMatches(pass) {
		return "", ErrUnauthorized
	}

	expiresAt := v.now().Add(v.ttl)
	payload := fmt.Sprintf("%s:%d", user, expiresAt.Unix())
	mac, err := v.sign(payload)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString([]byte(payload + "." + mac)), nil
}

// Authorize validates a session token and returns the admin user it
// asserts. A valid signature over the wrong subject is still rejected.
func (v *Verifier) Authorize(sessionToken string) (string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(sessionToken)
	if err != nil {
		return "", ErrUnauthorized
	}
	sep := strings.LastIndex(string(raw), ".")
	if sep < 0 {
		return "", ErrUnauthorized
	}
	payload := string(raw[:sep])
	mac := string(raw[sep+1:])

	expected, err := v.sign(payload)
	if err != nil {
		return "", err
	}
	if len(mac) != len(expected) ||
		subtle.ConstantTimeCompare([]byte(mac), []byte(expected)) != 1 {
		return "", ErrUnauthorized
	}

	user, expStr, ok := cutLast(payload, ":")
	if !ok {
		return "", ErrUnauthorized
	}
	exp, err := strconv.ParseInt(expStr, 10, 64)
	if err != nil {
		return "", ErrUnauthorized
	}
	if v.now().After(time.Unix(exp, 0)) {
		return "", ErrUnauthorized
	}
	if subtle.ConstantTimeCompare([]byte(user), []byte(v.adminUser)) != 1 {
		return "", ErrUnauthorized
	}
	return user, nil
}

func (v *Verifier) passwordMatches(pass string) bool {
	if strings.HasPrefix(v.adminPass, "$2") {
		return bcrypt.CompareHashAndPassword([]byte(v.adminPass), []byte(pass)) == nil
	}
	return subtle.ConstantTimeCompare([]byte(pass), []byte(v.adminPass)) == 1
}

// sign keys the session MAC with a domain-separated derivative of the
// process secret so session tokens and download capabilities can never
// be substituted for one another.
func (v *Verifier) sign(payload string) (string, error) {
	key, err := v.secret.Open()
	if err != nil {
		return "", fmt.Errorf("opening signing secret: %w", err)
	}
	defer key.Destroy()

	mac := hmac.New(sha256.New, key.Bytes())
	mac.Write([]byte("admin-session\x00"))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil)), nil
}

func cutLast(s, sep string) (before, after string, found bool) {
	i := strings.LastIndex(s, sep)
	if i < 0 {
		return s, "", false
	}
	return s[:i], s[i+len(sep):], true
}
