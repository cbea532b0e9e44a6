package fleet

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// ErrInvalidIdentity indicates the requested identity is not an
// email-shaped string. Rejected before any external tool runs.
var ErrInvalidIdentity = errors.New("invalid email address")

// MaxIdentityLength bounds identities; the identity becomes a
// certificate CN and a filename, neither of which tolerates arbitrary
// length.
const MaxIdentityLength = 254

var identityRE = regexp.MustCompile(`^[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}$`)

// ValidateIdentity normalizes raw (NFKC, lowercase, trimmed) and checks
// the email shape. The normalized form is the canonical identity used
// for all PKI artifacts, archives and tokens.
func ValidateIdentity(raw string) (string, error) {
	identity := strings.ToLower(strings.TrimSpace(norm.NFKC.String(raw)))
	if identity == "" {
		return "", fmt.Errorf("%w: empty identity", ErrInvalidIdentity)
	}
	if len(identity) > MaxIdentityLength {
		return "", fmt.Errorf("%w: identity exceeds %d characters", ErrInvalidIdentity, MaxIdentityLength)
	}
	if !identityRE.MatchString(identity) {
		return "", fmt.Errorf("%w: %q", ErrInvalidIdentity, identity)
	}
	return identity, nil
}
