package pki

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// ErrToolFailure is returned when an external tool invocation cannot be
// spawned or exits non-zero. The wrapped detail is for server-side logs;
// callers surface a generic failure.
var ErrToolFailure = errors.New("external tool failure")

// Runner invokes an external tool synchronously in a working directory.
// It exists as a seam so tests can substitute the easy-rsa binary.
type Runner interface {
	Run(ctx context.Context, dir, name string, args ...string) error
}

// ExecRunner runs tools via os/exec.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, dir, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		detail := strings.TrimSpace(stderr.String())
		if detail != "" {
			return fmt.Errorf("%w: %s %s: %v: %s", ErrToolFailure, name, strings.Join(args, " "), err, detail)
		}
		return fmt.Errorf("%w: %s %s: %v", ErrToolFailure, name, strings.Join(args, " "), err)
	}
	return nil
}
