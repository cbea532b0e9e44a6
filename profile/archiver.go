package profile

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
)

// ErrArchiverFailure is returned when the external archiver cannot be
// spawned or exits non-zero.
var ErrArchiverFailure = errors.New("archiver failure")

// Archiver produces and unpacks password-protected archives. It exists
// as a seam so tests can substitute the 7z binary.
type Archiver interface {
	// Create packs inputs (paths relative to dir) into a
	// metadata-obscuring archive at archivePath keyed by password.
	Create(ctx context.Context, dir, password, archivePath string, inputs ...string) error
	// Extract streams a single member of archivePath to w.
	Extract(ctx context.Context, password, archivePath, member string, w io.Writer) error
}

// SevenZip drives the 7z command line tool.
type SevenZip struct{}

func (SevenZip) Create(ctx context.Context, dir, password, archivePath string, inputs ...string) error {
	// -mhe=on encrypts the archive header so member names leak nothing.
	args := append([]string{"a", "-t7z", "-mhe=on", "-p" + password, archivePath}, inputs...)
	cmd := exec.CommandContext(ctx, "7z", args...)
	cmd.Dir = dir
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return archiverError("7z a", err, stderr.String())
	}
	return nil
}

func (SevenZip) Extract(ctx context.Context, password, archivePath, member string, w io.Writer) error {
	cmd := exec.CommandContext(ctx, "7z", "x", "-so", "-p"+password, archivePath, member)
	cmd.Stdout = w
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return archiverError("7z x", err, stderr.String())
	}
	return nil
}

func archiverError(op string, err error, stderr string) error {
	detail := strings.TrimSpace(stderr)
	if detail != "" {
		return fmt.Errorf("%w: %s: %v: %s", ErrArchiverFailure, op, err, detail)
	}
	return fmt.Errorf("%w: %s: %v", ErrArchiverFailure, op, err)
}
