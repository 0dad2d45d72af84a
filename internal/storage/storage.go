// Package storage resolves the opaque input/result references carried by
// jobs. A reference is a relative key into a blob store; the store is either
// a local directory or an S3-compatible bucket (R2, MinIO), selected by
// configuration.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/okuzmin/vectorize-api/internal/domain"
)

// ErrInvalidRef is returned for references that escape the store namespace.
var ErrInvalidRef = errors.New("invalid blob reference")

// Store is the narrow blob interface the rest of the system consumes.
type Store interface {
	// Fetch reads the blob at ref.
	Fetch(ctx context.Context, ref string) ([]byte, error)

	// Save writes a blob under ref, replacing any existing one.
	Save(ctx context.Context, ref string, data []byte, contentType string) error

	// Size returns the blob's size in bytes without reading it.
	Size(ctx context.Context, ref string) (int64, error)

	// Delete removes a blob; deleting an absent blob is not an error.
	Delete(ctx context.Context, ref string) error
}

// ValidateRef rejects empty references and path traversal.
func ValidateRef(ref string) error {
	if ref == "" {
		return fmt.Errorf("%w: %w: empty", domain.ErrValidation, ErrInvalidRef)
	}
	if strings.HasPrefix(ref, "/") || strings.Contains(ref, "..") {
		return fmt.Errorf("%w: %w: %q", domain.ErrValidation, ErrInvalidRef, ref)
	}
	return nil
}

// ReadAllAndClose drains a reader fully, always closing it.
func ReadAllAndClose(rc io.ReadCloser) ([]byte, error) {
	defer func() { _ = rc.Close() }()
	return io.ReadAll(rc)
}
