package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/okuzmin/vectorize-api/internal/domain"
)

// LocalStore keeps blobs under a base directory, one file per reference.
type LocalStore struct {
	baseDir string
}

// NewLocalStore creates the base directory if needed.
func NewLocalStore(baseDir string) (*LocalStore, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	return &LocalStore{baseDir: baseDir}, nil
}

func (s *LocalStore) path(ref string) (string, error) {
	if err := ValidateRef(ref); err != nil {
		return "", err
	}
	return filepath.Join(s.baseDir, filepath.FromSlash(ref)), nil
}

// Fetch reads the blob at ref.
func (s *LocalStore) Fetch(ctx context.Context, ref string) ([]byte, error) {
	p, err := s.path(ref)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: blob %q", domain.ErrNotFound, ref)
		}
		return nil, fmt.Errorf("failed to read blob %q: %w", ref, err)
	}
	return data, nil
}

// Save writes a blob under ref, creating parent directories as needed. The
// content type is ignored for local files.
func (s *LocalStore) Save(ctx context.Context, ref string, data []byte, contentType string) error {
	p, err := s.path(ref)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("failed to create blob directory: %w", err)
	}
	if err := os.WriteFile(p, data, 0o644); err != nil {
		return fmt.Errorf("failed to write blob %q: %w", ref, err)
	}
	return nil
}

// Size returns the blob's size in bytes.
func (s *LocalStore) Size(ctx context.Context, ref string) (int64, error) {
	p, err := s.path(ref)
	if err != nil {
		return 0, err
	}
	info, err := os.Stat(p)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, fmt.Errorf("%w: blob %q", domain.ErrNotFound, ref)
		}
		return 0, fmt.Errorf("failed to stat blob %q: %w", ref, err)
	}
	return info.Size(), nil
}

// Delete removes a blob; an absent blob is not an error.
func (s *LocalStore) Delete(ctx context.Context, ref string) error {
	p, err := s.path(ref)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete blob %q: %w", ref, err)
	}
	return nil
}
