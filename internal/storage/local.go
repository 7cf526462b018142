package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// LocalStoreOptions configures a LocalStore.
type LocalStoreOptions struct {
	Dir string
}

// LocalStore keeps artifacts on the local filesystem.
type LocalStore struct {
	dir string
}

// NewLocalStore constructs a LocalStore, creating the directory if needed.
func NewLocalStore(opts LocalStoreOptions) (*LocalStore, error) {
	if strings.TrimSpace(opts.Dir) == "" {
		return nil, errors.New("storage directory is required")
	}
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create storage directory: %w", err)
	}
	return &LocalStore{dir: opts.Dir}, nil
}

// Put writes the artifact and returns its reference (the file name).
func (s *LocalStore) Put(ctx context.Context, name, contentType string, body []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	clean, err := s.safePath(name)
	if err != nil {
		return "", err
	}
	if writeErr := os.WriteFile(clean, body, 0o644); writeErr != nil {
		return "", fmt.Errorf("write artifact: %w", writeErr)
	}
	return name, nil
}

// Get reads an artifact back by its reference.
func (s *LocalStore) Get(ctx context.Context, ref string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	clean, err := s.safePath(ref)
	if err != nil {
		return nil, err
	}
	body, readErr := os.ReadFile(clean)
	if readErr != nil {
		return nil, fmt.Errorf("read artifact: %w", readErr)
	}
	return body, nil
}

// safePath rejects references that would escape the storage directory.
func (s *LocalStore) safePath(name string) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", errors.New("artifact name is required")
	}
	clean := filepath.Clean(name)
	if clean != filepath.Base(clean) {
		return "", fmt.Errorf("invalid artifact name: %s", name)
	}
	return filepath.Join(s.dir, clean), nil
}
