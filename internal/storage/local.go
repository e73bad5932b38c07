package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// LocalStore writes uploads below a root directory served at PublicPrefix
type LocalStore struct {
	root         string
	publicPrefix string
}

// NewLocalStore creates the root directory if needed
func NewLocalStore(root, publicPrefix string) (*LocalStore, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve upload root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create upload root: %w", err)
	}
	prefix := "/" + strings.Trim(publicPrefix, "/")
	return &LocalStore{root: abs, publicPrefix: prefix}, nil
}

// Root returns the directory files are written to
func (s *LocalStore) Root() string {
	return s.root
}

// PublicPrefix returns the URL path the root is served under
func (s *LocalStore) PublicPrefix() string {
	return s.publicPrefix
}

func (s *LocalStore) Put(ctx context.Context, key, contentType string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	key = strings.TrimPrefix(path.Clean("/"+key), "/")
	full, err := s.resolve(key)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", fmt.Errorf("create upload dir: %w", err)
	}
	if err := os.WriteFile(full, data, 0o644); err != nil {
		return "", fmt.Errorf("write upload: %w", err)
	}
	return path.Join(s.publicPrefix, key), nil
}

// Delete removes the file behind ref; a missing file is not an error
func (s *LocalStore) Delete(ctx context.Context, ref string) error {
	key := strings.TrimPrefix(ref, s.publicPrefix+"/")
	if key == ref {
		return fmt.Errorf("reference %q is not managed by this store", ref)
	}
	full, err := s.resolve(key)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove upload: %w", err)
	}
	return nil
}

// resolve maps a key to a path and refuses anything escaping the root
func (s *LocalStore) resolve(key string) (string, error) {
	full := filepath.Join(s.root, filepath.FromSlash(path.Clean("/"+key)))
	if !strings.HasPrefix(full, s.root+string(filepath.Separator)) {
		return "", fmt.Errorf("invalid key %q", key)
	}
	return full, nil
}
