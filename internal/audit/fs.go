package audit

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FSBackend stores blobs below a root directory.
type FSBackend struct {
	root string
}

// NewFSBackend returns a backend rooted at dir. The directory is created on
// first write.
func NewFSBackend(dir string) *FSBackend {
	if strings.TrimSpace(dir) == "" {
		dir = "data/raw"
	}
	return &FSBackend{root: dir}
}

func (b *FSBackend) Name() string { return "fs" }

func (b *FSBackend) Put(ctx context.Context, key string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	target, err := b.resolve(key)
	if err != nil {
		return err
	}
	if existing, err := os.ReadFile(target); err == nil {
		if bytes.Equal(existing, data) {
			return nil
		}
		return fmt.Errorf("%w: %s", ErrBlobExists, key)
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("create audit dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(target), ".blob-*")
	if err != nil {
		return fmt.Errorf("create temp blob: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write blob: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close blob: %w", err)
	}
	return os.Rename(tmp.Name(), target)
}

func (b *FSBackend) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	target, err := b.resolve(key)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(target)
}

func (b *FSBackend) resolve(key string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(key))
	if clean == "." || filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", errors.New("audit key escapes root: " + key)
	}
	return filepath.Join(b.root, clean), nil
}

var _ Backend = (*FSBackend)(nil)
