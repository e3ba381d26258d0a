package blob

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"easyagent/internal/domain"
)

// FileStore implements domain.BlobStore on the local filesystem. Each blob
// gets a ULID identifier; the original name survives as a sanitized suffix
// so directory listings stay readable.
type FileStore struct {
	dir string

	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
}

// NewFileStore creates the storage directory if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create blob dir: %w", err)
	}
	return &FileStore{
		dir:     dir,
		entropy: ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0),
	}, nil
}

// Put stores data under a fresh identifier and returns it.
func (s *FileStore) Put(_ context.Context, name string, data []byte) (string, error) {
	s.mu.Lock()
	id := ulid.MustNew(ulid.Timestamp(time.Now()), s.entropy).String()
	s.mu.Unlock()

	if suffix := sanitizeName(name); suffix != "" {
		id = id + "_" + suffix
	}
	if err := os.WriteFile(filepath.Join(s.dir, id), data, 0o640); err != nil {
		return "", fmt.Errorf("write blob: %w", err)
	}
	return id, nil
}

// Get returns the blob's contents or ErrBlobNotFound.
func (s *FileStore) Get(_ context.Context, id string) ([]byte, error) {
	path, err := s.resolve(id)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, domain.ErrBlobNotFound
	}
	return data, err
}

// Delete removes the blob; deleting an absent blob returns ErrBlobNotFound.
func (s *FileStore) Delete(_ context.Context, id string) error {
	path, err := s.resolve(id)
	if err != nil {
		return err
	}
	if err := os.Remove(path); os.IsNotExist(err) {
		return domain.ErrBlobNotFound
	} else if err != nil {
		return err
	}
	return nil
}

// resolve rejects identifiers that would escape the storage directory.
func (s *FileStore) resolve(id string) (string, error) {
	if id == "" || strings.ContainsAny(id, "/\\") || id == "." || id == ".." {
		return "", fmt.Errorf("invalid blob id %q", id)
	}
	return filepath.Join(s.dir, id), nil
}

// sanitizeName reduces a blob name to a safe filename suffix.
func sanitizeName(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '.' || r == '-' || r == '_':
			b.WriteRune(r)
		}
	}
	const maxSuffix = 64
	out := b.String()
	if len(out) > maxSuffix {
		out = out[len(out)-maxSuffix:]
	}
	return strings.Trim(out, ".")
}

// Compile-time interface check.
var _ domain.BlobStore = (*FileStore)(nil)
