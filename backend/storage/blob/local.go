// Package blob stores uploaded sound clips on the local filesystem. The hub
// treats clip storage as a black box; this is the single-process stand-in.
package blob

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

type LocalStore struct {
	dir string
}

func NewLocalStore(dir string) (*LocalStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &LocalStore{dir: dir}, nil
}

// Save writes the clip under a uuid-prefixed sanitized filename and returns
// the stored filename and byte count.
func (s *LocalStore) Save(originalName string, r io.Reader) (string, int64, error) {
	name := uuid.NewString() + "-" + sanitizeFilename(originalName)

	f, err := os.Create(filepath.Join(s.dir, name))
	if err != nil {
		return "", 0, fmt.Errorf("create clip file: %w", err)
	}
	defer f.Close()

	n, err := io.Copy(f, r)
	if err != nil {
		_ = os.Remove(f.Name())
		return "", 0, fmt.Errorf("write clip file: %w", err)
	}
	return name, n, nil
}

// Dir is the directory clips are stored in. Serving happens statically
// straight from this directory, not through the store.
func (s *LocalStore) Dir() string {
	return s.dir
}

// sanitizeFilename strips directory components and path separators so an
// uploaded name cannot escape the storage dir.
func sanitizeFilename(name string) string {
	clean := filepath.Base(filepath.Clean(name))
	clean = strings.ReplaceAll(clean, "/", "_")
	clean = strings.ReplaceAll(clean, "\\", "_")
	if clean == "." || clean == ".." || clean == "" {
		return "unnamed"
	}
	return clean
}
