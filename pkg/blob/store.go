// Package blob provides the UUID-keyed file-copy blob store used as the
// optional secondary home for evidence files.
package blob

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/entrhq/replay/pkg/logging"
)

// FileStore copies files into a directory under generated UUID keys.
type FileStore struct {
	dir string
	log logging.Logger
}

// NewFileStore creates a blob store rooted at dir.
func NewFileStore(dir string, log logging.Logger) *FileStore {
	return &FileStore{dir: dir, log: log}
}

// Store copies the file at path into the blob directory and returns the
// generated external id. The original file is left in place.
func (s *FileStore) Store(path string) (string, error) {
	if err := os.MkdirAll(s.dir, 0o750); err != nil {
		return "", fmt.Errorf("failed to create blob directory %s: %w", s.dir, err)
	}

	src, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open source file: %w", err)
	}
	defer src.Close()

	id := uuid.New().String()
	target := filepath.Join(s.dir, id+filepath.Ext(path))

	dst, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return "", fmt.Errorf("failed to create blob file: %w", err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		os.Remove(target)
		return "", fmt.Errorf("failed to copy into blob store: %w", err)
	}

	s.log.Debugf("stored %s as blob %s", path, id)
	return id, nil
}

// Path returns the on-disk location for an external id with the given
// extension, for callers that need to read a blob back.
func (s *FileStore) Path(id, ext string) string {
	return filepath.Join(s.dir, id+ext)
}
