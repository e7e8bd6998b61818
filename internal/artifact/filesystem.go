// Package artifact stores the mirrored snapshot document.
package artifact

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"flightdeck/internal/deck"
)

// FileSystemSink writes artifacts as files under a directory.
type FileSystemSink struct {
	dir string
}

var _ deck.ArtifactSink = (*FileSystemSink)(nil)

// NewFileSystemSink creates a sink rooted at dir, creating it if needed.
func NewFileSystemSink(dir string) (*FileSystemSink, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create artifact directory: %w", err)
	}
	return &FileSystemSink{dir: dir}, nil
}

// Path returns where key is stored.
func (s *FileSystemSink) Path(key string) string {
	return filepath.Join(s.dir, key)
}

// Put replaces the file for key using an atomic write (temp file + rename),
// so readers never observe a partial document.
func (s *FileSystemSink) Put(_ context.Context, key string, r io.Reader, size int64) error {
	if key == "" || strings.Contains(key, "..") {
		return fmt.Errorf("invalid artifact key: %q", key)
	}
	destPath := s.Path(key)
	dir := filepath.Dir(destPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create artifact directory: %w", err)
	}

	tmpFile, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	written, err := io.Copy(tmpFile, r)
	if err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to write data: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if written != size {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, written)
	}
	if err := os.Rename(tmpPath, destPath); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	success = true
	return nil
}

// Get copies the stored artifact for key to w.
func (s *FileSystemSink) Get(key string, w io.Writer) error {
	f, err := os.Open(s.Path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("artifact not found: %s", key)
		}
		return fmt.Errorf("failed to open artifact: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("failed to read artifact: %w", err)
	}
	return nil
}

// ValidateSetup verifies that the artifact directory exists and is writable.
func (s *FileSystemSink) ValidateSetup() error {
	info, err := os.Stat(s.dir)
	if err != nil {
		return fmt.Errorf("artifact directory not accessible: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("artifact path is not a directory: %s", s.dir)
	}
	probe, err := os.CreateTemp(s.dir, ".probe-*")
	if err != nil {
		return fmt.Errorf("artifact directory not writable: %w", err)
	}
	probe.Close()
	return os.Remove(probe.Name())
}
