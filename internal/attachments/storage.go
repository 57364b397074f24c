package attachments

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Storage abstracts the blob store behind attachment metadata.
type Storage interface {
	Save(name string, r io.Reader) (int64, error)
	Open(name string) (io.ReadSeekCloser, error)
	Remove(name string) error
}

// DiskStorage stores attachment blobs as flat files under a base directory.
// Names are opaque and generated by the service, never taken from uploads.
type DiskStorage struct {
	baseDir string
}

// NewDiskStorage creates the base directory if needed.
func NewDiskStorage(baseDir string) (*DiskStorage, error) {
	if err := os.MkdirAll(baseDir, 0o750); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	return &DiskStorage{baseDir: baseDir}, nil
}

// Save writes the blob and returns the number of bytes stored.
func (s *DiskStorage) Save(name string, r io.Reader) (int64, error) {
	path := filepath.Join(s.baseDir, name)

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640)
	if err != nil {
		return 0, fmt.Errorf("create blob: %w", err)
	}

	written, err := io.Copy(f, r)
	if err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return 0, fmt.Errorf("write blob: %w", err)
	}

	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return 0, fmt.Errorf("close blob: %w", err)
	}
	return written, nil
}

// Open returns a reader over a stored blob.
func (s *DiskStorage) Open(name string) (io.ReadSeekCloser, error) {
	f, err := os.Open(filepath.Join(s.baseDir, name))
	if err != nil {
		return nil, fmt.Errorf("open blob: %w", err)
	}
	return f, nil
}

// Remove deletes a stored blob. Missing blobs are not an error; the
// metadata row is the source of truth.
func (s *DiskStorage) Remove(name string) error {
	err := os.Remove(filepath.Join(s.baseDir, name))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove blob: %w", err)
	}
	return nil
}
