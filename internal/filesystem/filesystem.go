package filesystem

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/NamanBalaji/segdl/internal/logger"
)

const maxRenameAttempts = 10_000

var ErrNoFreeName = errors.New("no free file name found")

// FileSystem allocates and reopens the files downloads are written to.
type FileSystem interface {
	Allocate(path string, size int64) (*SharedFile, string, error)
	Reopen(path string) (*SharedFile, error)
}

// OSFileSystem implements FileSystem on the local disk.
type OSFileSystem struct{}

// NewOSFileSystem creates a new OS filesystem
func NewOSFileSystem() *OSFileSystem {
	return &OSFileSystem{}
}

// Allocate creates the target file, sized to size bytes, creating parent
// directories as needed. If path is taken it tries "name(1).ext", "name(2).ext",
// ... and returns the name it actually used.
func (fs *OSFileSystem) Allocate(path string, size int64) (*SharedFile, string, error) {
	if err := fs.EnsureDirectory(filepath.Dir(path)); err != nil {
		return nil, "", err
	}

	candidate := path
	for i := 1; ; i++ {
		f, err := os.OpenFile(candidate, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			if size > 0 {
				if err := f.Truncate(size); err != nil {
					_ = f.Close()
					_ = os.Remove(candidate)
					return nil, "", fmt.Errorf("pre-sizing %s: %w", candidate, err)
				}
			}

			if candidate != path {
				logger.Infof("%s already exists, downloading to %s", path, candidate)
			}

			return &SharedFile{f: f}, candidate, nil
		}

		if !errors.Is(err, os.ErrExist) {
			return nil, "", err
		}

		if i > maxRenameAttempts {
			return nil, "", fmt.Errorf("%w for %s", ErrNoFreeName, path)
		}

		candidate = numberedName(path, i)
	}
}

// Reopen opens an existing target for further writes without truncating it.
func (fs *OSFileSystem) Reopen(path string) (*SharedFile, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		return nil, err
	}

	return &SharedFile{f: f}, nil
}

func numberedName(path string, n int) string {
	dir, base := filepath.Split(path)
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)

	return filepath.Join(dir, fmt.Sprintf("%s(%d)%s", stem, n, ext))
}

// DeleteFile deletes a file
func (fs *OSFileSystem) DeleteFile(path string) error {
	return os.Remove(path)
}

// EnsureDirectory ensures a directory exists
func (fs *OSFileSystem) EnsureDirectory(path string) error {
	return os.MkdirAll(path, 0o755)
}

// FileExists checks if a file exists
func (fs *OSFileSystem) FileExists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

// SharedFile is one output handle written by many segment workers. Every write
// seeks and writes under a single lock so workers never race on the file cursor.
type SharedFile struct {
	mu sync.Mutex
	f  *os.File
}

// WriteAt seeks to off and writes p.
func (s *SharedFile) WriteAt(p []byte, off int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.f.Seek(off, io.SeekStart); err != nil {
		return 0, err
	}

	return s.f.Write(p)
}

func (s *SharedFile) Name() string {
	return s.f.Name()
}

// Close flushes and closes the handle.
func (s *SharedFile) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return errors.Join(s.f.Sync(), s.f.Close())
}
