package tailer

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Filesystem is the file access the tailer needs. Reads address a byte
// range directly so the file never has to be rewound.
type Filesystem interface {
	Stat(path string) (int64, error)
	ReadRange(path string, offset, length int64) ([]byte, error)
	Exists(path string) (bool, error)
	CreateFile(path string) error
}

// OSFilesystem implements Filesystem on the local disk
type OSFilesystem struct{}

// Stat returns the current size of path
func (OSFilesystem) Stat(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	if info.IsDir() {
		return 0, fmt.Errorf("%s is a directory", path)
	}
	return info.Size(), nil
}

// ReadRange reads up to length bytes starting at offset. A short read caused
// by the file shrinking in between returns what was available.
func (OSFilesystem) ReadRange(path string, offset, length int64) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	buf := make([]byte, length)
	n, err := f.ReadAt(buf, offset)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return buf[:n], nil
}

// Exists reports whether path exists
func (OSFilesystem) Exists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, err
}

// CreateFile creates an empty file and its parent directories
func (OSFilesystem) CreateFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to create log file: %w", err)
	}
	return f.Close()
}
