// Package logging implements the size-bounded rotating log file
// golibs/log writes to when a log file is configured: once the current
// file reaches its size limit, it's renamed aside (keeping a fixed
// number of generations) and a fresh file is opened in its place.
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// RotatingFile is an io.Writer that rotates the underlying file by size.
// It is safe for concurrent use, matching golibs/log's expectation that
// SetOutput's writer tolerates concurrent log calls.
type RotatingFile struct {
	mu sync.Mutex

	path    string
	maxSize int64
	maxGen  uint64
	mode    os.FileMode

	f    *os.File
	size int64
}

// Open opens (creating if needed) the rotating file at path. maxSize
// bounds each generation's size before rotation; maxGen bounds how many
// rotated-aside generations are kept (path.1, path.2, ... up to maxGen).
func Open(path string, maxSize int64, maxGen uint64, mode os.FileMode) (*RotatingFile, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("logging: creating directory for %s: %w", path, err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, mode)
	if err != nil {
		return nil, fmt.Errorf("logging: opening %s: %w", path, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("logging: stat %s: %w", path, err)
	}

	return &RotatingFile{
		path:    path,
		maxSize: maxSize,
		maxGen:  maxGen,
		mode:    mode,
		f:       f,
		size:    info.Size(),
	}, nil
}

// Write implements io.Writer, rotating the file first if p would push it
// past maxSize.
func (r *RotatingFile) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.maxSize > 0 && r.size+int64(len(p)) > r.maxSize {
		if err := r.rotateLocked(); err != nil {
			return 0, err
		}
	}

	n, err := r.f.Write(p)
	r.size += int64(n)
	return n, err
}

// Close closes the underlying file.
func (r *RotatingFile) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.f.Close()
}

// rotateLocked renames the current file through path.1..path.maxGen
// (oldest generation is discarded) and opens a fresh file in its place.
// Callers must hold r.mu.
func (r *RotatingFile) rotateLocked() error {
	if err := r.f.Close(); err != nil {
		return fmt.Errorf("logging: closing %s before rotation: %w", r.path, err)
	}

	if r.maxGen > 0 {
		oldest := fmt.Sprintf("%s.%d", r.path, r.maxGen)
		_ = os.Remove(oldest)

		for gen := r.maxGen - 1; gen >= 1; gen-- {
			from := fmt.Sprintf("%s.%d", r.path, gen)
			to := fmt.Sprintf("%s.%d", r.path, gen+1)
			if _, err := os.Stat(from); err == nil {
				_ = os.Rename(from, to)
			}
			if gen == 1 {
				break
			}
		}
		_ = os.Rename(r.path, fmt.Sprintf("%s.1", r.path))
	}

	f, err := os.OpenFile(r.path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, r.mode)
	if err != nil {
		return fmt.Errorf("logging: reopening %s after rotation: %w", r.path, err)
	}
	r.f = f
	r.size = 0
	return nil
}
