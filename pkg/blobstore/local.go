package blobstore

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/afero"
)

// Local stores blobs on a filesystem rooted at a single directory. The
// afero abstraction lets tests swap in a memory-backed filesystem.
type Local struct {
	fs afero.Fs
}

// NewLocal creates a directory-rooted store, creating the directory if
// needed.
func NewLocal(dir string) (*Local, error) {
	if dir == "" {
		return nil, fmt.Errorf("local blob store directory is required")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("error creating blob store directory: %w", err)
	}
	return &Local{
		fs: afero.NewBasePathFs(afero.NewOsFs(), dir),
	}, nil
}

// NewMemory creates an in-memory store for tests.
func NewMemory() *Local {
	return &Local{fs: afero.NewMemMapFs()}
}

// Put writes the blob under name.
func (l *Local) Put(ctx context.Context, name string, r io.Reader) (int64, error) {
	f, err := l.fs.OpenFile(name, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o640)
	if err != nil {
		return 0, fmt.Errorf("error creating blob file: %w", err)
	}
	defer f.Close()

	n, err := io.Copy(f, r)
	if err != nil {
		return n, fmt.Errorf("error writing blob file: %w", err)
	}
	return n, nil
}

// Open returns a reader for the blob.
func (l *Local) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	f, err := l.fs.Open(name)
	if err != nil {
		return nil, fmt.Errorf("error opening blob file: %w", err)
	}
	return f, nil
}

// Exists reports whether the blob is present.
func (l *Local) Exists(ctx context.Context, name string) (bool, error) {
	return afero.Exists(l.fs, name)
}

// Delete removes the blob, tolerating absence.
func (l *Local) Delete(ctx context.Context, name string) error {
	err := l.fs.Remove(name)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("error removing blob file: %w", err)
	}
	return nil
}
