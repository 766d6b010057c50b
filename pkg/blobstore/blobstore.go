// Package blobstore abstracts where attachment bytes live. Attachments
// are content-addressed (stored under <sha256><ext>) so backends never
// overwrite meaningfully different data, and soft-deleted attachments
// keep their blobs.
package blobstore

import (
	"context"
	"io"
)

// Store is the minimal surface the attachment service needs from a blob
// backend.
type Store interface {
	// Put writes the blob under name, returning the byte count.
	// Writing a name that already exists is allowed and idempotent for
	// content-addressed names.
	Put(ctx context.Context, name string, r io.Reader) (int64, error)

	// Open returns a reader for the blob.
	Open(ctx context.Context, name string) (io.ReadCloser, error)

	// Exists reports whether the blob is present.
	Exists(ctx context.Context, name string) (bool, error)

	// Delete removes the blob. Deleting a missing blob is not an error.
	Delete(ctx context.Context, name string) error
}
