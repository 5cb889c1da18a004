// Package storage holds the uploaded distribution files. Metadata stays in
// the repository; this package only deals with blobs addressed by
// (project, filename).
package storage

import (
	"context"
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"

	"github.com/eruvanos/warehouse14/internal/common"
)

// PackageStorage is the blob store contract shared by the file system and
// object storage implementations.
type PackageStorage interface {
	// Add stores the blob. Returns common.ErrConflict when the key already
	// exists and overwriting is disabled.
	Add(ctx context.Context, project, filename string, data io.Reader) error
	// Get opens the blob for reading. Returns common.ErrNotFound when absent.
	// The caller closes the reader.
	Get(ctx context.Context, project, filename string) (io.ReadCloser, error)
	// Delete removes the blob. Deleting an absent blob is not an error.
	Delete(ctx context.Context, project, filename string) error
	// Digest streams the blob through the named hash algorithm and returns
	// "<algo>=<hexdigest>".
	Digest(ctx context.Context, project, filename, algo string) (string, error)
}

const digestBlockSize = 64 * 1024

var hashers = map[string]func() hash.Hash{
	"sha256": sha256.New,
	"md5":    md5.New,
}

// digest implements PackageStorage.Digest on top of Get, reading the blob in
// fixed-size blocks so large files never load fully into memory.
func digest(ctx context.Context, s PackageStorage, project, filename, algo string) (string, error) {
	newHash, ok := hashers[algo]
	if !ok {
		return "", fmt.Errorf("unsupported digest algorithm %q", algo)
	}

	reader, err := s.Get(ctx, project, filename)
	if err != nil {
		return "", err
	}
	defer reader.Close()

	h := newHash()
	buf := make([]byte, digestBlockSize)
	if _, err := io.CopyBuffer(h, reader, buf); err != nil {
		return "", fmt.Errorf("read blob %s/%s: %w", project, filename, err)
	}

	return fmt.Sprintf("%s=%s", algo, hex.EncodeToString(h.Sum(nil))), nil
}

func conflictErr(project, filename string) error {
	return fmt.Errorf("blob %s/%s: %w", project, filename, common.ErrConflict)
}
