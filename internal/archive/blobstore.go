// Package archive moves aged readings out of the hot table into
// compressed cold storage. The exporter drains rows older than a cutoff
// in bounded batches, writes each batch as one zstd-compressed NDJSON
// object through a BlobStore, and deletes the exported rows only after
// the object is durably stored.
package archive

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// BlobStore persists immutable archive objects. Keys use forward slashes
// regardless of platform ("readings/2026/04/...").
type BlobStore interface {
	Put(ctx context.Context, key string, data []byte) error
}

// FilesystemStore implements BlobStore on a local directory tree. It is
// the default store for single-host deployments; the key's slash-separated
// prefix becomes the directory path.
type FilesystemStore struct {
	root string
}

// NewFilesystemStore creates a store rooted at the given directory. The
// directory itself is created lazily on the first Put.
func NewFilesystemStore(root string) *FilesystemStore {
	return &FilesystemStore{root: root}
}

// Put writes the object under root/key. The write goes through a temp
// file and rename so a crashed run never leaves a half-written archive
// behind.
func (s *FilesystemStore) Put(_ context.Context, key string, data []byte) error {
	path := filepath.Join(s.root, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("archive: creating directory for %s: %w", key, err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("archive: writing %s: %w", key, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("archive: finalizing %s: %w", key, err)
	}
	return nil
}
