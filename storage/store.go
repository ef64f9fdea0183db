// Package storage persists downloaded verse audio on the local filesystem
// behind a blob-bucket interface.
package storage

import (
	"context"
	"fmt"
	"io"
	"path/filepath"

	"gocloud.dev/blob"
	"gocloud.dev/blob/fileblob"
	"gocloud.dev/gcerrors"

	"alfurqan/models"
)

// minValidFileSize is the smallest size a verse file can have and still be
// considered intact. Smaller files are treated as corrupted partials and
// re-fetched.
const minValidFileSize = 1024

// AudioStore holds verse audio files under a library root directory. Keys
// follow {folder}/{chapter}/{SSS}{AAA}.mp3, so a whole chapter can be
// removed by prefix.
type AudioStore struct {
	root   string
	bucket *blob.Bucket
}

// NewAudioStore opens (creating if needed) the library root
func NewAudioStore(root string) (*AudioStore, error) {
	bucket, err := fileblob.OpenBucket(root, &fileblob.Options{CreateDir: true})
	if err != nil {
		return nil, fmt.Errorf("failed to open audio store at %s: %w", root, err)
	}
	return &AudioStore{root: root, bucket: bucket}, nil
}

// Close releases the underlying bucket
func (s *AudioStore) Close() error {
	return s.bucket.Close()
}

// Root returns the library root directory
func (s *AudioStore) Root() string {
	return s.root
}

// Exists reports whether a non-empty artifact is already present for the
// key. Undersized files do not count: they are leftover partials.
func (s *AudioStore) Exists(ctx context.Context, key string) (bool, error) {
	attrs, err := s.bucket.Attributes(ctx, key)
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return false, nil
		}
		return false, fmt.Errorf("failed to stat %s: %w", key, err)
	}
	return attrs.Size >= minValidFileSize, nil
}

// Save writes one artifact. The bucket writer stages to a temporary file
// and renames on close, so interrupted writes never leave a key behind.
// Undersized payloads are rejected and removed.
func (s *AudioStore) Save(ctx context.Context, key string, r io.Reader) (int64, error) {
	w, err := s.bucket.NewWriter(ctx, key, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to open writer for %s: %w", key, err)
	}

	n, err := io.Copy(w, r)
	if err != nil {
		_ = w.Close()
		return 0, fmt.Errorf("failed to write %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return 0, fmt.Errorf("failed to finalize %s: %w", key, err)
	}

	if n < minValidFileSize {
		if delErr := s.bucket.Delete(ctx, key); delErr != nil {
			return 0, fmt.Errorf("failed to remove undersized %s: %w", key, delErr)
		}
		return 0, fmt.Errorf("downloaded file too small: %d bytes", n)
	}
	return n, nil
}

// DeleteChapter removes every verse file of one chapter
func (s *AudioStore) DeleteChapter(ctx context.Context, folder string, chapter int) error {
	return s.deletePrefix(ctx, models.ChapterPrefix(folder, chapter))
}

// DeleteReciter removes all of a reciter's downloaded content
func (s *AudioStore) DeleteReciter(ctx context.Context, folder string) error {
	return s.deletePrefix(ctx, folder+"/")
}

func (s *AudioStore) deletePrefix(ctx context.Context, prefix string) error {
	iter := s.bucket.List(&blob.ListOptions{Prefix: prefix})
	for {
		obj, err := iter.Next(ctx)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to list %s: %w", prefix, err)
		}
		if err := s.bucket.Delete(ctx, obj.Key); err != nil {
			return fmt.Errorf("failed to delete %s: %w", obj.Key, err)
		}
	}
}

// ChapterDir returns the on-disk directory holding a chapter's verse
// files. Recorded as the AudioVariant local path once a chapter completes.
func (s *AudioStore) ChapterDir(folder string, chapter int) string {
	return filepath.Join(s.root, filepath.FromSlash(fmt.Sprintf("%s/%03d", folder, chapter)))
}

// LocalPath returns the on-disk path behind a storage key
func (s *AudioStore) LocalPath(key string) string {
	return filepath.Join(s.root, filepath.FromSlash(key))
}
