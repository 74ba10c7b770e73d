// Package gcs archives raw API pages in a Google Cloud Storage bucket.
//
// The archiver picks the object names, one object per fetched page:
//
//	gs://{bucket}/{prefix}/{channelID}/{sha256 of the page}.json
//
// Identical pages map to the same object, so re-crawling an unchanged
// channel overwrites rather than grows the archive.
package gcs

import (
	"context"
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/storage"
)

// Config names the archive bucket.
type Config struct {
	Bucket string
}

// BlobStore implements crawler.BlobStore on one bucket.
type BlobStore struct {
	bucket     *storage.BucketHandle
	bucketName string
}

// New wraps client. Closing the client stays with the caller, which shares it
// for the lifetime of the process.
func New(client *storage.Client, cfg Config) (*BlobStore, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("archive.bucket is required")
	}
	return &BlobStore{bucket: client.Bucket(cfg.Bucket), bucketName: cfg.Bucket}, nil
}

// PutObject writes one archived page under key and returns its gs:// URI.
// A leading slash on key is ignored.
func (s *BlobStore) PutObject(ctx context.Context, key string, contentType string, r io.Reader) (string, error) {
	name := objectName(key)
	if name == "" {
		return "", fmt.Errorf("object key is required")
	}
	w := s.bucket.Object(name).NewWriter(ctx)
	w.ContentType = contentType
	if _, err := io.Copy(w, r); err != nil {
		// Close aborts the upload; its error adds nothing to the copy failure.
		_ = w.Close()
		return "", fmt.Errorf("upload %s: %w", name, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("finalize %s: %w", name, err)
	}
	return "gs://" + s.bucketName + "/" + name, nil
}

func objectName(key string) string {
	return strings.TrimLeft(strings.TrimSpace(key), "/")
}
