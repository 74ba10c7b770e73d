// Package archive writes raw upstream pages to a blob store, keyed by content hash.
package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/JakeFAU/channel-discovery-crawler/internal/crawler"
)

const contentType = "application/json"

// Archiver stores pages at <prefix>/<entityID>/<sha256>.json. Identical
// payloads land on the same key, so redelivered jobs overwrite rather than grow.
type Archiver struct {
	blobs  crawler.BlobStore
	hasher crawler.Hasher
	prefix string
}

// New builds an Archiver.
func New(blobs crawler.BlobStore, hasher crawler.Hasher, prefix string) (*Archiver, error) {
	if blobs == nil {
		return nil, errors.New("blob store is required")
	}
	if hasher == nil {
		return nil, errors.New("hasher is required")
	}
	return &Archiver{
		blobs:  blobs,
		hasher: hasher,
		prefix: strings.Trim(prefix, "/"),
	}, nil
}

// Archive writes raw and returns the blob URI.
func (a *Archiver) Archive(ctx context.Context, entityID string, raw []byte) (string, error) {
	if entityID == "" || strings.ContainsAny(entityID, `/\`) || strings.Contains(entityID, "..") {
		return "", fmt.Errorf("invalid entity id %q", entityID)
	}
	digest, err := a.hasher.Hash(raw)
	if err != nil {
		return "", fmt.Errorf("hash page: %w", err)
	}
	key := path.Join(a.prefix, entityID, digest+".json")
	uri, err := a.blobs.PutObject(ctx, key, contentType, bytes.NewReader(raw))
	if err != nil {
		return "", fmt.Errorf("put page %s: %w", key, err)
	}
	return uri, nil
}
