// Package cache implements the content-addressed document cache. Every
// ingested file is stored once under its SHA-256 hash and referenced by
// documents through a stable relative path, so re-uploads of identical
// content never duplicate storage.
package cache

import (
	"context"
	"io"
	"path"
	"path/filepath"
	"strings"
	"time"
)

// URLPrefix marks cache-relative document URLs ("/~cache/<hh>/<hash><ext>").
const URLPrefix = "/~cache/"

// PutResult describes where a stored blob landed.
//
// Existed reports that a blob with the same hash and extension was already
// present; the write is skipped and the prior blob stays untouched.
type PutResult struct {
	Hash    string
	RelPath string
	Size    int64
	Existed bool
}

// Store is the content cache contract shared by the disk and S3 backends.
type Store interface {
	// Put streams r into the cache, returning the content hash and the
	// relative path the blob is reachable under. Idempotent per content.
	Put(ctx context.Context, displayName string, r io.Reader) (*PutResult, error)
	// Open returns the blob stored under relPath.
	Open(ctx context.Context, relPath string) (io.ReadCloser, error)
}

// Descriptor is the sidecar record written next to each cached blob as
// "<hash><ext>.json". It preserves the original upload name, which the
// hash-derived blob filename discards.
type Descriptor struct {
	Filename    string    `json:"filename"`
	DisplayName string    `json:"displayName"`
	Hash        string    `json:"hash"`
	Size        int64     `json:"size"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Filename derives the cache blob name "<hash><ext>" from the hex content
// hash and the original display name. The extension is lowercased so the
// same content uploaded as "A.MD" and "a.md" lands on one blob.
func Filename(hash, displayName string) string {
	return hash + strings.ToLower(filepath.Ext(displayName))
}

// RelPath derives the cache-relative blob path "<hh>/<hash><ext>", fanning
// blobs out over 256 prefix directories.
func RelPath(hash, displayName string) string {
	return path.Join(hash[:2], Filename(hash, displayName))
}

// URL converts a cache-relative path to the URL form stored on documents.
func URL(relPath string) string {
	return URLPrefix + relPath
}

// RelPathFromURL reverses URL. The second return reports whether rawURL is a
// cache URL at all.
func RelPathFromURL(rawURL string) (string, bool) {
	rel, ok := strings.CutPrefix(rawURL, URLPrefix)
	if !ok || rel == "" {
		return "", false
	}
	return rel, true
}
