package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/dmitrijs2005/fsmirror/internal/common"
	"github.com/google/uuid"
)

// DiskStore keeps blobs under a local root directory. Writes go to a
// uuid-named temp file first and are renamed into place once the content
// hash is known, so readers never observe partial blobs.
type DiskStore struct {
	root string
}

// NewDiskStore creates the cache root if needed and returns a store over it.
func NewDiskStore(root string) (*DiskStore, error) {
	if err := os.MkdirAll(root, 0o770); err != nil {
		return nil, fmt.Errorf("mkdir %s: %w", root, err)
	}
	return &DiskStore{root: root}, nil
}

func (s *DiskStore) Put(ctx context.Context, displayName string, r io.Reader) (*PutResult, error) {
	tmpPath := filepath.Join(s.root, "tmp-"+uuid.NewString())

	tmp, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o660)
	if err != nil {
		return nil, fmt.Errorf("create temp: %w", err)
	}

	hasher := sha256.New()
	size, err := io.Copy(io.MultiWriter(tmp, hasher), r)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("write temp: %w", err)
	}

	hash := hex.EncodeToString(hasher.Sum(nil))
	rel := RelPath(hash, displayName)
	res := &PutResult{Hash: hash, RelPath: rel, Size: size}

	final := filepath.Join(s.root, filepath.FromSlash(rel))
	if _, err := os.Stat(final); err == nil {
		os.Remove(tmpPath)
		res.Existed = true
		return res, nil
	}

	if err := os.MkdirAll(filepath.Dir(final), 0o770); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("mkdir %s: %w", filepath.Dir(final), err)
	}
	if err := os.Rename(tmpPath, final); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("rename temp: %w", err)
	}

	if err := s.writeDescriptor(final, displayName, hash, size); err != nil {
		return nil, err
	}

	return res, nil
}

func (s *DiskStore) writeDescriptor(blobPath, displayName, hash string, size int64) error {
	desc := Descriptor{
		Filename:    filepath.Base(blobPath),
		DisplayName: displayName,
		Hash:        hash,
		Size:        size,
		CreatedAt:   time.Now().UTC(),
	}

	data, err := json.Marshal(desc)
	if err != nil {
		return fmt.Errorf("marshal descriptor: %w", err)
	}
	if err := os.WriteFile(blobPath+".json", data, 0o660); err != nil {
		return fmt.Errorf("write descriptor: %w", err)
	}
	return nil
}

func (s *DiskStore) Open(ctx context.Context, relPath string) (io.ReadCloser, error) {
	// relPath travels through document rows and URLs; refuse escapes.
	if !filepath.IsLocal(filepath.FromSlash(relPath)) {
		return nil, common.ErrInvalidInput
	}

	f, err := os.Open(filepath.Join(s.root, filepath.FromSlash(relPath)))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("open %s: %w", relPath, err)
	}
	return f, nil
}
