// Package cas implements the content-addressed blob store:
// immutable, SHA-256-keyed, sharded by the first two hex bytes of the hash,
// with atomic stage-fsync-rename writes. An IPFS-backed variant with
// identical semantics is selected by the IPFS_CAS environment flag; the
// factory always reports which backend a caller got, so a fallback never
// happens silently.
package cas

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/bottletopbil/agent-network-sub002/swarmerr"
)

// Store is the CAS interface every component depends on.
type Store interface {
	Put(ctx context.Context, data []byte) (string, error)
	PutJSON(ctx context.Context, obj any) (string, error)
	Get(ctx context.Context, hash string) ([]byte, error)
	Has(ctx context.Context, hash string) (bool, error)
}

// FileStore is the filesystem-backed CAS.
type FileStore struct {
	root string
}

// NewFileStore opens (creating if needed) a filesystem CAS rooted at dir.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("cas: create root dir: %w", err)
	}
	return &FileStore{root: dir}, nil
}

func hashHex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func (s *FileStore) pathFor(hash string) (string, error) {
	if len(hash) < 4 {
		return "", fmt.Errorf("cas: malformed hash %q", hash)
	}
	return filepath.Join(s.root, hash[0:2], hash[2:4], hash), nil
}

// Put stores data, returning its SHA-256 hex hash. Put on an existing hash
// is a no-op that returns the same hash (content is immutable).
func (s *FileStore) Put(ctx context.Context, data []byte) (string, error) {
	hash := hashHex(data)
	dest, err := s.pathFor(hash)
	if err != nil {
		return "", err
	}
	if _, statErr := os.Stat(dest); statErr == nil {
		return hash, nil
	}
	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", &swarmerr.IoError{Op: "cas.put.mkdir", Err: err}
	}

	tmp, err := os.CreateTemp(dir, "blob-*.tmp")
	if err != nil {
		return "", &swarmerr.IoError{Op: "cas.put.create_temp", Err: err}
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return "", classifyWriteErr(err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return "", &swarmerr.IoError{Op: "cas.put.fsync", Err: err}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return "", &swarmerr.IoError{Op: "cas.put.close", Err: err}
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		os.Remove(tmpPath)
		return "", &swarmerr.IoError{Op: "cas.put.rename", Err: err}
	}
	return hash, nil
}

func classifyWriteErr(err error) error {
	if errors.Is(err, os.ErrNotExist) || isENOSPC(err) {
		return swarmerr.ErrStorageFull
	}
	return &swarmerr.IoError{Op: "cas.put.write", Err: err}
}

// PutJSON canonicalizes obj to JSON and stores it, returning its hash.
func (s *FileStore) PutJSON(ctx context.Context, obj any) (string, error) {
	data, err := json.Marshal(obj)
	if err != nil {
		return "", fmt.Errorf("cas: marshal json: %w", err)
	}
	return s.Put(ctx, data)
}

// Get retrieves a blob by hash, returning swarmerr.ErrNotFound if absent.
func (s *FileStore) Get(ctx context.Context, hash string) ([]byte, error) {
	path, err := s.pathFor(hash)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, swarmerr.ErrNotFound
	}
	if err != nil {
		return nil, &swarmerr.IoError{Op: "cas.get", Err: err}
	}
	return data, nil
}

// Has reports whether hash is present in the store.
func (s *FileStore) Has(ctx context.Context, hash string) (bool, error) {
	path, err := s.pathFor(hash)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, &swarmerr.IoError{Op: "cas.has", Err: err}
	}
	return true, nil
}
