// Package blob implements a content-addressed store for raw message parts.
package blob

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Store writes message part payloads under a root directory, addressed by
// the SHA-256 of their content. Identical parts arriving via different
// folders or accounts share a single file.
type Store struct {
	root string
}

// New creates a blob store rooted at dir, creating it if needed.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create blob root: %w", err)
	}
	return &Store{root: dir}, nil
}

// Ref is an opaque handle to a stored blob. It is stable across runs and
// safe to persist in the database.
type Ref string

// Put stores data and returns its ref. Writing an already-present blob is a
// no-op, which is what makes cross-folder dedup cheap.
func (s *Store) Put(data []byte) (Ref, error) {
	sum := sha256.Sum256(data)
	ref := Ref(hex.EncodeToString(sum[:]))

	path := s.path(ref)
	if _, err := os.Stat(path); err == nil {
		return ref, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("create blob dir: %w", err)
	}

	// Write via temp file + rename so a crash never leaves a truncated
	// blob under its final name.
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return "", fmt.Errorf("create temp blob: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("write blob: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("close blob: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("rename blob: %w", err)
	}
	return ref, nil
}

// Open returns the contents of a stored blob.
func (s *Store) Open(ref Ref) ([]byte, error) {
	data, err := os.ReadFile(s.path(ref))
	if err != nil {
		return nil, fmt.Errorf("open blob %s: %w", ref, err)
	}
	return data, nil
}

// Has reports whether a blob exists for ref.
func (s *Store) Has(ref Ref) bool {
	_, err := os.Stat(s.path(ref))
	return err == nil
}

// path shards blobs two hex chars deep, like git objects.
func (s *Store) path(ref Ref) string {
	r := string(ref)
	if len(r) < 3 || strings.ContainsAny(r, `/\`) {
		// Defer validation errors to the open/stat call.
		return filepath.Join(s.root, "invalid", r)
	}
	return filepath.Join(s.root, r[:2], r[2:])
}
