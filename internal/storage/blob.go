package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// ErrNotFound is returned when a media reference does not resolve.
var ErrNotFound = errors.New("media not found")

// BlobStore persists submitted audio and hands back an opaque reference
// that workers resolve later. References are only meaningful to the store
// that issued them.
type BlobStore interface {
	Save(ctx context.Context, name string, content io.Reader) (string, error)
	Open(ctx context.Context, ref string) (io.ReadCloser, error)
	Delete(ctx context.Context, ref string) error
}

// FileBlobStore keeps media on the local filesystem under a base
// directory. References are paths relative to the base, so they stay
// valid across restarts as long as the directory does.
type FileBlobStore struct {
	baseDir string
}

func NewFileBlobStore(baseDir string) (*FileBlobStore, error) {
	if strings.TrimSpace(baseDir) == "" {
		return nil, errors.New("media directory is required")
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create media directory: %w", err)
	}
	return &FileBlobStore{baseDir: baseDir}, nil
}

func (s *FileBlobStore) Save(_ context.Context, name string, content io.Reader) (string, error) {
	ref := sanitizeName(name)
	path := filepath.Join(s.baseDir, ref)

	file, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create media file: %w", err)
	}
	defer file.Close()

	if _, err := io.Copy(file, content); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("write media file: %w", err)
	}
	return ref, nil
}

func (s *FileBlobStore) Open(_ context.Context, ref string) (io.ReadCloser, error) {
	file, err := os.Open(filepath.Join(s.baseDir, sanitizeName(ref)))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("open media file: %w", err)
	}
	return file, nil
}

func (s *FileBlobStore) Delete(_ context.Context, ref string) error {
	err := os.Remove(filepath.Join(s.baseDir, sanitizeName(ref)))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete media file: %w", err)
	}
	return nil
}

// sanitizeName keeps references inside the base directory.
func sanitizeName(name string) string {
	return filepath.Base(filepath.Clean(name))
}

// MemoryBlobStore holds media in memory. Used in tests and when no media
// directory is configured.
type MemoryBlobStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

func NewMemoryBlobStore() *MemoryBlobStore {
	return &MemoryBlobStore{blobs: make(map[string][]byte)}
}

func (s *MemoryBlobStore) Save(_ context.Context, name string, content io.Reader) (string, error) {
	data, err := io.ReadAll(content)
	if err != nil {
		return "", fmt.Errorf("read media: %w", err)
	}

	ref := sanitizeName(name)
	s.mu.Lock()
	s.blobs[ref] = data
	s.mu.Unlock()
	return ref, nil
}

func (s *MemoryBlobStore) Open(_ context.Context, ref string) (io.ReadCloser, error) {
	s.mu.RLock()
	data, ok := s.blobs[sanitizeName(ref)]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return io.NopCloser(strings.NewReader(string(data))), nil
}

func (s *MemoryBlobStore) Delete(_ context.Context, ref string) error {
	s.mu.Lock()
	delete(s.blobs, sanitizeName(ref))
	s.mu.Unlock()
	return nil
}
