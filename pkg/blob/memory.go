package blob

import (
	"context"
	"fmt"
	"sync"
)

// MemoryStore is an in-memory blob store for tests.
type MemoryStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blobs: make(map[string][]byte)}
}

var _ Store = (*MemoryStore)(nil)

func (s *MemoryStore) Upload(ctx context.Context, path string, content []byte) (*UploadResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := make([]byte, len(content))
	copy(cp, content)
	s.blobs[path] = cp

	return &UploadResult{
		URL:      "memory://" + path,
		Path:     path,
		Size:     int64(len(content)),
		Checksum: Checksum(content),
	}, nil
}

func (s *MemoryStore) Download(ctx context.Context, path string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	content, ok := s.blobs[path]
	if !ok {
		return nil, fmt.Errorf("blob %q not found", path)
	}
	cp := make([]byte, len(content))
	copy(cp, content)
	return cp, nil
}

func (s *MemoryStore) Delete(ctx context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.blobs, path)
	return nil
}

// Len reports the number of stored blobs.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.blobs)
}
