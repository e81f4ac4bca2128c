package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
)

// MemStore keeps blobs in memory. FailKeys makes Put fail for the listed keys.
type MemStore struct {
	mu        sync.RWMutex
	blobs     map[string][]byte
	publicURL string
	FailKeys  map[string]bool
}

func NewMemStore(publicBase string) *MemStore {
	if publicBase == "" {
		publicBase = "mem://blobs"
	}
	return &MemStore{blobs: map[string][]byte{}, publicURL: publicBase}
}

func (s *MemStore) Put(ctx context.Context, key string, r io.Reader) (string, error) {
	key, err := CleanKey(key)
	if err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.RLock()
	fail := s.FailKeys[key]
	s.mu.RUnlock()
	if fail {
		return "", fmt.Errorf("put %s: injected failure", key)
	}
	b, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	s.blobs[key] = b
	s.mu.Unlock()
	return key, nil
}

func (s *MemStore) Get(_ context.Context, key string) (io.ReadCloser, error) {
	key, err := CleanKey(key)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	b, ok := s.blobs[key]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (s *MemStore) URL(key string) (string, error) {
	key, err := CleanKey(key)
	if err != nil {
		return "", err
	}
	return publicURL(s.publicURL, key), nil
}

// Keys lists stored keys.
func (s *MemStore) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.blobs))
	for k := range s.blobs {
		out = append(out, k)
	}
	return out
}
