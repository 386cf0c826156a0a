package contentstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/studiocore/authoring/internal/keys"
	"github.com/studiocore/authoring/internal/pkg/errs"
)

// MemoryStore is an in-process Store used by tests and by the library
// package-store shim.
type MemoryStore struct {
	mu    sync.RWMutex
	files map[string][]byte
	mimes map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		files: map[string][]byte{},
		mimes: map[string]string{},
	}
}

func (s *MemoryStore) Save(_ context.Context, course keys.CourseKey, filename string, data []byte, contentType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := objectKey(course, filename)
	buf := make([]byte, len(data))
	copy(buf, data)
	s.files[key] = buf
	s.mimes[key] = contentType
	return nil
}

func (s *MemoryStore) Find(_ context.Context, course keys.CourseKey, filename string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.files[objectKey(course, filename)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", errs.ErrNotFound, filename)
	}
	return data, nil
}

func (s *MemoryStore) Delete(_ context.Context, course keys.CourseKey, filename string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := objectKey(course, filename)
	delete(s.files, key)
	delete(s.mimes, key)
	return nil
}

func (s *MemoryStore) URL(course keys.CourseKey, filename string) string {
	return "/assets/" + objectKey(course, filename)
}
