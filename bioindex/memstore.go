package bioindex

import (
	"bytes"
	"context"
	"io"
	"sort"
	"strings"
	"sync"
)

// -----------------------------------------------------------------------------
// Memory Store
// -----------------------------------------------------------------------------

// MemoryStore implements ObjectStore in memory. It backs tests and local
// experimentation; Put exists only to seed objects.
//
// MemoryStore is safe for concurrent use.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemoryStore creates an empty in-memory object store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string][]byte)}
}

// Put seeds an object at the given path, replacing any prior contents.
func (m *MemoryStore) Put(_ context.Context, path string, r io.Reader) error {
	normalized, ok := normalizePath(path)
	if !ok {
		return ErrInvalidPath
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.data[normalized] = data
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Get(_ context.Context, path string) (io.ReadCloser, error) {
	data, err := m.object(path)
	if err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// ReadRange reads length bytes at offset. Ranges extending beyond the end of
// the object return the available bytes, matching S3 range semantics.
func (m *MemoryStore) ReadRange(_ context.Context, path string, offset, length int64) ([]byte, error) {
	if offset < 0 || length < 0 {
		return nil, ErrInvalidPath
	}

	data, err := m.object(path)
	if err != nil {
		return nil, err
	}

	if offset >= int64(len(data)) {
		return []byte{}, nil
	}
	end := offset + length
	if end > int64(len(data)) {
		end = int64(len(data))
	}

	out := make([]byte, end-offset)
	copy(out, data[offset:end])
	return out, nil
}

func (m *MemoryStore) Size(_ context.Context, path string) (int64, error) {
	data, err := m.object(path)
	if err != nil {
		return 0, err
	}
	return int64(len(data)), nil
}

func (m *MemoryStore) List(_ context.Context, prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var paths []string
	for p := range m.data {
		if strings.HasPrefix(p, prefix) {
			paths = append(paths, p)
		}
	}
	sort.Strings(paths)
	return paths, nil
}

func (m *MemoryStore) object(path string) ([]byte, error) {
	normalized, ok := normalizePath(path)
	if !ok {
		return nil, ErrInvalidPath
	}

	m.mu.RLock()
	data, exists := m.data[normalized]
	m.mu.RUnlock()

	if !exists {
		return nil, ErrNotFound
	}

	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

// normalizePath rejects empty paths and path traversal.
func normalizePath(path string) (string, bool) {
	if path == "" || strings.HasPrefix(path, "/") {
		return "", false
	}
	for _, part := range strings.Split(path, "/") {
		if part == ".." {
			return "", false
		}
	}
	return path, true
}

var _ ObjectStore = (*MemoryStore)(nil)
