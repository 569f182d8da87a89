package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/bodiless/contentsync/internal/content"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrInvalidInput   = errors.New("invalid input")
	ErrNotImplemented = errors.New("not implemented")
)

// ContentStore persists content items by resource path, for example
// "pages/about/title" or "site/footer".
type ContentStore interface {
	Save(ctx context.Context, resourcePath string, data content.Data) error
	Load(ctx context.Context, resourcePath string) (content.Data, error)
	Delete(ctx context.Context, resourcePath string) error
	// List returns every resource path under prefix, sorted.
	List(ctx context.Context, prefix string) ([]string, error)
	Close() error
}

// CleanResourcePath normalizes a resource path and rejects paths that escape
// the content root.
func CleanResourcePath(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.Contains(raw, "\\") || strings.ContainsRune(raw, 0) {
		return "", fmt.Errorf("%w: resource path %q", ErrInvalidInput, raw)
	}
	cleaned := path.Clean("/" + raw)
	if cleaned == "/" || strings.Contains(raw, "..") {
		return "", fmt.Errorf("%w: resource path %q", ErrInvalidInput, raw)
	}
	return strings.TrimPrefix(cleaned, "/"), nil
}

func cleanPrefix(prefix string) string {
	prefix = strings.Trim(strings.TrimSpace(prefix), "/")
	if prefix == "" {
		return ""
	}
	return path.Clean(prefix) + "/"
}

func encodeData(data content.Data) ([]byte, error) {
	if data == nil {
		data = content.Data{}
	}
	return json.Marshal(data)
}

func decodeData(raw []byte) (content.Data, error) {
	var data content.Data
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, err
	}
	if data == nil {
		data = content.Data{}
	}
	return data, nil
}

type MemoryContentStore struct {
	mu    sync.Mutex
	items map[string][]byte
}

func NewMemoryContentStore() *MemoryContentStore {
	return &MemoryContentStore{items: map[string][]byte{}}
}

func (s *MemoryContentStore) Save(_ context.Context, resourcePath string, data content.Data) error {
	key, err := CleanResourcePath(resourcePath)
	if err != nil {
		return err
	}
	raw, err := encodeData(data)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[key] = raw
	return nil
}

func (s *MemoryContentStore) Load(_ context.Context, resourcePath string) (content.Data, error) {
	key, err := CleanResourcePath(resourcePath)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	raw, ok := s.items[key]
	s.mu.Unlock()
	if !ok {
		return nil, ErrNotFound
	}
	return decodeData(raw)
}

func (s *MemoryContentStore) Delete(_ context.Context, resourcePath string) error {
	key, err := CleanResourcePath(resourcePath)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[key]; !ok {
		return ErrNotFound
	}
	delete(s.items, key)
	return nil
}

func (s *MemoryContentStore) List(_ context.Context, prefix string) ([]string, error) {
	prefix = cleanPrefix(prefix)
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0)
	for key := range s.items {
		if strings.HasPrefix(key, prefix) {
			out = append(out, key)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *MemoryContentStore) Close() error { return nil }
