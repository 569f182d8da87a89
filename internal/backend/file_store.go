package backend

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bodiless/contentsync/internal/content"
)

const contentFileExt = ".json"

// FileContentStore keeps each item as <root>/<resourcePath>.json, the layout
// a site keeps under version control.
type FileContentStore struct {
	root string
}

func NewFileContentStore(root string) (*FileContentStore, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, ErrInvalidInput
	}
	root = filepath.Clean(root)
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &FileContentStore{root: root}, nil
}

func (s *FileContentStore) Root() string { return s.root }

func (s *FileContentStore) filePath(resourcePath string) (string, error) {
	key, err := CleanResourcePath(resourcePath)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.root, filepath.FromSlash(key)+contentFileExt), nil
}

// ResourcePathFor maps a file under the root back to its resource path.
func (s *FileContentStore) ResourcePathFor(filePath string) (string, bool) {
	if !strings.HasSuffix(filePath, contentFileExt) || strings.HasPrefix(filepath.Base(filePath), ".") {
		return "", false
	}
	rel, err := filepath.Rel(s.root, filePath)
	if err != nil {
		return "", false
	}
	rel = filepath.ToSlash(strings.TrimSuffix(rel, contentFileExt))
	if rel == "." || strings.HasPrefix(rel, "../") {
		return "", false
	}
	return rel, true
}

func (s *FileContentStore) Save(_ context.Context, resourcePath string, data content.Data) error {
	target, err := s.filePath(resourcePath)
	if err != nil {
		return err
	}
	raw, err := encodeData(data)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	return writeFileAtomic(target, raw, 0o644)
}

func (s *FileContentStore) Load(_ context.Context, resourcePath string) (content.Data, error) {
	target, err := s.filePath(resourcePath)
	if err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(target)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return decodeData(raw)
}

func (s *FileContentStore) Delete(_ context.Context, resourcePath string) error {
	target, err := s.filePath(resourcePath)
	if err != nil {
		return err
	}
	if err := os.Remove(target); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ErrNotFound
		}
		return err
	}
	return nil
}

func (s *FileContentStore) List(_ context.Context, prefix string) ([]string, error) {
	prefix = cleanPrefix(prefix)
	start := filepath.Join(s.root, filepath.FromSlash(strings.TrimSuffix(prefix, "/")))
	out := make([]string, 0)
	err := filepath.WalkDir(start, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) && p == start {
				return filepath.SkipDir
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		if resourcePath, ok := s.ResourcePathFor(p); ok {
			out = append(out, resourcePath)
		}
		return nil
	})
	if err != nil && !errors.Is(err, filepath.SkipDir) {
		return nil, err
	}
	sort.Strings(out)
	return out, nil
}

func (s *FileContentStore) Close() error { return nil }

func writeFileAtomic(path string, data []byte, mode os.FileMode) error {
	dir := filepath.Dir(path)
	tmpFile, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmpFile.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()
	if _, err := tmpFile.Write(data); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if err := tmpFile.Chmod(mode); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if err := tmpFile.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}
	committed = true
	return nil
}
