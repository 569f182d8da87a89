package backend

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
)

type ContentStoreFactory func(dsn string) (ContentStore, error)

var contentStoreRegistry = struct {
	mu        sync.RWMutex
	factories map[string]ContentStoreFactory
}{
	factories: map[string]ContentStoreFactory{},
}

// RegisterContentStoreFactory makes BuildContentStoreFromDSN hand DSNs with
// the given scheme to factory. Registered schemes take precedence over the
// built-in ones.
func RegisterContentStoreFactory(scheme string, factory ContentStoreFactory) {
	scheme = normalizeScheme(scheme)
	if scheme == "" || factory == nil {
		return
	}
	contentStoreRegistry.mu.Lock()
	defer contentStoreRegistry.mu.Unlock()
	contentStoreRegistry.factories[scheme] = factory
}

func lookupContentStoreFactory(scheme string) (ContentStoreFactory, bool) {
	scheme = normalizeScheme(scheme)
	contentStoreRegistry.mu.RLock()
	defer contentStoreRegistry.mu.RUnlock()
	factory, ok := contentStoreRegistry.factories[scheme]
	return factory, ok
}

func normalizeScheme(scheme string) string {
	return strings.ToLower(strings.TrimSpace(scheme))
}

// BuildContentStoreFromDSN picks a store from a DSN such as "memory://",
// "file:///srv/site/src/data", a bare directory path, "postgres://..." or
// "sqlite:///var/lib/bodiless.db".
func BuildContentStoreFromDSN(dsn string) (ContentStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, ErrInvalidInput
	}
	parsed, err := url.Parse(dsn)
	if err != nil {
		return nil, err
	}
	scheme := normalizeScheme(parsed.Scheme)
	if factory, ok := lookupContentStoreFactory(scheme); ok {
		return factory(dsn)
	}
	switch scheme {
	case "", "file":
		root, pathErr := dsnPath(parsed, dsn)
		if pathErr != nil {
			return nil, pathErr
		}
		return NewFileContentStore(root)
	case "memory", "mem", "inmem":
		return NewMemoryContentStore(), nil
	case "postgres", "postgresql":
		return NewPostgresContentStore(dsn)
	case "sqlite", "sqlite3":
		dbPath, pathErr := dsnPath(parsed, dsn)
		if pathErr != nil {
			return nil, pathErr
		}
		if strings.HasSuffix(dbPath, "/") {
			dbPath = filepath.Join(dbPath, sqliteDefaultFileName)
		}
		return NewSQLiteContentStore(dbPath)
	case "mysql", "s3", "gs":
		return nil, fmt.Errorf("%w: content store %s", ErrNotImplemented, scheme)
	default:
		return nil, fmt.Errorf("unsupported content store scheme: %s", scheme)
	}
}

func dsnPath(parsed *url.URL, raw string) (string, error) {
	if parsed == nil {
		return "", ErrInvalidInput
	}
	if strings.TrimSpace(parsed.Scheme) == "" {
		if strings.TrimSpace(raw) == "" {
			return "", ErrInvalidInput
		}
		return strings.TrimSpace(raw), nil
	}
	path := strings.TrimSpace(parsed.Path)
	if path == "" {
		path = strings.TrimSpace(parsed.Opaque)
	}
	if path == "" {
		path = strings.TrimSpace(parsed.Host)
	}
	if path == "" {
		return "", ErrInvalidInput
	}
	return path, nil
}
