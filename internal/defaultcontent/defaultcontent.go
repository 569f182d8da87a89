// Package defaultcontent finds and loads the content a site ships for nodes
// that have nothing stored yet.
package defaultcontent

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/bodiless/contentsync/internal/content"
)

// IndexFile lists default-content files relative to its own directory.
const IndexFile = "bodiless.content.json"

const nodeModulesDir = "node_modules"

type Logger interface {
	Printf(format string, args ...any)
}

// Discover collects the files named by every index file in dir, in
// dir/node_modules, and likewise in up to depth-1 parent directories. Index
// files that cannot be read or parsed are logged and skipped.
func Discover(dir string, depth int, logger Logger) ([]string, error) {
	dir, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for ; depth > 0; depth-- {
		indexes, err := findIndexes(dir)
		if err != nil {
			return nil, err
		}
		for _, index := range indexes {
			paths, err := readIndex(index)
			if err != nil {
				logf(logger, "skip default content index %s: %v", index, err)
				continue
			}
			out = append(out, paths...)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return out, nil
}

func findIndexes(dir string) ([]string, error) {
	var out []string
	own := filepath.Join(dir, IndexFile)
	if info, err := os.Stat(own); err == nil && !info.IsDir() {
		out = append(out, own)
	}
	modules := filepath.Join(dir, nodeModulesDir)
	err := filepath.WalkDir(modules, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == modules {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.IsDir() && d.Name() == IndexFile {
			out = append(out, p)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", modules, err)
	}
	return out, nil
}

func readIndex(index string) ([]string, error) {
	raw, err := os.ReadFile(index)
	if err != nil {
		return nil, err
	}
	var entries []string
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, err
	}
	base := filepath.Dir(index)
	out := make([]string, 0, len(entries))
	for _, entry := range entries {
		if strings.TrimSpace(entry) == "" {
			continue
		}
		if !filepath.IsAbs(entry) {
			entry = filepath.Join(base, entry)
		}
		out = append(out, filepath.Clean(entry))
	}
	return out, nil
}

// Load merges the given JSON or YAML files into one DefaultContent. Each file
// maps "$"-joined node paths to objects; later files replace earlier entries.
func Load(paths ...string) (content.DefaultContent, error) {
	out := content.DefaultContent{}
	for _, p := range paths {
		entries, err := loadFile(p)
		if err != nil {
			return nil, fmt.Errorf("load default content %s: %w", p, err)
		}
		for key, data := range entries {
			out[key] = data
		}
	}
	return out, nil
}

func loadFile(p string) (map[string]content.Data, error) {
	raw, err := os.ReadFile(p)
	if err != nil {
		return nil, err
	}
	switch strings.ToLower(filepath.Ext(p)) {
	case ".json":
	case ".yaml", ".yml":
		var doc any
		if err := yaml.Unmarshal(raw, &doc); err != nil {
			return nil, err
		}
		// re-encode so values carry the same types as JSON content
		if raw, err = json.Marshal(doc); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported file type %q", filepath.Ext(p))
	}
	var entries map[string]content.Data
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, err
	}
	for key, data := range entries {
		if data == nil {
			return nil, fmt.Errorf("entry %q is not an object", key)
		}
	}
	return entries, nil
}

func logf(logger Logger, format string, args ...any) {
	if logger == nil {
		return
	}
	logger.Printf(format, args...)
}
