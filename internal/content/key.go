package content

import (
	"path"
	"strings"
)

// NodeChildDelimiter separates path segments in a flattened item key.
const NodeChildDelimiter = "$"

const (
	CollectionPage = "Page"
	CollectionSite = "Site"

	// DefaultCollection is the provider slot used when no collection is named.
	DefaultCollection = "_default"
	SiteCollection    = "site"

	templatesDir = "___templates"
)

// JoinKey flattens a node path into the key used by the store.
func JoinKey(segments []string) string {
	return strings.Join(segments, NodeChildDelimiter)
}

// SplitKey is the inverse of JoinKey.
func SplitKey(key string) []string {
	if key == "" {
		return nil
	}
	return strings.Split(key, NodeChildDelimiter)
}

// ResourcePath maps an item key to the backend resource that stores it.
// Page items live under pages/<slug>/, everything else under site/. The
// remainder of the key stays one file name so that nested page directories
// never collide with item names.
func ResourcePath(key, slug string) string {
	segments := SplitKey(key)
	if len(segments) == 0 {
		return ""
	}
	collection := segments[0]
	fileName := strings.Join(segments[1:], NodeChildDelimiter)
	if collection == CollectionPage {
		return path.Join("pages", strings.Trim(slug, "/"), fileName)
	}
	return path.Join("site", fileName)
}

// IsTemplateResource reports whether resourcePath belongs to a page that only
// exists to preview a template.
func IsTemplateResource(resourcePath string) bool {
	return strings.Contains(resourcePath, path.Join("pages", templatesDir))
}

func clonePath(segments []string) []string {
	out := make([]string, len(segments))
	copy(out, segments)
	return out
}

func appendPath(base []string, segments ...string) []string {
	out := make([]string, 0, len(base)+len(segments))
	out = append(out, base...)
	out = append(out, segments...)
	return out
}
