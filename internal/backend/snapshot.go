package backend

import (
	"context"
	"path"
	"strings"

	"github.com/bodiless/contentsync/internal/content"
)

const (
	pagesRoot = "pages"
	siteRoot  = "site"
)

// NormalizeSlug trims a page slug to its directory form, "" for the home
// page.
func NormalizeSlug(slug string) string {
	slug = strings.Trim(strings.TrimSpace(slug), "/")
	if slug == "" {
		return ""
	}
	return strings.TrimPrefix(path.Clean("/"+slug), "/")
}

// PageID is the identifier pushed with page snapshots, "/about" for slug
// "about/".
func PageID(slug string) string {
	return "/" + NormalizeSlug(slug)
}

func pageDir(slug string) string {
	return path.Join(pagesRoot, NormalizeSlug(slug))
}

// BuildSnapshot collects the items of one page and of the site into the
// shape the content store reconciles. Only items directly inside the page
// directory belong to the page; nested directories are other pages.
func BuildSnapshot(ctx context.Context, store ContentStore, slug string) (content.Snapshot, error) {
	page, err := collectEdges(ctx, store, pageDir(slug))
	if err != nil {
		return nil, err
	}
	site, err := collectEdges(ctx, store, siteRoot)
	if err != nil {
		return nil, err
	}
	return content.Snapshot{
		content.CollectionPage: page,
		content.CollectionSite: site,
	}, nil
}

func collectEdges(ctx context.Context, store ContentStore, dir string) (*content.Collection, error) {
	paths, err := store.List(ctx, dir)
	if err != nil {
		return nil, err
	}
	out := &content.Collection{Edges: []content.Edge{}}
	for _, resourcePath := range paths {
		name := strings.TrimPrefix(resourcePath, dir+"/")
		if name == "" || strings.Contains(name, "/") {
			continue
		}
		data, err := store.Load(ctx, resourcePath)
		if err != nil {
			// removed between List and Load
			continue
		}
		edge, err := content.NewEdge(name, data)
		if err != nil {
			return nil, err
		}
		out.Edges = append(out.Edges, edge)
	}
	return out, nil
}

// affectedSlugs reports which page snapshots a change to resourcePath
// touches. all is true for site content.
func affectedSlugs(resourcePath string) (slug string, all bool, ok bool) {
	dir, _ := path.Split(resourcePath)
	dir = strings.TrimSuffix(dir, "/")
	switch {
	case dir == siteRoot:
		return "", true, true
	case dir == pagesRoot:
		return "", false, true
	case strings.HasPrefix(dir, pagesRoot+"/"):
		return NormalizeSlug(strings.TrimPrefix(dir, pagesRoot+"/")), false, true
	default:
		return "", false, false
	}
}
