package content

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResourcePath(t *testing.T) {
	cases := []struct {
		key, slug, want string
	}{
		{"Page$title", "/about/", "pages/about/title"},
		{"Page$list$item1", "products/x", "pages/products/x/list$item1"},
		{"Page$title", "", "pages/title"},
		{"Site$footer$links", "/ignored/", "site/footer$links"},
		{"Header$menu", "/", "site/menu"},
		{"", "/", ""},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, ResourcePath(tc.key, tc.slug), tc.key)
	}
	assert.True(t, IsTemplateResource("pages/___templates/hero/title"))
	assert.False(t, IsTemplateResource("pages/about/title"))
}

func TestNodeChildAndPeer(t *testing.T) {
	root := NewMemoryNode(CollectionPage)
	child := root.Child("list").Child("item1")
	assert.Equal(t, []string{"Page", "list", "item1"}, child.Path())

	child.SetData(Data{"text": "one"})
	assert.Equal(t, []string{"Page$list$item1"}, root.Keys())

	peer := root.Peer("Page$list$item1")
	assert.Equal(t, Data{"text": "one"}, peer.Data())
	assert.Equal(t, []string{"Site", "footer"}, root.Peer("Site", "footer").Path())

	data := peer.Data()
	data["text"] = "mutated"
	assert.Equal(t, Data{"text": "one"}, child.Data())

	child.Delete()
	assert.Empty(t, root.Keys())
	assert.Equal(t, Data{}, child.Data())
}

func TestNodeWritesThroughStore(t *testing.T) {
	store, clock, saver := newTestStore(t, StoreOptions{Slug: "home"})
	node := store.RootNode(CollectionSite).Child("footer")
	node.SetData(Data{"copyright": "2019"})
	store.Pump()
	clock.Advance(DefaultDebounceDelay)

	require.Len(t, saver.Calls(), 1)
	assert.Equal(t, "site/footer", saver.Calls()[0].path)
}

func TestProxyTransformsOwnDataOnly(t *testing.T) {
	root := NewMemoryNode(CollectionPage)
	base := root.Child("link")
	proxy := Proxy(base, Transform{
		Get: func(data Data, ctx ProxyContext) Data {
			return MergeData(ctx.Defaults, data)
		},
		Set: func(data Data, ctx ProxyContext) Data {
			data["path"] = JoinKey(ctx.Path)
			return data
		},
	}, Data{"href": "/"})

	assert.Equal(t, Data{"href": "/"}, proxy.Data())
	proxy.SetData(Data{"label": "Home"})
	assert.Equal(t, Data{"label": "Home", "path": "Page$link"}, base.Data())
	assert.Equal(t, Data{"href": "/", "label": "Home", "path": "Page$link"}, proxy.Data())

	proxy.Child("icon").SetData(Data{"name": "house"})
	assert.Equal(t, Data{"name": "house"}, root.Peer("Page$link$icon").Data())

	passthrough := Proxy(base, Transform{}, nil)
	assert.Equal(t, base.Data(), passthrough.Data())
}

func TestDefaultContentAppliesAcrossSubtree(t *testing.T) {
	root := NewMemoryNode(CollectionPage)
	node := WithDefaultContent(root.Child("hero"), DefaultContent{
		"":      {"title": "Welcome"},
		"image": {"src": "/default.png"},
	})

	assert.Equal(t, Data{"title": "Welcome"}, node.Data())
	assert.Equal(t, Data{"src": "/default.png"}, node.Child("image").Data())
	assert.Equal(t, Data{}, node.Child("other").Data())

	node.Child("image").SetData(Data{"src": "/mine.png"})
	assert.Equal(t, Data{"src": "/mine.png"}, node.Child("image").Data())
	assert.Equal(t, Data{"src": "/mine.png"}, node.Peer("Page$hero$image").Data())

	// writes never reach the defaults
	node.Child("image").Delete()
	assert.Equal(t, Data{"src": "/default.png"}, node.Child("image").Data())
}

func TestFieldNode(t *testing.T) {
	root := NewMemoryNode(CollectionPage)
	image := root.Child("image")
	image.SetData(Data{"src": "/a.png", "meta": map[string]any{"alt": "A"}})

	meta, err := FieldNode(image, "$.meta", nil)
	require.NoError(t, err)
	assert.Equal(t, Data{"alt": "A"}, meta.Data())

	meta.SetData(Data{"alt": "B"})
	assert.Equal(t, Data{"src": "/a.png", "meta": map[string]any{"alt": "B"}}, image.Data())

	missing, err := FieldNode(image, "$.caption", nil)
	require.NoError(t, err)
	assert.Equal(t, Data{}, missing.Data())

	_, err = FieldNode(image, "", nil)
	assert.Error(t, err)
}

type recordingLogger struct {
	mu    sync.Mutex
	lines []string
}

func (l *recordingLogger) Printf(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines = append(l.lines, fmt.Sprintf(format, args...))
}

func TestFieldNodeRejectsUnsettableExpressions(t *testing.T) {
	image := NewMemoryNode(CollectionPage).Child("image")
	for _, expression := range []string{"$", "$.*", "$.items[*]", "$.items[1:2]", "$.items[?(@.a == 1)]"} {
		_, err := FieldNode(image, expression, nil)
		assert.Error(t, err, expression)
	}
	_, err := FieldNode(image, "$.items[0]", nil)
	assert.NoError(t, err)
}

func TestFieldNodeLogsFailedWrite(t *testing.T) {
	image := NewMemoryNode(CollectionPage).Child("image")
	image.SetData(Data{"src": "/a.png"})
	logger := &recordingLogger{}

	meta, err := FieldNode(image, "$.src.meta", logger)
	require.NoError(t, err)
	meta.SetData(Data{"alt": "B"})

	assert.Equal(t, Data{"src": "/a.png"}, image.Data())
	require.Len(t, logger.lines, 1)
	assert.Contains(t, logger.lines[0], "Page$image")
}

func TestScopeNesting(t *testing.T) {
	ctx := context.Background()
	fallback := UseNode(ctx, "")
	require.NotNil(t, fallback)
	assert.Equal(t, []string{"Page"}, fallback.Path())

	store, _, _ := newTestStore(t, StoreOptions{DisableSave: true})
	ctx = store.Bind(ctx)
	m := NodeMapFrom(ctx)
	assert.Equal(t, DefaultCollection, m.ActiveCollection)
	assert.Equal(t, []string{"Site"}, UseNode(ctx, SiteCollection).Path())
	assert.Equal(t, []string{"Page"}, UseNode(ctx, "").Path())
	assert.Equal(t, []string{"Page"}, UseNode(ctx, "unknown").Path())

	inner := WithNode(ctx, UseNode(ctx, "").Child("hero"), "")
	assert.Equal(t, []string{"Page", "hero"}, UseNode(inner, "").Path())
	assert.Equal(t, []string{"Site"}, UseNode(inner, SiteCollection).Path())
	assert.Equal(t, []string{"Page"}, UseNode(ctx, "").Path())

	footer := WithNode(inner, UseNode(inner, SiteCollection).Child("footer"), SiteCollection)
	assert.Equal(t, SiteCollection, NodeMapFrom(footer).ActiveCollection)
	assert.Equal(t, []string{"Site", "footer"}, UseNode(footer, "").Path())

	handlers := UseNodeDataHandlers(inner, "", Data{"title": "Default", "size": "lg"})
	assert.Equal(t, Data{"title": "Default", "size": "lg"}, handlers.ComponentData)
	handlers.SetComponentData(Data{"title": "Mine"})
	assert.Equal(t, Data{"title": "Mine", "size": "lg"}, UseNodeDataHandlers(inner, "", Data{"size": "lg"}).ComponentData)
	assert.Equal(t, Data{"title": "Mine"}, store.GetNode([]string{"Page", "hero"}))
}

func TestManualClockFiresInOrder(t *testing.T) {
	clock := NewManualClock(time.Unix(100, 0))
	var fired []string
	clock.AfterFunc(3*time.Second, func() { fired = append(fired, "c") })
	clock.AfterFunc(time.Second, func() {
		fired = append(fired, "a")
		clock.AfterFunc(time.Second, func() { fired = append(fired, "b") })
	})
	stopped := clock.AfterFunc(2*time.Second, func() { fired = append(fired, "stopped") })
	assert.True(t, stopped.Stop())
	assert.False(t, stopped.Stop())

	clock.Advance(5 * time.Second)
	assert.Equal(t, []string{"a", "b", "c"}, fired)
	assert.Equal(t, time.Unix(105, 0), clock.Now())
	assert.Zero(t, clock.Pending())
}

func TestNotificationCenter(t *testing.T) {
	center := NewNotificationCenter()
	assert.False(t, center.HasErrors())
	center.Notify("b", []Notification{{ID: "2", Message: "two"}})
	center.Notify("a", []Notification{{ID: "1", Message: "one"}})
	assert.True(t, center.HasErrors())
	assert.Equal(t, []Notification{{ID: "1", Message: "one"}, {ID: "2", Message: "two"}}, center.Notifications())
	center.Notify("a", nil)
	center.Notify("b", nil)
	assert.False(t, center.HasErrors())
	assert.Empty(t, center.Notifications())
}
