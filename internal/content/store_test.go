package content

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type savedCall struct {
	path string
	data Data
}

type fakeSaver struct {
	mu         sync.Mutex
	calls      []savedCall
	deletes    []string
	err        error
	hook       func(path string)
	deleteHook func(path string)
}

func (f *fakeSaver) SavePath(_ context.Context, resourcePath string, data Data) error {
	f.mu.Lock()
	f.calls = append(f.calls, savedCall{path: resourcePath, data: data})
	err := f.err
	hook := f.hook
	f.mu.Unlock()
	if hook != nil {
		hook(resourcePath)
	}
	return err
}

func (f *fakeSaver) DeletePath(_ context.Context, resourcePath string) error {
	f.mu.Lock()
	hook := f.deleteHook
	f.mu.Unlock()
	if hook != nil {
		hook(resourcePath)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes = append(f.deletes, resourcePath)
	return nil
}

func (f *fakeSaver) Deletes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.deletes))
	copy(out, f.deletes)
	return out
}

// blockDeletes makes DeletePath wait until the returned release function is
// called. started receives once per deletion.
func (f *fakeSaver) blockDeletes(t *testing.T) (started <-chan string, release func()) {
	t.Helper()
	gate := make(chan struct{})
	entered := make(chan string, 8)
	var once sync.Once
	release = func() { once.Do(func() { close(gate) }) }
	t.Cleanup(release)
	f.mu.Lock()
	f.deleteHook = func(path string) {
		entered <- path
		<-gate
	}
	f.mu.Unlock()
	return entered, release
}

func (f *fakeSaver) Calls() []savedCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]savedCall, len(f.calls))
	copy(out, f.calls)
	return out
}

func (f *fakeSaver) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func newTestStore(t *testing.T, opts StoreOptions) (*Store, *ManualClock, *fakeSaver) {
	t.Helper()
	clock := NewManualClock(time.Unix(0, 0))
	saver := &fakeSaver{}
	opts.Clock = clock
	if opts.Saver == nil {
		opts.Saver = saver
	}
	if opts.Slug == "" {
		opts.Slug = "/about/"
	}
	opts.DisableWorkers = true
	store := NewStore(opts)
	t.Cleanup(store.Close)
	return store, clock, saver
}

func titleSnapshot(content string) Snapshot {
	return Snapshot{
		CollectionPage: {Edges: []Edge{{Node: SnapshotNode{Name: "title", Content: content}}}},
	}
}

func TestStoreTitleScenario(t *testing.T) {
	store, clock, saver := newTestStore(t, StoreOptions{})

	store.UpdateData(titleSnapshot(`{"text":"A"}`))
	info, ok := store.Item("Page$title")
	require.True(t, ok)
	assert.Equal(t, Data{"text": "A"}, info.Data)
	assert.Equal(t, StateClean, info.State)

	store.SetNode([]string{"Page", "title"}, Data{"text": "B"})
	store.Pump()
	info, _ = store.Item("Page$title")
	assert.Equal(t, StateDirty, info.State)

	clock.Advance(1999 * time.Millisecond)
	assert.Empty(t, saver.Calls())

	clock.Advance(time.Millisecond)
	require.Len(t, saver.Calls(), 1)
	assert.Equal(t, savedCall{path: "pages/about/title", data: Data{"text": "B"}}, saver.Calls()[0])
	info, _ = store.Item("Page$title")
	assert.Equal(t, StateLocked, info.State)

	clock.Advance(9999 * time.Millisecond)
	info, _ = store.Item("Page$title")
	assert.Equal(t, StateLocked, info.State)

	clock.Advance(time.Millisecond)
	info, _ = store.Item("Page$title")
	assert.Equal(t, StateClean, info.State)
}

func TestStoreCoalescesRapidEdits(t *testing.T) {
	store, clock, saver := newTestStore(t, StoreOptions{})
	node := store.RootNode(CollectionPage).Child("body")

	for i, text := range []string{"a", "ab", "abc"} {
		node.SetData(Data{"text": text})
		store.Pump()
		if i < 2 {
			clock.Advance(1500 * time.Millisecond)
		}
	}
	assert.Empty(t, saver.Calls())

	clock.Advance(2 * time.Second)
	calls := saver.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, Data{"text": "abc"}, calls[0].data)
	assert.Equal(t, "pages/about/body", calls[0].path)
}

func TestStoreLocalEditWinsOverServer(t *testing.T) {
	store, clock, _ := newTestStore(t, StoreOptions{})
	store.UpdateData(titleSnapshot(`{"text":"A"}`))
	store.SetNode([]string{"Page", "title"}, Data{"text": "local"})
	store.Pump()

	store.UpdateData(titleSnapshot(`{"text":"server"}`))
	assert.Equal(t, Data{"text": "local"}, store.GetNode([]string{"Page", "title"}))

	clock.Advance(2 * time.Second)
	info, _ := store.Item("Page$title")
	require.Equal(t, StateLocked, info.State)
	store.UpdateData(titleSnapshot(`{"text":"stale"}`))
	assert.Equal(t, Data{"text": "local"}, store.GetNode([]string{"Page", "title"}))

	clock.Advance(10 * time.Second)
	store.UpdateData(titleSnapshot(`{"text":"fresh"}`))
	assert.Equal(t, Data{"text": "fresh"}, store.GetNode([]string{"Page", "title"}))
}

type countingNotifier struct {
	calls [][]Notification
}

func (c *countingNotifier) Notify(_ string, notifications []Notification) {
	c.calls = append(c.calls, notifications)
}

func TestStoreSnapshotIsIdempotent(t *testing.T) {
	store, _, _ := newTestStore(t, StoreOptions{})
	snapshot := titleSnapshot(`{"text":"A","n":1}`)
	store.UpdateData(snapshot)
	first := store.Pump()
	store.UpdateData(snapshot)
	assert.Equal(t, 1, first)
	assert.Zero(t, store.Pump())

	// key order in the content does not matter
	store.UpdateData(titleSnapshot(`{"n":1,"text":"A"}`))
	assert.Zero(t, store.Pump())
}

func TestStorePrunesOnlyCleanItems(t *testing.T) {
	store, _, _ := newTestStore(t, StoreOptions{})
	store.UpdateData(Snapshot{
		CollectionPage: {Edges: []Edge{
			{Node: SnapshotNode{Name: "title", Content: `{"text":"A"}`}},
			{Node: SnapshotNode{Name: "body", Content: `{"text":"B"}`}},
		}},
	})
	store.SetNode([]string{"Page", "title"}, Data{"text": "edited"})

	store.UpdateData(Snapshot{CollectionPage: {}})
	assert.Equal(t, []string{"Page$title"}, store.GetKeys())
	info, _ := store.Item("Page$title")
	assert.Equal(t, StateDirty, info.State)
}

func TestStoreSkipsMalformedEntries(t *testing.T) {
	store, _, _ := newTestStore(t, StoreOptions{})
	store.UpdateData(Snapshot{
		CollectionPage: {Edges: []Edge{
			{Node: SnapshotNode{Name: "broken", Content: `{"text":`}},
			{Node: SnapshotNode{Name: "list", Content: `[1,2]`}},
			{Node: SnapshotNode{Name: "title", Content: `{"text":"A"}`}},
		}},
		CollectionSite: nil,
	})
	assert.Equal(t, []string{"Page$title"}, store.GetKeys())

	store.UpdateData(nil)
	assert.Equal(t, []string{"Page$title"}, store.GetKeys())
}

func TestStoreFailedSaveStaysDirtyAndNotifies(t *testing.T) {
	notifier := &countingNotifier{}
	store, clock, saver := newTestStore(t, StoreOptions{Notifier: notifier})
	saver.setErr(errors.New("backend down"))

	store.SetNode([]string{"Page", "title"}, Data{"text": "B"})
	store.Pump()
	clock.Advance(2 * time.Second)

	info, _ := store.Item("Page$title")
	assert.Equal(t, StateDirty, info.State)
	require.Error(t, info.Err)
	require.Len(t, notifier.calls, 1)
	assert.Equal(t, []Notification{{ID: "Page$title", Message: "error saving Page$title"}}, notifier.calls[0])

	// no retry without a further edit
	clock.Advance(time.Minute)
	assert.Len(t, saver.Calls(), 1)

	saver.setErr(nil)
	require.NoError(t, store.Flush(context.Background()))
	info, _ = store.Item("Page$title")
	assert.Equal(t, StateLocked, info.State)
	assert.NoError(t, info.Err)
	require.Len(t, notifier.calls, 2)
	assert.Empty(t, notifier.calls[1])
}

func TestStoreFlushJoinsErrors(t *testing.T) {
	store, _, saver := newTestStore(t, StoreOptions{})
	saver.setErr(errors.New("nope"))
	store.SetNode([]string{"Page", "a"}, Data{"v": 1})
	store.SetNode([]string{"Site", "b"}, Data{"v": 2})

	err := store.Flush(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "save Page$a")
	assert.Contains(t, err.Error(), "save Site$b")
	assert.Len(t, saver.Calls(), 2)
	assert.Equal(t, "site/b", saver.Calls()[1].path)
}

func TestStoreEditWhileFlushingKeepsDirty(t *testing.T) {
	store, clock, saver := newTestStore(t, StoreOptions{})
	saver.hook = func(string) {
		saver.hook = nil
		store.SetNode([]string{"Page", "title"}, Data{"text": "during"})
	}
	store.SetNode([]string{"Page", "title"}, Data{"text": "before"})
	store.Pump()
	clock.Advance(2 * time.Second)

	info, _ := store.Item("Page$title")
	assert.Equal(t, StateDirty, info.State)

	store.Pump()
	clock.Advance(2 * time.Second)
	calls := saver.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, Data{"text": "during"}, calls[1].data)
}

func TestStoreStaleLockTimerDoesNotUnlockNewLock(t *testing.T) {
	store, clock, _ := newTestStore(t, StoreOptions{})
	store.SetNode([]string{"Page", "title"}, Data{"text": "1"})
	require.NoError(t, store.Flush(context.Background()))

	clock.Advance(5 * time.Second)
	store.SetNode([]string{"Page", "title"}, Data{"text": "2"})
	require.NoError(t, store.Flush(context.Background()))

	clock.Advance(5 * time.Second)
	info, _ := store.Item("Page$title")
	assert.Equal(t, StateLocked, info.State)

	clock.Advance(5 * time.Second)
	info, _ = store.Item("Page$title")
	assert.Equal(t, StateClean, info.State)
}

func TestStoreSkipsSaveWhenDisabledOrTemplate(t *testing.T) {
	store, clock, saver := newTestStore(t, StoreOptions{DisableSave: true})
	store.SetNode([]string{"Page", "title"}, Data{"text": "x"})
	store.Pump()
	clock.Advance(time.Minute)
	assert.Empty(t, saver.Calls())
	info, _ := store.Item("Page$title")
	assert.Equal(t, StateDirty, info.State)

	preview, clock, saver := newTestStore(t, StoreOptions{Slug: "___templates/hero"})
	preview.SetNode([]string{"Page", "title"}, Data{"text": "x"})
	preview.Pump()
	clock.Advance(time.Minute)
	assert.Empty(t, saver.Calls())
	assert.Zero(t, clock.Pending())
}

func TestStoreDeleteNodeForwardsDeletion(t *testing.T) {
	store, _, saver := newTestStore(t, StoreOptions{})
	store.UpdateData(titleSnapshot(`{"text":"A"}`))
	store.RootNode(CollectionPage).Child("title").Delete()
	store.Pump()
	store.Close()

	assert.Empty(t, store.GetKeys())
	assert.Equal(t, []string{"pages/about/title"}, saver.Deletes())
}

func pageSnapshot(names ...string) Snapshot {
	edges := make([]Edge, 0, len(names))
	for _, name := range names {
		edges = append(edges, Edge{Node: SnapshotNode{Name: name, Content: `{"v":1}`}})
	}
	return Snapshot{CollectionPage: {Edges: edges}}
}

func TestStoreDeleteDoesNotHoldUpOtherSaves(t *testing.T) {
	store, clock, saver := newTestStore(t, StoreOptions{})
	started, release := saver.blockDeletes(t)
	store.UpdateData(pageSnapshot("old"))

	store.RootNode(CollectionPage).Child("old").Delete()
	store.Pump()
	assert.Equal(t, "pages/about/old", <-started)

	store.SetNode([]string{"Page", "title"}, Data{"text": "B"})
	store.Pump()
	assert.Equal(t, 1, clock.Pending())
	clock.Advance(2 * time.Second)
	require.Len(t, saver.Calls(), 1)
	assert.Equal(t, "pages/about/title", saver.Calls()[0].path)
	assert.Empty(t, saver.Deletes())

	release()
	store.Close()
	assert.Equal(t, []string{"pages/about/old"}, saver.Deletes())
}

func TestStoreSaveWaitsForDeleteOfSameKey(t *testing.T) {
	store, clock, saver := newTestStore(t, StoreOptions{})
	started, release := saver.blockDeletes(t)
	store.UpdateData(pageSnapshot("title"))

	store.RootNode(CollectionPage).Child("title").Delete()
	store.Pump()
	<-started

	store.SetNode([]string{"Page", "title"}, Data{"text": "recreated"})
	store.Pump()
	advanced := make(chan struct{})
	go func() {
		defer close(advanced)
		clock.Advance(2 * time.Second)
	}()
	assert.Never(t, func() bool { return len(saver.Calls()) > 0 }, 50*time.Millisecond, 5*time.Millisecond)

	release()
	select {
	case <-advanced:
	case <-time.After(5 * time.Second):
		t.Fatal("save did not resume after the deletion finished")
	}
	require.Len(t, saver.Calls(), 1)
	assert.Equal(t, savedCall{path: "pages/about/title", data: Data{"text": "recreated"}}, saver.Calls()[0])
	assert.Equal(t, []string{"pages/about/title"}, saver.Deletes())
}

func TestStoreSetSlugRefusesUnsavedPageItems(t *testing.T) {
	store, clock, saver := newTestStore(t, StoreOptions{Slug: "a"})
	snapshot := pageSnapshot("old")
	snapshot[CollectionSite] = &Collection{Edges: []Edge{{Node: SnapshotNode{Name: "footer", Content: `{"v":2}`}}}}
	store.UpdateData(snapshot)

	store.SetNode([]string{"Page", "title"}, Data{"text": "edited on a"})
	store.Pump()
	err := store.SetSlug("b")
	require.ErrorIs(t, err, ErrPendingChanges)
	assert.Contains(t, err.Error(), "Page$title")
	assert.Equal(t, "a", store.Slug())

	clock.Advance(2 * time.Second)
	require.Len(t, saver.Calls(), 1)
	assert.Equal(t, "pages/a/title", saver.Calls()[0].path)

	store.RootNode(CollectionPage).Child("old").Delete()
	require.NoError(t, store.SetSlug("b"))
	assert.Equal(t, "b", store.Slug())
	assert.Equal(t, []string{"Site$footer"}, store.GetKeys())
	assert.Zero(t, clock.Pending())
	store.Pump()

	store.SetNode([]string{"Page", "title"}, Data{"text": "edited on b"})
	store.Pump()
	clock.Advance(2 * time.Second)
	require.Len(t, saver.Calls(), 2)
	assert.Equal(t, savedCall{path: "pages/b/title", data: Data{"text": "edited on b"}}, saver.Calls()[1])

	store.Close()
	assert.Equal(t, []string{"pages/a/old"}, saver.Deletes())
}

func TestStoreLockExpiryKeepsUnsavedEdit(t *testing.T) {
	store, clock, saver := newTestStore(t, StoreOptions{})
	store.SetNode([]string{"Page", "title"}, Data{"text": "1"})
	store.Pump()
	clock.Advance(2 * time.Second)
	info, _ := store.Item("Page$title")
	require.Equal(t, StateLocked, info.State)

	saver.setErr(errors.New("backend down"))
	store.SetNode([]string{"Page", "title"}, Data{"text": "2"})
	store.Pump()
	clock.Advance(2 * time.Second)
	info, _ = store.Item("Page$title")
	require.Equal(t, StateDirty, info.State)

	// past the first lock's expiry
	clock.Advance(10 * time.Second)
	info, _ = store.Item("Page$title")
	assert.Equal(t, StateDirty, info.State)
	assert.Equal(t, Data{"text": "2"}, info.Data)

	store.UpdateData(titleSnapshot(`{"text":"server"}`))
	info, _ = store.Item("Page$title")
	assert.Equal(t, StateDirty, info.State)
	assert.Equal(t, Data{"text": "2"}, info.Data)
	assert.Len(t, saver.Calls(), 2)
}

func TestStoreSaveFinishingAfterCloseArmsNoTimer(t *testing.T) {
	store, clock, saver := newTestStore(t, StoreOptions{})
	saver.hook = func(string) {
		saver.hook = nil
		store.Close()
	}
	store.SetNode([]string{"Page", "title"}, Data{"text": "B"})
	store.Pump()
	clock.Advance(2 * time.Second)

	require.Len(t, saver.Calls(), 1)
	info, _ := store.Item("Page$title")
	assert.Equal(t, StateLocked, info.State)
	assert.Zero(t, clock.Pending())
}

func TestStoreSetItemValidatesEvent(t *testing.T) {
	store, _, _ := newTestStore(t, StoreOptions{})
	assert.ErrorIs(t, store.SetItem("Page$x", Data{}, EventEndPostData), ErrInvalidEvent)
	require.NoError(t, store.SetItem("Page$x", Data{"a": 1}, EventUpdateFromServer))
	info, _ := store.Item("Page$x")
	assert.Equal(t, StateClean, info.State)

	store.DeleteItem("Page$x")
	_, ok := store.Item("Page$x")
	assert.False(t, ok)
}

func TestStoreLeaveWarning(t *testing.T) {
	store, _, _ := newTestStore(t, StoreOptions{DisableSave: true})
	assert.Empty(t, store.LeaveWarning())

	store.SetNode([]string{"Page", "a"}, Data{"v": 1})
	assert.True(t, strings.Contains(store.LeaveWarning(), "Page$a"))

	store.SetNode([]string{"Page", "b"}, Data{"v": 1})
	assert.Equal(t, "2 unsaved changes will be lost if you leave this page.", store.LeaveWarning())
	assert.Len(t, store.PendingItems(), 2)
}

func TestStoreWorkersSaveWithSystemClock(t *testing.T) {
	saver := &fakeSaver{}
	store := NewStore(StoreOptions{
		Slug:          "home",
		Saver:         saver,
		DebounceDelay: 10 * time.Millisecond,
		LockDuration:  10 * time.Millisecond,
	})
	defer store.Close()

	store.SetNode([]string{"Page", "title"}, Data{"text": "hi"})
	require.Eventually(t, func() bool {
		info, ok := store.Item("Page$title")
		return ok && info.State == StateClean && len(saver.Calls()) == 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, "pages/home/title", saver.Calls()[0].path)
}
