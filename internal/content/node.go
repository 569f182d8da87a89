package content

import (
	"sort"
	"sync"
)

// NodeAccessor reads and writes the data at one node.
type NodeAccessor interface {
	Data() Data
	SetData(data Data)
}

// ContentNode addresses one item of a store through its path. A node is a
// view; it holds no data of its own.
type ContentNode interface {
	NodeAccessor
	Path() []string
	Delete()
	Keys() []string
	Child(key string) ContentNode
	Peer(path ...string) ContentNode
}

// Actions mutate the backing store.
type Actions interface {
	SetNode(path []string, data Data)
	DeleteNode(path []string)
}

// Getters read the backing store.
type Getters interface {
	GetNode(path []string) Data
	GetKeys() []string
}

// Accessor is everything a node needs from its store.
type Accessor interface {
	Actions
	Getters
}

type node struct {
	accessor Accessor
	path     []string
}

// NewNode returns the node at path. With no path the node is the root of
// the Page collection.
func NewNode(accessor Accessor, path ...string) ContentNode {
	if len(path) == 0 {
		path = []string{CollectionPage}
	}
	return &node{accessor: accessor, path: clonePath(path)}
}

func (n *node) Path() []string { return clonePath(n.path) }

func (n *node) Data() Data {
	return cloneData(n.accessor.GetNode(n.path))
}

func (n *node) SetData(data Data) {
	n.accessor.SetNode(n.path, data)
}

func (n *node) Delete() {
	n.accessor.DeleteNode(n.path)
}

func (n *node) Keys() []string {
	return n.accessor.GetKeys()
}

func (n *node) Child(key string) ContentNode {
	return &node{accessor: n.accessor, path: appendPath(n.path, key)}
}

// Peer resolves an absolute path. A single argument is treated as a flattened
// key and split on the delimiter.
func (n *node) Peer(path ...string) ContentNode {
	if len(path) == 1 {
		path = SplitKey(path[0])
	}
	return &node{accessor: n.accessor, path: clonePath(path)}
}

// memoryAccessor is a store-less accessor used where no real store exists.
type memoryAccessor struct {
	mu    sync.Mutex
	items map[string]Data
}

func (m *memoryAccessor) GetNode(path []string) Data {
	m.mu.Lock()
	defer m.mu.Unlock()
	return cloneData(m.items[JoinKey(path)])
}

func (m *memoryAccessor) GetKeys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.items))
	for k := range m.items {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (m *memoryAccessor) SetNode(path []string, data Data) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[JoinKey(path)] = cloneData(data)
}

func (m *memoryAccessor) DeleteNode(path []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, JoinKey(path))
}

// NewMemoryNode returns a root node over a private in-memory map.
func NewMemoryNode(collection string) ContentNode {
	if collection == "" {
		collection = CollectionPage
	}
	return NewNode(&memoryAccessor{items: map[string]Data{}}, collection)
}
