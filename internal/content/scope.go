package content

import "context"

type nodeMapKey struct{}

// NodeMap is the set of nodes visible to a scope, one per collection.
type NodeMap struct {
	ActiveCollection string
	Collections      map[string]ContentNode
}

var fallbackNodeMap = NodeMap{
	ActiveCollection: DefaultCollection,
	Collections: map[string]ContentNode{
		DefaultCollection: NewMemoryNode(CollectionPage),
	},
}

// NodeMapFrom returns the map scoped on ctx, or the fallback map holding a
// memory node under the default collection.
func NodeMapFrom(ctx context.Context) NodeMap {
	if ctx != nil {
		if m, ok := ctx.Value(nodeMapKey{}).(NodeMap); ok {
			return m
		}
	}
	return fallbackNodeMap
}

// WithNode scopes node on ctx. The node is registered under collection, or
// under the currently active collection when collection is empty, and that
// collection becomes active.
func WithNode(ctx context.Context, node ContentNode, collection string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	current := NodeMapFrom(ctx)
	active := collection
	if active == "" {
		active = current.ActiveCollection
	}
	if active == "" {
		active = DefaultCollection
	}
	collections := make(map[string]ContentNode, len(current.Collections)+1)
	for name, n := range current.Collections {
		collections[name] = n
	}
	collections[active] = node
	return context.WithValue(ctx, nodeMapKey{}, NodeMap{ActiveCollection: active, Collections: collections})
}

// UseNode returns the node for collection, falling back to the active one.
func UseNode(ctx context.Context, collection string) ContentNode {
	m := NodeMapFrom(ctx)
	if collection != "" {
		if node, ok := m.Collections[collection]; ok {
			return node
		}
	}
	if node, ok := m.Collections[m.ActiveCollection]; ok {
		return node
	}
	return fallbackNodeMap.Collections[DefaultCollection]
}

// DataHandlers pairs component data with its setter.
type DataHandlers struct {
	ComponentData    Data
	SetComponentData func(Data)
}

// UseNodeDataHandlers merges node data over defaults.
func UseNodeDataHandlers(ctx context.Context, collection string, defaults Data) DataHandlers {
	node := UseNode(ctx, collection)
	return DataHandlers{
		ComponentData:    MergeData(defaults, node.Data()),
		SetComponentData: node.SetData,
	}
}
