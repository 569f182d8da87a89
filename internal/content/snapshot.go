package content

import (
	"encoding/json"
	"sort"
)

// Snapshot is one batch of query results, keyed by collection.
type Snapshot map[string]*Collection

type Collection struct {
	Edges []Edge `json:"edges"`
}

type Edge struct {
	Node SnapshotNode `json:"node"`
}

// SnapshotNode carries one record; Content is a JSON document encoded as a
// string.
type SnapshotNode struct {
	Name    string `json:"name"`
	Content string `json:"content"`
}

// parse flattens the snapshot into item keys. Entries whose content is not a
// JSON object are dropped.
func (s Snapshot) parse() map[string]Data {
	out := map[string]Data{}
	for collection, results := range s {
		if results == nil {
			continue
		}
		for _, edge := range results.Edges {
			var data Data
			if err := json.Unmarshal([]byte(edge.Node.Content), &data); err != nil || data == nil {
				continue
			}
			out[collection+NodeChildDelimiter+edge.Node.Name] = data
		}
	}
	return out
}

// Keys lists the item keys the snapshot would produce, sorted.
func (s Snapshot) Keys() []string {
	parsed := s.parse()
	keys := make([]string, 0, len(parsed))
	for k := range parsed {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// NewEdge encodes data as a snapshot edge.
func NewEdge(name string, data Data) (Edge, error) {
	raw, err := json.Marshal(normalizeNil(data))
	if err != nil {
		return Edge{}, err
	}
	return Edge{Node: SnapshotNode{Name: name, Content: string(raw)}}, nil
}
