package content

import (
	"bytes"
	"encoding/json"
)

// Data is the JSON object stored for one content item.
type Data = map[string]any

func cloneData(in Data) Data {
	if in == nil {
		return Data{}
	}
	out := make(Data, len(in))
	for k, v := range in {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch typed := v.(type) {
	case map[string]any:
		return cloneData(typed)
	case []any:
		out := make([]any, len(typed))
		for i, item := range typed {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return typed
	}
}

// sameData compares two values by their serialized form. encoding/json sorts
// map keys, so the comparison is stable for equal objects.
func sameData(a, b Data) bool {
	left, err := json.Marshal(normalizeNil(a))
	if err != nil {
		return false
	}
	right, err := json.Marshal(normalizeNil(b))
	if err != nil {
		return false
	}
	return bytes.Equal(left, right)
}

func normalizeNil(d Data) Data {
	if d == nil {
		return Data{}
	}
	return d
}

// MergeData returns base overlaid with over; neither argument is modified.
func MergeData(base, over Data) Data {
	out := cloneData(base)
	for k, v := range over {
		out[k] = cloneValue(v)
	}
	return out
}
