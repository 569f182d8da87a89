package content

import (
	"fmt"
	"strings"

	"github.com/ohler55/ojg/jp"
)

// ProxyContext is handed to transforms alongside the data.
type ProxyContext struct {
	Path     []string
	Defaults Data
}

// Transform rewrites data on its way out of (Get) or into (Set) a node.
// A nil function passes data through unchanged.
type Transform struct {
	Get func(data Data, ctx ProxyContext) Data
	Set func(data Data, ctx ProxyContext) Data
}

type proxyNode struct {
	ContentNode
	transform Transform
	defaults  Data
}

// Proxy wraps node so that its own reads and writes go through transform.
// Children and peers of the proxy are plain nodes.
func Proxy(node ContentNode, transform Transform, defaults Data) ContentNode {
	return &proxyNode{ContentNode: node, transform: transform, defaults: cloneData(defaults)}
}

func (p *proxyNode) context() ProxyContext {
	return ProxyContext{Path: p.ContentNode.Path(), Defaults: cloneData(p.defaults)}
}

func (p *proxyNode) Data() Data {
	data := p.ContentNode.Data()
	if p.transform.Get == nil {
		return data
	}
	return cloneData(p.transform.Get(data, p.context()))
}

func (p *proxyNode) SetData(data Data) {
	if p.transform.Set != nil {
		data = p.transform.Set(cloneData(data), p.context())
	}
	p.ContentNode.SetData(data)
}

// DefaultContent maps node paths, relative to the node it is attached to, to
// the data shown while nothing is stored. The empty key is the node itself.
type DefaultContent map[string]Data

func (d DefaultContent) Lookup(relative []string) (Data, bool) {
	data, ok := d[JoinKey(relative)]
	if !ok {
		return nil, false
	}
	return cloneData(data), true
}

type defaultContentNode struct {
	ContentNode
	defaults DefaultContent
	base     []string
}

// WithDefaultContent wraps node and every node reached through it.
func WithDefaultContent(node ContentNode, defaults DefaultContent) ContentNode {
	return &defaultContentNode{ContentNode: node, defaults: defaults, base: node.Path()}
}

func (d *defaultContentNode) relative() []string {
	return d.ContentNode.Path()[len(d.base):]
}

func (d *defaultContentNode) Data() Data {
	data := d.ContentNode.Data()
	if len(data) > 0 {
		return data
	}
	if fallback, ok := d.defaults.Lookup(d.relative()); ok {
		return fallback
	}
	return data
}

func (d *defaultContentNode) Child(key string) ContentNode {
	return &defaultContentNode{ContentNode: d.ContentNode.Child(key), defaults: d.defaults, base: d.base}
}

func (d *defaultContentNode) Peer(path ...string) ContentNode {
	peer := d.ContentNode.Peer(path...)
	if !hasPrefix(peer.Path(), d.base) {
		return peer
	}
	return &defaultContentNode{ContentNode: peer, defaults: d.defaults, base: d.base}
}

func hasPrefix(segments, prefix []string) bool {
	if len(segments) < len(prefix) {
		return false
	}
	for i := range prefix {
		if segments[i] != prefix[i] {
			return false
		}
	}
	return true
}

type fieldNode struct {
	ContentNode
	expr   jp.Expr
	logger Logger
}

// FieldNode views the object selected by a JSONPath expression inside the
// node's data, for example "$.image.meta". The expression must end in a child
// name or an index so that writes address a single location. Writes that
// still fail against the current data are reported to logger, which may be
// nil.
func FieldNode(node ContentNode, expression string, logger Logger) (ContentNode, error) {
	if strings.TrimSpace(expression) == "" {
		return nil, fmt.Errorf("field node: empty expression")
	}
	expr, err := jp.ParseString(expression)
	if err != nil {
		return nil, fmt.Errorf("field node %q: %w", expression, err)
	}
	switch expr[len(expr)-1].(type) {
	case jp.Child, jp.Nth:
	default:
		return nil, fmt.Errorf("field node %q: expression must end in a child name or index", expression)
	}
	return &fieldNode{ContentNode: node, expr: expr, logger: logger}, nil
}

func (f *fieldNode) Data() Data {
	for _, result := range f.expr.Get(f.ContentNode.Data()) {
		if obj, ok := result.(map[string]any); ok {
			return cloneData(obj)
		}
	}
	return Data{}
}

// SetData writes data back into a copy of the parent object. A failed write
// leaves the parent untouched.
func (f *fieldNode) SetData(data Data) {
	parent := f.ContentNode.Data()
	if err := f.expr.Set(parent, cloneData(data)); err != nil {
		if f.logger != nil {
			f.logger.Printf("content: set %s at %s: %v", JoinKey(f.Path()), f.expr, err)
		}
		return
	}
	f.ContentNode.SetData(parent)
}
