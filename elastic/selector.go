package elastic

import (
	"strings"

	"github.com/pkg/errors"
)

// Selector narrows the candidate nodes for a request. It must not modify the input slice.
type Selector interface {
	Select(nodes []Node) []Node
}

type SelectorFunc func(nodes []Node) []Node

func (f SelectorFunc) Select(nodes []Node) []Node { return f(nodes) }

// Any keeps every node.
var Any Selector = SelectorFunc(func(nodes []Node) []Node { return nodes })

// SkipDedicatedMasters drops master-only nodes.
var SkipDedicatedMasters Selector = SelectorFunc(func(nodes []Node) []Node {
	out := make([]Node, 0, len(nodes))
	for _, n := range nodes {
		if !n.DedicatedMaster() {
			out = append(out, n)
		}
	}
	return out
})

// HasAttribute keeps only nodes with the attribute set to value.
func HasAttribute(key, value string) Selector {
	return SelectorFunc(func(nodes []Node) []Node {
		out := make([]Node, 0, len(nodes))
		for _, n := range nodes {
			if n.Attributes[key] == value {
				out = append(out, n)
			}
		}
		return out
	})
}

// PreferAttribute keeps nodes with the attribute if any exist, and all nodes otherwise.
func PreferAttribute(key, value string) Selector {
	has := HasAttribute(key, value)
	return SelectorFunc(func(nodes []Node) []Node {
		if out := has.Select(nodes); len(out) > 0 {
			return out
		}
		return nodes
	})
}

// ParseSelector understands "any", "skip_dedicated_masters", "attr:key=value" and "prefer:key=value".
func ParseSelector(s string) (Selector, error) {
	switch s {
	case "", "any":
		return Any, nil
	case "skip_dedicated_masters":
		return SkipDedicatedMasters, nil
	}

	kind, kv, ok := strings.Cut(s, ":")
	if ok {
		key, value, ok := strings.Cut(kv, "=")
		if ok && key != "" {
			switch kind {
			case "attr":
				return HasAttribute(key, value), nil
			case "prefer":
				return PreferAttribute(key, value), nil
			}
		}
	}
	return nil, errors.Errorf("unknown node selector %q", s)
}
