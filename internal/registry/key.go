package registry

import "strings"

// Key identifies a resource within a Node: a stable kind tag assigned per
// resource type, paired with an instance name. The empty name addresses the
// default instance of a kind.
type Key struct {
	Kind string
	Name string
}

// String returns "kind" for default instances and "kind:name" otherwise.
func (k Key) String() string {
	if k.Name == "" {
		return k.Kind
	}
	return k.Kind + ":" + k.Name
}

// Path is the ordered sequence of keys from a node up to the root,
// leaf-first. It uniquely identifies a node's position in the namespace.
type Path []Key

// String renders the path root-first, e.g. "registry:root.registry:default".
func (p Path) String() string {
	parts := make([]string, len(p))
	for i, k := range p {
		parts[len(p)-1-i] = k.String()
	}
	return strings.Join(parts, ".")
}

// extend returns a new path with key prepended; the receiver is not mutated.
func (p Path) extend(key Key) Path {
	out := make(Path, 0, len(p)+1)
	out = append(out, key)
	return append(out, p...)
}
