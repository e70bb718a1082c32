package registry

import "sync"

// Node is one scope of the resource namespace. All goroutines holding a
// reference share the same store; insertion of a newly constructed resource
// is the only mutation and is guarded by the node's own lock. Values, once
// inserted, are immutable at the registry level.
type Node struct {
	mu    sync.Mutex
	path  Path
	store map[Key]any
}

// NewRoot creates a fresh root node with an empty store.
func NewRoot(name string) *Node {
	return &Node{
		path:  Path{{Kind: childKind, Name: name}},
		store: make(map[Key]any),
	}
}

// Path returns the node's position in the namespace, leaf-first.
func (n *Node) Path() Path {
	return n.path
}

// Def describes a resource kind: a stable tag used as the lookup key and a
// constructor invoked on first Locate. Constructors receive the enclosing
// node (and may Locate further resources on it) plus the located resource's
// own extended path.
type Def[R any] struct {
	Kind string
	New  func(n *Node, path Path) R
}

// Locate returns the singleton of this kind under the given name,
// constructing it on first use. Lookups take the node lock; callers are
// expected to locate what they need once, up front, not per use.
//
// Construction runs outside the lock so that constructors can re-enter the
// same node. When two callers race for one key, the store is reconciled
// under the lock and exactly one constructed value is retained; every racer
// gets that value.
func (d Def[R]) Locate(n *Node, name string) R {
	key := Key{Kind: d.Kind, Name: name}

	n.mu.Lock()
	if v, ok := n.store[key]; ok {
		n.mu.Unlock()
		return v.(R)
	}
	n.mu.Unlock()

	built := d.New(n, n.path.extend(key))

	n.mu.Lock()
	defer n.mu.Unlock()
	if v, ok := n.store[key]; ok {
		// Lost the race; the speculative construction had no effects and
		// is dropped here without anyone having observed it.
		return v.(R)
	}
	n.store[key] = built
	return built
}

// Default locates the unnamed singleton of this kind.
func (d Def[R]) Default(n *Node) R {
	return d.Locate(n, "")
}

const childKind = "registry"

// Child is the resource describing a nested registry scope. Locating it
// extends the namespace: the new node's path is its own key followed by the
// parent's path.
var Child = Def[*Node]{
	Kind: childKind,
	New: func(_ *Node, path Path) *Node {
		return &Node{path: path, store: make(map[Key]any)}
	},
}

// Child locates (constructing on first use) the named nested scope.
func (n *Node) Child(name string) *Node {
	return Child.Locate(n, name)
}
