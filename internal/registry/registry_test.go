package registry

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type counter struct {
	path Path
	n    atomic.Int64
}

var counterDef = Def[*counter]{
	Kind: "counter",
	New: func(_ *Node, path Path) *counter {
		return &counter{path: path}
	},
}

func TestLocateIsIdempotent(t *testing.T) {
	root := NewRoot("test")

	a := counterDef.Locate(root, "a")
	require.NotNil(t, a)
	assert.Same(t, a, counterDef.Locate(root, "a"), "second locate must return the stored value")

	b := counterDef.Locate(root, "b")
	assert.NotSame(t, a, b, "distinct names are distinct resources")
}

func TestDefaultIsTheEmptyName(t *testing.T) {
	root := NewRoot("test")
	assert.Same(t, counterDef.Default(root), counterDef.Locate(root, ""))
}

func TestLocatedValueIsNotReconstructed(t *testing.T) {
	root := NewRoot("test")
	c := counterDef.Default(root)
	c.n.Add(41)
	c.n.Add(1)
	assert.Equal(t, int64(42), counterDef.Default(root).n.Load())
}

func TestConcurrentLocateConvergesToOneValue(t *testing.T) {
	root := NewRoot("test")
	const k = 32

	var wg sync.WaitGroup
	results := make([]*counter, k)
	start := make(chan struct{})
	for i := 0; i < k; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			results[i] = counterDef.Locate(root, "shared")
		}(i)
	}
	close(start)
	wg.Wait()

	for i := 1; i < k; i++ {
		assert.Same(t, results[0], results[i], "racing locates must converge")
	}
}

func TestChildRegistriesExtendThePath(t *testing.T) {
	root := NewRoot("root")
	part := root.Child("default")
	require.NotNil(t, part)
	assert.Same(t, part, root.Child("default"))

	c := counterDef.Locate(part, "x")
	require.Len(t, c.path, 3)
	assert.Equal(t, Key{Kind: "counter", Name: "x"}, c.path[0])
	assert.Equal(t, Key{Kind: "registry", Name: "default"}, c.path[1])
	assert.Equal(t, Key{Kind: "registry", Name: "root"}, c.path[2])

	// Sibling partitions are isolated scopes.
	other := root.Child("other")
	assert.NotSame(t, c, counterDef.Locate(other, "x"))
}

func TestConstructorMayLocateOnTheSameNode(t *testing.T) {
	root := NewRoot("test")

	type pair struct{ dep *counter }
	pairDef := Def[*pair]{
		Kind: "pair",
		New: func(n *Node, _ Path) *pair {
			return &pair{dep: counterDef.Default(n)}
		},
	}

	p := pairDef.Default(root)
	assert.Same(t, counterDef.Default(root), p.dep)
}

func TestPathString(t *testing.T) {
	root := NewRoot("root")
	c := counterDef.Locate(root.Child("p1"), "w")
	assert.Equal(t, "registry:root.registry:p1.counter:w", c.path.String())
}
