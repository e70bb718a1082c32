// Package registry implements the typed, hierarchical resource registry
// underneath the reflow runtime.
//
// A Node is a per-partition store of lazily constructed singletons keyed by
// (kind, name). Resources are described by a Def, which pairs a stable kind
// tag with a constructor; Def.Locate constructs the resource on first use
// and returns the identical value on every later call for the same key.
//
// Resource constructors must have no observable side effect and must not
// depend on which goroutine or at what time they run. Only later operations
// on the resource may have effects. This contract is what makes first-use
// races safe to resolve by "first writer wins": a loser's redundant
// construction is discarded without ever being observed.
//
// Child registries are themselves resources, so locating one builds a
// path-addressed namespace: each partition of a running application gets
// its own child Node under the root.
package registry
