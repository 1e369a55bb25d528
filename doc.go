// Package paramtree models the hierarchically named parameter space of a
// remote instrument server as a navigable tree.
//
// The flat path table of a device is fetched once in bulk and presented as a
// lazily expanded tree. Nodes are produced on demand by the tree manager and
// interned, so repeated access to the same path is cheap and returns the
// identical node. Reads, writes, and subscriptions are forwarded to a
// Session implementation; values flow back through a composable parser
// pipeline. Multi-leaf operations on partial and wildcard paths are packaged
// as immutable result trees.
//
// The package performs no network i/o. Transports implement the Session
// interface, see the wire and mock packages.
package paramtree
