// Package universe owns the replicated node graph and the fact catalog
// exchanged between the authoritative side and its mirror.
//
// Ownership boundary:
// - fact catalog and its wire codec
//
// - node graph, id lifecycle (free list), destroy cascade
//
// - mutation authority (permanent or scoped to Graph.Apply)
//
// A Graph is not safe for concurrent use; it belongs to one execution context.
package universe
