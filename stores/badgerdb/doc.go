// Package badgerdb provides the shared BadgerDB backend used by the
// search, graph, and insight store adapters. Each adapter embeds a
// Backend and prefixes its keys so multiple adapters can share one
// database file in single-node deployments, or open separate files when
// isolation is wanted.
package badgerdb
