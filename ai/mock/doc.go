// Package mock provides deterministic test doubles for the ai package
// interfaces. The mock embedder produces stable pseudo-random unit vectors
// from input text, and the mock enricher derives sentiment from a small
// keyword list, so tests never need a running model server.
package mock
