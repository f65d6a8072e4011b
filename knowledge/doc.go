// Package knowledge provides the shared, versioned key/value store agents
// use for learning and audit. Writing to an existing key pushes the previous
// value onto the key's version history before overwriting, so the store never
// silently loses a prior value. Every store, retrieve and query is recorded
// in an access log that feeds the usage statistics.
package knowledge
