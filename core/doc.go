// Package core contains the shared data model of the coordination layer:
// bus envelopes and the closed Message variant set, decisions and their
// audit records, negotiation state, authority bounds and the collaborator
// interfaces (situation provider, estimator, clock) consumed by the loops.
//
// Everything here is either immutable after construction (Envelope, Decision,
// Round) or guards its own mutation behind accessor methods (AuthorityBounds).
// No package in this module shares mutable state except through these types,
// the bus and the knowledge store.
package core
