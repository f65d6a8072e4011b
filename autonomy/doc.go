// Package autonomy contains the timer-driven decision loop and its learning
// counterpart. Each cycle pulls a situation snapshot from the external
// analysis collaborators, classifies its urgency deterministically, emits
// bounded decisions (direct execution, negotiation, or escalation) and
// appends every decision with its triggering snapshot to an immutable log.
// A slower learning cycle aggregates recent decision confidence and adapts
// the autonomous authority bounds, ratcheting up on sustained good outcomes
// and down on sustained poor ones, within a fixed ceiling and floor.
//
// Nothing in this package is fatal: iteration faults are caught at the loop
// boundary, logged, and retried after a backoff.
package autonomy
