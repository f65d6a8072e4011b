// Package negotiation runs the offer/counter-offer protocol an agent
// executes autonomously against a counterparty.
//
// State machine: initiated -> countered (self-transitioning on each bounded
// counter-offer) -> agreed | failed | escalated. The accept/counter/reject
// branch is decided by deterministic rules over numeric bounds (price delta,
// lead-time delta, round count); the advisory capability contributes
// explanation text only and can never change the outcome. After the
// configured maximum number of rounds without agreement the negotiation is
// forcibly escalated, which is the protocol's starvation guard.
package negotiation
