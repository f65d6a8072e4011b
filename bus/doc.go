// Package bus implements the channel-based publish/subscribe layer the
// agents use to exchange events and requests.
//
// A single background worker drains the publish queue in publish order and
// fans each envelope out to the current subscribers of its channel,
// sequentially and in registration order. Ordering is therefore FIFO across
// the whole bus, not merely per channel; callers that need stronger
// per-channel isolation should route that traffic through a dedicated Bus
// instance.
//
// Delivery is fire-and-continue: a panicking handler is recovered and logged,
// the remaining subscribers still receive the envelope and the envelope is
// still marked delivered. Publish never blocks and never signals
// backpressure; the internal backlog is unbounded by default, which is a
// deliberate caller-visible risk (bound it externally or via WithHistoryLimit
// for the history side).
package bus
