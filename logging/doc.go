// Package logging provides a tiny abstraction over slog so downstream code
// can depend on a minimal interface (Logger) while allowing users to plug any
// structured logger. It also offers a richer CoordLogger with contextual
// helpers (component, agent) and domain specific logging helpers for bus
// deliveries, negotiation rounds, decisions and advisor calls.
package logging
