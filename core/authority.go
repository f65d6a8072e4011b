package core

import "sync"

// AuthorityConfig holds the initial numeric limits for autonomous action.
type AuthorityConfig struct {
	// MaxAutonomousValue is the cost ceiling for decisions executed without
	// a human. Anything above it is escalated.
	MaxAutonomousValue float64
	// AutonomousValueCeiling caps upward adaptation of MaxAutonomousValue.
	AutonomousValueCeiling float64
	// AutonomousValueFloor caps downward adaptation of MaxAutonomousValue.
	AutonomousValueFloor float64
	// NegotiationThreshold routes autonomous decisions above this cost
	// through a negotiation instead of direct execution.
	NegotiationThreshold float64
	// EmergencyThreshold is the stock level at which an item counts as an
	// emergency (zero means already out).
	EmergencyThreshold int
	// SwitchThreshold is the counterparty score below which a switch is
	// recommended.
	SwitchThreshold float64
	// MaxNegotiationRounds is the starvation guard: a negotiation that has
	// not agreed after this many rounds is forcibly escalated.
	MaxNegotiationRounds int
	// MaxPriceIncrease is the fractional price increase acceptable without
	// escalation.
	MaxPriceIncrease float64
	// MaxLeadTimeExtension is the lead-time slack (days) acceptable without
	// escalation.
	MaxLeadTimeExtension int
	// AdjustTolerance is the fractional band above MaxPriceIncrease within
	// which a counter-offer is still attempted instead of rejecting.
	AdjustTolerance float64
}

// DefaultAuthorityConfig provides conservative starting bounds.
var DefaultAuthorityConfig = AuthorityConfig{
	MaxAutonomousValue:     50000,
	AutonomousValueCeiling: 100000,
	AutonomousValueFloor:   50000,
	NegotiationThreshold:   10000,
	EmergencyThreshold:     0,
	SwitchThreshold:        60,
	MaxNegotiationRounds:   3,
	MaxPriceIncrease:       0.15,
	MaxLeadTimeExtension:   7,
	AdjustTolerance:        0.10,
}

// AuthorityBounds is the process-wide mutable authority configuration. The
// decision loop reads it on every cycle; only the learning step writes it
// (single-writer discipline). All access goes through accessor methods, never
// ambient globals.
type AuthorityBounds struct {
	mu  sync.RWMutex
	cfg AuthorityConfig
}

// NewAuthorityBounds constructs bounds from DefaultAuthorityConfig with
// optional overrides.
func NewAuthorityBounds(optFns ...func(c *AuthorityConfig)) *AuthorityBounds {
	cfg := DefaultAuthorityConfig
	for _, fn := range optFns {
		fn(&cfg)
	}
	if cfg.AutonomousValueFloor > cfg.MaxAutonomousValue {
		cfg.AutonomousValueFloor = cfg.MaxAutonomousValue
	}
	return &AuthorityBounds{cfg: cfg}
}

// Snapshot returns a point-in-time copy of the current configuration.
func (b *AuthorityBounds) Snapshot() AuthorityConfig {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.cfg
}

// MaxAutonomousValue returns the current autonomous cost ceiling.
func (b *AuthorityBounds) MaxAutonomousValue() float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.cfg.MaxAutonomousValue
}

// NegotiationThreshold returns the cost above which autonomous decisions
// negotiate instead of executing directly.
func (b *AuthorityBounds) NegotiationThreshold() float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.cfg.NegotiationThreshold
}

// MaxNegotiationRounds returns the negotiation starvation guard.
func (b *AuthorityBounds) MaxNegotiationRounds() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.cfg.MaxNegotiationRounds
}

// Raise multiplies MaxAutonomousValue by factor (> 1), capped at the
// configured ceiling, and returns the new value. Called only by the learning
// step.
func (b *AuthorityBounds) Raise(factor float64) float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	v := b.cfg.MaxAutonomousValue * factor
	if v > b.cfg.AutonomousValueCeiling {
		v = b.cfg.AutonomousValueCeiling
	}
	b.cfg.MaxAutonomousValue = v
	return v
}

// Lower multiplies MaxAutonomousValue by factor (< 1), floored at the
// configured floor, and returns the new value. Called only by the learning
// step.
func (b *AuthorityBounds) Lower(factor float64) float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	v := b.cfg.MaxAutonomousValue * factor
	if v < b.cfg.AutonomousValueFloor {
		v = b.cfg.AutonomousValueFloor
	}
	b.cfg.MaxAutonomousValue = v
	return v
}
