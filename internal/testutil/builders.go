package testutil

import (
	"context"
	"time"

	"github.com/hupe1980/agentcoord/core"
)

// SituationBuilder provides a fluent helper for constructing situation
// snapshots in tests. Example:
//
//	s := NewSituationBuilder().CriticalItem("widget-1", "acme").Build()
//
// Chain only the parts you need; counts are derived from the added items
// unless overridden.
type SituationBuilder struct {
	timestamp     time.Time
	items         []core.Item
	criticalCount *int
	highRiskCount *int
}

// NewSituationBuilder creates a builder with the timestamp set to now.
func NewSituationBuilder() *SituationBuilder {
	return &SituationBuilder{timestamp: time.Now()}
}

// Timestamp overrides the snapshot timestamp (chainable).
func (b *SituationBuilder) Timestamp(t time.Time) *SituationBuilder {
	b.timestamp = t
	return b
}

// Item appends a fully specified item (chainable).
func (b *SituationBuilder) Item(item core.Item) *SituationBuilder {
	b.items = append(b.items, item)
	return b
}

// CriticalItem appends a critical-risk item with sensible defaults (chainable).
func (b *SituationBuilder) CriticalItem(subjectID, counterpartyID string) *SituationBuilder {
	return b.Item(core.Item{
		SubjectID:         subjectID,
		CounterpartyID:    counterpartyID,
		Risk:              core.RiskCritical,
		Stock:             0,
		ReorderLevel:      20,
		DaysUntilStockout: 0,
		TargetPrice:       10,
		MaxLeadTimeDays:   7,
	})
}

// HighRiskItem appends a high-risk item with sensible defaults (chainable).
func (b *SituationBuilder) HighRiskItem(subjectID, counterpartyID string) *SituationBuilder {
	return b.Item(core.Item{
		SubjectID:         subjectID,
		CounterpartyID:    counterpartyID,
		Risk:              core.RiskHigh,
		Stock:             5,
		ReorderLevel:      20,
		DaysUntilStockout: 4,
		TargetPrice:       10,
		MaxLeadTimeDays:   7,
	})
}

// CriticalCount overrides the derived critical count (chainable).
func (b *SituationBuilder) CriticalCount(n int) *SituationBuilder {
	b.criticalCount = &n
	return b
}

// HighRiskCount overrides the derived high-risk count (chainable).
func (b *SituationBuilder) HighRiskCount(n int) *SituationBuilder {
	b.highRiskCount = &n
	return b
}

// Build assembles the snapshot.
func (b *SituationBuilder) Build() core.Situation {
	s := core.Situation{Timestamp: b.timestamp, Items: b.items}
	for _, it := range b.items {
		switch it.Risk {
		case core.RiskCritical:
			s.CriticalCount++
		case core.RiskHigh:
			s.HighRiskCount++
		}
	}
	if b.criticalCount != nil {
		s.CriticalCount = *b.criticalCount
	}
	if b.highRiskCount != nil {
		s.HighRiskCount = *b.highRiskCount
	}
	return s
}

// Offer returns counterparty offer terms with the given price and defaults
// for the rest.
func Offer(price float64) core.OfferTerms {
	return core.OfferTerms{
		PricePerUnit:     price,
		Quantity:         100,
		LeadTimeDays:     5,
		PaymentTermsDays: 30,
		ValidityHours:    48,
	}
}

// Requirements returns negotiation requirements with the given target price
// and defaults for the rest.
func Requirements(targetPrice float64) core.Requirements {
	return core.Requirements{
		SubjectID:       "subject-1",
		Quantity:        100,
		TargetPrice:     targetPrice,
		MaxLeadTimeDays: 7,
		Urgency:         "high",
	}
}

// StaticProvider implements core.SituationProvider over a fixed snapshot.
type StaticProvider struct {
	Situation core.Situation
	Err       error
}

// GetSituation returns the fixed snapshot or error.
func (p StaticProvider) GetSituation(_ context.Context) (core.Situation, error) {
	return p.Situation, p.Err
}

// StaticEstimator implements core.Estimator with a fixed unit cost.
type StaticEstimator struct {
	UnitCost float64
	Err      error
}

// Estimate projects a refill to twice the reorder level.
func (e StaticEstimator) Estimate(_ context.Context, item core.Item) (core.Estimate, error) {
	if e.Err != nil {
		return core.Estimate{}, e.Err
	}
	qty := item.ReorderLevel*2 - item.Stock
	if qty < 1 {
		qty = 1
	}
	return core.Estimate{Quantity: qty, Cost: float64(qty) * e.UnitCost}, nil
}
