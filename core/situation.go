package core

import (
	"context"
	"time"
)

// RiskLevel classifies an individual situation item.
type RiskLevel int

const (
	// RiskNormal items require no action.
	RiskNormal RiskLevel = iota
	// RiskHigh items are candidates for preventive action.
	RiskHigh
	// RiskCritical items require an emergency response.
	RiskCritical
)

// String returns the string representation of the risk level.
func (r RiskLevel) String() string {
	switch r {
	case RiskNormal:
		return "normal"
	case RiskHigh:
		return "high"
	case RiskCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Item is one actionable element of a situation snapshot, produced by the
// external analysis collaborators.
type Item struct {
	SubjectID         string    `json:"subject_id"`
	CounterpartyID    string    `json:"counterparty_id,omitempty"`
	Risk              RiskLevel `json:"risk"`
	Stock             int       `json:"stock"`
	ReorderLevel      int       `json:"reorder_level"`
	DaysUntilStockout float64   `json:"days_until_stockout"`
	TargetPrice       float64   `json:"target_price"`
	MaxLeadTimeDays   int       `json:"max_lead_time_days"`
}

// Situation is a point-in-time snapshot of the external analysis output.
type Situation struct {
	Timestamp          time.Time `json:"timestamp"`
	CriticalCount      int       `json:"critical_count"`
	HighRiskCount      int       `json:"high_risk_count"`
	SupplierIssueCount int       `json:"supplier_issue_count"`
	Items              []Item    `json:"items,omitempty"`
}

// Urgency is the deterministic classification of a situation.
type Urgency int

const (
	// UrgencyNormal requires no action.
	UrgencyNormal Urgency = iota
	// UrgencyHigh triggers preventive decisions.
	UrgencyHigh
	// UrgencyCritical triggers emergency decisions.
	UrgencyCritical
)

// String returns the string representation of the urgency level.
func (u Urgency) String() string {
	switch u {
	case UrgencyNormal:
		return "normal"
	case UrgencyHigh:
		return "high"
	case UrgencyCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Urgency classifies the snapshot: any critical item makes it critical, more
// than two high-risk items make it high, everything else is normal.
func (s Situation) Urgency() Urgency {
	if s.CriticalCount > 0 {
		return UrgencyCritical
	}
	if s.HighRiskCount > 2 {
		return UrgencyHigh
	}
	return UrgencyNormal
}

// RequiresAction reports whether the decision loop must act on the snapshot.
func (s Situation) RequiresAction() bool { return s.Urgency() != UrgencyNormal }

// ItemsAtRisk returns the items at or above the given risk level.
func (s Situation) ItemsAtRisk(min RiskLevel) []Item {
	var items []Item
	for _, it := range s.Items {
		if it.Risk >= min {
			items = append(items, it)
		}
	}
	return items
}

// Estimate is the cost/quantity projection for one item.
type Estimate struct {
	Quantity int     `json:"quantity"`
	Cost     float64 `json:"cost"`
}

// SituationProvider supplies situation snapshots. Implementations live
// outside the coordination core (data loading and scoring are external
// collaborators) and must be side-effect free from the core's perspective.
type SituationProvider interface {
	GetSituation(ctx context.Context) (Situation, error)
}

// Estimator projects order quantity and cost for an item when building
// decisions.
type Estimator interface {
	Estimate(ctx context.Context, item Item) (Estimate, error)
}
