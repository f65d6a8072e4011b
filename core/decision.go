package core

import "time"

// DecisionType enumerates the decisions the autonomy loop can emit.
type DecisionType int

const (
	// DecisionEmergencyOrder responds to a critical item, optionally through
	// a negotiation when the cost clears the negotiation threshold.
	DecisionEmergencyOrder DecisionType = iota
	// DecisionPreventiveOrder restocks a high-risk item before it goes
	// critical.
	DecisionPreventiveOrder
	// DecisionEscalation defers an over-authority item to a human operator.
	DecisionEscalation
)

// String returns the string representation of the decision type.
func (t DecisionType) String() string {
	switch t {
	case DecisionEmergencyOrder:
		return "emergency_order"
	case DecisionPreventiveOrder:
		return "preventive_order"
	case DecisionEscalation:
		return "escalation"
	default:
		return "unknown"
	}
}

// AuthorityLevel marks whether a decision may execute without a human.
type AuthorityLevel int

const (
	// AuthorityAutonomous permits direct execution within bounds.
	AuthorityAutonomous AuthorityLevel = iota
	// AuthorityHumanRequired forces an escalation publish; the decision is
	// never auto-approved and never dropped.
	AuthorityHumanRequired
)

// String returns the string representation of the authority level.
func (l AuthorityLevel) String() string {
	switch l {
	case AuthorityAutonomous:
		return "autonomous"
	case AuthorityHumanRequired:
		return "human_required"
	default:
		return "unknown"
	}
}

// DecisionStatus tracks what happened to an emitted decision.
type DecisionStatus int

const (
	// DecisionPending is the initial status before execution.
	DecisionPending DecisionStatus = iota
	// DecisionExecuted marks a directly executed autonomous decision.
	DecisionExecuted
	// DecisionNegotiating marks a decision routed into a negotiation.
	DecisionNegotiating
	// DecisionEscalated marks a decision handed to a human operator.
	DecisionEscalated
)

// String returns the string representation of the decision status.
func (s DecisionStatus) String() string {
	switch s {
	case DecisionPending:
		return "pending"
	case DecisionExecuted:
		return "executed"
	case DecisionNegotiating:
		return "negotiating"
	case DecisionEscalated:
		return "escalated"
	default:
		return "unknown"
	}
}

// Decision is one bounded autonomous action emitted by the decision loop.
type Decision struct {
	ID                  string         `json:"id"`
	Type                DecisionType   `json:"type"`
	SubjectID           string         `json:"subject_id"`
	CounterpartyID      string         `json:"counterparty_id,omitempty"`
	Quantity            int            `json:"quantity,omitempty"`
	EstimatedCost       float64        `json:"estimated_cost"`
	Confidence          float64        `json:"confidence"`
	Authority           AuthorityLevel `json:"authority_level"`
	RequiresNegotiation bool           `json:"requires_negotiation,omitempty"`
	Justification       string         `json:"justification,omitempty"`
	Status              DecisionStatus `json:"status"`
}

// DecisionRecord pairs a decision with the situation snapshot that triggered
// it, for audit and later learning. Records are immutable once appended.
type DecisionRecord struct {
	Decision  Decision  `json:"decision"`
	Situation Situation `json:"situation"`
	Timestamp time.Time `json:"timestamp"`
}
