package core

import "time"

// NegotiationStatus enumerates the negotiation state machine states.
type NegotiationStatus int

const (
	// NegotiationInitiated is entered when the opening offer is published.
	NegotiationInitiated NegotiationStatus = iota
	// NegotiationCountered is the active exchange state; it self-transitions
	// on each bounded counter-offer.
	NegotiationCountered
	// NegotiationAgreed is terminal: the counterparty offer was accepted.
	NegotiationAgreed
	// NegotiationFailed is terminal: the negotiation was rejected.
	NegotiationFailed
	// NegotiationEscalated hands the negotiation to a human operator. It is
	// terminal for the automation but may be resumed under a fresh id.
	NegotiationEscalated
)

// String returns the string representation of the negotiation status.
func (s NegotiationStatus) String() string {
	switch s {
	case NegotiationInitiated:
		return "initiated"
	case NegotiationCountered:
		return "countered"
	case NegotiationAgreed:
		return "agreed"
	case NegotiationFailed:
		return "failed"
	case NegotiationEscalated:
		return "escalated"
	default:
		return "unknown"
	}
}

// Terminal reports whether the status permits no further transitions.
// Escalated is terminal from the automation's perspective.
func (s NegotiationStatus) Terminal() bool {
	return s == NegotiationAgreed || s == NegotiationFailed || s == NegotiationEscalated
}

// OfferTerms are the numeric terms exchanged during a negotiation.
type OfferTerms struct {
	PricePerUnit     float64 `json:"price_per_unit"`
	Quantity         int     `json:"quantity"`
	LeadTimeDays     int     `json:"lead_time_days"`
	PaymentTermsDays int     `json:"payment_terms_days"`
	ValidityHours    int     `json:"validity_hours"`
}

// Requirements capture what the initiating agent needs out of a negotiation.
type Requirements struct {
	SubjectID       string  `json:"subject_id"`
	Quantity        int     `json:"quantity"`
	TargetPrice     float64 `json:"target_price"`
	MaxLeadTimeDays int     `json:"max_lead_time_days"`
	Urgency         string  `json:"urgency,omitempty"`
	QualitySpecs    string  `json:"quality_specs,omitempty"`
}

// Strategy is the opening plan computed at initiation time. It is stored with
// the negotiation so later rounds are analyzed against a stable baseline.
type Strategy struct {
	Approach             string  `json:"approach"`
	OpeningPosition      string  `json:"opening_position"`
	TargetPriceReduction float64 `json:"target_price_reduction"`
	ExpectedOutcome      string  `json:"expected_outcome"`
}

// RoundAction enumerates the decisions a protocol round can take.
type RoundAction int

const (
	// ActionAccept accepts the counterparty offer as-is.
	ActionAccept RoundAction = iota
	// ActionCounter sends a bounded counter-offer.
	ActionCounter
	// ActionReject terminates the negotiation as failed.
	ActionReject
	// ActionEscalate hands the negotiation to a human operator.
	ActionEscalate
)

// String returns the string representation of the round action.
func (a RoundAction) String() string {
	switch a {
	case ActionAccept:
		return "accept"
	case ActionCounter:
		return "counter"
	case ActionReject:
		return "reject"
	case ActionEscalate:
		return "escalate"
	default:
		return "unknown"
	}
}

// RoundAnalysis is the deterministic evaluation of a counterparty offer.
// Commentary is opaque advisory text for the audit trail; the decision branch
// never depends on it.
type RoundAnalysis struct {
	PriceDelta    float64 `json:"price_delta"`     // Fractional increase over target price
	LeadTimeDelta int     `json:"lead_time_delta"` // Days over the required lead time
	WithinBounds  bool    `json:"within_bounds"`
	Confidence    float64 `json:"confidence"`
	Commentary    string  `json:"commentary,omitempty"`
}

// Round records one offer/analysis/decision exchange. Rounds are appended
// before any state transition is applied so the audit trail stays complete
// even when a later step fails.
type Round struct {
	Index             int           `json:"index"`
	CounterpartyOffer OfferTerms    `json:"counterparty_offer"`
	Analysis          RoundAnalysis `json:"analysis"`
	Action            RoundAction   `json:"action"`
	Timestamp         time.Time     `json:"timestamp"`
}

// Negotiation tracks one protocol execution against a counterparty. It is
// created by the initiator, mutated only by the owning engine, and becomes
// immutable once its status is terminal.
type Negotiation struct {
	ID             string            `json:"id"`
	CounterpartyID string            `json:"counterparty_id"`
	SubjectID      string            `json:"subject_id"`
	Requirements   Requirements      `json:"requirements"`
	Strategy       Strategy          `json:"strategy"`
	Status         NegotiationStatus `json:"status"`
	Rounds         []Round           `json:"rounds"`
	StartedAt      time.Time         `json:"started_at"`
}

// Clone returns a deep copy safe for independent inspection.
func (n *Negotiation) Clone() *Negotiation {
	clone := *n
	clone.Rounds = make([]Round, len(n.Rounds))
	copy(clone.Rounds, n.Rounds)
	return &clone
}
