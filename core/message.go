package core

import "time"

// Message represents a polymorphic bus payload. Concrete message types
// implement the unexported isMessage marker enabling a closed set, so every
// consumer can switch exhaustively instead of comparing type strings.
type Message interface{ isMessage() }

// Request is a correlated agent-to-agent request expecting a response.
type Request struct {
	RequestID        string         `json:"request_id"`
	From             string         `json:"from"`
	To               string         `json:"to"`
	Kind             string         `json:"kind"` // Free-form request type understood by the target agent
	Data             map[string]any `json:"data,omitempty"`
	RequiresResponse bool           `json:"requires_response"`
}

// isMessage implements the Message interface for Request.
func (Request) isMessage() {}

// Response is a reply correlated to a previously sent Request.
type Response struct {
	RequestID string         `json:"request_id"`
	From      string         `json:"from"`
	To        string         `json:"to"`
	Data      map[string]any `json:"data,omitempty"`
}

// isMessage implements the Message interface for Response.
func (Response) isMessage() {}

// EventMessage is an uncorrelated broadcast published to the shared events
// channel.
type EventMessage struct {
	Kind      string         `json:"kind"`
	From      string         `json:"from"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// isMessage implements the Message interface for EventMessage.
func (EventMessage) isMessage() {}

// Offer carries negotiation terms to or from a counterparty. Round is zero
// for the opening offer and matches the round index for counter-offers.
type Offer struct {
	NegotiationID  string     `json:"negotiation_id"`
	CounterpartyID string     `json:"counterparty_id"`
	SubjectID      string     `json:"subject_id"`
	Round          int        `json:"round"`
	Terms          OfferTerms `json:"terms"`
}

// isMessage implements the Message interface for Offer.
func (Offer) isMessage() {}

// Agreement announces a negotiation that reached agreed terms.
type Agreement struct {
	NegotiationID  string     `json:"negotiation_id"`
	CounterpartyID string     `json:"counterparty_id"`
	SubjectID      string     `json:"subject_id"`
	FinalTerms     OfferTerms `json:"final_terms"`
	Rounds         int        `json:"rounds"`
	FinalizedAt    time.Time  `json:"finalized_at"`
}

// isMessage implements the Message interface for Agreement.
func (Agreement) isMessage() {}

// Termination announces a negotiation that ended without agreement.
type Termination struct {
	NegotiationID string `json:"negotiation_id"`
	Reason        string `json:"reason"`
}

// isMessage implements the Message interface for Termination.
func (Termination) isMessage() {}

// Escalation hands a decision or negotiation off to a human operator. It is
// published on ChannelEscalations and never dropped.
type Escalation struct {
	DecisionID    string    `json:"decision_id,omitempty"`
	NegotiationID string    `json:"negotiation_id,omitempty"`
	SubjectID     string    `json:"subject_id,omitempty"`
	Reason        string    `json:"reason"`
	Urgency       string    `json:"urgency"`
	Timestamp     time.Time `json:"timestamp"`
}

// isMessage implements the Message interface for Escalation.
func (Escalation) isMessage() {}

// Alert is a monitoring signal (e.g. a critical stockout) consumed by the
// decision loop.
type Alert struct {
	Kind      string         `json:"kind"`
	SubjectID string         `json:"subject_id"`
	Urgency   string         `json:"urgency"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// isMessage implements the Message interface for Alert.
func (Alert) isMessage() {}

// DataMessage is a free-form payload for channels outside the built-in
// coordination flows.
type DataMessage struct {
	Kind string         `json:"kind,omitempty"`
	Data map[string]any `json:"data,omitempty"`
}

// isMessage implements the Message interface for DataMessage.
func (DataMessage) isMessage() {}
