package core

import (
	"time"

	"github.com/google/uuid"
)

// Channel names used by the built-in coordination flows. Agent mailboxes use
// the "agent." prefix (see AgentChannel); everything else is a shared topic.
const (
	// ChannelEvents carries broadcast events with no correlation id.
	ChannelEvents = "events"
	// ChannelAlerts carries monitoring alerts consumed by the decision loop.
	ChannelAlerts = "alerts"
	// ChannelEscalations carries decisions and negotiations handed off to a
	// human operator. This is the only operator-visible failure surface.
	ChannelEscalations = "escalations"
	// ChannelAgreements carries finalized negotiation outcomes.
	ChannelAgreements = "agreements"
	// ChannelCounterparty carries outbound offers and counter-offers.
	ChannelCounterparty = "counterparty.communications"
)

// AgentChannel returns the private inbound channel name for an agent.
func AgentChannel(name string) string { return "agent." + name }

// Envelope is the unit of transport on the bus. It is created on publish and
// treated as immutable afterwards except for the Delivered flag, which the
// bus worker sets once every current subscriber has been invoked.
type Envelope struct {
	ID        string    `json:"id"`
	Channel   string    `json:"channel"`
	Payload   Message   `json:"payload"`
	CreatedAt time.Time `json:"created_at"`
	Delivered bool      `json:"delivered"`
}

// NewEnvelope creates an envelope for a publish call. IDs are unique per call
// and the timestamp is high precision UTC so history stays time ordered.
func NewEnvelope(channel string, payload Message) Envelope {
	return Envelope{
		ID:        NewID(),
		Channel:   channel,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	}
}

// NewID generates a new unique identifier for envelopes, requests, decisions
// and negotiations.
//
// Returns a string representation of a new UUID.
func NewID() string { return uuid.NewString() }
