package negotiation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hupe1980/agentcoord/advisor"
	"github.com/hupe1980/agentcoord/bus"
	"github.com/hupe1980/agentcoord/core"
	"github.com/hupe1980/agentcoord/logging"
)

var (
	// ErrNotFound is returned when no negotiation exists for the given id.
	ErrNotFound = errors.New("negotiation not found")
	// ErrTerminal is returned when a response targets a negotiation whose
	// status permits no further transitions.
	ErrTerminal = errors.New("negotiation already terminal")
)

// Counter-offer step bounds. Each counter moves price by at most two percent
// and lead time by at most two days, so a run of counters stays predictable.
const (
	counterPriceFactor = 0.98
	counterLeadStep    = 2
)

// leadTolerance is the lead-time slack (days) beyond the acceptable
// extension within which a counter-offer is still attempted.
const leadTolerance = 3

// Options configures an Engine.
type Options struct {
	// Logger receives round diagnostics. Defaults to NoOpLogger.
	Logger logging.Logger

	// Advisor supplies round commentary. Defaults to a blank Static advisor.
	Advisor advisor.Advisor

	// Clock drives timestamps. Defaults to RealClock.
	Clock core.Clock
}

// Engine owns every negotiation initiated by this agent. Rounds for a single
// negotiation id are strictly serialized behind a per-id lock; different
// negotiations proceed independently. The engine mutex guards the registry
// maps and every read or write of mutable negotiation state (Status, Rounds),
// so snapshots taken by Get, Active and GetPerformance are safe against an
// in-flight round. Advisor calls happen outside the engine mutex.
//
// Terminal negotiations are kept for audit and performance aggregation; call
// Prune on long-running processes to release them.
type Engine struct {
	bus    *bus.Bus
	bounds *core.AuthorityBounds
	logger logging.Logger
	adv    advisor.Advisor
	clock  core.Clock

	mu           sync.Mutex
	negotiations map[string]*core.Negotiation
	locks        map[string]*sync.Mutex
}

// NewEngine constructs an engine publishing on b and reading authority from
// bounds.
func NewEngine(b *bus.Bus, bounds *core.AuthorityBounds, optFns ...func(o *Options)) *Engine {
	opts := Options{
		Logger:  logging.NoOpLogger{},
		Advisor: advisor.Static{},
		Clock:   core.RealClock{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Engine{
		bus:          b,
		bounds:       bounds,
		logger:       opts.Logger,
		adv:          opts.Advisor,
		clock:        opts.Clock,
		negotiations: make(map[string]*core.Negotiation),
		locks:        make(map[string]*sync.Mutex),
	}
}

// WithLogger overrides the engine logger.
func WithLogger(l logging.Logger) func(o *Options) {
	return func(o *Options) { o.Logger = l }
}

// WithAdvisor overrides the advisory-text capability.
func WithAdvisor(a advisor.Advisor) func(o *Options) {
	return func(o *Options) { o.Advisor = a }
}

// WithClock overrides the clock (virtual time in tests).
func WithClock(c core.Clock) func(o *Options) {
	return func(o *Options) { o.Clock = c }
}

// Initiate starts a negotiation: it develops an opening strategy from the
// requirements, generates the initial offer and publishes it to the
// counterparty channel. The returned negotiation is a snapshot clone.
func (e *Engine) Initiate(ctx context.Context, counterpartyID string, req core.Requirements) (*core.Negotiation, error) {
	if req.TargetPrice <= 0 {
		return nil, fmt.Errorf("target price must be positive, got %v", req.TargetPrice)
	}

	strategy := developStrategy(req)
	n := &core.Negotiation{
		ID:             core.NewID(),
		CounterpartyID: counterpartyID,
		SubjectID:      req.SubjectID,
		Requirements:   req,
		Strategy:       strategy,
		Status:         core.NegotiationInitiated,
		StartedAt:      e.clock.Now().UTC(),
	}

	e.mu.Lock()
	e.negotiations[n.ID] = n
	e.locks[n.ID] = &sync.Mutex{}
	e.mu.Unlock()

	opening := openingOffer(strategy, req)
	e.bus.Publish(core.ChannelCounterparty, core.Offer{
		NegotiationID:  n.ID,
		CounterpartyID: counterpartyID,
		SubjectID:      req.SubjectID,
		Round:          0,
		Terms:          opening,
	})
	e.logger.Info("negotiation initiated id=%s counterparty=%s subject=%s", n.ID, counterpartyID, req.SubjectID)

	return n.Clone(), nil
}

// ProcessResponse applies one counterparty offer to the negotiation state
// machine. The round is appended to the audit trail before any transition is
// applied. Returns the updated negotiation snapshot.
func (e *Engine) ProcessResponse(ctx context.Context, negotiationID string, offer core.OfferTerms) (*core.Negotiation, error) {
	e.mu.Lock()
	n, ok := e.negotiations[negotiationID]
	lock := e.locks[negotiationID]
	e.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, negotiationID)
	}

	lock.Lock()
	defer lock.Unlock()

	// The per-id lock serializes writers, so this read stays valid for the
	// rest of the round; the engine mutex makes it safe against concurrent
	// snapshot readers.
	e.mu.Lock()
	status := n.Status
	completed := len(n.Rounds)
	e.mu.Unlock()

	if status.Terminal() {
		return nil, fmt.Errorf("%w: %s is %s", ErrTerminal, negotiationID, status)
	}

	bounds := e.bounds.Snapshot()
	analysis := analyze(offer, n.Requirements, bounds)
	action := decide(analysis, completed, bounds)
	analysis.Commentary = e.commentary(ctx, n, offer, action)

	round := core.Round{
		Index:             completed + 1,
		CounterpartyOffer: offer,
		Analysis:          analysis,
		Action:            action,
		Timestamp:         e.clock.Now().UTC(),
	}

	var next core.NegotiationStatus
	switch action {
	case core.ActionAccept:
		next = core.NegotiationAgreed
	case core.ActionCounter:
		next = core.NegotiationCountered
	case core.ActionReject:
		next = core.NegotiationFailed
	case core.ActionEscalate:
		next = core.NegotiationEscalated
	}

	e.mu.Lock()
	n.Rounds = append(n.Rounds, round)
	n.Status = next
	rounds := len(n.Rounds)
	snapshot := n.Clone()
	e.mu.Unlock()

	switch action {
	case core.ActionAccept:
		e.bus.Publish(core.ChannelAgreements, core.Agreement{
			NegotiationID:  n.ID,
			CounterpartyID: n.CounterpartyID,
			SubjectID:      n.SubjectID,
			FinalTerms:     offer,
			Rounds:         rounds,
			FinalizedAt:    e.clock.Now().UTC(),
		})
	case core.ActionCounter:
		e.bus.Publish(core.ChannelCounterparty, core.Offer{
			NegotiationID:  n.ID,
			CounterpartyID: n.CounterpartyID,
			SubjectID:      n.SubjectID,
			Round:          round.Index,
			Terms:          counterOffer(offer, n.Requirements),
		})
	case core.ActionReject:
		e.bus.Publish(core.ChannelAgreements, core.Termination{
			NegotiationID: n.ID,
			Reason:        fmt.Sprintf("offer outside authority: price delta %.1f%%, lead delta %dd", analysis.PriceDelta*100, analysis.LeadTimeDelta),
		})
	case core.ActionEscalate:
		e.bus.Publish(core.ChannelEscalations, core.Escalation{
			NegotiationID: n.ID,
			SubjectID:     n.SubjectID,
			Reason:        fmt.Sprintf("no agreement after %d rounds", rounds),
			Urgency:       "high",
			Timestamp:     e.clock.Now().UTC(),
		})
	}

	e.logRound(n.ID, round.Index, action, next)
	return snapshot, nil
}

// Resume clones an escalated negotiation into a fresh one with a new id and
// publishes a new opening offer. Only escalated negotiations can be resumed.
func (e *Engine) Resume(ctx context.Context, negotiationID string) (*core.Negotiation, error) {
	e.mu.Lock()
	n, ok := e.negotiations[negotiationID]
	if !ok {
		e.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrNotFound, negotiationID)
	}
	status := n.Status
	counterpartyID := n.CounterpartyID
	req := n.Requirements
	e.mu.Unlock()

	if status != core.NegotiationEscalated {
		return nil, fmt.Errorf("cannot resume negotiation %s in status %s", negotiationID, status)
	}
	return e.Initiate(ctx, counterpartyID, req)
}

// Get returns a snapshot clone of the negotiation, or ErrNotFound.
func (e *Engine) Get(negotiationID string) (*core.Negotiation, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	n, ok := e.negotiations[negotiationID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, negotiationID)
	}
	return n.Clone(), nil
}

// Active returns snapshot clones of every non-terminal negotiation.
func (e *Engine) Active() []*core.Negotiation {
	e.mu.Lock()
	defer e.mu.Unlock()
	var active []*core.Negotiation
	for _, n := range e.negotiations {
		if !n.Status.Terminal() {
			active = append(active, n.Clone())
		}
	}
	return active
}

// Performance summarizes negotiation outcomes.
type Performance struct {
	Total       int     `json:"total"`
	Agreed      int     `json:"agreed"`
	SuccessRate float64 `json:"success_rate"`
	AvgRounds   float64 `json:"avg_rounds"`
}

// GetPerformance aggregates outcome metrics over every known negotiation.
func (e *Engine) GetPerformance() Performance {
	e.mu.Lock()
	defer e.mu.Unlock()
	perf := Performance{Total: len(e.negotiations)}
	if perf.Total == 0 {
		return perf
	}
	rounds := 0
	for _, n := range e.negotiations {
		if n.Status == core.NegotiationAgreed {
			perf.Agreed++
		}
		rounds += len(n.Rounds)
	}
	perf.SuccessRate = float64(perf.Agreed) / float64(perf.Total)
	perf.AvgRounds = float64(rounds) / float64(perf.Total)
	return perf
}

// Prune drops terminal negotiations and their locks from the registry,
// returning how many were removed. Pruned negotiations disappear from Get and
// from performance aggregation; callers wanting lifetime metrics should read
// GetPerformance first.
func (e *Engine) Prune() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	removed := 0
	for id, n := range e.negotiations {
		if n.Status.Terminal() {
			delete(e.negotiations, id)
			delete(e.locks, id)
			removed++
		}
	}
	return removed
}

// logRound emits the round outcome, upgraded to structured form when the
// configured logger supports it.
func (e *Engine) logRound(negotiationID string, round int, action core.RoundAction, status core.NegotiationStatus) {
	if rl, ok := e.logger.(logging.NegotiationRoundLogger); ok {
		rl.LogNegotiationRound(negotiationID, round, action.String(), status.String())
		return
	}
	e.logger.Info("negotiation round id=%s round=%d action=%s status=%s", negotiationID, round, action, status)
}

// commentary asks the advisor for explanation text. Failures degrade to an
// empty commentary; they never influence the round.
func (e *Engine) commentary(ctx context.Context, n *core.Negotiation, offer core.OfferTerms, action core.RoundAction) string {
	start := time.Now()
	text, err := e.adv.Explain(ctx, advisor.Context{
		Task: "negotiation_round",
		Data: map[string]any{
			"counterparty":   n.CounterpartyID,
			"subject":        n.SubjectID,
			"offered_price":  offer.PricePerUnit,
			"target_price":   n.Requirements.TargetPrice,
			"offered_lead":   offer.LeadTimeDays,
			"required_lead":  n.Requirements.MaxLeadTimeDays,
			"decided_action": action.String(),
		},
	})
	if al, ok := e.logger.(logging.AdvisorCallLogger); ok {
		al.LogAdvisorCall("negotiation_round", time.Since(start), err)
	}
	if err != nil {
		e.logger.Warn("advisor commentary failed negotiation_id=%s after=%s: %v", n.ID, time.Since(start), err)
		return ""
	}
	return text
}

// analyze evaluates the offer against the requirements with deterministic
// arithmetic only.
func analyze(offer core.OfferTerms, req core.Requirements, bounds core.AuthorityConfig) core.RoundAnalysis {
	priceDelta := (offer.PricePerUnit - req.TargetPrice) / req.TargetPrice
	leadDelta := offer.LeadTimeDays - req.MaxLeadTimeDays
	within := priceDelta <= bounds.MaxPriceIncrease && leadDelta <= bounds.MaxLeadTimeExtension
	confidence := 0.9
	if !within {
		confidence = 0.6
	}
	return core.RoundAnalysis{
		PriceDelta:    priceDelta,
		LeadTimeDelta: leadDelta,
		WithinBounds:  within,
		Confidence:    confidence,
	}
}

// decide maps an analysis to a round action. The round cap overrides
// everything: once completedRounds has reached the configured maximum the
// negotiation escalates regardless of how good the offer looks on paper.
func decide(a core.RoundAnalysis, completedRounds int, bounds core.AuthorityConfig) core.RoundAction {
	if completedRounds >= bounds.MaxNegotiationRounds {
		return core.ActionEscalate
	}
	if a.WithinBounds {
		return core.ActionAccept
	}
	counterable := a.PriceDelta <= bounds.MaxPriceIncrease+bounds.AdjustTolerance &&
		a.LeadTimeDelta <= bounds.MaxLeadTimeExtension+leadTolerance
	if counterable {
		return core.ActionCounter
	}
	return core.ActionReject
}

// counterOffer tightens the counterparty terms by the fixed step bounds. The
// price never drops below the requirement target; the lead time never drops
// below one day.
func counterOffer(offer core.OfferTerms, req core.Requirements) core.OfferTerms {
	price := offer.PricePerUnit * counterPriceFactor
	if price < req.TargetPrice {
		price = req.TargetPrice
	}
	lead := offer.LeadTimeDays - counterLeadStep
	if lead < 1 {
		lead = 1
	}
	return core.OfferTerms{
		PricePerUnit:     price,
		Quantity:         req.Quantity,
		LeadTimeDays:     lead,
		PaymentTermsDays: 35,
		ValidityHours:    24,
	}
}

// developStrategy computes the opening plan. The numbers are deliberately
// fixed so initiation is reproducible; richer strategies belong to external
// analysis collaborators.
func developStrategy(req core.Requirements) core.Strategy {
	approach := "collaborative"
	opening := "moderate"
	if req.Urgency == "emergency" {
		approach = "urgent"
		opening = "conservative"
	}
	return core.Strategy{
		Approach:             approach,
		OpeningPosition:      opening,
		TargetPriceReduction: 0.05,
		ExpectedOutcome:      "win-win agreement",
	}
}

// openingOffer derives the first offer from the strategy and requirements.
func openingOffer(strategy core.Strategy, req core.Requirements) core.OfferTerms {
	return core.OfferTerms{
		PricePerUnit:     req.TargetPrice * (1 - strategy.TargetPriceReduction),
		Quantity:         req.Quantity,
		LeadTimeDays:     req.MaxLeadTimeDays,
		PaymentTermsDays: 30,
		ValidityHours:    48,
	}
}
