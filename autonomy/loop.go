package autonomy

import (
	"context"
	"fmt"
	"time"

	"github.com/hupe1980/agentcoord/advisor"
	"github.com/hupe1980/agentcoord/bus"
	"github.com/hupe1980/agentcoord/core"
	"github.com/hupe1980/agentcoord/knowledge"
	"github.com/hupe1980/agentcoord/logging"
	"github.com/hupe1980/agentcoord/negotiation"
)

// Options configures a Loop.
type Options struct {
	// Logger receives loop diagnostics. Defaults to NoOpLogger.
	Logger logging.Logger

	// Advisor supplies decision justification text. Defaults to blank.
	Advisor advisor.Advisor

	// Clock drives the cycle timers. Defaults to RealClock.
	Clock core.Clock

	// Interval between decision cycles.
	Interval time.Duration

	// LearningInterval between authority adaptation cycles.
	LearningInterval time.Duration

	// FaultBackoff is the delay after a failed iteration before the next
	// attempt.
	FaultBackoff time.Duration

	// LearningWindow is how far back the learning step aggregates.
	LearningWindow time.Duration

	// LearningThreshold is the average confidence above which authority is
	// raised.
	LearningThreshold float64

	// LowConfidenceThreshold is the average confidence below which
	// authority is lowered.
	LowConfidenceThreshold float64

	// RaiseFactor and LowerFactor are the multiplicative adaptation steps.
	RaiseFactor float64
	LowerFactor float64

	// WriterID identifies this loop in knowledge store audit entries.
	WriterID string
}

// Loop is the autonomy/decision loop. It owns the decision log and is the
// single writer of the authority bounds (through its learning step).
type Loop struct {
	provider  core.SituationProvider
	estimator core.Estimator
	bounds    *core.AuthorityBounds
	bus       *bus.Bus
	store     *knowledge.Store
	engine    *negotiation.Engine
	log       *DecisionLog
	opts      Options
}

// NewLoop wires a decision loop. All collaborators are required except those
// configurable through options.
func NewLoop(
	provider core.SituationProvider,
	estimator core.Estimator,
	bounds *core.AuthorityBounds,
	b *bus.Bus,
	store *knowledge.Store,
	engine *negotiation.Engine,
	optFns ...func(o *Options),
) *Loop {
	opts := Options{
		Logger:                 logging.NoOpLogger{},
		Advisor:                advisor.Static{},
		Clock:                  core.RealClock{},
		Interval:               30 * time.Second,
		LearningInterval:       5 * time.Minute,
		FaultBackoff:           time.Minute,
		LearningWindow:         24 * time.Hour,
		LearningThreshold:      0.85,
		LowConfidenceThreshold: 0.5,
		RaiseFactor:            1.1,
		LowerFactor:            0.9,
		WriterID:               "decision-loop",
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Loop{
		provider:  provider,
		estimator: estimator,
		bounds:    bounds,
		bus:       b,
		store:     store,
		engine:    engine,
		log:       NewDecisionLog(),
		opts:      opts,
	}
}

// WithLogger overrides the loop logger.
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

// WithInterval overrides the decision cycle interval.
func WithInterval(d time.Duration) func(o *Options) {
	return func(o *Options) { o.Interval = d }
}

// WithLearningInterval overrides the learning cycle interval.
func WithLearningInterval(d time.Duration) func(o *Options) {
	return func(o *Options) { o.LearningInterval = d }
}

// Run executes decision cycles until ctx is cancelled. Iteration faults are
// recovered, logged and retried after the configured backoff; Run only ever
// returns the context error.
func (l *Loop) Run(ctx context.Context) error {
	ticker := l.opts.Clock.NewTicker(l.opts.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C():
			if err := l.safeCycle(ctx); err != nil {
				l.opts.Logger.Error("decision cycle failed: %v", err)
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-l.opts.Clock.After(l.opts.FaultBackoff):
				}
			}
		}
	}
}

// RunLearning executes authority adaptation cycles until ctx is cancelled.
func (l *Loop) RunLearning(ctx context.Context) error {
	ticker := l.opts.Clock.NewTicker(l.opts.LearningInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C():
			if err := l.safeLearn(ctx); err != nil {
				l.opts.Logger.Error("learning cycle failed: %v", err)
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-l.opts.Clock.After(l.opts.FaultBackoff):
				}
			}
		}
	}
}

// safeCycle converts panics in a cycle into errors handled at the loop
// boundary.
func (l *Loop) safeCycle(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("cycle panic: %v", r)
		}
	}()
	return l.Cycle(ctx)
}

func (l *Loop) safeLearn(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("learning panic: %v", r)
		}
	}()
	l.Learn(ctx)
	return nil
}

// Cycle executes one decision iteration: snapshot, classify, decide,
// execute, audit. Exported so tests and callers can drive cycles directly
// without the timer.
func (l *Loop) Cycle(ctx context.Context) error {
	situation, err := l.provider.GetSituation(ctx)
	if err != nil {
		return fmt.Errorf("situation snapshot: %w", err)
	}

	if situation.RequiresAction() {
		for _, decision := range l.makeDecisions(ctx, situation) {
			l.execute(ctx, decision, situation)
		}
	}

	l.store.Store(
		fmt.Sprintf("situation_%s", situation.Timestamp.UTC().Format("20060102_150405")),
		situation,
		l.opts.WriterID,
	)
	return nil
}

// makeDecisions builds decisions for every actionable item in the snapshot.
// An item whose cost exceeds the autonomous ceiling is turned into an
// escalation decision; it is never silently dropped.
func (l *Loop) makeDecisions(ctx context.Context, situation core.Situation) []core.Decision {
	urgency := situation.Urgency()

	var (
		items        []core.Item
		decisionType core.DecisionType
		confidence   float64
	)
	switch urgency {
	case core.UrgencyCritical:
		items = situation.ItemsAtRisk(core.RiskCritical)
		decisionType = core.DecisionEmergencyOrder
		confidence = 0.9
	case core.UrgencyHigh:
		items = situation.ItemsAtRisk(core.RiskHigh)
		decisionType = core.DecisionPreventiveOrder
		confidence = 0.7
	default:
		return nil
	}

	maxValue := l.bounds.MaxAutonomousValue()
	negotiationThreshold := l.bounds.NegotiationThreshold()

	var decisions []core.Decision
	for _, item := range items {
		estimate, err := l.estimator.Estimate(ctx, item)
		if err != nil {
			// Without a cost the item cannot be classified against the
			// bounds, so it goes to a human rather than being dropped.
			l.opts.Logger.Warn("estimate failed subject=%s: %v", item.SubjectID, err)
			decisions = append(decisions, core.Decision{
				ID:            core.NewID(),
				Type:          core.DecisionEscalation,
				SubjectID:     item.SubjectID,
				Authority:     core.AuthorityHumanRequired,
				Confidence:    0.5,
				Justification: fmt.Sprintf("cost estimation failed: %v", err),
			})
			continue
		}

		if estimate.Cost <= maxValue {
			decisions = append(decisions, core.Decision{
				ID:                  core.NewID(),
				Type:                decisionType,
				SubjectID:           item.SubjectID,
				CounterpartyID:      item.CounterpartyID,
				Quantity:            estimate.Quantity,
				EstimatedCost:       estimate.Cost,
				Confidence:          confidence,
				Authority:           core.AuthorityAutonomous,
				RequiresNegotiation: estimate.Cost > negotiationThreshold,
			})
			continue
		}

		decisions = append(decisions, core.Decision{
			ID:             core.NewID(),
			Type:           core.DecisionEscalation,
			SubjectID:      item.SubjectID,
			CounterpartyID: item.CounterpartyID,
			Quantity:       estimate.Quantity,
			EstimatedCost:  estimate.Cost,
			Confidence:     0.95,
			Authority:      core.AuthorityHumanRequired,
			Justification:  fmt.Sprintf("cost %.2f exceeds autonomous authority %.2f", estimate.Cost, maxValue),
		})
	}
	return decisions
}

// execute carries out one decision and appends it to the audit log exactly
// once, with the snapshot that triggered it.
func (l *Loop) execute(ctx context.Context, decision core.Decision, situation core.Situation) {
	switch {
	case decision.Authority == core.AuthorityHumanRequired:
		decision.Status = core.DecisionEscalated
		l.bus.Publish(core.ChannelEscalations, core.Escalation{
			DecisionID: decision.ID,
			SubjectID:  decision.SubjectID,
			Reason:     decision.Justification,
			Urgency:    situation.Urgency().String(),
			Timestamp:  l.opts.Clock.Now().UTC(),
		})

	case decision.RequiresNegotiation:
		req := core.Requirements{
			SubjectID:       decision.SubjectID,
			Quantity:        decision.Quantity,
			TargetPrice:     decision.EstimatedCost / float64(max(decision.Quantity, 1)),
			MaxLeadTimeDays: 7,
			Urgency:         situation.Urgency().String(),
		}
		if _, err := l.engine.Initiate(ctx, decision.CounterpartyID, req); err != nil {
			l.opts.Logger.Error("negotiation initiation failed decision_id=%s: %v", decision.ID, err)
			decision.Status = core.DecisionEscalated
			l.bus.Publish(core.ChannelEscalations, core.Escalation{
				DecisionID: decision.ID,
				SubjectID:  decision.SubjectID,
				Reason:     fmt.Sprintf("negotiation initiation failed: %v", err),
				Urgency:    situation.Urgency().String(),
				Timestamp:  l.opts.Clock.Now().UTC(),
			})
		} else {
			decision.Status = core.DecisionNegotiating
		}

	default:
		decision.Status = core.DecisionExecuted
		l.store.Store(fmt.Sprintf("order_%s", decision.ID), decision, l.opts.WriterID)
	}

	if decision.Justification == "" {
		decision.Justification = l.justification(ctx, decision)
	}

	if dl, ok := l.opts.Logger.(logging.DecisionLogger); ok {
		dl.LogDecision(decision.ID, decision.Type.String(), decision.Authority.String(), decision.EstimatedCost)
	} else {
		l.opts.Logger.Info("decision decision_id=%s type=%s authority=%s status=%s cost=%.2f",
			decision.ID, decision.Type, decision.Authority, decision.Status, decision.EstimatedCost)
	}

	l.log.Append(core.DecisionRecord{
		Decision:  decision,
		Situation: situation,
		Timestamp: l.opts.Clock.Now().UTC(),
	})
}

// justification asks the advisor for commentary. Failures degrade to an
// empty string and never influence the decision.
func (l *Loop) justification(ctx context.Context, decision core.Decision) string {
	start := time.Now()
	text, err := l.opts.Advisor.Explain(ctx, advisor.Context{
		Task: "decision_justification",
		Data: map[string]any{
			"type":           decision.Type.String(),
			"subject":        decision.SubjectID,
			"estimated_cost": decision.EstimatedCost,
			"authority":      decision.Authority.String(),
		},
	})
	if al, ok := l.opts.Logger.(logging.AdvisorCallLogger); ok {
		al.LogAdvisorCall("decision_justification", time.Since(start), err)
	}
	if err != nil {
		l.opts.Logger.Warn("advisor justification failed decision_id=%s: %v", decision.ID, err)
		return ""
	}
	return text
}

// Learn executes one authority adaptation step over the recent decision
// window. Exported so tests and callers can drive it directly.
func (l *Loop) Learn(ctx context.Context) {
	now := l.opts.Clock.Now()
	recent := l.log.Since(now.Add(-l.opts.LearningWindow))
	if len(recent) == 0 {
		return
	}

	total := 0.0
	for _, rec := range recent {
		total += rec.Decision.Confidence
	}
	avg := total / float64(len(recent))

	analysis := map[string]any{
		"total_decisions":    len(recent),
		"average_confidence": avg,
		"window_end":         now.UTC(),
	}
	l.store.Store("recent_decision_analysis", analysis, l.opts.WriterID)

	switch {
	case avg > l.opts.LearningThreshold:
		v := l.bounds.Raise(l.opts.RaiseFactor)
		l.opts.Logger.Info("authority raised max_autonomous_value=%.2f avg_confidence=%.2f", v, avg)
	case avg < l.opts.LowConfidenceThreshold:
		v := l.bounds.Lower(l.opts.LowerFactor)
		l.opts.Logger.Info("authority lowered max_autonomous_value=%.2f avg_confidence=%.2f", v, avg)
	}
}

// DecisionLog returns a copy of the audit log.
func (l *Loop) DecisionLog() []core.DecisionRecord { return l.log.Records() }

// GetAuthorityBounds returns a snapshot of the current authority bounds.
func (l *Loop) GetAuthorityBounds() core.AuthorityConfig { return l.bounds.Snapshot() }
