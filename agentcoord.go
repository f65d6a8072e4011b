// Package agentcoord assembles the coordination core: the asynchronous
// message bus, the versioned knowledge store, the agent communication
// protocol, the negotiation engine and the autonomy loop, wired together
// behind a single Coordinator.
package agentcoord

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hupe1980/agentcoord/advisor"
	"github.com/hupe1980/agentcoord/autonomy"
	"github.com/hupe1980/agentcoord/bus"
	"github.com/hupe1980/agentcoord/comm"
	"github.com/hupe1980/agentcoord/core"
	"github.com/hupe1980/agentcoord/knowledge"
	"github.com/hupe1980/agentcoord/logging"
	"github.com/hupe1980/agentcoord/negotiation"
)

// Options configures a Coordinator.
type Options struct {
	// AgentName is the coordinator's mailbox identity on the bus.
	AgentName string

	// Logger is shared by every component. Defaults to NoOpLogger.
	Logger logging.Logger

	// Advisor supplies commentary and justification text for negotiations
	// and decisions. Defaults to blank.
	Advisor advisor.Advisor

	// Clock drives all periodic behavior. Defaults to RealClock.
	Clock core.Clock

	// Authority applies overrides to DefaultAuthorityConfig.
	Authority []func(c *core.AuthorityConfig)

	// DecisionInterval between decision cycles.
	DecisionInterval time.Duration

	// LearningInterval between authority adaptation cycles.
	LearningInterval time.Duration

	// MonitorInterval between alert scans. Zero disables the monitor.
	MonitorInterval time.Duration

	// HistoryLimit bounds the bus delivery history. Zero keeps everything.
	HistoryLimit int
}

// Coordinator owns one instance of every coordination component and their
// background goroutines.
type Coordinator struct {
	bus      *bus.Bus
	store    *knowledge.Store
	bounds   *core.AuthorityBounds
	engine   *negotiation.Engine
	protocol *comm.Protocol
	loop     *autonomy.Loop
	monitor  *autonomy.Monitor
	logger   logging.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	subs    []*bus.Subscription
	started bool
}

// New assembles a coordinator around the given situation and cost
// collaborators.
func New(provider core.SituationProvider, estimator core.Estimator, optFns ...func(o *Options)) *Coordinator {
	opts := Options{
		AgentName:        "coordinator",
		Logger:           logging.NoOpLogger{},
		Advisor:          advisor.Static{},
		Clock:            core.RealClock{},
		DecisionInterval: 30 * time.Second,
		LearningInterval: 5 * time.Minute,
		MonitorInterval:  time.Minute,
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	b := bus.New(
		bus.WithLogger(opts.Logger),
		bus.WithHistoryLimit(opts.HistoryLimit),
	)
	store := knowledge.NewStore(knowledge.WithLogger(opts.Logger))
	bounds := core.NewAuthorityBounds(opts.Authority...)
	engine := negotiation.NewEngine(b, bounds,
		negotiation.WithLogger(opts.Logger),
		negotiation.WithAdvisor(opts.Advisor),
		negotiation.WithClock(opts.Clock),
	)
	protocol := comm.New(opts.AgentName, b, comm.WithLogger(opts.Logger))
	loop := autonomy.NewLoop(provider, estimator, bounds, b, store, engine,
		autonomy.WithLogger(opts.Logger),
		autonomy.WithAdvisor(opts.Advisor),
		autonomy.WithClock(opts.Clock),
		autonomy.WithInterval(opts.DecisionInterval),
		autonomy.WithLearningInterval(opts.LearningInterval),
	)

	var monitor *autonomy.Monitor
	if opts.MonitorInterval > 0 {
		monitor = autonomy.NewMonitor(provider, b,
			autonomy.WithMonitorLogger(opts.Logger),
			autonomy.WithMonitorClock(opts.Clock),
			autonomy.WithMonitorInterval(opts.MonitorInterval),
		)
	}

	return &Coordinator{
		bus:      b,
		store:    store,
		bounds:   bounds,
		engine:   engine,
		protocol: protocol,
		loop:     loop,
		monitor:  monitor,
		logger:   opts.Logger,
	}
}

// WithAgentName overrides the coordinator mailbox identity.
func WithAgentName(name string) func(o *Options) {
	return func(o *Options) { o.AgentName = name }
}

// WithLogger sets the shared logger.
func WithLogger(l logging.Logger) func(o *Options) {
	return func(o *Options) { o.Logger = l }
}

// WithAdvisor sets the advisory-text capability.
func WithAdvisor(a advisor.Advisor) func(o *Options) {
	return func(o *Options) { o.Advisor = a }
}

// WithClock sets the shared clock.
func WithClock(c core.Clock) func(o *Options) {
	return func(o *Options) { o.Clock = c }
}

// WithAuthority applies overrides to the default authority configuration.
func WithAuthority(fns ...func(c *core.AuthorityConfig)) func(o *Options) {
	return func(o *Options) { o.Authority = append(o.Authority, fns...) }
}

// WithDecisionInterval overrides the decision cycle interval.
func WithDecisionInterval(d time.Duration) func(o *Options) {
	return func(o *Options) { o.DecisionInterval = d }
}

// WithLearningInterval overrides the learning cycle interval.
func WithLearningInterval(d time.Duration) func(o *Options) {
	return func(o *Options) { o.LearningInterval = d }
}

// WithMonitorInterval overrides the alert scan interval. Zero disables the
// monitor.
func WithMonitorInterval(d time.Duration) func(o *Options) {
	return func(o *Options) { o.MonitorInterval = d }
}

// WithHistoryLimit bounds the bus delivery history.
func WithHistoryLimit(n int) func(o *Options) {
	return func(o *Options) { o.HistoryLimit = n }
}

// Start launches the bus worker, the mailbox listener, the internal
// subscriptions and the periodic loops. It is idempotent until Stop.
func (c *Coordinator) Start(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return
	}
	c.started = true

	ctx, c.cancel = context.WithCancel(ctx)

	c.bus.Start()
	c.protocol.Listen()

	c.subs = append(c.subs,
		c.bus.Subscribe(core.ChannelAlerts, c.onAlert),
		c.bus.Subscribe(core.ChannelAgreements, c.onAgreement),
		c.bus.Subscribe(core.ChannelEscalations, c.onEscalation),
	)

	c.runLoop(ctx, c.loop.Run)
	c.runLoop(ctx, c.loop.RunLearning)
	if c.monitor != nil {
		c.runLoop(ctx, c.monitor.Run)
	}
}

func (c *Coordinator) runLoop(ctx context.Context, run func(context.Context) error) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		_ = run(ctx)
	}()
}

// Stop cancels the loops, waits for them, drains the bus queue and shuts the
// worker down.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.started {
		return
	}
	c.started = false

	c.cancel()
	c.wg.Wait()

	for _, sub := range c.subs {
		c.bus.Unsubscribe(sub)
	}
	c.subs = nil

	c.protocol.Close()
	c.bus.Stop()
}

func (c *Coordinator) onAlert(env core.Envelope) {
	alert, ok := env.Payload.(core.Alert)
	if !ok {
		return
	}
	c.logger.Warn("alert received kind=%s subject=%s urgency=%s", alert.Kind, alert.SubjectID, alert.Urgency)
}

// onAgreement records finalized agreements in the knowledge store so later
// cycles and operators can retrieve them.
func (c *Coordinator) onAgreement(env core.Envelope) {
	agreement, ok := env.Payload.(core.Agreement)
	if !ok {
		return
	}
	c.store.Store(fmt.Sprintf("agreement_%s", agreement.NegotiationID), agreement, "coordinator")
	c.logger.Info("agreement recorded negotiation_id=%s rounds=%d", agreement.NegotiationID, agreement.Rounds)
}

func (c *Coordinator) onEscalation(env core.Envelope) {
	esc, ok := env.Payload.(core.Escalation)
	if !ok {
		return
	}
	c.store.Store(fmt.Sprintf("escalation_%s", env.ID), esc, "coordinator")
	c.logger.Warn("escalation recorded subject=%s reason=%s", esc.SubjectID, esc.Reason)
}

// SubmitCounterpartyOffer feeds a counterparty response into the matching
// negotiation and returns the negotiation after the round.
func (c *Coordinator) SubmitCounterpartyOffer(ctx context.Context, negotiationID string, offer core.OfferTerms) (*core.Negotiation, error) {
	return c.engine.ProcessResponse(ctx, negotiationID, offer)
}

// Bus exposes the message bus for additional subscriptions and publishes.
func (c *Coordinator) Bus() *bus.Bus { return c.bus }

// Knowledge exposes the shared knowledge store.
func (c *Coordinator) Knowledge() *knowledge.Store { return c.store }

// Engine exposes the negotiation engine.
func (c *Coordinator) Engine() *negotiation.Engine { return c.engine }

// Protocol exposes the coordinator's communication endpoint.
func (c *Coordinator) Protocol() *comm.Protocol { return c.protocol }

// Loop exposes the autonomy loop for out-of-band cycles in tests and tools.
func (c *Coordinator) Loop() *autonomy.Loop { return c.loop }

// Status is a point-in-time aggregate over all components.
type Status struct {
	Bus          bus.Stats               `json:"bus"`
	Knowledge    knowledge.Stats         `json:"knowledge"`
	Decisions    int                     `json:"decisions"`
	Authority    core.AuthorityConfig    `json:"authority"`
	Negotiations negotiation.Performance `json:"negotiations"`
	Active       int                     `json:"active_negotiations"`
}

// GetStatus aggregates component statistics.
func (c *Coordinator) GetStatus() Status {
	return Status{
		Bus:          c.bus.GetStats(),
		Knowledge:    c.store.GetStats(),
		Decisions:    len(c.loop.DecisionLog()),
		Authority:    c.bounds.Snapshot(),
		Negotiations: c.engine.GetPerformance(),
		Active:       len(c.engine.Active()),
	}
}
