package comm

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hupe1980/agentcoord/bus"
	"github.com/hupe1980/agentcoord/core"
	"github.com/hupe1980/agentcoord/logging"
)

// RequestHandler processes an inbound request and returns the response data.
// Returning respond=false suppresses the reply (the requester will time out
// or keep waiting; use for handlers that respond asynchronously themselves).
type RequestHandler func(req core.Request) (data map[string]any, respond bool)

// Options configures a Protocol.
type Options struct {
	// Logger receives protocol diagnostics. Defaults to NoOpLogger.
	Logger logging.Logger

	// RequestHandler overrides the default auto-acknowledge behavior.
	RequestHandler RequestHandler
}

// Protocol gives one agent a mailbox on the bus plus request/response
// correlation. Request ids are unique within the process; responses without
// a matching outstanding request are accepted but logged as orphaned.
type Protocol struct {
	agentName string
	bus       *bus.Bus
	logger    logging.Logger

	mu          sync.Mutex
	outstanding map[string]chan core.Response
	received    []core.Envelope
	handler     RequestHandler
	sub         *bus.Subscription
}

// New binds a protocol instance to an agent name and a bus. Call Listen to
// start receiving mailbox traffic.
func New(agentName string, b *bus.Bus, optFns ...func(o *Options)) *Protocol {
	opts := Options{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Protocol{
		agentName:   agentName,
		bus:         b,
		logger:      opts.Logger,
		outstanding: make(map[string]chan core.Response),
		handler:     opts.RequestHandler,
	}
}

// WithLogger overrides the protocol logger.
func WithLogger(l logging.Logger) func(o *Options) {
	return func(o *Options) { o.Logger = l }
}

// WithRequestHandler overrides the default auto-acknowledge request handler.
func WithRequestHandler(h RequestHandler) func(o *Options) {
	return func(o *Options) { o.RequestHandler = h }
}

// AgentName returns the owning agent's name.
func (p *Protocol) AgentName() string { return p.agentName }

// Listen subscribes the inbound mailbox channel. Calling Listen twice is a
// no-op.
func (p *Protocol) Listen() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sub != nil {
		return
	}
	p.sub = p.bus.Subscribe(core.AgentChannel(p.agentName), p.handleInbound)
}

// Close removes the mailbox subscription. Outstanding waiters are not
// released; cancel their contexts instead.
func (p *Protocol) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sub != nil {
		p.bus.Unsubscribe(p.sub)
		p.sub = nil
	}
}

// SendRequest publishes a correlated request to the target agent's mailbox
// and returns the fresh request id. Pair with AwaitResponse to block for the
// reply.
func (p *Protocol) SendRequest(target, kind string, data map[string]any) string {
	requestID := core.NewID()

	p.mu.Lock()
	p.outstanding[requestID] = make(chan core.Response, 1)
	p.mu.Unlock()

	p.bus.Publish(core.AgentChannel(target), core.Request{
		RequestID:        requestID,
		From:             p.agentName,
		To:               target,
		Kind:             kind,
		Data:             data,
		RequiresResponse: true,
	})
	return requestID
}

// SendResponse publishes a correlated reply to the target agent's mailbox.
func (p *Protocol) SendResponse(requestID, target string, data map[string]any) {
	p.bus.Publish(core.AgentChannel(target), core.Response{
		RequestID: requestID,
		From:      p.agentName,
		To:        target,
		Data:      data,
	})
}

// BroadcastEvent publishes an uncorrelated event to the shared events
// channel.
func (p *Protocol) BroadcastEvent(kind string, data map[string]any) {
	p.bus.Publish(core.ChannelEvents, core.EventMessage{
		Kind:      kind,
		From:      p.agentName,
		Data:      data,
		Timestamp: time.Now().UTC(),
	})
}

// AwaitResponse blocks until the response correlated to requestID arrives or
// the context is done. The outstanding slot is released either way.
func (p *Protocol) AwaitResponse(ctx context.Context, requestID string) (core.Response, error) {
	p.mu.Lock()
	ch, ok := p.outstanding[requestID]
	p.mu.Unlock()
	if !ok {
		return core.Response{}, fmt.Errorf("request %s not outstanding", requestID)
	}

	defer func() {
		p.mu.Lock()
		delete(p.outstanding, requestID)
		p.mu.Unlock()
	}()

	select {
	case <-ctx.Done():
		return core.Response{}, ctx.Err()
	case resp := <-ch:
		return resp, nil
	}
}

// Received returns a snapshot of every envelope the mailbox has seen.
func (p *Protocol) Received() []core.Envelope {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]core.Envelope, len(p.received))
	copy(out, p.received)
	return out
}

// handleInbound demultiplexes mailbox traffic by message variant.
func (p *Protocol) handleInbound(env core.Envelope) {
	p.mu.Lock()
	p.received = append(p.received, env)
	handler := p.handler
	p.mu.Unlock()

	switch msg := env.Payload.(type) {
	case core.Request:
		p.logger.Debug("request received agent=%s kind=%s from=%s", p.agentName, msg.Kind, msg.From)
		if handler != nil {
			if data, respond := handler(msg); respond {
				p.SendResponse(msg.RequestID, msg.From, data)
			}
			return
		}
		// Default behavior: acknowledge so requesters never starve.
		p.SendResponse(msg.RequestID, msg.From, map[string]any{"status": "received"})
	case core.Response:
		p.mu.Lock()
		ch, ok := p.outstanding[msg.RequestID]
		p.mu.Unlock()
		if !ok {
			p.logger.Warn("orphaned response agent=%s request_id=%s from=%s", p.agentName, msg.RequestID, msg.From)
			return
		}
		select {
		case ch <- msg:
		default:
			// Duplicate response for an already satisfied request.
			p.logger.Warn("duplicate response agent=%s request_id=%s", p.agentName, msg.RequestID)
		}
	default:
		// Other message variants may legitimately land on a mailbox (e.g.
		// offers routed directly to an agent); they stay in the inbox
		// snapshot for the owner to inspect.
		p.logger.Debug("non-protocol message on mailbox agent=%s envelope_id=%s", p.agentName, env.ID)
	}
}
