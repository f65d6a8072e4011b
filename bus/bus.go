package bus

import (
	"fmt"
	"sync"

	"github.com/hupe1980/agentcoord/core"
	"github.com/hupe1980/agentcoord/logging"
)

// Handler consumes one delivered envelope. Handlers run on the bus worker
// goroutine; a handler that blocks delays every subsequent delivery, so long
// work must be offloaded by the handler itself.
type Handler func(env core.Envelope)

// Subscription is the removable registration handle returned by Subscribe.
type Subscription struct {
	channel string
	id      uint64
}

// Channel returns the channel this subscription is registered on.
func (s *Subscription) Channel() string { return s.channel }

// Options configures a Bus instance.
type Options struct {
	// Logger receives delivery diagnostics. Defaults to NoOpLogger.
	Logger logging.Logger

	// HistoryLimit caps the retained envelope history per bus. Zero keeps
	// the history unbounded.
	HistoryLimit int
}

type subscriber struct {
	id      uint64
	handler Handler
}

// Bus is an in-process asynchronous publish/subscribe broker. It is safe for
// concurrent use; all internal mutation (queue, history, subscriber lists,
// counters) is serialized behind a single mutex while delivery itself runs
// unlocked on the worker goroutine.
type Bus struct {
	mu          sync.Mutex
	idle        *sync.Cond
	subscribers map[string][]subscriber
	queue       []core.Envelope
	history     []core.Envelope
	sent        int
	processed   int
	nextSubID   uint64
	running     bool

	wake    chan struct{}
	done    chan struct{}
	stopped chan struct{}

	logger       logging.Logger
	historyLimit int
}

// New constructs a Bus with optional overrides. The bus does not process
// envelopes until Start is called, but Publish and Subscribe are usable
// immediately.
func New(optFns ...func(o *Options)) *Bus {
	opts := Options{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	b := &Bus{
		subscribers:  make(map[string][]subscriber),
		wake:         make(chan struct{}, 1),
		logger:       opts.Logger,
		historyLimit: opts.HistoryLimit,
	}
	b.idle = sync.NewCond(&b.mu)
	return b
}

// WithLogger overrides the bus logger.
func WithLogger(l logging.Logger) func(o *Options) {
	return func(o *Options) { o.Logger = l }
}

// WithHistoryLimit caps the retained history length.
func WithHistoryLimit(n int) func(o *Options) {
	return func(o *Options) { o.HistoryLimit = n }
}

// Start launches the delivery worker. Calling Start on a running bus is a
// no-op.
func (b *Bus) Start() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.running {
		return
	}
	b.running = true
	b.done = make(chan struct{})
	b.stopped = make(chan struct{})
	go b.work(b.done, b.stopped)
	b.logger.Debug("bus started")
}

// Stop requests shutdown and blocks until the worker has drained every
// envelope enqueued before the call. No handler is interrupted mid-delivery.
func (b *Bus) Stop() {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return
	}
	b.running = false
	done, stopped := b.done, b.stopped
	b.mu.Unlock()

	close(done)
	<-stopped
	b.logger.Debug("bus stopped")
}

// Publish enqueues payload for asynchronous delivery on channel and returns
// the envelope id. It never blocks and never fails; backlog growth under
// sustained overload is the caller's risk to bound.
func (b *Bus) Publish(channel string, payload core.Message) string {
	env := core.NewEnvelope(channel, payload)

	b.mu.Lock()
	b.queue = append(b.queue, env)
	b.sent++
	b.mu.Unlock()

	select {
	case b.wake <- struct{}{}:
	default:
	}
	return env.ID
}

// Subscribe registers handler for channel and returns a removable handle.
// Duplicate handlers are allowed and each fires independently. Handlers are
// invoked in registration order.
func (b *Bus) Subscribe(channel string, handler Handler) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextSubID++
	b.subscribers[channel] = append(b.subscribers[channel], subscriber{id: b.nextSubID, handler: handler})
	b.logger.Debug("new subscriber channel=%s", channel)
	return &Subscription{channel: channel, id: b.nextSubID}
}

// Unsubscribe removes a previously registered subscription. Removing an
// already removed subscription is a no-op.
func (b *Bus) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subscribers[sub.channel]
	for i, s := range subs {
		if s.id == sub.id {
			b.subscribers[sub.channel] = append(subs[:i:i], subs[i+1:]...)
			return
		}
	}
}

// History returns the most recent limit envelopes delivered on channel,
// newest last. An empty channel matches everything; a non-positive limit
// returns the full history.
func (b *Bus) History(channel string, limit int) []core.Envelope {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []core.Envelope
	for _, env := range b.history {
		if channel == "" || env.Channel == channel {
			out = append(out, env)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

// Stats is a read-only snapshot of bus activity.
type Stats struct {
	Sent              int      `json:"sent"`
	Processed         int      `json:"processed"`
	ActiveSubscribers int      `json:"active_subscribers"`
	Channels          []string `json:"channels"`
	Backlog           int      `json:"backlog"`
	HistorySize       int      `json:"history_size"`
}

// GetStats returns current delivery statistics.
func (b *Bus) GetStats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := 0
	channels := make([]string, 0, len(b.subscribers))
	for ch, list := range b.subscribers {
		subs += len(list)
		channels = append(channels, ch)
	}
	return Stats{
		Sent:              b.sent,
		Processed:         b.processed,
		ActiveSubscribers: subs,
		Channels:          channels,
		Backlog:           len(b.queue),
		HistorySize:       len(b.history),
	}
}

// work drains the queue until done is closed, then drains the remaining
// backlog before exiting so in-flight publishes are not lost on shutdown.
func (b *Bus) work(done <-chan struct{}, stopped chan<- struct{}) {
	defer close(stopped)
	for {
		if env, ok := b.dequeue(); ok {
			b.deliver(env)
			continue
		}
		select {
		case <-done:
			for {
				env, ok := b.dequeue()
				if !ok {
					return
				}
				b.deliver(env)
			}
		case <-b.wake:
		}
	}
}

func (b *Bus) dequeue() (core.Envelope, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.queue) == 0 {
		return core.Envelope{}, false
	}
	env := b.queue[0]
	b.queue = b.queue[1:]
	return env, true
}

// deliver appends the envelope to history, invokes every current subscriber
// of its channel sequentially, then marks the history entry delivered. A
// handler fault is logged and does not stop delivery to the remaining
// subscribers.
func (b *Bus) deliver(env core.Envelope) {
	b.mu.Lock()
	idx := len(b.history)
	b.history = append(b.history, env)
	if b.historyLimit > 0 && len(b.history) > b.historyLimit {
		drop := len(b.history) - b.historyLimit
		b.history = b.history[drop:]
		idx -= drop
	}
	subs := make([]subscriber, len(b.subscribers[env.Channel]))
	copy(subs, b.subscribers[env.Channel])
	b.mu.Unlock()

	for i, s := range subs {
		err := b.invoke(env, i, s.handler)
		b.logDelivery(env, i, err)
	}

	b.mu.Lock()
	if idx >= 0 && idx < len(b.history) && b.history[idx].ID == env.ID {
		b.history[idx].Delivered = true
	}
	b.processed++
	b.idle.Broadcast()
	b.mu.Unlock()
}

// invoke runs a single handler, converting a panic into a transient delivery
// error.
func (b *Bus) invoke(env core.Envelope, subscriber int, h Handler) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	h(env)
	return nil
}

// logDelivery records one delivery attempt, upgraded to structured form when
// the configured logger supports it.
func (b *Bus) logDelivery(env core.Envelope, subscriber int, err error) {
	if dl, ok := b.logger.(logging.DeliveryLogger); ok {
		dl.LogDelivery(env.Channel, env.ID, subscriber, err)
		return
	}
	if err != nil {
		b.logger.Warn("delivery error channel=%s envelope_id=%s subscriber=%d: %v", env.Channel, env.ID, subscriber, err)
		return
	}
	b.logger.Debug("delivered channel=%s envelope_id=%s subscriber=%d", env.Channel, env.ID, subscriber)
}

// Flush blocks until every envelope published before the call has been
// processed. It is primarily a synchronization aid for tests and orderly
// shutdown sequences; production callers should rely on Stop.
func (b *Bus) Flush() {
	b.mu.Lock()
	defer b.mu.Unlock()
	target := b.sent
	for b.processed < target {
		b.idle.Wait()
	}
}
