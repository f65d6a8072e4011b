package bus

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentcoord/core"
	"github.com/hupe1980/agentcoord/logging"
)

// deliveryRecorder captures structured delivery logging when the bus upgrades
// its logger.
type deliveryRecorder struct {
	logging.NoOpLogger
	mu      sync.Mutex
	entries []deliveryEntry
}

type deliveryEntry struct {
	channel    string
	subscriber int
	err        error
}

func (r *deliveryRecorder) LogDelivery(channel, envelopeID string, subscriber int, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, deliveryEntry{channel: channel, subscriber: subscriber, err: err})
}

func (r *deliveryRecorder) get() []deliveryEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]deliveryEntry, len(r.entries))
	copy(out, r.entries)
	return out
}

func TestDeliveryLoggingUpgradesToStructuredForm(t *testing.T) {
	rec := &deliveryRecorder{}
	b := New(WithLogger(rec))
	b.Start()
	defer b.Stop()

	b.Subscribe("events", func(core.Envelope) { panic("handler corrupted") })
	b.Subscribe("events", func(core.Envelope) {})

	b.Publish("events", core.DataMessage{Kind: "ping"})
	b.Flush()

	entries := rec.get()
	require.Len(t, entries, 2, "every delivery attempt is recorded")
	assert.Equal(t, "events", entries[0].channel)
	assert.Equal(t, 0, entries[0].subscriber)
	require.Error(t, entries[0].err)
	assert.Contains(t, entries[0].err.Error(), "handler panic")
	assert.Equal(t, 1, entries[1].subscriber)
	assert.NoError(t, entries[1].err)
}

func TestPublishSubscribe(t *testing.T) {
	b := New()
	b.Start()
	defer b.Stop()

	var mu sync.Mutex
	var got []core.Envelope
	b.Subscribe("events", func(env core.Envelope) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, env)
	})

	id := b.Publish("events", core.DataMessage{Kind: "ping"})
	b.Flush()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 1)
	assert.Equal(t, id, got[0].ID)
	assert.Equal(t, "events", got[0].Channel)
	assert.Equal(t, core.DataMessage{Kind: "ping"}, got[0].Payload)
}

func TestGlobalFIFOOrdering(t *testing.T) {
	b := New()
	b.Start()
	defer b.Stop()

	var mu sync.Mutex
	var order []string
	record := func(env core.Envelope) {
		mu.Lock()
		defer mu.Unlock()
		order = append(order, env.ID)
	}
	b.Subscribe("a", record)
	b.Subscribe("b", record)

	var want []string
	for i := 0; i < 50; i++ {
		channel := "a"
		if i%2 == 1 {
			channel = "b"
		}
		want = append(want, b.Publish(channel, core.DataMessage{}))
	}
	b.Flush()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, want, order, "delivery must follow publish order across channels")
}

func TestFanOutToAllSubscribers(t *testing.T) {
	b := New()
	b.Start()
	defer b.Stop()

	var mu sync.Mutex
	counts := make(map[int]int)
	for i := 0; i < 3; i++ {
		i := i
		b.Subscribe("events", func(core.Envelope) {
			mu.Lock()
			defer mu.Unlock()
			counts[i]++
		})
	}

	b.Publish("events", core.DataMessage{})
	b.Flush()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, map[int]int{0: 1, 1: 1, 2: 1}, counts)
}

func TestHandlerPanicDoesNotLoseSubsequentDeliveries(t *testing.T) {
	b := New()
	b.Start()
	defer b.Stop()

	var mu sync.Mutex
	var delivered int
	b.Subscribe("events", func(core.Envelope) {
		panic("handler blew up")
	})
	b.Subscribe("events", func(core.Envelope) {
		mu.Lock()
		defer mu.Unlock()
		delivered++
	})

	b.Publish("events", core.DataMessage{})
	b.Publish("events", core.DataMessage{})
	b.Flush()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 2, delivered, "a panicking subscriber must not block the rest")

	stats := b.GetStats()
	assert.Equal(t, 2, stats.Processed)
}

func TestPublishBeforeStartIsBuffered(t *testing.T) {
	b := New()

	var mu sync.Mutex
	var delivered int
	b.Subscribe("events", func(core.Envelope) {
		mu.Lock()
		defer mu.Unlock()
		delivered++
	})

	b.Publish("events", core.DataMessage{})
	b.Publish("events", core.DataMessage{})

	b.Start()
	defer b.Stop()
	b.Flush()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 2, delivered)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := New()
	b.Start()
	defer b.Stop()

	var mu sync.Mutex
	var delivered int
	sub := b.Subscribe("events", func(core.Envelope) {
		mu.Lock()
		defer mu.Unlock()
		delivered++
	})

	b.Publish("events", core.DataMessage{})
	b.Flush()
	b.Unsubscribe(sub)
	b.Publish("events", core.DataMessage{})
	b.Flush()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, delivered)
}

func TestNoSubscriberEnvelopeStillRecorded(t *testing.T) {
	b := New()
	b.Start()
	defer b.Stop()

	b.Publish("nobody.listens", core.DataMessage{})
	b.Flush()

	history := b.History("nobody.listens", 0)
	require.Len(t, history, 1)
	assert.True(t, history[0].Delivered)

	stats := b.GetStats()
	assert.Equal(t, 1, stats.Sent)
	assert.Equal(t, 1, stats.Processed)
	assert.Equal(t, 1, stats.HistorySize)
}

func TestHistoryFilterAndLimit(t *testing.T) {
	b := New()
	b.Start()
	defer b.Stop()

	for i := 0; i < 5; i++ {
		b.Publish("a", core.DataMessage{})
		b.Publish("b", core.DataMessage{})
	}
	b.Flush()

	assert.Len(t, b.History("", 0), 10)
	assert.Len(t, b.History("a", 0), 5)
	assert.Len(t, b.History("a", 2), 2)

	last := b.History("", 1)
	require.Len(t, last, 1)
	assert.Equal(t, "b", last[0].Channel, "limit must keep the newest entries")
}

func TestHistoryLimitCapsRetention(t *testing.T) {
	b := New(WithHistoryLimit(3))
	b.Start()
	defer b.Stop()

	for i := 0; i < 10; i++ {
		b.Publish("events", core.DataMessage{})
	}
	b.Flush()

	assert.Len(t, b.History("", 0), 3)
}

func TestStopDrainsQueue(t *testing.T) {
	b := New()
	b.Start()

	var mu sync.Mutex
	var delivered int
	b.Subscribe("events", func(core.Envelope) {
		mu.Lock()
		defer mu.Unlock()
		delivered++
	})

	for i := 0; i < 100; i++ {
		b.Publish("events", core.DataMessage{})
	}
	b.Stop()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 100, delivered, "Stop must drain everything enqueued before it")
}

func TestGetStats(t *testing.T) {
	b := New()
	b.Start()
	defer b.Stop()

	b.Subscribe("a", func(core.Envelope) {})
	b.Subscribe("a", func(core.Envelope) {})
	b.Subscribe("b", func(core.Envelope) {})

	b.Publish("a", core.DataMessage{})
	b.Publish("b", core.DataMessage{})
	b.Publish("c", core.DataMessage{})
	b.Flush()

	stats := b.GetStats()
	assert.Equal(t, 3, stats.Sent)
	assert.Equal(t, 3, stats.Processed)
	assert.Equal(t, 0, stats.Backlog)
	assert.Equal(t, 3, stats.ActiveSubscribers)
	assert.ElementsMatch(t, []string{"a", "b"}, stats.Channels)
}
