package comm

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentcoord/bus"
	"github.com/hupe1980/agentcoord/core"
)

func TestRequestResponseCorrelation(t *testing.T) {
	b := bus.New()
	b.Start()
	defer b.Stop()

	requester := New("buyer", b)
	responder := New("seller", b, WithRequestHandler(func(req core.Request) (map[string]any, bool) {
		return map[string]any{"price": 9.5, "echo": req.Kind}, true
	}))
	requester.Listen()
	responder.Listen()

	requestID := requester.SendRequest("seller", "quote", map[string]any{"subject": "widget"})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	resp, err := requester.AwaitResponse(ctx, requestID)
	require.NoError(t, err)
	assert.Equal(t, requestID, resp.RequestID)
	assert.Equal(t, "seller", resp.From)
	assert.Equal(t, 9.5, resp.Data["price"])
	assert.Equal(t, "quote", resp.Data["echo"])
}

func TestDefaultHandlerAcknowledges(t *testing.T) {
	b := bus.New()
	b.Start()
	defer b.Stop()

	requester := New("buyer", b)
	responder := New("seller", b)
	requester.Listen()
	responder.Listen()

	requestID := requester.SendRequest("seller", "anything", nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	resp, err := requester.AwaitResponse(ctx, requestID)
	require.NoError(t, err)
	assert.Equal(t, "received", resp.Data["status"])
}

func TestHandlerCanSuppressResponse(t *testing.T) {
	b := bus.New()
	b.Start()
	defer b.Stop()

	requester := New("buyer", b)
	responder := New("seller", b, WithRequestHandler(func(core.Request) (map[string]any, bool) {
		return nil, false
	}))
	requester.Listen()
	responder.Listen()

	requestID := requester.SendRequest("seller", "fire-and-forget", nil)
	b.Flush()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := requester.AwaitResponse(ctx, requestID)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestAwaitResponseUnknownRequest(t *testing.T) {
	b := bus.New()
	b.Start()
	defer b.Stop()

	p := New("buyer", b)
	p.Listen()

	_, err := p.AwaitResponse(context.Background(), "never-sent")
	assert.Error(t, err)
}

func TestOrphanedResponseIsIgnored(t *testing.T) {
	b := bus.New()
	b.Start()
	defer b.Stop()

	receiver := New("buyer", b)
	receiver.Listen()

	sender := New("seller", b)
	sender.SendResponse("unknown-request", "buyer", map[string]any{"late": true})
	b.Flush()

	// The envelope still lands in the inbox snapshot.
	require.Len(t, receiver.Received(), 1)
}

func TestBroadcastEvent(t *testing.T) {
	b := bus.New()
	b.Start()
	defer b.Stop()

	var got core.EventMessage
	done := make(chan struct{})
	b.Subscribe(core.ChannelEvents, func(env core.Envelope) {
		got = env.Payload.(core.EventMessage)
		close(done)
	})

	p := New("announcer", b)
	p.BroadcastEvent("capability", map[string]any{"negotiates": true})
	b.Flush()

	<-done
	assert.Equal(t, "capability", got.Kind)
	assert.Equal(t, "announcer", got.From)
	assert.Equal(t, true, got.Data["negotiates"])
}

func TestNonProtocolMessageStaysInInbox(t *testing.T) {
	b := bus.New()
	b.Start()
	defer b.Stop()

	p := New("buyer", b)
	p.Listen()

	b.Publish(core.AgentChannel("buyer"), core.Offer{NegotiationID: "n-1"})
	b.Flush()

	inbox := p.Received()
	require.Len(t, inbox, 1)
	offer, ok := inbox[0].Payload.(core.Offer)
	require.True(t, ok)
	assert.Equal(t, "n-1", offer.NegotiationID)
}

func TestCloseStopsMailbox(t *testing.T) {
	b := bus.New()
	b.Start()
	defer b.Stop()

	p := New("buyer", b)
	p.Listen()
	p.Close()

	b.Publish(core.AgentChannel("buyer"), core.DataMessage{})
	b.Flush()

	assert.Empty(t, p.Received())
}
