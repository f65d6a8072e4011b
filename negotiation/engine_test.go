package negotiation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentcoord/advisor"
	"github.com/hupe1980/agentcoord/bus"
	"github.com/hupe1980/agentcoord/core"
	"github.com/hupe1980/agentcoord/internal/testutil"
	"github.com/hupe1980/agentcoord/logging"
)

type failingAdvisor struct{}

func (failingAdvisor) Explain(context.Context, advisor.Context) (string, error) {
	return "", errors.New("provider unavailable")
}

// collector records published payloads per channel.
type collector struct {
	mu   sync.Mutex
	byCh map[string][]core.Message
}

func newCollector(b *bus.Bus, channels ...string) *collector {
	c := &collector{byCh: make(map[string][]core.Message)}
	for _, ch := range channels {
		ch := ch
		b.Subscribe(ch, func(env core.Envelope) {
			c.mu.Lock()
			defer c.mu.Unlock()
			c.byCh[ch] = append(c.byCh[ch], env.Payload)
		})
	}
	return c
}

func (c *collector) get(channel string) []core.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]core.Message, len(c.byCh[channel]))
	copy(out, c.byCh[channel])
	return out
}

func newTestEngine(t *testing.T, optFns ...func(o *Options)) (*Engine, *bus.Bus, *collector) {
	t.Helper()
	b := bus.New()
	col := newCollector(b, core.ChannelCounterparty, core.ChannelAgreements, core.ChannelEscalations)
	b.Start()
	t.Cleanup(b.Stop)
	return NewEngine(b, core.NewAuthorityBounds(), optFns...), b, col
}

func TestInitiatePublishesOpeningOffer(t *testing.T) {
	e, b, col := newTestEngine(t)

	n, err := e.Initiate(context.Background(), "acme", testutil.Requirements(10))
	require.NoError(t, err)
	assert.Equal(t, core.NegotiationInitiated, n.Status)
	assert.Equal(t, "acme", n.CounterpartyID)
	b.Flush()

	offers := col.get(core.ChannelCounterparty)
	require.Len(t, offers, 1)
	opening := offers[0].(core.Offer)
	assert.Equal(t, n.ID, opening.NegotiationID)
	assert.Equal(t, 0, opening.Round)
	assert.InDelta(t, 9.5, opening.Terms.PricePerUnit, 1e-9, "opening price is target less the planned reduction")
}

func TestInitiateRejectsNonPositiveTarget(t *testing.T) {
	e, _, _ := newTestEngine(t)

	_, err := e.Initiate(context.Background(), "acme", testutil.Requirements(0))
	assert.Error(t, err)
}

func TestAcceptWithinBounds(t *testing.T) {
	e, b, col := newTestEngine(t)

	n, err := e.Initiate(context.Background(), "acme", testutil.Requirements(10))
	require.NoError(t, err)

	// 10% over target is inside the 15% acceptable increase.
	updated, err := e.ProcessResponse(context.Background(), n.ID, testutil.Offer(11))
	require.NoError(t, err)
	assert.Equal(t, core.NegotiationAgreed, updated.Status)
	require.Len(t, updated.Rounds, 1)
	assert.Equal(t, core.ActionAccept, updated.Rounds[0].Action)
	assert.True(t, updated.Rounds[0].Analysis.WithinBounds)
	b.Flush()

	agreements := col.get(core.ChannelAgreements)
	require.Len(t, agreements, 1)
	agreement := agreements[0].(core.Agreement)
	assert.Equal(t, n.ID, agreement.NegotiationID)
	assert.Equal(t, 1, agreement.Rounds)
	assert.Equal(t, 11.0, agreement.FinalTerms.PricePerUnit)
}

func TestCounterWithinTolerance(t *testing.T) {
	e, b, col := newTestEngine(t)

	n, err := e.Initiate(context.Background(), "acme", testutil.Requirements(10))
	require.NoError(t, err)

	// 20% over target: beyond acceptable but inside the adjust tolerance.
	updated, err := e.ProcessResponse(context.Background(), n.ID, testutil.Offer(12))
	require.NoError(t, err)
	assert.Equal(t, core.NegotiationCountered, updated.Status)
	require.Len(t, updated.Rounds, 1)
	assert.Equal(t, core.ActionCounter, updated.Rounds[0].Action)
	b.Flush()

	offers := col.get(core.ChannelCounterparty)
	require.Len(t, offers, 2, "opening offer plus one counter")
	counter := offers[1].(core.Offer)
	assert.Equal(t, 1, counter.Round)
	assert.InDelta(t, 11.76, counter.Terms.PricePerUnit, 1e-9)
	assert.Equal(t, 3, counter.Terms.LeadTimeDays)
}

func TestCounterPriceFloorsAtTarget(t *testing.T) {
	b := bus.New()
	col := newCollector(b, core.ChannelCounterparty)
	b.Start()
	t.Cleanup(b.Stop)

	// A tight acceptable increase makes a near-target offer counterable, so
	// the two percent step would undercut the target without the floor.
	bounds := core.NewAuthorityBounds(func(c *core.AuthorityConfig) {
		c.MaxPriceIncrease = 0.01
	})
	e := NewEngine(b, bounds)

	n, err := e.Initiate(context.Background(), "acme", testutil.Requirements(10))
	require.NoError(t, err)

	updated, err := e.ProcessResponse(context.Background(), n.ID, testutil.Offer(10.2))
	require.NoError(t, err)
	require.Equal(t, core.NegotiationCountered, updated.Status)
	b.Flush()

	offers := col.get(core.ChannelCounterparty)
	require.Len(t, offers, 2)
	assert.InDelta(t, 10, offers[1].(core.Offer).Terms.PricePerUnit, 1e-9)
}

func TestRejectBeyondTolerance(t *testing.T) {
	e, b, col := newTestEngine(t)

	n, err := e.Initiate(context.Background(), "acme", testutil.Requirements(10))
	require.NoError(t, err)

	// 30% over target: outside even the adjust tolerance.
	updated, err := e.ProcessResponse(context.Background(), n.ID, testutil.Offer(13))
	require.NoError(t, err)
	assert.Equal(t, core.NegotiationFailed, updated.Status)
	require.Len(t, updated.Rounds, 1)
	assert.Equal(t, core.ActionReject, updated.Rounds[0].Action)
	b.Flush()

	terminations := col.get(core.ChannelAgreements)
	require.Len(t, terminations, 1)
	assert.IsType(t, core.Termination{}, terminations[0])
}

func TestRoundCapForcesEscalation(t *testing.T) {
	e, b, col := newTestEngine(t)

	n, err := e.Initiate(context.Background(), "acme", testutil.Requirements(10))
	require.NoError(t, err)

	// Three counterable rounds exhaust the cap.
	for i := 0; i < 3; i++ {
		updated, err := e.ProcessResponse(context.Background(), n.ID, testutil.Offer(12))
		require.NoError(t, err)
		assert.Equal(t, core.NegotiationCountered, updated.Status)
	}

	// The fourth response escalates even though the offer itself would have
	// been acceptable.
	updated, err := e.ProcessResponse(context.Background(), n.ID, testutil.Offer(10))
	require.NoError(t, err)
	assert.Equal(t, core.NegotiationEscalated, updated.Status)
	require.Len(t, updated.Rounds, 4)
	assert.Equal(t, core.ActionEscalate, updated.Rounds[3].Action)
	b.Flush()

	escalations := col.get(core.ChannelEscalations)
	require.Len(t, escalations, 1)
	esc := escalations[0].(core.Escalation)
	assert.Equal(t, n.ID, esc.NegotiationID)
}

func TestTerminalNegotiationRefusesResponses(t *testing.T) {
	e, _, _ := newTestEngine(t)

	n, err := e.Initiate(context.Background(), "acme", testutil.Requirements(10))
	require.NoError(t, err)

	_, err = e.ProcessResponse(context.Background(), n.ID, testutil.Offer(11))
	require.NoError(t, err)

	_, err = e.ProcessResponse(context.Background(), n.ID, testutil.Offer(10))
	assert.ErrorIs(t, err, ErrTerminal)

	// The audit trail is unchanged by the refused response.
	final, err := e.Get(n.ID)
	require.NoError(t, err)
	assert.Len(t, final.Rounds, 1)
}

func TestProcessResponseUnknownNegotiation(t *testing.T) {
	e, _, _ := newTestEngine(t)

	_, err := e.ProcessResponse(context.Background(), "missing", testutil.Offer(10))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestResumeEscalatedNegotiation(t *testing.T) {
	e, _, _ := newTestEngine(t)

	n, err := e.Initiate(context.Background(), "acme", testutil.Requirements(10))
	require.NoError(t, err)
	for i := 0; i < 4; i++ {
		_, err = e.ProcessResponse(context.Background(), n.ID, testutil.Offer(12))
		require.NoError(t, err)
	}

	resumed, err := e.Resume(context.Background(), n.ID)
	require.NoError(t, err)
	assert.NotEqual(t, n.ID, resumed.ID, "resume starts a fresh negotiation")
	assert.Equal(t, core.NegotiationInitiated, resumed.Status)
	assert.Equal(t, n.Requirements, resumed.Requirements)
	assert.Empty(t, resumed.Rounds)
}

func TestResumeRequiresEscalatedStatus(t *testing.T) {
	e, _, _ := newTestEngine(t)

	n, err := e.Initiate(context.Background(), "acme", testutil.Requirements(10))
	require.NoError(t, err)

	_, err = e.Resume(context.Background(), n.ID)
	assert.Error(t, err)
}

func TestAdvisorCommentaryIsRecorded(t *testing.T) {
	mock := advisor.NewMock()
	mock.AddResponse("negotiation_round", "offer sits just above target")
	e, _, _ := newTestEngine(t, WithAdvisor(mock))

	n, err := e.Initiate(context.Background(), "acme", testutil.Requirements(10))
	require.NoError(t, err)

	updated, err := e.ProcessResponse(context.Background(), n.ID, testutil.Offer(11))
	require.NoError(t, err)
	assert.Equal(t, "offer sits just above target", updated.Rounds[0].Analysis.Commentary)
}

func TestAdvisorFailureNeverChangesOutcome(t *testing.T) {
	e, _, _ := newTestEngine(t, WithAdvisor(failingAdvisor{}))

	n, err := e.Initiate(context.Background(), "acme", testutil.Requirements(10))
	require.NoError(t, err)

	updated, err := e.ProcessResponse(context.Background(), n.ID, testutil.Offer(11))
	require.NoError(t, err)
	assert.Equal(t, core.NegotiationAgreed, updated.Status)
	assert.Empty(t, updated.Rounds[0].Analysis.Commentary)
}

func TestActiveExcludesTerminal(t *testing.T) {
	e, _, _ := newTestEngine(t)

	open, err := e.Initiate(context.Background(), "acme", testutil.Requirements(10))
	require.NoError(t, err)
	closed, err := e.Initiate(context.Background(), "globex", testutil.Requirements(10))
	require.NoError(t, err)
	_, err = e.ProcessResponse(context.Background(), closed.ID, testutil.Offer(11))
	require.NoError(t, err)

	active := e.Active()
	require.Len(t, active, 1)
	assert.Equal(t, open.ID, active[0].ID)
}

// Exercised with the race detector: round processing must never tear the
// snapshots taken by concurrent readers.
func TestConcurrentRoundsAndSnapshots(t *testing.T) {
	e, _, _ := newTestEngine(t)

	const negotiations = 8
	ids := make([]string, negotiations)
	for i := range ids {
		n, err := e.Initiate(context.Background(), "acme", testutil.Requirements(10))
		require.NoError(t, err)
		ids[i] = n.ID
	}

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(2)
		go func(id string) {
			defer wg.Done()
			for i := 0; i < 3; i++ {
				_, err := e.ProcessResponse(context.Background(), id, testutil.Offer(12))
				assert.NoError(t, err)
			}
		}(id)
		go func(id string) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				n, err := e.Get(id)
				if assert.NoError(t, err) {
					assert.LessOrEqual(t, len(n.Rounds), 3)
				}
				e.Active()
				e.GetPerformance()
			}
		}(id)
	}
	wg.Wait()

	for _, id := range ids {
		n, err := e.Get(id)
		require.NoError(t, err)
		assert.Len(t, n.Rounds, 3)
		assert.Equal(t, core.NegotiationCountered, n.Status)
	}
}

// roundRecorder captures structured round logging when the engine upgrades
// its logger.
type roundRecorder struct {
	logging.NoOpLogger
	mu     sync.Mutex
	rounds []string
}

func (r *roundRecorder) LogNegotiationRound(negotiationID string, round int, action, status string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rounds = append(r.rounds, fmt.Sprintf("%d %s %s", round, action, status))
}

func (r *roundRecorder) get() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.rounds))
	copy(out, r.rounds)
	return out
}

func TestRoundLoggingUpgradesToStructuredForm(t *testing.T) {
	rec := &roundRecorder{}
	e, _, _ := newTestEngine(t, WithLogger(rec))

	n, err := e.Initiate(context.Background(), "acme", testutil.Requirements(10))
	require.NoError(t, err)

	_, err = e.ProcessResponse(context.Background(), n.ID, testutil.Offer(12))
	require.NoError(t, err)
	_, err = e.ProcessResponse(context.Background(), n.ID, testutil.Offer(11))
	require.NoError(t, err)

	assert.Equal(t, []string{"1 counter countered", "2 accept agreed"}, rec.get())
}

func TestPruneDropsOnlyTerminalNegotiations(t *testing.T) {
	e, _, _ := newTestEngine(t)

	open, err := e.Initiate(context.Background(), "acme", testutil.Requirements(10))
	require.NoError(t, err)
	closed, err := e.Initiate(context.Background(), "globex", testutil.Requirements(10))
	require.NoError(t, err)
	_, err = e.ProcessResponse(context.Background(), closed.ID, testutil.Offer(11))
	require.NoError(t, err)

	assert.Equal(t, 1, e.Prune())

	_, err = e.Get(closed.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	survivor, err := e.Get(open.ID)
	require.NoError(t, err)
	assert.Equal(t, core.NegotiationInitiated, survivor.Status)
	assert.Equal(t, 1, e.GetPerformance().Total)

	// Nothing terminal remains, so a second prune is a no-op.
	assert.Zero(t, e.Prune())
}

func TestGetPerformance(t *testing.T) {
	e, _, _ := newTestEngine(t)

	agreed, err := e.Initiate(context.Background(), "acme", testutil.Requirements(10))
	require.NoError(t, err)
	_, err = e.ProcessResponse(context.Background(), agreed.ID, testutil.Offer(11))
	require.NoError(t, err)

	failed, err := e.Initiate(context.Background(), "globex", testutil.Requirements(10))
	require.NoError(t, err)
	_, err = e.ProcessResponse(context.Background(), failed.ID, testutil.Offer(13))
	require.NoError(t, err)

	perf := e.GetPerformance()
	assert.Equal(t, 2, perf.Total)
	assert.Equal(t, 1, perf.Agreed)
	assert.InDelta(t, 0.5, perf.SuccessRate, 1e-9)
	assert.InDelta(t, 1.0, perf.AvgRounds, 1e-9)
}
