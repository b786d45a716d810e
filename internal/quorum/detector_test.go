package quorum

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trendhawk/trendhawk/internal/bus"
	"github.com/trendhawk/trendhawk/internal/knowntokens"
	"github.com/trendhawk/trendhawk/internal/mention"
	"github.com/trendhawk/trendhawk/internal/store"
)

// recordingSub captures broadcast events for assertions.
type recordingSub struct {
	mu  sync.Mutex
	evs []bus.Event
}

func newRecordingSub() *recordingSub { return &recordingSub{} }

func (s *recordingSub) ID() string { return "recording" }

func (s *recordingSub) Deliver(ev bus.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evs = append(s.evs, ev)
	return nil
}

func (s *recordingSub) Close() error { return nil }

func (s *recordingSub) events() []bus.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]bus.Event, len(s.evs))
	copy(out, s.evs)
	return out
}

func newTestDetector(t *testing.T) (*Detector, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	filter := knowntokens.New(mem, nil)
	return New(DefaultConfig(), mem, filter, nil), mem
}

func post(account, text string) mention.RawMention {
	return mention.RawMention{
		AccountUsername: account,
		Text:            text,
		URL:             "https://x.com/" + account + "/status/1",
		PostedAt:        time.Now().UTC(),
	}
}

func ingest(t *testing.T, d *Detector, account, text string) {
	t.Helper()
	_, err := d.Ingest(context.Background(), "timeline", []mention.RawMention{post(account, text)})
	require.NoError(t, err)
}

func TestTwoAccountsActivateTrend(t *testing.T) {
	d, mem := newTestDetector(t)
	ctx := context.Background()

	ingest(t, d, "alice", "check out $MOONDOG, insane volume")
	ingest(t, d, "bob", "MOONDOG coin about to send")

	opened, err := d.Evaluate(ctx)
	require.NoError(t, err)
	require.Len(t, opened, 1)
	assert.Equal(t, "MOONDOG", opened[0].TokenName)
	assert.Equal(t, 2, opened[0].MentionCount)
	assert.Equal(t, bus.ActivationActive, opened[0].Status)

	// contributing mentions are consumed
	for _, m := range mem.Mentions() {
		assert.True(t, m.Processed)
	}
	assert.Equal(t, []string{"MOONDOG"}, d.Watchlist())
}

func TestOneAccountRepeatedDoesNotActivate(t *testing.T) {
	d, mem := newTestDetector(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		ingest(t, d, "alice", "$MOONDOG going up")
	}

	opened, err := d.Evaluate(ctx)
	require.NoError(t, err)
	assert.Empty(t, opened)
	assert.Empty(t, d.Watchlist())

	// below quorum, mentions stay available for later cycles
	for _, m := range mem.Mentions() {
		assert.False(t, m.Processed)
	}
}

func TestEstablishedTokenNeverPersisted(t *testing.T) {
	d, mem := newTestDetector(t)

	ingest(t, d, "alice", "$BTC and $ETH both flat today")
	ingest(t, d, "bob", "BTC pump incoming")

	opened, err := d.Evaluate(context.Background())
	require.NoError(t, err)
	assert.Empty(t, opened)
	assert.Empty(t, mem.Mentions(), "established names must be dropped before persistence")
	assert.Equal(t, int64(3), d.Stats().KnownFiltered)
}

func TestEvaluateIsIdempotent(t *testing.T) {
	d, mem := newTestDetector(t)
	ctx := context.Background()

	ingest(t, d, "alice", "$MOONDOG nice entry")
	ingest(t, d, "bob", "$MOONDOG agreed")

	opened, err := d.Evaluate(ctx)
	require.NoError(t, err)
	require.Len(t, opened, 1)

	again, err := d.Evaluate(ctx)
	require.NoError(t, err)
	assert.Empty(t, again)
	assert.Len(t, mem.Activations(), 1, "at most one open activation per token")
}

func TestCountRefreshWithoutReactivation(t *testing.T) {
	d, mem := newTestDetector(t)
	ctx := context.Background()

	ingest(t, d, "alice", "$MOONDOG pumping")
	ingest(t, d, "bob", "$MOONDOG confirmed")
	opened, err := d.Evaluate(ctx)
	require.NoError(t, err)
	require.Len(t, opened, 1)
	firstID := opened[0].ID

	ingest(t, d, "carol", "late to $MOONDOG but in")
	again, err := d.Evaluate(ctx)
	require.NoError(t, err)
	assert.Empty(t, again, "existing activation must not reopen")

	count, watched := d.Watched("moondog")
	require.True(t, watched)
	assert.Equal(t, 3, count)

	acts := mem.Activations()
	require.Len(t, acts, 1)
	assert.Equal(t, firstID, acts[0].ID)
	assert.Equal(t, 3, acts[0].MentionCount)
}

func TestMarkCAFoundResolvesActivation(t *testing.T) {
	d, mem := newTestDetector(t)
	ctx := context.Background()

	ingest(t, d, "alice", "$MOONDOG time")
	ingest(t, d, "bob", "$MOONDOG yes")
	_, err := d.Evaluate(ctx)
	require.NoError(t, err)

	act, ok := d.MarkCAFound(ctx, "MoonDog")
	require.True(t, ok)
	assert.Equal(t, bus.ActivationCAFound, act.Status)
	require.NotNil(t, act.ResolvedAt)
	assert.Empty(t, d.Watchlist())

	// terminal: cannot resolve twice
	_, ok = d.MarkCAFound(ctx, "MOONDOG")
	assert.False(t, ok)

	acts := mem.Activations()
	require.Len(t, acts, 1)
	assert.Equal(t, bus.ActivationCAFound, acts[0].Status)
}

func TestMarkCAFoundUnwatchedToken(t *testing.T) {
	d, _ := newTestDetector(t)
	_, ok := d.MarkCAFound(context.Background(), "NOBODY")
	assert.False(t, ok)
}

func TestExpireStaleClosesOldActivations(t *testing.T) {
	d, mem := newTestDetector(t)
	ctx := context.Background()

	ingest(t, d, "alice", "$MOONDOG up only")
	ingest(t, d, "bob", "$MOONDOG inevitable")
	_, err := d.Evaluate(ctx)
	require.NoError(t, err)

	// nothing is stale yet
	assert.Equal(t, 0, d.ExpireStale(ctx))

	cfg := DefaultConfig()
	cfg.ActivationTTL = 0
	d.Reconfigure(cfg)

	assert.Equal(t, 1, d.ExpireStale(ctx))
	assert.Empty(t, d.Watchlist())

	acts := mem.Activations()
	require.Len(t, acts, 1)
	assert.Equal(t, bus.ActivationExpired, acts[0].Status)
	assert.NotNil(t, acts[0].ResolvedAt)
}

func TestRestoreReloadsOpenActivations(t *testing.T) {
	mem := store.NewMemory()
	act := bus.NewTrendActivation("MOONDOG", 2)
	require.NoError(t, mem.UpsertActivation(context.Background(), act))

	d := New(DefaultConfig(), mem, knowntokens.New(mem, nil), nil)
	require.NoError(t, d.Restore(context.Background()))

	count, watched := d.Watched("MOONDOG")
	assert.True(t, watched)
	assert.Equal(t, 2, count)
}

func TestIngestStoreFailure(t *testing.T) {
	d, mem := newTestDetector(t)
	mem.SetUnavailable(true)

	_, err := d.Ingest(context.Background(), "timeline", []mention.RawMention{
		post("alice", "$MOONDOG hype"),
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, store.ErrStoreUnavailable))

	_, err = d.Evaluate(context.Background())
	assert.True(t, errors.Is(err, store.ErrStoreUnavailable))
}

func TestBroadcastOnActivation(t *testing.T) {
	mem := store.NewMemory()
	bc := bus.NewBroadcaster(bus.DefaultBroadcasterConfig())
	d := New(DefaultConfig(), mem, knowntokens.New(mem, nil), bc)
	ctx := context.Background()

	sub := newRecordingSub()
	bc.Subscribe(sub)

	ingest(t, d, "alice", "$MOONDOG wow")
	ingest(t, d, "bob", "$MOONDOG indeed")
	_, err := d.Evaluate(ctx)
	require.NoError(t, err)

	events := sub.events()
	require.Len(t, events, 1)
	assert.Equal(t, bus.EventTrendActivation, events[0].Type)
	require.NotNil(t, events[0].Activation)
	assert.Equal(t, "MOONDOG", events[0].Activation.TokenName)
}
