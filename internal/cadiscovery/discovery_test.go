package cadiscovery

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trendhawk/trendhawk/internal/bus"
	"github.com/trendhawk/trendhawk/internal/knowntokens"
	"github.com/trendhawk/trendhawk/internal/mention"
	"github.com/trendhawk/trendhawk/internal/quorum"
	"github.com/trendhawk/trendhawk/internal/store"
)

// recordingSub captures broadcast events.
type recordingSub struct {
	mu  sync.Mutex
	evs []bus.Event
}

func (s *recordingSub) ID() string { return "recording" }

func (s *recordingSub) Deliver(ev bus.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evs = append(s.evs, ev)
	return nil
}

func (s *recordingSub) Close() error { return nil }

func (s *recordingSub) alerts() []bus.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []bus.Event
	for _, ev := range s.evs {
		if ev.Type == bus.EventCAAlert {
			out = append(out, ev)
		}
	}
	return out
}

type harness struct {
	mem *store.Memory
	det *quorum.Detector
	dis *Discoverer
	sub *recordingSub
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	mem := store.NewMemory()
	filter := knowntokens.New(mem, nil)
	bc := bus.NewBroadcaster(bus.DefaultBroadcasterConfig())
	det := quorum.New(quorum.DefaultConfig(), mem, filter, bc)
	dis := NewDiscoverer(DefaultDiscovererConfig(), mem, det, filter, bc)
	sub := &recordingSub{}
	bc.Subscribe(sub)
	return &harness{mem: mem, det: det, dis: dis, sub: sub}
}

// activate opens a MOONDOG activation via two distinct accounts.
func (h *harness) activate(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	for _, account := range []string{"alice", "bob"} {
		_, err := h.det.Ingest(ctx, "timeline", []mention.RawMention{{
			AccountUsername: account,
			Text:            "$MOONDOG breaking out",
			URL:             "https://x.com/" + account + "/status/1",
			PostedAt:        time.Now().UTC(),
		}})
		require.NoError(t, err)
	}
	opened, err := h.det.Evaluate(ctx)
	require.NoError(t, err)
	require.Len(t, opened, 1)
}

func asset(name, symbol, address string, age time.Duration) AssetEvent {
	return AssetEvent{
		Name:      name,
		Symbol:    symbol,
		Address:   address,
		CreatedAt: time.Now().UTC().Add(-age),
		MarketCap: decimal.NewFromInt(42000),
	}
}

func TestStaleAssetIgnored(t *testing.T) {
	h := newHarness(t)
	h.activate(t)

	got := h.dis.HandleAsset(context.Background(), asset("MoonDog", "MOONDOG", "CA111", 90*time.Second), bus.AlertSourcePushFeed)

	assert.Nil(t, got, "a 90s-old launch is outside the freshness window")
	assert.Empty(t, h.sub.alerts())
	alerts, err := h.mem.QueryCAAlerts(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, alerts)
	// the activation stays open for a later fresh launch
	_, watched := h.det.Watched("MOONDOG")
	assert.True(t, watched)
}

func TestFreshPollMatchEmitsAlertOnce(t *testing.T) {
	h := newHarness(t)
	h.activate(t)
	ctx := context.Background()

	ev := asset("MoonDog Inu", "MOONDOG", "CA222", 10*time.Second)
	got := h.dis.HandleAsset(ctx, ev, bus.AlertSourcePoller)

	require.NotNil(t, got)
	assert.Equal(t, "MOONDOG", got.TokenName)
	assert.Equal(t, "CA222", got.ContractAddress)
	assert.True(t, got.WasTrending)
	assert.Equal(t, 2, got.MentionCountAtDiscovery)
	assert.Contains(t, got.ChartURL, "CA222")
	assert.Equal(t, bus.AlertSourcePoller, got.Source)

	// activation is resolved and off the watchlist
	_, watched := h.det.Watched("MOONDOG")
	assert.False(t, watched)

	// broadcast exactly once, even when the listing repeats the asset
	again := h.dis.HandleAsset(ctx, ev, bus.AlertSourcePoller)
	assert.Nil(t, again)
	assert.Len(t, h.sub.alerts(), 1)

	persisted, err := h.mem.QueryCAAlerts(ctx, 10)
	require.NoError(t, err)
	require.Len(t, persisted, 1)
	assert.Equal(t, "CA222", persisted[0].ContractAddress)
}

func TestPollerPathIgnoresUnwatchedAssets(t *testing.T) {
	h := newHarness(t)

	got := h.dis.HandleAsset(context.Background(), asset("Random Launch", "RNDM", "CA333", time.Second), bus.AlertSourcePoller)

	assert.Nil(t, got)
	assert.Empty(t, h.sub.alerts())
}

func TestPushFeedStandaloneAlert(t *testing.T) {
	h := newHarness(t)

	got := h.dis.HandleAsset(context.Background(), asset("Random Launch", "RNDM", "CA444", time.Second), bus.AlertSourcePushFeed)

	require.NotNil(t, got)
	assert.False(t, got.WasTrending)
	assert.Equal(t, 0, got.MentionCountAtDiscovery)
	assert.Equal(t, "RNDM", got.TokenName)
	assert.Equal(t, bus.AlertSourcePushFeed, got.Source)
	assert.Len(t, h.sub.alerts(), 1)
}

func TestMatchedTokenBecomesKnown(t *testing.T) {
	h := newHarness(t)
	h.activate(t)
	ctx := context.Background()

	got := h.dis.HandleAsset(ctx, asset("MoonDog", "MOONDOG", "CA555", time.Second), bus.AlertSourcePushFeed)
	require.NotNil(t, got)

	// a new round of posts about the resolved token is filtered at ingest
	n, err := h.det.Ingest(ctx, "timeline", []mention.RawMention{{
		AccountUsername: "carol",
		Text:            "$MOONDOG already mooned",
		PostedAt:        time.Now().UTC(),
	}})
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestWordMatchInAssetName(t *testing.T) {
	h := newHarness(t)
	h.activate(t)

	got := h.dis.HandleAsset(context.Background(), asset("The Official MOONDOG Coin", "MDOG", "CA666", time.Second), bus.AlertSourcePoller)

	require.NotNil(t, got)
	assert.True(t, got.WasTrending)
	assert.Equal(t, "MOONDOG", got.TokenName)
}

func TestPollerEndpointFallback(t *testing.T) {
	created := time.Now().UTC().Add(-5 * time.Second).UnixMilli()
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `[{"name":"MoonDog","symbol":"MOONDOG","mint":"CA777","created_timestamp":%d,"usd_market_cap":12500.5}]`, created)
	}))
	defer good.Close()
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer bad.Close()

	p := NewPoller(PollerConfig{Endpoints: []string{bad.URL, good.URL}})
	events, err := p.Poll(context.Background())

	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "CA777", events[0].Address)
	assert.Equal(t, "MOONDOG", events[0].Symbol)
	assert.True(t, events[0].MarketCap.Equal(decimal.NewFromFloat(12500.5)))
	assert.WithinDuration(t, time.Now(), events[0].CreatedAt, 10*time.Second)
}

func TestPollerWrappedListing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"coins":[{"name":"A","symbol":"AA","mint":"CA888","created_timestamp":%d}]}`, time.Now().UnixMilli())
	}))
	defer srv.Close()

	p := NewPoller(PollerConfig{Endpoints: []string{srv.URL}})
	events, err := p.Poll(context.Background())

	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "CA888", events[0].Address)
}

func TestPollerAllEndpointsDown(t *testing.T) {
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer bad.Close()

	p := NewPoller(PollerConfig{Endpoints: []string{bad.URL}})
	_, err := p.Poll(context.Background())

	require.Error(t, err)
	assert.Equal(t, int64(1), p.Stats().Failures)
}

func TestPushFeedMalformedFrameIsolated(t *testing.T) {
	f := NewPushFeed(DefaultPushFeedConfig())

	f.handleMessage([]byte("not json at all"))
	f.handleMessage([]byte(`{"message":"Successfully subscribed"}`))
	f.handleMessage([]byte(`{"name":"MoonDog","symbol":"MOONDOG","mint":"CA999","marketCapSol":30.5}`))

	stats := f.Stats()
	assert.Equal(t, int64(1), stats.ParseErrors)
	assert.Equal(t, int64(1), stats.Parsed)

	select {
	case ev := <-f.Events():
		assert.Equal(t, "CA999", ev.Address)
		assert.Equal(t, "MOONDOG", ev.Symbol)
	default:
		t.Fatal("expected a parsed event on the channel")
	}
}

func TestPushFeedBufferOverflowDrops(t *testing.T) {
	f := NewPushFeed(PushFeedConfig{BufferSize: 1})

	f.handleMessage([]byte(`{"name":"A","symbol":"AA","mint":"CA1"}`))
	f.handleMessage([]byte(`{"name":"B","symbol":"BB","mint":"CA2"}`))

	assert.Equal(t, int64(1), f.Stats().Dropped)
}
