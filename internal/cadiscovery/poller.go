package cadiscovery

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
)

// ---------------------------------------------------------------------------
// Recent-assets Poller — HTTP client over launch-pad listing endpoints
// Endpoints are tried in order behind a circuit breaker; an open breaker
// skips the cycle entirely instead of hammering a failing upstream.
// ---------------------------------------------------------------------------

// PollerConfig configures the recent-assets client.
type PollerConfig struct {
	// Endpoints are listing URLs tried in order until one responds.
	Endpoints []string
	Timeout   time.Duration
}

// DefaultPollerConfig returns production defaults.
func DefaultPollerConfig() PollerConfig {
	return PollerConfig{
		Endpoints: []string{
			"https://client-api-v1.pump.fun/coins?limit=50&sort=created&includeNsfw=true",
			"https://api.pump.fun/coins/recently-created",
		},
		Timeout: 5 * time.Second,
	}
}

// Poller fetches recently created assets.
type Poller struct {
	config  PollerConfig
	client  *http.Client
	breaker *gobreaker.CircuitBreaker

	polls    atomic.Int64
	failures atomic.Int64
	assets   atomic.Int64
}

// NewPoller creates the client with its breaker.
func NewPoller(config PollerConfig) *Poller {
	if config.Timeout == 0 {
		config.Timeout = 5 * time.Second
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "recent-assets",
		MaxRequests: 2,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("poller: breaker state change")
		},
	})

	return &Poller{
		config:  config,
		client:  &http.Client{Timeout: config.Timeout},
		breaker: breaker,
	}
}

// listedAsset is the upstream listing row shape.
type listedAsset struct {
	Name             string  `json:"name"`
	Symbol           string  `json:"symbol"`
	Mint             string  `json:"mint"`
	CreatedTimestamp int64   `json:"created_timestamp"` // ms epoch
	USDMarketCap     float64 `json:"usd_market_cap"`
}

func (a listedAsset) toEvent() AssetEvent {
	return AssetEvent{
		Name:      a.Name,
		Symbol:    a.Symbol,
		Address:   a.Mint,
		CreatedAt: time.UnixMilli(a.CreatedTimestamp).UTC(),
		MarketCap: decimal.NewFromFloat(a.USDMarketCap),
	}
}

// Poll fetches the current recent-assets listing. A tripped breaker or total
// endpoint failure returns an error; the caller skips the cycle and retries
// on the next tick.
func (p *Poller) Poll(ctx context.Context) ([]AssetEvent, error) {
	p.polls.Add(1)

	result, err := p.breaker.Execute(func() (interface{}, error) {
		return p.fetchAny(ctx)
	})
	if err != nil {
		p.failures.Add(1)
		return nil, err
	}

	events := result.([]AssetEvent)
	p.assets.Add(int64(len(events)))
	return events, nil
}

func (p *Poller) fetchAny(ctx context.Context) ([]AssetEvent, error) {
	var lastErr error
	for _, endpoint := range p.config.Endpoints {
		events, err := p.fetchListing(ctx, endpoint)
		if err != nil {
			lastErr = err
			log.Debug().Err(err).Str("endpoint", endpoint).Msg("poller: endpoint failed")
			continue
		}
		return events, nil
	}
	return nil, fmt.Errorf("all listing endpoints failed: %w", lastErr)
}

func (p *Poller) fetchListing(ctx context.Context, endpoint string) ([]AssetEvent, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch listing: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch listing: status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("read listing: %w", err)
	}

	rows, err := decodeListing(body)
	if err != nil {
		return nil, err
	}

	events := make([]AssetEvent, 0, len(rows))
	for _, row := range rows {
		if row.Mint == "" {
			continue
		}
		events = append(events, row.toEvent())
	}
	return events, nil
}

// decodeListing accepts both a bare array and a {"coins": [...]} wrapper.
func decodeListing(body []byte) ([]listedAsset, error) {
	var rows []listedAsset
	if err := json.Unmarshal(body, &rows); err == nil {
		return rows, nil
	}

	var wrapped struct {
		Coins []listedAsset `json:"coins"`
	}
	if err := json.Unmarshal(body, &wrapped); err != nil {
		return nil, fmt.Errorf("parse listing: %w", err)
	}
	return wrapped.Coins, nil
}

// PollerStats is a snapshot of poller counters.
type PollerStats struct {
	Polls        int64  `json:"polls"`
	Failures     int64  `json:"failures"`
	AssetsSeen   int64  `json:"assets_seen"`
	BreakerState string `json:"breaker_state"`
}

// Stats returns current counters.
func (p *Poller) Stats() PollerStats {
	return PollerStats{
		Polls:        p.polls.Load(),
		Failures:     p.failures.Load(),
		AssetsSeen:   p.assets.Load(),
		BreakerState: p.breaker.State().String(),
	}
}
