package cadiscovery

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/trendhawk/trendhawk/internal/bus"
	"github.com/trendhawk/trendhawk/internal/knowntokens"
	"github.com/trendhawk/trendhawk/internal/quorum"
	"github.com/trendhawk/trendhawk/internal/store"
)

// ---------------------------------------------------------------------------
// Discoverer — freshness gate, watchlist match, alert emission
// Both discovery paths funnel through HandleAsset so dedup and alert rules
// live in exactly one place.
// ---------------------------------------------------------------------------

// DiscovererConfig holds the matching parameters.
type DiscovererConfig struct {
	// FreshnessWindow is the maximum asset age for a live match.
	FreshnessWindow time.Duration
	// ChartURLTemplate receives the contract address via %s.
	ChartURLTemplate string
}

// DefaultDiscovererConfig returns production defaults.
func DefaultDiscovererConfig() DiscovererConfig {
	return DiscovererConfig{
		FreshnessWindow:  60 * time.Second,
		ChartURLTemplate: "https://photon-sol.tinyastro.io/en/lp/%s?timeframe=1s",
	}
}

// Discoverer turns fresh asset events into CA alerts.
type Discoverer struct {
	cfg    DiscovererConfig
	st     store.Store
	det    *quorum.Detector
	filter *knowntokens.Filter
	bc     *bus.Broadcaster

	mu   sync.Mutex
	seen map[string]struct{} // contract addresses already alerted

	handled    atomic.Int64
	stale      atomic.Int64
	duplicates atomic.Int64
	trending   atomic.Int64
	standalone atomic.Int64
}

// NewDiscoverer creates the funnel.
func NewDiscoverer(cfg DiscovererConfig, st store.Store, det *quorum.Detector, filter *knowntokens.Filter, bc *bus.Broadcaster) *Discoverer {
	if cfg.FreshnessWindow == 0 {
		cfg.FreshnessWindow = DefaultDiscovererConfig().FreshnessWindow
	}
	if cfg.ChartURLTemplate == "" {
		cfg.ChartURLTemplate = DefaultDiscovererConfig().ChartURLTemplate
	}
	return &Discoverer{
		cfg:    cfg,
		st:     st,
		det:    det,
		filter: filter,
		bc:     bc,
		seen:   make(map[string]struct{}),
	}
}

// Reconfigure swaps the matching parameters.
func (d *Discoverer) Reconfigure(cfg DiscovererConfig) {
	d.mu.Lock()
	if cfg.FreshnessWindow > 0 {
		d.cfg.FreshnessWindow = cfg.FreshnessWindow
	}
	if cfg.ChartURLTemplate != "" {
		d.cfg.ChartURLTemplate = cfg.ChartURLTemplate
	}
	d.mu.Unlock()
}

// HandleAsset evaluates one asset event. Returns the emitted alert, or nil
// when the event was stale, duplicate, or uninteresting for the given path.
// The poller path alerts only on watchlist matches; the push feed also emits
// standalone alerts for fresh launches nobody was watching.
func (d *Discoverer) HandleAsset(ctx context.Context, ev AssetEvent, source bus.AlertSource) *bus.CAAlert {
	d.handled.Add(1)
	now := time.Now().UTC()

	d.mu.Lock()
	window := d.cfg.FreshnessWindow
	chartTmpl := d.cfg.ChartURLTemplate
	_, dup := d.seen[ev.Address]
	d.mu.Unlock()

	if dup {
		d.duplicates.Add(1)
		return nil
	}
	if ev.Age(now) > window {
		d.stale.Add(1)
		return nil
	}

	matchedToken, matched := d.matchWatchlist(ev)
	if !matched && source != bus.AlertSourcePushFeed {
		return nil
	}

	alert := bus.CAAlert{
		ID:              newAlertID(),
		ContractAddress: ev.Address,
		TokenName:       strings.ToUpper(firstNonEmpty(matchedToken, ev.Symbol, ev.Name)),
		MarketCap:       ev.MarketCap,
		ChartURL:        fmt.Sprintf(chartTmpl, ev.Address),
		DiscoveredAt:    now,
		Source:          source,
	}

	if matched {
		act, ok := d.det.MarkCAFound(ctx, matchedToken)
		if ok {
			alert.WasTrending = true
			alert.MentionCountAtDiscovery = act.MentionCount
		}
		d.filter.Add(matchedToken)
		d.trending.Add(1)
	} else {
		d.standalone.Add(1)
	}

	d.mu.Lock()
	d.seen[ev.Address] = struct{}{}
	d.mu.Unlock()

	if err := d.st.InsertCAAlert(ctx, alert); err != nil {
		log.Warn().Err(err).Str("ca", ev.Address).Msg("discovery: alert not persisted")
	}

	log.Info().
		Str("token", alert.TokenName).
		Str("ca", alert.ContractAddress).
		Str("source", string(source)).
		Bool("was_trending", alert.WasTrending).
		Msg("discovery: CA alert")

	if d.bc != nil {
		d.bc.Broadcast(bus.NewCAAlertEvent("discovery", alert))
	}
	return &alert
}

// matchWatchlist returns the first open-activation token the asset matches.
func (d *Discoverer) matchWatchlist(ev AssetEvent) (string, bool) {
	for _, token := range d.det.Watchlist() {
		if strings.EqualFold(ev.Symbol, token) ||
			strings.EqualFold(ev.Name, token) ||
			containsWord(ev.Name, token) {
			return token, true
		}
	}
	return "", false
}

// containsWord reports whether needle appears as a whole word in haystack,
// case-insensitively.
func containsWord(haystack, needle string) bool {
	if needle == "" {
		return false
	}
	for _, word := range strings.Fields(haystack) {
		if strings.EqualFold(strings.Trim(word, ".,!?:;()"), needle) {
			return true
		}
	}
	return false
}

func newAlertID() string { return uuid.New().String() }

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// DiscovererStats is a snapshot of funnel counters.
type DiscovererStats struct {
	Handled          int64 `json:"handled"`
	Stale            int64 `json:"stale"`
	Duplicates       int64 `json:"duplicates"`
	TrendingAlerts   int64 `json:"trending_alerts"`
	StandaloneAlerts int64 `json:"standalone_alerts"`
}

// Stats returns current counters.
func (d *Discoverer) Stats() DiscovererStats {
	return DiscovererStats{
		Handled:          d.handled.Load(),
		Stale:            d.stale.Load(),
		Duplicates:       d.duplicates.Load(),
		TrendingAlerts:   d.trending.Load(),
		StandaloneAlerts: d.standalone.Load(),
	}
}
