package monitor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/trendhawk/trendhawk/internal/accounts"
	"github.com/trendhawk/trendhawk/internal/bus"
	"github.com/trendhawk/trendhawk/internal/cadiscovery"
	"github.com/trendhawk/trendhawk/internal/config"
	"github.com/trendhawk/trendhawk/internal/knowntokens"
	"github.com/trendhawk/trendhawk/internal/mention"
	"github.com/trendhawk/trendhawk/internal/quorum"
)

// ---------------------------------------------------------------------------
// Orchestrator — monitoring lifecycle and cadence loops
// Owns the start/stop state machine, the timeline session, and the four
// background loops: mention scan, CA poll, push-feed consume, expiry sweep.
// ---------------------------------------------------------------------------

// State is the orchestrator lifecycle state.
type State string

const (
	StateStopped  State = "stopped"
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateStopping State = "stopping"
)

const sweepInterval = 10 * time.Minute

// Session is the long-lived fetch session owned across a monitoring run.
type Session interface {
	Open(ctx context.Context) error
	Close()
}

// Deps are the wired components the orchestrator drives.
type Deps struct {
	Chain      *mention.Chain
	Session    Session // nil when the primary source needs no session
	Provider   accounts.Provider
	Detector   *quorum.Detector
	Filter     *knowntokens.Filter
	Poller     *cadiscovery.Poller
	Feed       *cadiscovery.PushFeed // nil disables the push-feed path
	Discoverer *cadiscovery.Discoverer
}

// Orchestrator runs the monitoring engine.
type Orchestrator struct {
	deps Deps

	mu     sync.Mutex
	state  State
	cfg    config.MonitorConfig
	cancel context.CancelFunc
	wg     sync.WaitGroup

	limiter *rate.Limiter

	// lastFetch tracks the newest post already ingested per account, so a
	// scan cycle only asks sources for what it has not seen.
	fetchMu   sync.Mutex
	lastFetch map[string]time.Time

	startedAt  time.Time
	lastScanAt atomic.Int64 // unix nanos of the last completed scan
	scanCycles atomic.Int64
	pollCycles atomic.Int64
	scanErrors atomic.Int64
	pollErrors atomic.Int64
}

// New creates a stopped orchestrator.
func New(cfg config.MonitorConfig, deps Deps) *Orchestrator {
	if cfg.AccountScanRPS <= 0 {
		cfg.AccountScanRPS = 0.5
	}
	return &Orchestrator{
		deps:      deps,
		state:     StateStopped,
		cfg:       cfg,
		limiter:   rate.NewLimiter(rate.Limit(cfg.AccountScanRPS), 1),
		lastFetch: make(map[string]time.Time),
	}
}

// State returns the current lifecycle state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Config returns a copy of the active monitoring configuration.
func (o *Orchestrator) Config() config.MonitorConfig {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.cfg
}

// Start brings the engine up. Calling Start while running is a no-op.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.state != StateStopped {
		o.mu.Unlock()
		log.Info().Str("state", string(o.State())).Msg("monitor: already active, start ignored")
		return nil
	}
	o.state = StateStarting
	o.mu.Unlock()

	if o.deps.Session != nil {
		if err := o.deps.Session.Open(ctx); err != nil {
			// degraded start: the chain falls through to backup sources
			log.Warn().Err(err).Msg("monitor: session open failed, backup sources only")
		}
	}
	if err := o.deps.Filter.Refresh(ctx); err != nil {
		log.Warn().Err(err).Msg("monitor: known-token refresh failed, using seed set")
	}
	if err := o.deps.Detector.Restore(ctx); err != nil {
		o.releaseSession()
		o.setState(StateStopped)
		return fmt.Errorf("monitor start: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())

	o.mu.Lock()
	o.cancel = cancel
	o.startedAt = time.Now().UTC()
	o.state = StateRunning
	o.mu.Unlock()

	o.wg.Add(3)
	go o.scanLoop(runCtx)
	go o.pollLoop(runCtx)
	go o.sweepLoop(runCtx)

	if o.deps.Feed != nil {
		o.wg.Add(2)
		go func() {
			defer o.wg.Done()
			if err := o.deps.Feed.Start(runCtx); err != nil && runCtx.Err() == nil {
				log.Error().Err(err).Msg("monitor: push feed exited")
			}
		}()
		go o.feedLoop(runCtx)
	}

	log.Info().
		Int("alert_threshold", o.Config().AlertThreshold).
		Int("scan_interval_s", o.Config().MentionScanIntervalS).
		Int("ca_interval_s", o.Config().CADiscoveryIntervalS).
		Msg("monitor: started")
	return nil
}

// Stop winds the engine down and releases the session. Calling Stop while
// stopped is a no-op.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if o.state != StateRunning {
		o.mu.Unlock()
		return
	}
	o.state = StateStopping
	cancel := o.cancel
	o.mu.Unlock()

	cancel()
	o.wg.Wait()
	o.releaseSession()
	o.setState(StateStopped)
	log.Info().Msg("monitor: stopped")
}

func (o *Orchestrator) releaseSession() {
	if o.deps.Session != nil {
		o.deps.Session.Close()
	}
}

func (o *Orchestrator) setState(s State) {
	o.mu.Lock()
	o.state = s
	o.mu.Unlock()
}

// Reconfigure validates and applies new monitoring parameters. Loops pick the
// new cadence up on their next tick; an invalid config changes nothing.
func (o *Orchestrator) Reconfigure(cfg config.MonitorConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	o.mu.Lock()
	o.cfg = cfg
	o.mu.Unlock()

	if cfg.AccountScanRPS > 0 {
		o.limiter.SetLimit(rate.Limit(cfg.AccountScanRPS))
	}
	o.deps.Detector.Reconfigure(quorum.Config{
		AlertThreshold: cfg.AlertThreshold,
		MentionWindow:  time.Duration(cfg.MentionWindowMinutes) * time.Minute,
		ActivationTTL:  time.Duration(cfg.ActivationTTLHours) * time.Hour,
	})
	o.deps.Discoverer.Reconfigure(cadiscovery.DiscovererConfig{
		FreshnessWindow: time.Duration(cfg.FreshnessWindowS) * time.Second,
	})

	log.Info().
		Int("alert_threshold", cfg.AlertThreshold).
		Int("scan_interval_s", cfg.MentionScanIntervalS).
		Int("ca_interval_s", cfg.CADiscoveryIntervalS).
		Msg("monitor: reconfigured")
	return nil
}

func (o *Orchestrator) scanInterval() time.Duration {
	return time.Duration(o.Config().MentionScanIntervalS) * time.Second
}

func (o *Orchestrator) pollInterval() time.Duration {
	return time.Duration(o.Config().CADiscoveryIntervalS) * time.Second
}

// scanLoop runs one mention scan per cadence tick.
func (o *Orchestrator) scanLoop(ctx context.Context) {
	defer o.wg.Done()

	// first scan immediately, then on cadence
	o.runScan(ctx)

	ticker := time.NewTicker(o.scanInterval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.runScan(ctx)
			ticker.Reset(o.scanInterval())
		}
	}
}

func (o *Orchestrator) runScan(ctx context.Context) {
	o.scanCycles.Add(1)

	watchlist, err := o.deps.Provider.Resolve(ctx)
	if err != nil {
		o.scanErrors.Add(1)
		log.Warn().Err(err).Msg("scan: watch-list resolution failed, skipping cycle")
		return
	}

	window := time.Duration(o.Config().MentionWindowMinutes) * time.Minute

	for _, account := range watchlist {
		if err := o.limiter.Wait(ctx); err != nil {
			return // cancelled
		}

		since := o.sinceFor(account, window)
		raws, err := o.deps.Chain.Fetch(ctx, account, since)
		if err != nil {
			o.scanErrors.Add(1)
			log.Warn().Err(err).Str("account", account).Msg("scan: all sources failed for account")
			continue
		}
		if len(raws) == 0 {
			continue
		}

		o.noteFetched(account, raws)
		if _, err := o.deps.Detector.Ingest(ctx, "scan", raws); err != nil {
			o.scanErrors.Add(1)
			log.Warn().Err(err).Str("account", account).Msg("scan: ingest failed")
		}
	}

	if _, err := o.deps.Detector.Evaluate(ctx); err != nil {
		o.scanErrors.Add(1)
		log.Warn().Err(err).Msg("scan: quorum evaluation failed")
	}
	o.lastScanAt.Store(time.Now().UTC().UnixNano())
}

func (o *Orchestrator) sinceFor(account string, window time.Duration) time.Time {
	o.fetchMu.Lock()
	defer o.fetchMu.Unlock()
	if last, ok := o.lastFetch[account]; ok {
		return last
	}
	return time.Now().UTC().Add(-window)
}

func (o *Orchestrator) noteFetched(account string, raws []mention.RawMention) {
	var newest time.Time
	for _, r := range raws {
		if r.PostedAt.After(newest) {
			newest = r.PostedAt
		}
	}
	if newest.IsZero() {
		return
	}
	o.fetchMu.Lock()
	if newest.After(o.lastFetch[account]) {
		o.lastFetch[account] = newest
	}
	o.fetchMu.Unlock()
}

// pollLoop runs the recent-assets listing check on the fast cadence.
func (o *Orchestrator) pollLoop(ctx context.Context) {
	defer o.wg.Done()

	ticker := time.NewTicker(o.pollInterval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.runPoll(ctx)
			ticker.Reset(o.pollInterval())
		}
	}
}

func (o *Orchestrator) runPoll(ctx context.Context) {
	o.pollCycles.Add(1)

	events, err := o.deps.Poller.Poll(ctx)
	if err != nil {
		o.pollErrors.Add(1)
		log.Debug().Err(err).Msg("poll: cycle skipped")
		return
	}
	for _, ev := range events {
		o.deps.Discoverer.HandleAsset(ctx, ev, bus.AlertSourcePoller)
	}
}

// feedLoop consumes push-feed events.
func (o *Orchestrator) feedLoop(ctx context.Context) {
	defer o.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-o.deps.Feed.Events():
			o.deps.Discoverer.HandleAsset(ctx, ev, bus.AlertSourcePushFeed)
		}
	}
}

// sweepLoop expires activations that never resolved.
func (o *Orchestrator) sweepLoop(ctx context.Context) {
	defer o.wg.Done()

	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := o.deps.Detector.ExpireStale(ctx); n > 0 {
				log.Info().Int("expired", n).Msg("sweep: stale activations closed")
			}
		}
	}
}

// Stats is the orchestrator status snapshot.
type Stats struct {
	State      State                      `json:"state"`
	UptimeS    float64                    `json:"uptime_s"`
	LastScanAt *time.Time                 `json:"last_scan_at,omitempty"`
	ScanCycles int64                      `json:"scan_cycles"`
	PollCycles int64                      `json:"poll_cycles"`
	ScanErrors int64                      `json:"scan_errors"`
	PollErrors int64                      `json:"poll_errors"`
	Detector   quorum.DetectorStats       `json:"detector"`
	Discovery  cadiscovery.DiscovererStats `json:"discovery"`
	Poller     cadiscovery.PollerStats    `json:"poller"`
	PushFeed   *cadiscovery.PushFeedStats `json:"push_feed,omitempty"`
	Sources    mention.ChainStats         `json:"sources"`
	KnownSize  int                        `json:"known_tokens"`
}

// Stats returns a status snapshot across the wired components.
func (o *Orchestrator) Stats() Stats {
	o.mu.Lock()
	state := o.state
	startedAt := o.startedAt
	o.mu.Unlock()

	var uptime float64
	if state == StateRunning && !startedAt.IsZero() {
		uptime = time.Since(startedAt).Seconds()
	}

	s := Stats{
		State:      state,
		UptimeS:    uptime,
		ScanCycles: o.scanCycles.Load(),
		PollCycles: o.pollCycles.Load(),
		ScanErrors: o.scanErrors.Load(),
		PollErrors: o.pollErrors.Load(),
		Detector:   o.deps.Detector.Stats(),
		Discovery:  o.deps.Discoverer.Stats(),
		Poller:     o.deps.Poller.Stats(),
		Sources:    o.deps.Chain.Stats(),
		KnownSize:  o.deps.Filter.Size(),
	}
	if ns := o.lastScanAt.Load(); ns > 0 {
		ts := time.Unix(0, ns).UTC()
		s.LastScanAt = &ts
	}
	if o.deps.Feed != nil {
		fs := o.deps.Feed.Stats()
		s.PushFeed = &fs
	}
	return s
}
