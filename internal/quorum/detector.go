package quorum

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/trendhawk/trendhawk/internal/bus"
	"github.com/trendhawk/trendhawk/internal/extract"
	"github.com/trendhawk/trendhawk/internal/knowntokens"
	"github.com/trendhawk/trendhawk/internal/mention"
	"github.com/trendhawk/trendhawk/internal/store"
)

// ---------------------------------------------------------------------------
// Quorum Detector — distinct-account trend activation
// Sole owner of activation state: nothing else writes activations or flips
// mention Processed flags.
// ---------------------------------------------------------------------------

const excerptLimit = 280

// Config holds the quorum parameters.
type Config struct {
	// AlertThreshold is the distinct-account quorum that opens an activation.
	AlertThreshold int
	// MentionWindow is the rolling window mentions count toward quorum.
	MentionWindow time.Duration
	// ActivationTTL expires activations that never resolve to a CA.
	ActivationTTL time.Duration
}

// DefaultConfig returns the default quorum parameters.
func DefaultConfig() Config {
	return Config{
		AlertThreshold: 2,
		MentionWindow:  time.Hour,
		ActivationTTL:  24 * time.Hour,
	}
}

// Detector folds observed mentions into trend activations once enough
// distinct accounts mention the same novel token inside the rolling window.
type Detector struct {
	mu     sync.RWMutex
	cfg    Config
	st     store.Store
	filter *knowntokens.Filter
	bc     *bus.Broadcaster

	// active holds the single open activation per upper-cased token name.
	active map[string]bus.TrendActivation

	ingested    atomic.Int64
	filtered    atomic.Int64
	activations atomic.Int64
	resolved    atomic.Int64
	expired     atomic.Int64
}

// New creates a Detector. Call Restore before the first Evaluate to pick up
// activations left open by a previous run.
func New(cfg Config, st store.Store, filter *knowntokens.Filter, bc *bus.Broadcaster) *Detector {
	return &Detector{
		cfg:    cfg,
		st:     st,
		filter: filter,
		bc:     bc,
		active: make(map[string]bus.TrendActivation),
	}
}

// Reconfigure swaps the quorum parameters. Takes effect on the next Evaluate.
func (d *Detector) Reconfigure(cfg Config) {
	d.mu.Lock()
	d.cfg = cfg
	d.mu.Unlock()
}

// Restore reloads open activations from the store.
func (d *Detector) Restore(ctx context.Context) error {
	acts, err := d.st.QueryActiveActivations(ctx)
	if err != nil {
		return fmt.Errorf("quorum restore: %w", err)
	}

	d.mu.Lock()
	for _, act := range acts {
		d.active[strings.ToUpper(act.TokenName)] = act
	}
	n := len(d.active)
	d.mu.Unlock()

	if n > 0 {
		log.Info().Int("activations", n).Msg("quorum: restored open activations")
	}
	return nil
}

// Ingest extracts token names from raw posts, drops established tokens, and
// persists one mention per novel token occurrence. Returns the persisted count.
func (d *Detector) Ingest(ctx context.Context, source string, raws []mention.RawMention) (int, error) {
	var batch []bus.Mention

	for _, raw := range raws {
		for _, token := range extract.Extract(raw.Text) {
			if !d.filter.IsNovel(token) {
				d.filtered.Add(1)
				continue
			}
			excerpt := raw.Text
			if len(excerpt) > excerptLimit {
				excerpt = excerpt[:excerptLimit]
			}
			batch = append(batch, bus.NewMention(
				token, raw.AccountUsername, raw.URL, excerpt, source, raw.PostedAt,
			))
		}
	}

	if len(batch) == 0 {
		return 0, nil
	}
	if err := d.st.InsertMentions(ctx, batch); err != nil {
		return 0, fmt.Errorf("quorum ingest: %w", err)
	}
	d.ingested.Add(int64(len(batch)))
	return len(batch), nil
}

// Evaluate runs one quorum pass over unprocessed mentions inside the rolling
// window and returns any newly opened activations. Tokens that already have an
// open activation get their mention count refreshed without reactivating.
func (d *Detector) Evaluate(ctx context.Context) ([]bus.TrendActivation, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	cutoff := time.Now().UTC().Add(-d.cfg.MentionWindow)
	mentions, err := d.st.QueryMentions(ctx, store.MentionFilter{
		ObservedAfter: cutoff,
	})
	if err != nil {
		return nil, fmt.Errorf("quorum evaluate: %w", err)
	}

	// Distinct accounts per token. New activations consider only mentions not
	// yet consumed by an earlier decision; refreshes of an open activation
	// count the whole window so the figure survives processing.
	pending := make(map[string]map[string]struct{})
	windowed := make(map[string]map[string]struct{})
	for _, m := range mentions {
		token := strings.ToUpper(m.TokenName)
		account := strings.ToLower(m.AccountUsername)
		if windowed[token] == nil {
			windowed[token] = make(map[string]struct{})
		}
		windowed[token][account] = struct{}{}
		if m.Processed {
			continue
		}
		if pending[token] == nil {
			pending[token] = make(map[string]struct{})
		}
		pending[token][account] = struct{}{}
	}

	var opened []bus.TrendActivation
	for token := range windowed {
		if act, open := d.active[token]; open {
			if count := len(windowed[token]); count > act.MentionCount {
				act.MentionCount = count
				d.active[token] = act
				if err := d.st.UpsertActivation(ctx, act); err != nil {
					log.Warn().Err(err).Str("token", token).Msg("quorum: count refresh not persisted")
				}
			}
			if len(pending[token]) > 0 {
				d.markProcessed(ctx, token)
			}
			continue
		}

		count := len(pending[token])
		if count < d.cfg.AlertThreshold {
			continue // below quorum, mentions stay unprocessed for later cycles
		}

		act := bus.NewTrendActivation(token, count)
		if err := d.st.UpsertActivation(ctx, act); err != nil {
			log.Error().Err(err).Str("token", token).Msg("quorum: activation not persisted, skipping")
			continue
		}
		d.active[token] = act
		d.markProcessed(ctx, token)
		d.activations.Add(1)

		log.Info().
			Str("token", token).
			Int("accounts", count).
			Msg("quorum: trend activated")

		if d.bc != nil {
			d.bc.Broadcast(bus.NewActivationEvent("quorum", act))
		}
		opened = append(opened, act)
	}

	return opened, nil
}

func (d *Detector) markProcessed(ctx context.Context, token string) {
	err := d.st.MarkProcessed(ctx, store.MentionFilter{
		TokenName:       token,
		UnprocessedOnly: true,
	})
	if err != nil {
		log.Warn().Err(err).Str("token", token).Msg("quorum: mark processed failed")
	}
}

// MarkCAFound resolves the open activation for token, if any. Returns the
// resolved activation and whether the token was being watched.
func (d *Detector) MarkCAFound(ctx context.Context, token string) (bus.TrendActivation, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	key := strings.ToUpper(token)
	act, ok := d.active[key]
	if !ok {
		return bus.TrendActivation{}, false
	}

	now := time.Now().UTC()
	act.Status = bus.ActivationCAFound
	act.ResolvedAt = &now
	delete(d.active, key)
	d.resolved.Add(1)

	if err := d.st.UpsertActivation(ctx, act); err != nil {
		log.Warn().Err(err).Str("token", key).Msg("quorum: resolution not persisted")
	}
	return act, true
}

// ExpireStale closes activations older than the TTL. Returns how many expired.
func (d *Detector) ExpireStale(ctx context.Context) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now().UTC()
	var n int
	for key, act := range d.active {
		if now.Sub(act.ActivatedAt) < d.cfg.ActivationTTL {
			continue
		}
		act.Status = bus.ActivationExpired
		resolvedAt := now
		act.ResolvedAt = &resolvedAt
		delete(d.active, key)
		d.expired.Add(1)
		n++

		if err := d.st.UpsertActivation(ctx, act); err != nil {
			log.Warn().Err(err).Str("token", key).Msg("quorum: expiry not persisted")
		}
		log.Info().Str("token", key).Msg("quorum: activation expired without CA")
	}
	return n
}

// Watchlist returns the token names with open activations.
func (d *Detector) Watchlist() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]string, 0, len(d.active))
	for token := range d.active {
		out = append(out, token)
	}
	return out
}

// Watched reports whether token has an open activation and its mention count.
func (d *Detector) Watched(token string) (int, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	act, ok := d.active[strings.ToUpper(token)]
	if !ok {
		return 0, false
	}
	return act.MentionCount, true
}

// DetectorStats is a snapshot of detector counters.
type DetectorStats struct {
	OpenActivations  int   `json:"open_activations"`
	MentionsIngested int64 `json:"mentions_ingested"`
	KnownFiltered    int64 `json:"known_filtered"`
	Activations      int64 `json:"activations"`
	Resolved         int64 `json:"resolved"`
	Expired          int64 `json:"expired"`
}

// Stats returns current counters.
func (d *Detector) Stats() DetectorStats {
	d.mu.RLock()
	open := len(d.active)
	d.mu.RUnlock()

	return DetectorStats{
		OpenActivations:  open,
		MentionsIngested: d.ingested.Load(),
		KnownFiltered:    d.filtered.Load(),
		Activations:      d.activations.Load(),
		Resolved:         d.resolved.Load(),
		Expired:          d.expired.Load(),
	}
}
