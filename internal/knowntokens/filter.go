package knowntokens

import (
	"context"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/trendhawk/trendhawk/internal/store"
)

// ---------------------------------------------------------------------------
// Known-Token Filter — excludes tokens that already have a CA or are
// established assets from novelty consideration. Add-only for the lifetime
// of a monitoring session.
// ---------------------------------------------------------------------------

// establishedTokens is the static seed of major assets that must never
// surface as novel mention candidates.
var establishedTokens = []string{
	"BTC", "ETH", "BNB", "ADA", "SOL", "XRP", "USDT", "USDC", "BUSD",
	"MATIC", "AVAX", "DOT", "UNI", "LINK", "ATOM", "ICP", "LTC", "BCH",
	"FIL", "ALGO", "VET", "ETC", "THETA", "AAVE", "MKR", "COMP", "SUSHI",
	"SNX", "YFI", "CRV", "BAL", "1INCH",
}

// Filter is the process-wide known-token set.
type Filter struct {
	st    store.Store
	extra []string // additional seed names from configuration

	mu    sync.RWMutex
	known map[string]struct{}
}

// New creates a filter seeded with the static majors plus extra names.
// Refresh must be called before first use to pick up persisted CA alerts.
func New(st store.Store, extra []string) *Filter {
	f := &Filter{
		st:    st,
		extra: extra,
		known: make(map[string]struct{}, len(establishedTokens)+len(extra)),
	}
	f.addLocked(establishedTokens)
	f.addLocked(extra)
	return f
}

func (f *Filter) addLocked(names []string) {
	for _, n := range names {
		n = strings.ToUpper(strings.TrimSpace(n))
		if n != "" {
			f.known[n] = struct{}{}
		}
	}
}

// Refresh reloads the set from persisted CA alerts and the stored seed list.
// Idempotent and safe to call repeatedly; it only ever adds entries.
func (f *Filter) Refresh(ctx context.Context) error {
	alerts, err := f.st.QueryCAAlerts(ctx, 1000)
	if err != nil {
		return err
	}
	seed, err := f.st.LoadKnownTokenSeed(ctx)
	if err != nil {
		return err
	}

	f.mu.Lock()
	before := len(f.known)
	for _, a := range alerts {
		name := strings.ToUpper(strings.TrimSpace(a.TokenName))
		if name != "" {
			f.known[name] = struct{}{}
		}
	}
	f.addLocked(seed)
	f.addLocked(establishedTokens)
	f.addLocked(f.extra)
	added := len(f.known) - before
	total := len(f.known)
	f.mu.Unlock()

	log.Info().Int("added", added).Int("total", total).Msg("knowntokens: refreshed")
	return nil
}

// IsNovel reports whether name is not in the known-token set.
// Matching is case-insensitive.
func (f *Filter) IsNovel(name string) bool {
	upper := strings.ToUpper(strings.TrimSpace(name))
	f.mu.RLock()
	_, known := f.known[upper]
	f.mu.RUnlock()
	return !known
}

// Add records a name as known. Called when a CA is discovered during the
// session so the token stops generating scan noise immediately.
func (f *Filter) Add(name string) {
	f.mu.Lock()
	f.addLocked([]string{name})
	f.mu.Unlock()
}

// Size returns the number of known tokens.
func (f *Filter) Size() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.known)
}
