package mention

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

// ---------------------------------------------------------------------------
// Mention Source Chain — ordered fallback over source strategies
// Sources are ordered by decreasing reliability; the first source that
// returns at least one mention wins the cycle for that account.
// ---------------------------------------------------------------------------

// Chain tries sources in order per account.
type Chain struct {
	sources []Source

	// Stats.
	fetches   atomic.Int64
	fallbacks atomic.Int64
	failures  atomic.Int64
	found     atomic.Int64
}

// NewChain creates a chain over the given sources, tried in argument order.
func NewChain(sources ...Source) *Chain {
	return &Chain{sources: sources}
}

// Sources returns the source names in try order.
func (c *Chain) Sources() []string {
	names := make([]string, len(c.sources))
	for i, s := range c.sources {
		names[i] = s.Name()
	}
	return names
}

// Fetch tries each source in order and returns the first non-empty result.
// A failing source is logged and skipped; the error is only returned when
// every source failed (an all-empty cycle returns nil, nil). The account's
// failure never aborts the caller's scan cycle for other accounts.
func (c *Chain) Fetch(ctx context.Context, account string, since time.Time) ([]RawMention, error) {
	c.fetches.Add(1)

	var lastErr error
	allFailed := len(c.sources) > 0

	for i, src := range c.sources {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		mentions, err := src.Fetch(ctx, account, since)
		if err != nil {
			c.failures.Add(1)
			lastErr = err
			log.Warn().Err(err).
				Str("source", src.Name()).
				Str("account", account).
				Msg("chain: source failed, trying next")
			continue
		}
		allFailed = false

		if len(mentions) > 0 {
			if i > 0 {
				c.fallbacks.Add(1)
			}
			c.found.Add(int64(len(mentions)))
			log.Debug().
				Str("source", src.Name()).
				Str("account", account).
				Int("mentions", len(mentions)).
				Msg("chain: mentions found")
			return mentions, nil
		}
	}

	if allFailed && lastErr != nil {
		return nil, lastErr
	}
	return nil, nil
}

// Stats returns chain statistics.
type ChainStats struct {
	Fetches   int64 `json:"fetches"`
	Fallbacks int64 `json:"fallbacks"`
	Failures  int64 `json:"failures"`
	Mentions  int64 `json:"mentions"`
}

func (c *Chain) Stats() ChainStats {
	return ChainStats{
		Fetches:   c.fetches.Load(),
		Fallbacks: c.fallbacks.Load(),
		Failures:  c.failures.Load(),
		Mentions:  c.found.Load(),
	}
}
