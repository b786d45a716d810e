package store

import (
	"context"
	"errors"
	"time"

	"github.com/trendhawk/trendhawk/internal/bus"
)

// ErrStoreUnavailable marks a failed persistence call. Cycle writes that hit
// it are dropped and logged; the next cycle re-derives state from source data.
var ErrStoreUnavailable = errors.New("store unavailable")

// MentionFilter selects mentions for query and processed-marking. Token name
// matching is case-insensitive; account and time bounds are exact.
type MentionFilter struct {
	TokenName       string    // case-insensitive exact name, empty = any
	ObservedAfter   time.Time // zero = unbounded
	UnprocessedOnly bool
}

// Store is the persistence boundary for the monitoring engine. Inserts are
// append-only; duplicate suppression happens upstream via token+account+window
// logic, not store-level uniqueness.
type Store interface {
	InsertMentions(ctx context.Context, batch []bus.Mention) error
	QueryMentions(ctx context.Context, f MentionFilter) ([]bus.Mention, error)
	MarkProcessed(ctx context.Context, f MentionFilter) error

	UpsertActivation(ctx context.Context, act bus.TrendActivation) error
	QueryActiveActivations(ctx context.Context) ([]bus.TrendActivation, error)

	InsertCAAlert(ctx context.Context, alert bus.CAAlert) error
	QueryCAAlerts(ctx context.Context, limit int) ([]bus.CAAlert, error)

	LoadKnownTokenSeed(ctx context.Context) ([]string, error)

	Close(ctx context.Context) error
}
