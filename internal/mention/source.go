package mention

import (
	"context"
	"errors"
	"time"
)

// ErrSourceUnavailable marks a mention source that failed on network or
// parse problems. Zero mentions found is a normal empty result, never an
// error.
var ErrSourceUnavailable = errors.New("mention source unavailable")

// RawMention is a single post observed on one account, before token
// extraction. Every source must tag the originating account and a resolvable
// reference URL.
type RawMention struct {
	AccountUsername string    `json:"account_username"`
	Text            string    `json:"text"`
	URL             string    `json:"url"`
	PostedAt        time.Time `json:"posted_at"`
}

// Source produces raw mentions for one account. Implementations constrain
// results to content observed after since, so older posts are not
// re-processed across cycles.
type Source interface {
	Name() string
	Fetch(ctx context.Context, account string, since time.Time) ([]RawMention, error)
}
