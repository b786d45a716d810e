package accounts

import (
	"context"

	"github.com/rs/zerolog/log"
)

// Provider resolves the account watch-list for a scan cycle.
type Provider interface {
	Resolve(ctx context.Context) ([]string, error)
}

// Static always returns the configured accounts.
type Static struct {
	accounts []string
}

// NewStatic creates a provider over a fixed list.
func NewStatic(accounts []string) *Static {
	return &Static{accounts: accounts}
}

func (s *Static) Resolve(context.Context) ([]string, error) {
	out := make([]string, len(s.accounts))
	copy(out, s.accounts)
	return out, nil
}

// FollowingLister is the piece of the timeline session the following provider
// needs.
type FollowingLister interface {
	FollowingList(ctx context.Context, target string, limit int) ([]string, error)
}

// Following resolves the watch-list from the accounts a target follows,
// falling back to the static list when the lookup fails or comes back empty.
type Following struct {
	lister   FollowingLister
	target   string
	limit    int
	fallback *Static
}

// NewFollowing creates the provider.
func NewFollowing(lister FollowingLister, target string, limit int, fallback []string) *Following {
	if limit <= 0 {
		limit = 50
	}
	return &Following{
		lister:   lister,
		target:   target,
		limit:    limit,
		fallback: NewStatic(fallback),
	}
}

func (f *Following) Resolve(ctx context.Context) ([]string, error) {
	followed, err := f.lister.FollowingList(ctx, f.target, f.limit)
	if err != nil {
		log.Warn().Err(err).Str("target", f.target).Msg("accounts: following lookup failed, using static list")
		return f.fallback.Resolve(ctx)
	}
	if len(followed) == 0 {
		return f.fallback.Resolve(ctx)
	}
	return followed, nil
}
