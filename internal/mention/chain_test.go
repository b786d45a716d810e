package mention

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubSource is a scripted source for chain tests.
type stubSource struct {
	name     string
	mentions []RawMention
	err      error
	calls    int
}

func (s *stubSource) Name() string { return s.name }

func (s *stubSource) Fetch(_ context.Context, _ string, _ time.Time) ([]RawMention, error) {
	s.calls++
	return s.mentions, s.err
}

func raw(account, text string) RawMention {
	return RawMention{
		AccountUsername: account,
		Text:            text,
		URL:             fmt.Sprintf("https://x.com/%s/status/1", account),
		PostedAt:        time.Now().UTC(),
	}
}

func TestChainFirstSourceWins(t *testing.T) {
	primary := &stubSource{name: "timeline", mentions: []RawMention{raw("alice", "$MOONDOG pumping")}}
	backup := &stubSource{name: "rss", mentions: []RawMention{raw("alice", "should not be used")}}

	chain := NewChain(primary, backup)
	got, err := chain.Fetch(context.Background(), "alice", time.Time{})

	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "$MOONDOG pumping", got[0].Text)
	assert.Equal(t, 1, primary.calls)
	assert.Equal(t, 0, backup.calls, "backup must not be consulted when primary succeeds")
}

func TestChainFallsBackOnFailure(t *testing.T) {
	primary := &stubSource{name: "timeline", err: fmt.Errorf("%w: boom", ErrSourceUnavailable)}
	backup := &stubSource{name: "rss", mentions: []RawMention{raw("alice", "from backup")}}

	chain := NewChain(primary, backup)
	got, err := chain.Fetch(context.Background(), "alice", time.Time{})

	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "from backup", got[0].Text)
}

func TestChainFallsBackOnEmpty(t *testing.T) {
	primary := &stubSource{name: "timeline"}
	backup := &stubSource{name: "rss", mentions: []RawMention{raw("alice", "sparse feed")}}

	chain := NewChain(primary, backup)
	got, err := chain.Fetch(context.Background(), "alice", time.Time{})

	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 1, primary.calls)
	assert.Equal(t, 1, backup.calls)
}

func TestChainAllFailedReturnsError(t *testing.T) {
	a := &stubSource{name: "timeline", err: fmt.Errorf("%w: a", ErrSourceUnavailable)}
	b := &stubSource{name: "rss", err: fmt.Errorf("%w: b", ErrSourceUnavailable)}

	chain := NewChain(a, b)
	got, err := chain.Fetch(context.Background(), "alice", time.Time{})

	assert.Nil(t, got)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSourceUnavailable))
}

func TestChainAllEmptyIsNotAnError(t *testing.T) {
	a := &stubSource{name: "timeline"}
	b := &stubSource{name: "rss"}

	chain := NewChain(a, b)
	got, err := chain.Fetch(context.Background(), "alice", time.Time{})

	assert.NoError(t, err)
	assert.Empty(t, got)
}

func TestChainPartialFailureThenSuccess(t *testing.T) {
	a := &stubSource{name: "timeline", err: fmt.Errorf("%w: down", ErrSourceUnavailable)}
	b := &stubSource{name: "rss"}
	c := &stubSource{name: "scrape", mentions: []RawMention{raw("bob", "last resort")}}

	chain := NewChain(a, b, c)
	got, err := chain.Fetch(context.Background(), "bob", time.Time{})

	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "last resort", got[0].Text)

	stats := chain.Stats()
	assert.Equal(t, int64(1), stats.Fetches)
	assert.GreaterOrEqual(t, stats.Fallbacks, int64(1))
}

func TestChainSourceNames(t *testing.T) {
	chain := NewChain(&stubSource{name: "timeline"}, &stubSource{name: "rss"})
	assert.Equal(t, []string{"timeline", "rss"}, chain.Sources())
}

func TestSyntheticSourceProducesFreshPosts(t *testing.T) {
	src := NewSyntheticSource()

	// fetch repeatedly; across enough draws at least one post appears
	var total int
	for i := 0; i < 20; i++ {
		got, err := src.Fetch(context.Background(), "demo", time.Time{})
		require.NoError(t, err)
		for _, m := range got {
			assert.Equal(t, "demo", m.AccountUsername)
			assert.NotEmpty(t, m.Text)
			assert.WithinDuration(t, time.Now(), m.PostedAt, 5*time.Second)
		}
		total += len(got)
	}
	assert.Greater(t, total, 0)
}
