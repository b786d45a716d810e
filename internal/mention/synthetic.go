package mention

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"
)

// ---------------------------------------------------------------------------
// Synthetic Source — randomized demo feed for stub runs
// Never enabled by default; only participates when listed in enabled_sources
// or when the process runs in stub mode.
// ---------------------------------------------------------------------------

var syntheticNames = []string{
	"MOONDOG", "GIGACHAD", "FROGGO", "TURBOPEPE", "WAGMI",
	"SNEKKY", "BONKERS", "CATWIF", "RUGPROOF", "DEGENX",
}

var syntheticTemplates = []string{
	"just aped into $%s, this one feels different",
	"%s coin is going parabolic, not financial advice",
	"the %s token chart looks insane right now",
	"everyone sleeping on $%s again",
	"%s gem about to send, load up",
}

// SyntheticSource emits randomized posts mentioning made-up tokens.
type SyntheticSource struct {
	mu  sync.Mutex
	rng *rand.Rand
	seq int
}

// NewSyntheticSource creates the source seeded from the clock.
func NewSyntheticSource() *SyntheticSource {
	return &SyntheticSource{
		rng: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (s *SyntheticSource) Name() string { return "synthetic" }

// Fetch fabricates 0-2 fresh posts for the account.
func (s *SyntheticSource) Fetch(_ context.Context, account string, _ time.Time) ([]RawMention, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := s.rng.Intn(3)
	now := time.Now().UTC()

	out := make([]RawMention, 0, n)
	for i := 0; i < n; i++ {
		name := syntheticNames[s.rng.Intn(len(syntheticNames))]
		tmpl := syntheticTemplates[s.rng.Intn(len(syntheticTemplates))]
		s.seq++
		out = append(out, RawMention{
			AccountUsername: account,
			Text:            fmt.Sprintf(tmpl, name),
			URL:             fmt.Sprintf("https://x.com/%s/status/%d", account, s.seq),
			PostedAt:        now,
		})
	}
	return out, nil
}
