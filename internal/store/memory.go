package store

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/trendhawk/trendhawk/internal/bus"
)

// ---------------------------------------------------------------------------
// In-memory Store — backs tests and stub mode
// ---------------------------------------------------------------------------

// Memory is a Store kept entirely in process memory.
type Memory struct {
	mu          sync.RWMutex
	mentions    []bus.Mention
	activations map[string]bus.TrendActivation // activation ID -> record
	alerts      []bus.CAAlert
	seed        []string

	// When true, every call fails with ErrStoreUnavailable (for tests).
	unavailable bool
}

// NewMemory creates an empty in-memory store. seed is returned by
// LoadKnownTokenSeed in addition to nothing else.
func NewMemory(seed ...string) *Memory {
	return &Memory{
		activations: make(map[string]bus.TrendActivation),
		seed:        seed,
	}
}

// SetUnavailable toggles simulated store failure.
func (m *Memory) SetUnavailable(down bool) {
	m.mu.Lock()
	m.unavailable = down
	m.mu.Unlock()
}

func (m *Memory) check() error {
	if m.unavailable {
		return ErrStoreUnavailable
	}
	return nil
}

func (m *Memory) InsertMentions(_ context.Context, batch []bus.Mention) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(); err != nil {
		return err
	}
	m.mentions = append(m.mentions, batch...)
	return nil
}

func matches(mn bus.Mention, f MentionFilter) bool {
	if f.TokenName != "" && !strings.EqualFold(mn.TokenName, f.TokenName) {
		return false
	}
	if !f.ObservedAfter.IsZero() && !mn.ObservedAt.After(f.ObservedAfter) {
		return false
	}
	if f.UnprocessedOnly && mn.Processed {
		return false
	}
	return true
}

func (m *Memory) QueryMentions(_ context.Context, f MentionFilter) ([]bus.Mention, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.check(); err != nil {
		return nil, err
	}
	var out []bus.Mention
	for _, mn := range m.mentions {
		if matches(mn, f) {
			out = append(out, mn)
		}
	}
	return out, nil
}

func (m *Memory) MarkProcessed(_ context.Context, f MentionFilter) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(); err != nil {
		return err
	}
	for i := range m.mentions {
		if matches(m.mentions[i], f) {
			m.mentions[i].Processed = true
		}
	}
	return nil
}

func (m *Memory) UpsertActivation(_ context.Context, act bus.TrendActivation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(); err != nil {
		return err
	}
	m.activations[act.ID] = act
	return nil
}

func (m *Memory) QueryActiveActivations(_ context.Context) ([]bus.TrendActivation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.check(); err != nil {
		return nil, err
	}
	var out []bus.TrendActivation
	for _, act := range m.activations {
		if act.Status == bus.ActivationActive {
			out = append(out, act)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ActivatedAt.Before(out[j].ActivatedAt) })
	return out, nil
}

func (m *Memory) InsertCAAlert(_ context.Context, alert bus.CAAlert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(); err != nil {
		return err
	}
	m.alerts = append(m.alerts, alert)
	return nil
}

func (m *Memory) QueryCAAlerts(_ context.Context, limit int) ([]bus.CAAlert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.check(); err != nil {
		return nil, err
	}
	out := make([]bus.CAAlert, len(m.alerts))
	copy(out, m.alerts)
	sort.Slice(out, func(i, j int) bool { return out[i].DiscoveredAt.After(out[j].DiscoveredAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) LoadKnownTokenSeed(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.check(); err != nil {
		return nil, err
	}
	out := make([]string, len(m.seed))
	copy(out, m.seed)
	return out, nil
}

func (m *Memory) Close(context.Context) error { return nil }

// Mentions returns a snapshot of all mentions, for tests.
func (m *Memory) Mentions() []bus.Mention {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]bus.Mention, len(m.mentions))
	copy(out, m.mentions)
	return out
}

// Activations returns a snapshot of all activations regardless of status.
func (m *Memory) Activations() []bus.TrendActivation {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]bus.TrendActivation, 0, len(m.activations))
	for _, act := range m.activations {
		out = append(out, act)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ActivatedAt.Before(out[j].ActivatedAt) })
	return out
}
