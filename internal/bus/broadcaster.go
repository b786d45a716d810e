package bus

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

// ---------------------------------------------------------------------------
// Alert Broadcaster — in-process fan-out to registered subscribers
// A failing or hung subscriber is dropped from the registry; the rest still
// receive the event.
// ---------------------------------------------------------------------------

// Subscriber receives broadcast events. Deliver must be safe for concurrent
// use and should bound its own write time; the broadcaster additionally
// enforces a delivery timeout.
type Subscriber interface {
	ID() string
	Deliver(ev Event) error
	Close() error
}

// BroadcasterConfig configures fan-out behavior.
type BroadcasterConfig struct {
	// Maximum time a single subscriber may take to accept an event before
	// it is considered hung and dropped.
	DeliverTimeout time.Duration
}

// DefaultBroadcasterConfig returns production defaults.
func DefaultBroadcasterConfig() BroadcasterConfig {
	return BroadcasterConfig{
		DeliverTimeout: 5 * time.Second,
	}
}

// Broadcaster fans events out to all live subscribers.
type Broadcaster struct {
	config BroadcasterConfig

	mu   sync.RWMutex
	subs map[string]Subscriber

	// Stats.
	delivered atomic.Int64
	dropped   atomic.Int64
	failures  atomic.Int64
}

// NewBroadcaster creates an empty broadcaster.
func NewBroadcaster(config BroadcasterConfig) *Broadcaster {
	if config.DeliverTimeout <= 0 {
		config.DeliverTimeout = DefaultBroadcasterConfig().DeliverTimeout
	}
	return &Broadcaster{
		config: config,
		subs:   make(map[string]Subscriber),
	}
}

// Subscribe registers a subscriber. A subscriber with the same ID replaces
// the previous registration.
func (b *Broadcaster) Subscribe(sub Subscriber) {
	b.mu.Lock()
	b.subs[sub.ID()] = sub
	b.mu.Unlock()
	log.Debug().Str("subscriber", sub.ID()).Msg("broadcast: subscriber registered")
}

// Unsubscribe removes and closes a subscriber.
func (b *Broadcaster) Unsubscribe(id string) {
	b.mu.Lock()
	sub, ok := b.subs[id]
	if ok {
		delete(b.subs, id)
	}
	b.mu.Unlock()
	if ok {
		_ = sub.Close()
		log.Debug().Str("subscriber", id).Msg("broadcast: subscriber removed")
	}
}

// Broadcast delivers ev to every registered subscriber. Delivery failures
// remove the failing subscriber and never propagate to the caller.
func (b *Broadcaster) Broadcast(ev Event) {
	b.mu.RLock()
	targets := make([]Subscriber, 0, len(b.subs))
	for _, sub := range b.subs {
		targets = append(targets, sub)
	}
	b.mu.RUnlock()

	for _, sub := range targets {
		if err := b.deliverBounded(sub, ev); err != nil {
			b.failures.Add(1)
			log.Warn().Err(err).
				Str("subscriber", sub.ID()).
				Str("event_type", ev.Type).
				Msg("broadcast: delivery failed, dropping subscriber")
			b.Unsubscribe(sub.ID())
			continue
		}
		b.delivered.Add(1)
	}
}

// deliverBounded runs Deliver with the configured timeout so a hung
// subscriber cannot stall delivery to the others.
func (b *Broadcaster) deliverBounded(sub Subscriber, ev Event) error {
	done := make(chan error, 1)
	go func() {
		done <- sub.Deliver(ev)
	}()

	select {
	case err := <-done:
		return err
	case <-time.After(b.config.DeliverTimeout):
		b.dropped.Add(1)
		return errDeliverTimeout
	}
}

var errDeliverTimeout = timeoutError{}

type timeoutError struct{}

func (timeoutError) Error() string { return "broadcast: deliver timeout" }
func (timeoutError) Timeout() bool { return true }

// SubscriberCount returns the number of live subscribers.
func (b *Broadcaster) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close unsubscribes and closes every subscriber.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	subs := b.subs
	b.subs = make(map[string]Subscriber)
	b.mu.Unlock()
	for _, sub := range subs {
		_ = sub.Close()
	}
}

// Stats returns broadcaster statistics.
type BroadcastStats struct {
	Subscribers int   `json:"subscribers"`
	Delivered   int64 `json:"delivered"`
	Dropped     int64 `json:"dropped"`
	Failures    int64 `json:"failures"`
}

func (b *Broadcaster) Stats() BroadcastStats {
	return BroadcastStats{
		Subscribers: b.SubscriberCount(),
		Delivered:   b.delivered.Load(),
		Dropped:     b.dropped.Load(),
		Failures:    b.failures.Load(),
	}
}
