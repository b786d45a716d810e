package bus

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ---------------------------------------------------------------------------
// Broadcaster Tests
// ---------------------------------------------------------------------------

type testSub struct {
	id     string
	mu     sync.Mutex
	events []Event
	fail   bool
	hang   time.Duration
	closed bool
}

func (s *testSub) ID() string { return s.id }

func (s *testSub) Deliver(ev Event) error {
	if s.hang > 0 {
		time.Sleep(s.hang)
	}
	if s.fail {
		return errors.New("deliver failed")
	}
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
	return nil
}

func (s *testSub) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *testSub) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func testAlert(token string) CAAlert {
	return CAAlert{
		ID:              "alert-1",
		ContractAddress: "So1anaMintAddr111",
		TokenName:       token,
		Source:          AlertSourcePoller,
		WasTrending:     true,
		DiscoveredAt:    time.Now().UTC(),
	}
}

func TestBroadcaster_DeliversToAll(t *testing.T) {
	b := NewBroadcaster(DefaultBroadcasterConfig())

	subs := []*testSub{{id: "a"}, {id: "b"}, {id: "c"}}
	for _, s := range subs {
		b.Subscribe(s)
	}

	b.Broadcast(NewCAAlertEvent("test", testAlert("TESTCOIN")))

	for _, s := range subs {
		assert.Equal(t, 1, s.count(), "subscriber %s should receive event", s.id)
	}
	assert.Equal(t, int64(3), b.Stats().Delivered)
}

func TestBroadcaster_FailingSubscriberRemoved(t *testing.T) {
	b := NewBroadcaster(DefaultBroadcasterConfig())

	good1 := &testSub{id: "good-1"}
	bad := &testSub{id: "bad", fail: true}
	good2 := &testSub{id: "good-2"}
	b.Subscribe(good1)
	b.Subscribe(bad)
	b.Subscribe(good2)

	b.Broadcast(NewCAAlertEvent("test", testAlert("TESTCOIN")))

	// Failing subscriber dropped, others delivered.
	assert.Equal(t, 1, good1.count())
	assert.Equal(t, 1, good2.count())
	assert.Equal(t, 2, b.SubscriberCount())

	// Not retried on the next event.
	b.Broadcast(NewCAAlertEvent("test", testAlert("NEXTCOIN")))
	assert.Equal(t, 2, good1.count())
	assert.Equal(t, 2, good2.count())
	assert.Equal(t, 0, bad.count())
}

func TestBroadcaster_HungSubscriberDropped(t *testing.T) {
	b := NewBroadcaster(BroadcasterConfig{DeliverTimeout: 20 * time.Millisecond})

	hung := &testSub{id: "hung", hang: 500 * time.Millisecond}
	good := &testSub{id: "good"}
	b.Subscribe(hung)
	b.Subscribe(good)

	start := time.Now()
	b.Broadcast(NewCAAlertEvent("test", testAlert("TESTCOIN")))

	assert.Less(t, time.Since(start), 300*time.Millisecond, "hung subscriber must not stall fan-out")
	assert.Equal(t, 1, good.count())
	assert.Equal(t, 1, b.SubscriberCount())
}

func TestBroadcaster_UnsubscribeCloses(t *testing.T) {
	b := NewBroadcaster(DefaultBroadcasterConfig())
	s := &testSub{id: "s"}
	b.Subscribe(s)
	b.Unsubscribe("s")

	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	assert.True(t, closed)
	assert.Equal(t, 0, b.SubscriberCount())
}

func TestBroadcaster_NoSubscribers(t *testing.T) {
	b := NewBroadcaster(DefaultBroadcasterConfig())
	// Must not panic or block.
	b.Broadcast(NewCAAlertEvent("test", testAlert("TESTCOIN")))
	assert.Equal(t, int64(0), b.Stats().Delivered)
}

func TestEventEnvelope(t *testing.T) {
	act := NewTrendActivation("TESTCOIN", 2)
	ev := NewActivationEvent("quorum", act)

	require.NotNil(t, ev.Activation)
	assert.Equal(t, EventTrendActivation, ev.Type)
	assert.Equal(t, "quorum", ev.Producer)
	assert.NotEmpty(t, ev.EventID)
	assert.Equal(t, ActivationActive, ev.Activation.Status)
}
