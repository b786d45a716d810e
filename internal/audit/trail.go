package audit

import (
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/trendhawk/trendhawk/internal/bus"
)

// Entry event types.
const (
	EventActivation = "trend_activation"
	EventCAAlert    = "ca_alert"
)

// Entry is a single audit trail record. Every alert the engine emits gets
// recorded as an Entry, creating an immutable log for replay and debugging.
type Entry struct {
	TraceID   string    `json:"trace_id"`
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"` // trend_activation|ca_alert
	Timestamp time.Time `json:"ts"`
	TokenName string    `json:"token_name,omitempty"`
	Payload   string    `json:"payload"` // JSON of the full event
}

// Trail records every broadcast alert. It maintains an in-memory buffer
// (capped at maxBuf, FIFO eviction) for querying and appends each entry as a
// JSON line to the trail file when one is configured.
//
// Trail implements bus.Subscriber and is wired through the broadcaster, so
// it sees exactly what external subscribers see.
type Trail struct {
	mu      sync.Mutex
	file    *os.File
	entries []Entry
	maxBuf  int
}

// NewTrail creates an audit trail. path is the JSONL sink; empty disables the
// file and keeps the in-memory buffer only. maxBuf of 0 disables buffering.
func NewTrail(path string, maxBuf int) (*Trail, error) {
	if maxBuf < 0 {
		maxBuf = 0
	}
	t := &Trail{
		entries: make([]Entry, 0, maxBuf),
		maxBuf:  maxBuf,
	}
	if path != "" {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, err
		}
		t.file = f
	}
	return t, nil
}

// ID implements bus.Subscriber.
func (t *Trail) ID() string { return "audit" }

// Deliver implements bus.Subscriber.
func (t *Trail) Deliver(ev bus.Event) error {
	entry := Entry{
		TraceID:   ev.TraceID,
		EventID:   ev.EventID,
		EventType: ev.Type,
		Timestamp: ev.Timestamp,
		Payload:   mustMarshal(ev),
	}
	switch {
	case ev.Activation != nil:
		entry.TokenName = ev.Activation.TokenName
	case ev.Alert != nil:
		entry.TokenName = ev.Alert.TokenName
	}

	t.record(entry)
	return nil
}

// Close implements bus.Subscriber and releases the trail file.
func (t *Trail) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.file == nil {
		return nil
	}
	err := t.file.Close()
	t.file = nil
	return err
}

// Query returns buffered entries matching a trace ID.
func (t *Trail) Query(traceID string) []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()

	var result []Entry
	for _, e := range t.entries {
		if e.TraceID == traceID {
			result = append(result, e)
		}
	}
	return result
}

// Entries returns a copy of the in-memory buffer.
func (t *Trail) Entries() []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()

	result := make([]Entry, len(t.entries))
	copy(result, t.entries)
	return result
}

// Len returns the number of buffered entries.
func (t *Trail) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

func (t *Trail) record(entry Entry) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.maxBuf > 0 {
		if len(t.entries) >= t.maxBuf {
			// Shift left: discard oldest entry.
			copy(t.entries, t.entries[1:])
			t.entries[len(t.entries)-1] = entry
		} else {
			t.entries = append(t.entries, entry)
		}
	}

	if t.file != nil {
		line, err := json.Marshal(entry)
		if err != nil {
			log.Error().Err(err).Str("event_type", entry.EventType).Msg("audit: marshal failed")
			return
		}
		if _, err := t.file.Write(append(line, '\n')); err != nil {
			log.Error().Err(err).Str("event_type", entry.EventType).Msg("audit: write failed")
		}
	}
}

func mustMarshal(v interface{}) string {
	data, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Msg("audit: payload marshal failed")
		return "{}"
	}
	return string(data)
}
