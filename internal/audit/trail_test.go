package audit

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trendhawk/trendhawk/internal/bus"
)

func TestTrailRecordsAlerts(t *testing.T) {
	trail, err := NewTrail("", 10)
	require.NoError(t, err)

	act := bus.NewTrendActivation("MOONDOG", 2)
	require.NoError(t, trail.Deliver(bus.NewActivationEvent("quorum", act)))
	require.NoError(t, trail.Deliver(bus.NewCAAlertEvent("discovery", bus.CAAlert{
		ID:              "a1",
		ContractAddress: "CA111",
		TokenName:       "MOONDOG",
	})))

	entries := trail.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, EventActivation, entries[0].EventType)
	assert.Equal(t, "MOONDOG", entries[0].TokenName)
	assert.Equal(t, EventCAAlert, entries[1].EventType)
	assert.NotEmpty(t, entries[1].Payload)
}

func TestTrailFIFOEviction(t *testing.T) {
	trail, err := NewTrail("", 2)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		act := bus.NewTrendActivation("T", i)
		require.NoError(t, trail.Deliver(bus.NewActivationEvent("quorum", act)))
	}

	entries := trail.Entries()
	require.Len(t, entries, 2)

	var first bus.Event
	require.NoError(t, json.Unmarshal([]byte(entries[0].Payload), &first))
	assert.Equal(t, 1, first.Activation.MentionCount, "oldest entry must be evicted")
}

func TestTrailQueryByTrace(t *testing.T) {
	trail, err := NewTrail("", 10)
	require.NoError(t, err)

	ev := bus.NewActivationEvent("quorum", bus.NewTrendActivation("MOONDOG", 2))
	require.NoError(t, trail.Deliver(ev))
	require.NoError(t, trail.Deliver(bus.NewActivationEvent("quorum", bus.NewTrendActivation("OTHER", 2))))

	got := trail.Query(ev.TraceID)
	require.Len(t, got, 1)
	assert.Equal(t, ev.EventID, got[0].EventID)
}

func TestTrailWritesJSONLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	trail, err := NewTrail(path, 0)
	require.NoError(t, err)

	require.NoError(t, trail.Deliver(bus.NewCAAlertEvent("discovery", bus.CAAlert{
		ID:              "a1",
		ContractAddress: "CA222",
		TokenName:       "FROGGO",
	})))
	require.NoError(t, trail.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	scanner := bufio.NewScanner(f)
	require.True(t, scanner.Scan())

	var entry Entry
	require.NoError(t, json.Unmarshal(scanner.Bytes(), &entry))
	assert.Equal(t, EventCAAlert, entry.EventType)
	assert.Equal(t, "FROGGO", entry.TokenName)
	assert.False(t, scanner.Scan(), "exactly one line expected")
}
