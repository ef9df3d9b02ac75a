package telemetry

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readEvents(t *testing.T, path string) []Event {
	t.Helper()
	raw, err := os.ReadFile(path)
	require.NoError(t, err)

	var events []Event
	for _, line := range strings.Split(strings.TrimSpace(string(raw)), "\n") {
		if line == "" {
			continue
		}
		var ev Event
		require.NoError(t, json.Unmarshal([]byte(line), &ev))
		events = append(events, ev)
	}
	return events
}

func TestJSONLSinkWritesOrderedStream(t *testing.T) {
	dir := t.TempDir()
	s, err := NewJSONLSink(dir, "run-123", nil)
	require.NoError(t, err)

	s.Emit(EventScanStarted, ScanStartedPayload{RunID: "run-123", Symbols: 2})
	s.Emit(EventSymbolStarted, SymbolStartedPayload{RunID: "run-123", Symbol: "BTC/USDT"})
	s.Emit(EventScanCompleted, ScanCompletedPayload{RunID: "run-123", Scanned: 2, Signals: 1, Rejected: 1, DurationMS: 42})
	require.NoError(t, s.Close())

	assert.Equal(t, filepath.Join(dir, "scan_run-123.jsonl"), s.Path())

	events := readEvents(t, s.Path())
	require.Len(t, events, 3)
	assert.Equal(t, EventScanStarted, events[0].Type)
	assert.Equal(t, EventSymbolStarted, events[1].Type)
	assert.Equal(t, EventScanCompleted, events[2].Type)
	for i, ev := range events {
		assert.Equal(t, uint64(i+1), ev.Seq)
		assert.False(t, ev.Timestamp.IsZero())
	}

	payload, ok := events[1].Payload.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "BTC/USDT", payload["symbol"])
}

func TestJSONLSinkSequencesUniqueUnderConcurrency(t *testing.T) {
	s, err := NewJSONLSink(t.TempDir(), "run-concurrent", nil)
	require.NoError(t, err)

	const workers, perWorker = 8, 25
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				s.Emit(EventSymbolStarted, SymbolStartedPayload{Symbol: "BTC/USDT"})
			}
		}()
	}
	wg.Wait()
	require.NoError(t, s.Close())

	events := readEvents(t, s.Path())
	require.Len(t, events, workers*perWorker)
	assert.Zero(t, s.Dropped())

	seen := make(map[uint64]bool, len(events))
	for _, ev := range events {
		assert.False(t, seen[ev.Seq], "sequence %d assigned twice", ev.Seq)
		seen[ev.Seq] = true
		assert.GreaterOrEqual(t, ev.Seq, uint64(1))
		assert.LessOrEqual(t, ev.Seq, uint64(workers*perWorker))
	}
}

func TestJSONLSinkDropsOldestWhenFull(t *testing.T) {
	// No writer goroutine, so queued events stay put and the overflow
	// path is deterministic.
	m := NewMetrics(prometheus.NewRegistry())
	s := &JSONLSink{events: make(chan Event, 2), done: make(chan struct{}), metrics: m}

	s.Emit(EventSymbolStarted, SymbolStartedPayload{Symbol: "A/USDT"})
	s.Emit(EventSymbolStarted, SymbolStartedPayload{Symbol: "B/USDT"})
	s.Emit(EventSymbolStarted, SymbolStartedPayload{Symbol: "C/USDT"})

	assert.EqualValues(t, 1, s.Dropped())

	first := <-s.events
	second := <-s.events
	assert.EqualValues(t, 2, first.Seq, "the oldest event was dropped")
	assert.EqualValues(t, 3, second.Seq)
}

func TestJSONLSinkEmitAfterClose(t *testing.T) {
	s, err := NewJSONLSink(t.TempDir(), "run-closed", nil)
	require.NoError(t, err)

	s.Emit(EventScanStarted, ScanStartedPayload{RunID: "run-closed"})
	require.NoError(t, s.Close())

	s.Emit(EventScanCompleted, ScanCompletedPayload{RunID: "run-closed"})
	require.NoError(t, s.Close(), "double close is safe")

	events := readEvents(t, s.Path())
	assert.Len(t, events, 1)
}

func TestMemorySink(t *testing.T) {
	s := NewMemorySink()
	s.Emit(EventScanStarted, ScanStartedPayload{RunID: "r"})
	s.Emit(EventScanCompleted, ScanCompletedPayload{RunID: "r"})

	events := s.Events()
	require.Len(t, events, 2)
	assert.EqualValues(t, 1, events[0].Seq)
	assert.EqualValues(t, 2, events[1].Seq)
	assert.Equal(t, EventScanCompleted, events[1].Type)
	require.NoError(t, s.Close())
}
