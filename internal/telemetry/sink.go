package telemetry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

// Event types on the scan stream.
const (
	EventScanStarted     = "scan_started"
	EventSymbolStarted   = "symbol_started"
	EventSignalGenerated = "signal_generated"
	EventSignalRejected  = "signal_rejected"
	EventScanCompleted   = "scan_completed"
)

// Sink receives scan events. Emit must never block a worker. Payload
// schemas are append-only; stream consumers ignore unknown fields.
type Sink interface {
	Emit(eventType string, payload any)
	Close() error
}

// Event is one record on the stream. Seq is assigned at emit and is
// monotonic per sink.
type Event struct {
	Seq       uint64    `json:"seq"`
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload,omitempty"`
}

// ScanStartedPayload opens a run on the stream.
type ScanStartedPayload struct {
	RunID   string `json:"run_id"`
	Params  any    `json:"params,omitempty"`
	Symbols int    `json:"symbols"`
}

// SymbolStartedPayload marks a symbol entering the pipeline.
type SymbolStartedPayload struct {
	RunID  string `json:"run_id"`
	Symbol string `json:"symbol"`
}

// SignalGeneratedPayload carries the emitted signal with its full trace.
type SignalGeneratedPayload struct {
	RunID  string `json:"run_id"`
	Symbol string `json:"symbol"`
	Signal any    `json:"signal"`
}

// SignalRejectedPayload records why a symbol produced no signal.
type SignalRejectedPayload struct {
	RunID       string         `json:"run_id"`
	Symbol      string         `json:"symbol"`
	Stage       string         `json:"stage"`
	Reason      string         `json:"reason"`
	Diagnostics map[string]any `json:"diagnostics,omitempty"`
}

// ScanCompletedPayload closes a run on the stream.
type ScanCompletedPayload struct {
	RunID      string  `json:"run_id"`
	Scanned    int     `json:"scanned"`
	Signals    int     `json:"signals"`
	Rejected   int     `json:"rejected"`
	DurationMS float64 `json:"duration_ms"`
}

// DefaultArtifactsDir is where scan streams land unless configured.
const DefaultArtifactsDir = "./artifacts/scans"

const sinkBuffer = 1024

// JSONLSink writes one JSON line per event to a per-run artifact file.
// Emits are queued on a buffered channel and written by one goroutine;
// when the buffer is full the oldest queued event is dropped so workers
// never stall on disk.
type JSONLSink struct {
	mu      sync.RWMutex
	closed  bool
	seq     atomic.Uint64
	dropped atomic.Uint64
	events  chan Event
	done    chan struct{}
	file    *os.File
	enc     *json.Encoder
	metrics *Metrics
	path    string
}

// NewJSONLSink opens scan_<runID>.jsonl under dir and starts the writer.
// A nil metrics skips the dropped-events counter.
func NewJSONLSink(dir, runID string, metrics *Metrics) (*JSONLSink, error) {
	if dir == "" {
		dir = DefaultArtifactsDir
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create artifacts dir: %w", err)
	}
	path := filepath.Join(dir, fmt.Sprintf("scan_%s.jsonl", runID))
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open scan artifact: %w", err)
	}

	s := &JSONLSink{
		events:  make(chan Event, sinkBuffer),
		done:    make(chan struct{}),
		file:    file,
		enc:     json.NewEncoder(file),
		metrics: metrics,
		path:    path,
	}
	go s.run()
	return s, nil
}

// Emit assigns the next sequence number and queues the event.
func (s *JSONLSink) Emit(eventType string, payload any) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}

	ev := Event{
		Seq:       s.seq.Add(1),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
	select {
	case s.events <- ev:
		return
	default:
	}

	// Buffer full: drop the oldest queued event so newer ones win.
	select {
	case <-s.events:
		s.countDrop()
	default:
	}
	select {
	case s.events <- ev:
	default:
		s.countDrop()
	}
}

func (s *JSONLSink) countDrop() {
	s.dropped.Add(1)
	if s.metrics != nil {
		s.metrics.EventsDropped.Inc()
	}
}

func (s *JSONLSink) run() {
	defer close(s.done)
	for ev := range s.events {
		if err := s.enc.Encode(ev); err != nil {
			log.Warn().Err(err).Str("event", ev.Type).Msg("telemetry write failed")
		}
	}
}

// Close drains the queue to disk and closes the artifact file.
func (s *JSONLSink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.events)
	s.mu.Unlock()

	<-s.done
	if err := s.file.Close(); err != nil {
		return fmt.Errorf("close scan artifact: %w", err)
	}
	return nil
}

// Dropped reports how many events were discarded under back-pressure.
func (s *JSONLSink) Dropped() uint64 {
	return s.dropped.Load()
}

// Path is the artifact file location for this run.
func (s *JSONLSink) Path() string {
	return s.path
}

// MemorySink buffers events in memory, for tests and one-shot scans that
// do not keep artifacts.
type MemorySink struct {
	mu     sync.Mutex
	seq    uint64
	events []Event
}

// NewMemorySink returns an empty in-memory sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// Emit appends the event under the sink lock.
func (s *MemorySink) Emit(eventType string, payload any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	s.events = append(s.events, Event{
		Seq:       s.seq,
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	})
}

// Events snapshots the emitted stream in order.
func (s *MemorySink) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}

// Close is a no-op.
func (s *MemorySink) Close() error { return nil }
