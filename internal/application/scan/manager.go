// Package scan tracks asynchronous scan jobs: creation, live progress,
// cooperative cancellation, and a bounded history of finished runs.
package scan

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/smcscan/smcscan/internal/application/pipeline"
	"github.com/smcscan/smcscan/internal/data/exchange"
	"github.com/smcscan/smcscan/internal/telemetry"
)

// DefaultKeep is how many job snapshots the manager retains.
const DefaultKeep = 100

var (
	ErrNotFound = errors.New("scan job not found")
	ErrFinished = errors.New("scan job already finished")
)

// SignalStore archives a finished run's signals. Implementations
// tolerate replays of the same run.
type SignalStore interface {
	SaveSignals(ctx context.Context, sigs []pipeline.Signal) (int, error)
}

// ManagerConfig shapes a Manager.
type ManagerConfig struct {
	// Venue is the adapter used when a job names none.
	Venue string
	// ArtifactsDir, when set, gives every job a JSONL event stream.
	ArtifactsDir string
	// Keep bounds the retained job history.
	Keep int
	// Archive, when set, persists each completed run's signals.
	Archive SignalStore
	// Base is the pipeline configuration jobs override per request.
	Base pipeline.Config
}

// Manager creates and tracks scan jobs. Each job builds its own pipeline
// runner so per-request mode, threshold, leverage, and venue overrides
// never leak between runs.
type Manager struct {
	cfg    ManagerConfig
	venues *exchange.Registry
	deps   pipeline.Deps

	mu    sync.RWMutex
	jobs  map[string]*job
	order []string
}

// NewManager wires a job manager over the shared scan services.
func NewManager(cfg ManagerConfig, venues *exchange.Registry, deps pipeline.Deps) *Manager {
	if cfg.Keep <= 0 {
		cfg.Keep = DefaultKeep
	}
	if deps.Metrics == nil {
		deps.Metrics = telemetry.Default()
	}
	return &Manager{
		cfg:    cfg,
		venues: venues,
		deps:   deps,
		jobs:   make(map[string]*job),
	}
}

// Create validates params, registers a pending job, and starts the scan
// in the background. The returned snapshot is the job's initial state.
func (m *Manager) Create(params Params) (Snapshot, error) {
	deps := m.deps
	venue := params.Exchange
	if venue == "" {
		venue = m.cfg.Venue
	}
	adapter, err := m.venues.Get(venue)
	if err != nil {
		return Snapshot{}, fmt.Errorf("create scan: %w", err)
	}
	deps.Adapter = adapter

	cfg := m.cfg.Base
	if params.Mode != "" && params.Mode != cfg.Mode {
		// Base weight and threshold overrides are tuned for the base
		// mode; a job that switches modes gets the built-in tables.
		cfg.Mode = params.Mode
		cfg.Weights = nil
		cfg.Thresholds = nil
	}
	if params.MinScore > 0 {
		cfg.MinScore = params.MinScore
	}
	if params.Leverage > 0 {
		cfg.Leverage = params.Leverage
	}

	runID := uuid.NewString()
	var artifact string
	if m.cfg.ArtifactsDir != "" {
		jsonl, err := telemetry.NewJSONLSink(m.cfg.ArtifactsDir, runID, deps.Metrics)
		if err != nil {
			log.Warn().Err(err).Str("run_id", runID).Msg("scan artifacts unavailable, events stay in memory")
		} else {
			deps.Sink = jsonl
			artifact = jsonl.Path()
		}
	}

	runner, err := pipeline.New(cfg, deps)
	if err != nil {
		if deps.Sink != nil {
			_ = deps.Sink.Close()
		}
		return Snapshot{}, fmt.Errorf("create scan: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	j := newJob(runID, params, cancel)
	j.artifact = artifact

	m.mu.Lock()
	m.jobs[runID] = j
	m.order = append(m.order, runID)
	m.pruneLocked()
	m.mu.Unlock()

	go m.execute(ctx, j, runner, deps.Sink)

	log.Info().Str("run_id", runID).Str("venue", venue).Str("mode", cfg.Mode).Msg("scan job created")
	return j.snapshot(), nil
}

func (m *Manager) execute(ctx context.Context, j *job, runner *pipeline.Runner, sink telemetry.Sink) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Error().Str("run_id", j.id).Interface("panic", rec).Msg("scan job panicked")
			j.finish(nil, fmt.Errorf("scan job panicked: %v", rec))
		}
		if sink != nil {
			if err := sink.Close(); err != nil {
				log.Warn().Err(err).Str("run_id", j.id).Msg("closing scan artifact failed")
			}
		}
	}()

	j.setRunning()
	res, err := runner.Run(ctx, pipeline.Request{
		RunID:      j.id,
		Symbols:    j.params.Symbols,
		Limit:      j.params.Limit,
		Quote:      j.params.Quote,
		OnProgress: j.onProgress,
	})
	j.finish(res, err)
	if err == nil && res != nil {
		m.archive(j.id, res.Signals)
	}
}

// archive persists a run's signals when a store is configured. Failures
// only cost history, so they log instead of failing the job.
func (m *Manager) archive(runID string, sigs []pipeline.Signal) {
	if m.cfg.Archive == nil || len(sigs) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	saved, err := m.cfg.Archive.SaveSignals(ctx, sigs)
	if err != nil {
		log.Warn().Err(err).Str("run_id", runID).Msg("signal archive write failed")
		return
	}
	log.Debug().Str("run_id", runID).Int("saved", saved).Msg("signals archived")
}

// Get returns a snapshot of one job.
func (m *Manager) Get(id string) (Snapshot, bool) {
	m.mu.RLock()
	j, ok := m.jobs[id]
	m.mu.RUnlock()
	if !ok {
		return Snapshot{}, false
	}
	return j.snapshot(), true
}

// Cancel requests cooperative cancellation. The job keeps running until
// its in-flight symbols finish their current stage.
func (m *Manager) Cancel(id string) (Snapshot, error) {
	m.mu.RLock()
	j, ok := m.jobs[id]
	m.mu.RUnlock()
	if !ok {
		return Snapshot{}, ErrNotFound
	}
	snap := j.snapshot()
	if snap.Status.Terminal() {
		return snap, ErrFinished
	}
	j.cancel()
	log.Info().Str("run_id", id).Msg("scan job cancellation requested")
	return j.snapshot(), nil
}

// List returns snapshots of retained jobs, newest first.
func (m *Manager) List() []Snapshot {
	m.mu.RLock()
	ids := make([]string, len(m.order))
	copy(ids, m.order)
	jobs := make([]*job, 0, len(ids))
	for i := len(ids) - 1; i >= 0; i-- {
		if j, ok := m.jobs[ids[i]]; ok {
			jobs = append(jobs, j)
		}
	}
	m.mu.RUnlock()

	out := make([]Snapshot, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, j.snapshot())
	}
	return out
}

// Shutdown cancels every job that is still running.
func (m *Manager) Shutdown() {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, j := range m.jobs {
		if !j.snapshot().Status.Terminal() {
			j.cancel()
		}
	}
}

// pruneLocked drops the oldest terminal jobs beyond the retention bound.
// Running jobs are never dropped, so the store can briefly exceed the
// bound under heavy concurrent use.
func (m *Manager) pruneLocked() {
	excess := len(m.order) - m.cfg.Keep
	if excess <= 0 {
		return
	}
	kept := m.order[:0]
	for _, id := range m.order {
		j := m.jobs[id]
		if excess > 0 && j != nil && j.snapshot().Status.Terminal() {
			delete(m.jobs, id)
			excess--
			continue
		}
		kept = append(kept, id)
	}
	m.order = kept
}
