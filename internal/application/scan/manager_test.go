package scan

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smcscan/smcscan/internal/application/pipeline"
	"github.com/smcscan/smcscan/internal/data/cache"
	"github.com/smcscan/smcscan/internal/data/dominance"
	"github.com/smcscan/smcscan/internal/data/exchange"
	"github.com/smcscan/smcscan/internal/domain/ohlcv"
	"github.com/smcscan/smcscan/internal/risk"
	"github.com/smcscan/smcscan/internal/telemetry"
)

type stubDominance struct{}

func (stubDominance) Fetch(ctx context.Context) (dominance.Snapshot, error) {
	return dominance.Snapshot{BTCDom: 54, StableDom: 6}, nil
}

// stallAdapter holds every candle fetch until the context dies, so a job
// is guaranteed to still be running when the test cancels it.
type stallAdapter struct {
	exchange.Adapter
	delay time.Duration
}

func (a stallAdapter) FetchOHLCV(ctx context.Context, symbol string, tf ohlcv.Timeframe, limit int, since *time.Time) ([]ohlcv.Bar, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(a.delay):
	}
	return a.Adapter.FetchOHLCV(ctx, symbol, tf, limit, since)
}

func newTestManager(t *testing.T, cfg ManagerConfig) *Manager {
	t.Helper()

	venues := exchange.NewRegistry()
	venues.Register(exchange.NewSeededFakeAdapter("fake", 7))
	venues.Register(stallAdapter{
		Adapter: exchange.NewSeededFakeAdapter("stall", 7),
		delay:   10 * time.Second,
	})

	mgr := cache.NewManager(cache.Config{})
	t.Cleanup(mgr.Stop)

	rm, err := risk.NewManager(10000, risk.DefaultLimits())
	require.NoError(t, err)
	cds, err := risk.NewCooldownStore(t.TempDir())
	require.NoError(t, err)

	if cfg.Venue == "" {
		cfg.Venue = "fake"
	}
	return NewManager(cfg, venues, pipeline.Deps{
		Cache:     mgr,
		Risk:      rm,
		Cooldowns: cds,
		Dominance: stubDominance{},
		Metrics:   telemetry.NewMetrics(prometheus.NewRegistry()),
	})
}

func waitTerminal(t *testing.T, m *Manager, id string) Snapshot {
	t.Helper()
	var snap Snapshot
	require.Eventually(t, func() bool {
		s, ok := m.Get(id)
		if !ok {
			return false
		}
		snap = s
		return s.Status.Terminal()
	}, 10*time.Second, 5*time.Millisecond)
	return snap
}

func TestCreateRunsJobToCompletion(t *testing.T) {
	m := newTestManager(t, ManagerConfig{})

	snap, err := m.Create(Params{Symbols: []string{"BTC/USDT", "ETH/USDT"}})
	require.NoError(t, err)
	assert.Equal(t, StatusPending, snap.Status)
	assert.NotEmpty(t, snap.ID)

	final := waitTerminal(t, m, snap.ID)
	assert.Equal(t, StatusCompleted, final.Status)
	assert.Equal(t, 2, final.Progress.Total)
	assert.Equal(t, 2, final.Progress.Completed)
	assert.InDelta(t, 100.0, final.Progress.Percent, 1e-9)
	assert.False(t, final.StartedAt.IsZero())
	assert.False(t, final.FinishedAt.IsZero())
	assert.NotEmpty(t, final.MarketRegime)

	rejected := 0
	for _, n := range final.ByReason {
		rejected += n
	}
	assert.Equal(t, 2, len(final.Signals)+rejected)
}

func TestCreateValidatesVenueAndMode(t *testing.T) {
	m := newTestManager(t, ManagerConfig{})

	_, err := m.Create(Params{Exchange: "binanceXYZ", Symbols: []string{"BTC/USDT"}})
	assert.Error(t, err)

	_, err = m.Create(Params{Mode: "warp_speed", Symbols: []string{"BTC/USDT"}})
	assert.Error(t, err)

	if _, ok := m.Get("never-created"); ok {
		t.Fatal("failed creations must not register jobs")
	}
	assert.Empty(t, m.List())
}

func TestParamsOverrideBaseConfig(t *testing.T) {
	m := newTestManager(t, ManagerConfig{})

	snap, err := m.Create(Params{Symbols: []string{"BTC/USDT"}, MinScore: 101})
	require.NoError(t, err)

	final := waitTerminal(t, m, snap.ID)
	assert.Equal(t, StatusCompleted, final.Status)
	assert.Empty(t, final.Signals)
	for reason := range final.ByReason {
		assert.Contains(t, []string{pipeline.ReasonBelowThreshold, pipeline.ReasonScorerBlocked}, reason)
	}
}

func TestCancelRunningJob(t *testing.T) {
	m := newTestManager(t, ManagerConfig{})

	snap, err := m.Create(Params{Exchange: "stall", Symbols: []string{"BTC/USDT", "ETH/USDT"}})
	require.NoError(t, err)

	// The stall venue blocks fetches, so the job cannot finish on its own.
	_, err = m.Cancel(snap.ID)
	require.NoError(t, err)

	final := waitTerminal(t, m, snap.ID)
	assert.Equal(t, StatusCancelled, final.Status)
	assert.Zero(t, final.Progress.Completed)
}

func TestCancelErrors(t *testing.T) {
	m := newTestManager(t, ManagerConfig{})

	_, err := m.Cancel("missing")
	assert.ErrorIs(t, err, ErrNotFound)

	snap, err := m.Create(Params{Symbols: []string{"BTC/USDT"}})
	require.NoError(t, err)
	waitTerminal(t, m, snap.ID)

	_, err = m.Cancel(snap.ID)
	assert.ErrorIs(t, err, ErrFinished)
}

func TestListNewestFirstAndPrune(t *testing.T) {
	m := newTestManager(t, ManagerConfig{Keep: 2})

	var ids []string
	for i := 0; i < 3; i++ {
		snap, err := m.Create(Params{Symbols: []string{"BTC/USDT"}})
		require.NoError(t, err)
		waitTerminal(t, m, snap.ID)
		ids = append(ids, snap.ID)
	}

	list := m.List()
	require.Len(t, list, 2)
	assert.Equal(t, ids[2], list[0].ID)
	assert.Equal(t, ids[1], list[1].ID)

	_, ok := m.Get(ids[0])
	assert.False(t, ok, "oldest terminal job is pruned")
}

func TestJobWritesArtifact(t *testing.T) {
	dir := t.TempDir()
	m := newTestManager(t, ManagerConfig{ArtifactsDir: dir})

	snap, err := m.Create(Params{Symbols: []string{"BTC/USDT"}})
	require.NoError(t, err)
	require.NotEmpty(t, snap.Artifact)

	waitTerminal(t, m, snap.ID)

	// The sink closes just after the job turns terminal.
	require.Eventually(t, func() bool {
		info, err := os.Stat(snap.Artifact)
		return err == nil && info.Size() > 0
	}, 5*time.Second, 10*time.Millisecond)
}

func TestShutdownCancelsRunningJobs(t *testing.T) {
	m := newTestManager(t, ManagerConfig{})

	snap, err := m.Create(Params{Exchange: "stall", Symbols: []string{"BTC/USDT"}})
	require.NoError(t, err)

	m.Shutdown()

	final := waitTerminal(t, m, snap.ID)
	assert.Equal(t, StatusCancelled, final.Status)
}

type memoryStore struct {
	mu    sync.Mutex
	calls int
	got   []pipeline.Signal
	err   error
}

func (s *memoryStore) SaveSignals(ctx context.Context, sigs []pipeline.Signal) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return 0, s.err
	}
	s.got = append(s.got, sigs...)
	return len(sigs), nil
}

func TestArchiveHookForwardsSignals(t *testing.T) {
	store := &memoryStore{}
	m := newTestManager(t, ManagerConfig{Archive: store})

	sigs := []pipeline.Signal{
		{RunID: "r1", Symbol: "BTC/USDT"},
		{RunID: "r1", Symbol: "ETH/USDT"},
	}
	m.archive("r1", sigs)
	assert.Equal(t, 1, store.calls)
	assert.Len(t, store.got, 2)

	m.archive("r1", nil)
	assert.Equal(t, 1, store.calls, "empty batches never hit the store")

	store.err = errors.New("db down")
	m.archive("r1", sigs)
	assert.Equal(t, 2, store.calls, "store failures only log, the job already finished")
}

func TestArchiveHookOptional(t *testing.T) {
	m := newTestManager(t, ManagerConfig{})
	m.archive("r1", []pipeline.Signal{{RunID: "r1", Symbol: "BTC/USDT"}})
}

func TestJobFailsWhenCooldownStoreBreaks(t *testing.T) {
	venues := exchange.NewRegistry()
	venues.Register(exchange.NewSeededFakeAdapter("fake", 42))

	mgr := cache.NewManager(cache.Config{})
	t.Cleanup(mgr.Stop)
	rm, err := risk.NewManager(10000, risk.DefaultLimits())
	require.NoError(t, err)

	dir := filepath.Join(t.TempDir(), "cooldowns")
	cds, err := risk.NewCooldownStore(dir)
	require.NoError(t, err)
	// A file squatting on the cache dir path fails every cooldown write.
	require.NoError(t, os.WriteFile(dir, []byte{}, 0o644))

	m := NewManager(ManagerConfig{
		Venue: "fake",
		Base:  pipeline.Config{MinScore: 1, Workers: 1},
	}, venues, pipeline.Deps{
		Cache:     mgr,
		Risk:      rm,
		Cooldowns: cds,
		Dominance: stubDominance{},
		Metrics:   telemetry.NewMetrics(prometheus.NewRegistry()),
	})

	snap, err := m.Create(Params{Symbols: []string{"BTC/USDT", "ETH/USDT", "SOL/USDT"}})
	require.NoError(t, err)

	final := waitTerminal(t, m, snap.ID)
	assert.Equal(t, StatusFailed, final.Status)
	assert.Contains(t, final.Error, "cooldown store")
}
