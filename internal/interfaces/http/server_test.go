package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smcscan/smcscan/internal/application/pipeline"
	"github.com/smcscan/smcscan/internal/application/scan"
	"github.com/smcscan/smcscan/internal/data/cache"
	"github.com/smcscan/smcscan/internal/data/dominance"
	"github.com/smcscan/smcscan/internal/data/exchange"
	"github.com/smcscan/smcscan/internal/domain/ohlcv"
	"github.com/smcscan/smcscan/internal/domain/regime"
	"github.com/smcscan/smcscan/internal/persistence/postgres"
	"github.com/smcscan/smcscan/internal/risk"
	"github.com/smcscan/smcscan/internal/telemetry"
)

type stubDominance struct {
	snap dominance.Snapshot
}

func (s stubDominance) Fetch(context.Context) (dominance.Snapshot, error) {
	return s.snap, nil
}

// stallAdapter wedges every candle fetch until the scan context dies,
// keeping cancellation tests deterministic.
type stallAdapter struct {
	exchange.Adapter
}

func (a *stallAdapter) FetchOHLCV(ctx context.Context, symbol string, tf ohlcv.Timeframe, limit int, since *time.Time) ([]ohlcv.Bar, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

type serverFixture struct {
	router    http.Handler
	scans     *scan.Manager
	caches    *cache.Manager
	cooldowns *risk.CooldownStore
}

func newTestServer(t *testing.T, opts ...func(*HandlerDeps)) *serverFixture {
	t.Helper()

	registry := exchange.NewRegistry()
	registry.Register(exchange.NewSeededFakeAdapter("fake", 21))
	registry.Register(&stallAdapter{Adapter: exchange.NewSeededFakeAdapter("stall", 21)})

	caches := cache.NewManager(cache.Config{})
	t.Cleanup(caches.Stop)

	riskMgr, err := risk.NewManager(10_000, risk.DefaultLimits())
	require.NoError(t, err)
	cooldowns, err := risk.NewCooldownStore(t.TempDir())
	require.NoError(t, err)

	scans := scan.NewManager(scan.ManagerConfig{Venue: "fake"}, registry, pipeline.Deps{
		Cache:     caches,
		Risk:      riskMgr,
		Cooldowns: cooldowns,
		Dominance: stubDominance{snap: dominance.Snapshot{BTCDom: 52, StableDom: 7}},
		Metrics:   telemetry.NewMetrics(prometheus.NewRegistry()),
	})
	t.Cleanup(scans.Shutdown)

	deps := HandlerDeps{
		Scans:     scans,
		Caches:    caches,
		Risk:      riskMgr,
		Cooldowns: cooldowns,
		Venues:    registry,
		Version:   "test",
	}
	for _, opt := range opts {
		opt(&deps)
	}
	handlers := NewHandlers(deps)

	cfg := DefaultServerConfig()
	cfg.Port = 0
	srv, err := NewServer(cfg, handlers)
	require.NoError(t, err)

	return &serverFixture{
		router:    srv.Router(),
		scans:     scans,
		caches:    caches,
		cooldowns: cooldowns,
	}
}

func (f *serverFixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func (f *serverFixture) waitTerminal(t *testing.T, id string) scan.Snapshot {
	t.Helper()
	var snap scan.Snapshot
	require.Eventually(t, func() bool {
		rec := f.do(t, http.MethodGet, "/api/v1/scans/"+id, nil)
		if rec.Code != http.StatusOK {
			return false
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
		return snap.Status.Terminal()
	}, 10*time.Second, 10*time.Millisecond, "scan %s never finished", id)
	return snap
}

func TestHealthEndpoint(t *testing.T) {
	f := newTestServer(t)

	rec := f.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	var health HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, "test", health.Version)
	assert.Contains(t, health.Venues, "fake")
	assert.Contains(t, health.Venues, "stall")
	assert.Len(t, health.Cache, 5)
	assert.Zero(t, health.ActiveScans)
}

func TestScanLifecycleOverHTTP(t *testing.T) {
	f := newTestServer(t)

	rec := f.do(t, http.MethodPost, "/api/v1/scans", scan.Params{Symbols: []string{"BTC/USDT"}})
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var created scan.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.NotEmpty(t, created.ID)

	final := f.waitTerminal(t, created.ID)
	assert.Equal(t, scan.StatusCompleted, final.Status)
	assert.Equal(t, 1, final.Progress.Total)
	assert.Equal(t, 1, final.Progress.Completed)

	rec = f.do(t, http.MethodGet, "/api/v1/scans", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list ScanListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Equal(t, 1, list.Count)
	require.Len(t, list.Scans, 1)
	assert.Equal(t, created.ID, list.Scans[0].ID)
}

func TestCreateScanValidation(t *testing.T) {
	f := newTestServer(t)

	t.Run("unknown_venue", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/api/v1/scans", scan.Params{Exchange: "binanceXYZ"})
		require.Equal(t, http.StatusBadRequest, rec.Code)

		var resp ErrorResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "invalid_params", resp.Code)
		assert.NotEmpty(t, resp.RequestID)
	})

	t.Run("unknown_mode", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/api/v1/scans", scan.Params{Mode: "warp_speed"})
		require.Equal(t, http.StatusBadRequest, rec.Code)

		var resp ErrorResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "invalid_params", resp.Code)
	})

	t.Run("malformed_body", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/scans", bytes.NewBufferString("{"))
		rec := httptest.NewRecorder()
		f.router.ServeHTTP(rec, req)
		require.Equal(t, http.StatusBadRequest, rec.Code)

		var resp ErrorResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "invalid_body", resp.Code)
	})

	t.Run("empty_body_uses_defaults", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/scans", nil)
		rec := httptest.NewRecorder()
		f.router.ServeHTTP(rec, req)
		require.Equal(t, http.StatusAccepted, rec.Code)

		var created scan.Snapshot
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
		f.waitTerminal(t, created.ID)
	})
}

func TestGetScanMissing(t *testing.T) {
	f := newTestServer(t)

	rec := f.do(t, http.MethodGet, "/api/v1/scans/nope", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "scan_not_found", resp.Code)
	assert.Equal(t, "Not Found", resp.Error)
	assert.NotEmpty(t, resp.RequestID)
}

func TestCancelScanOverHTTP(t *testing.T) {
	f := newTestServer(t)

	t.Run("running_job_cancels", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/api/v1/scans", scan.Params{
			Exchange: "stall",
			Symbols:  []string{"BTC/USDT"},
		})
		require.Equal(t, http.StatusAccepted, rec.Code)
		var created scan.Snapshot
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

		rec = f.do(t, http.MethodDelete, "/api/v1/scans/"+created.ID, nil)
		require.Equal(t, http.StatusAccepted, rec.Code)

		final := f.waitTerminal(t, created.ID)
		assert.Equal(t, scan.StatusCancelled, final.Status)
	})

	t.Run("finished_job_conflicts", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/api/v1/scans", scan.Params{Symbols: []string{"ETH/USDT"}})
		require.Equal(t, http.StatusAccepted, rec.Code)
		var created scan.Snapshot
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
		f.waitTerminal(t, created.ID)

		rec = f.do(t, http.MethodDelete, "/api/v1/scans/"+created.ID, nil)
		require.Equal(t, http.StatusConflict, rec.Code)

		var resp ErrorResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "already_finished", resp.Code)
	})

	t.Run("missing_job_404s", func(t *testing.T) {
		rec := f.do(t, http.MethodDelete, "/api/v1/scans/nope", nil)
		require.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestRegimeEndpoint(t *testing.T) {
	f := newTestServer(t)

	rec := f.do(t, http.MethodGet, "/api/v1/regime", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	var errResp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &errResp))
	assert.Equal(t, "no_observation", errResp.Code)

	f.caches.Regime().Set(cache.RegimeGlobalKey, regime.Regime{
		Composite:  "trending_bull",
		Score:      71.5,
		DetectedAt: time.Now().UTC(),
	})

	rec = f.do(t, http.MethodGet, "/api/v1/regime", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp RegimeResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "trending_bull", resp.Regime.Composite)
	assert.InDelta(t, 71.5, resp.Regime.Score, 1e-9)
}

func TestRiskEndpoint(t *testing.T) {
	f := newTestServer(t)

	rec := f.do(t, http.MethodGet, "/api/v1/risk", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp RiskResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.InDelta(t, 10_000, resp.Summary.Balance, 1e-9)
	assert.Equal(t, 5, resp.Limits.MaxOpenPositions)
}

func TestCooldownRoundTrip(t *testing.T) {
	f := newTestServer(t)

	require.NoError(t, f.cooldowns.Add("BTC/USDT", "LONG", 67500, "signal emitted", time.Hour))
	require.NoError(t, f.cooldowns.Add("ETH/USDT", "SHORT", 3200, "signal emitted", time.Hour))

	rec := f.do(t, http.MethodGet, "/api/v1/cooldowns", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp CooldownsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Count)

	// Slashed symbols ride in the path verbatim.
	rec = f.do(t, http.MethodDelete, "/api/v1/cooldowns/BTC/USDT?direction=LONG", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/v1/cooldowns", nil)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Count)
	_, ok := resp.Cooldowns["BTC/USDT"]
	assert.False(t, ok)
}

type stubSignalReader struct {
	bySymbol map[string][]postgres.Record
	byRun    map[string][]postgres.Record
	err      error
}

func (s *stubSignalReader) ListBySymbol(ctx context.Context, symbol string, limit int) ([]postgres.Record, error) {
	if s.err != nil {
		return nil, s.err
	}
	recs := s.bySymbol[symbol]
	if len(recs) > limit {
		recs = recs[:limit]
	}
	return recs, nil
}

func (s *stubSignalReader) ListByRun(ctx context.Context, runID string) ([]postgres.Record, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.byRun[runID], nil
}

func TestSignalsEndpoint(t *testing.T) {
	t.Run("archive_disabled", func(t *testing.T) {
		f := newTestServer(t)
		rec := f.do(t, http.MethodGet, "/api/v1/signals?symbol=BTC/USDT", nil)
		require.Equal(t, http.StatusNotFound, rec.Code)

		var resp ErrorResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "archive_disabled", resp.Code)
	})

	reader := &stubSignalReader{
		bySymbol: map[string][]postgres.Record{
			"BTC/USDT": {
				{ID: 2, RunID: "r2", Symbol: "BTC/USDT", Direction: "LONG", Score: 81},
				{ID: 1, RunID: "r1", Symbol: "BTC/USDT", Direction: "SHORT", Score: 74},
			},
		},
		byRun: map[string][]postgres.Record{
			"r1": {{ID: 1, RunID: "r1", Symbol: "BTC/USDT", Direction: "SHORT", Score: 74}},
		},
	}
	f := newTestServer(t, func(d *HandlerDeps) { d.Signals = reader })

	t.Run("by_symbol", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/api/v1/signals?symbol=BTC/USDT", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var resp SignalsResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, 2, resp.Count)
		assert.Equal(t, int64(2), resp.Signals[0].ID)
	})

	t.Run("by_symbol_with_limit", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/api/v1/signals?symbol=BTC/USDT&limit=1", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var resp SignalsResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, 1, resp.Count)
	})

	t.Run("by_run", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/api/v1/signals?run_id=r1", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var resp SignalsResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, 1, resp.Count)
		assert.Equal(t, "r1", resp.Signals[0].RunID)
	})

	t.Run("missing_query", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/api/v1/signals", nil)
		require.Equal(t, http.StatusBadRequest, rec.Code)

		var resp ErrorResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "missing_query", resp.Code)
	})

	t.Run("invalid_limit", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/api/v1/signals?symbol=BTC/USDT&limit=zero", nil)
		require.Equal(t, http.StatusBadRequest, rec.Code)

		var resp ErrorResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "invalid_limit", resp.Code)
	})
}

func TestSchedulerEndpointDisabled(t *testing.T) {
	f := newTestServer(t)

	rec := f.do(t, http.MethodGet, "/api/v1/scheduler", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "scheduler_disabled", resp.Code)
}

func TestUnknownRoute(t *testing.T) {
	f := newTestServer(t)

	rec := f.do(t, http.MethodGet, "/api/v1/oracle", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "endpoint_not_found", resp.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	f := newTestServer(t)

	rec := f.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Body.String())
}

func TestRecoveryMiddlewareConvertsPanics(t *testing.T) {
	s := &Server{cfg: DefaultServerConfig()}
	h := s.recoveryMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/scans", nil))

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "internal_error", resp.Code)
}

func TestCORSHeadersForLocalOrigins(t *testing.T) {
	f := newTestServer(t)

	tests := []struct {
		name    string
		origin  string
		allowed bool
	}{
		{name: "localhost", origin: "http://localhost:3000", allowed: true},
		{name: "loopback", origin: "http://127.0.0.1:8080", allowed: true},
		{name: "remote", origin: "https://evil.example.com", allowed: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/health", nil)
			req.Header.Set("Origin", tt.origin)
			rec := httptest.NewRecorder()
			f.router.ServeHTTP(rec, req)

			got := rec.Header().Get("Access-Control-Allow-Origin")
			if tt.allowed {
				assert.Equal(t, tt.origin, got)
			} else {
				assert.Empty(t, got)
			}
		})
	}
}

func TestDefaultServerConfigHonorsEnvPort(t *testing.T) {
	t.Setenv("HTTP_PORT", "9191")
	cfg := DefaultServerConfig()
	assert.Equal(t, 9191, cfg.Port)
	assert.Equal(t, "127.0.0.1", cfg.Host)

	t.Setenv("HTTP_PORT", "not-a-port")
	cfg = DefaultServerConfig()
	assert.Equal(t, 8080, cfg.Port)
}

func TestNewServerRejectsBusyPort(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	port := ln.Addr().(*net.TCPAddr).Port
	cfg := DefaultServerConfig()
	cfg.Port = port

	_, err = NewServer(cfg, &Handlers{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unavailable")
}
