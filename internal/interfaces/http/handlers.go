package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/smcscan/smcscan/internal/application/scan"
	"github.com/smcscan/smcscan/internal/application/scheduler"
	"github.com/smcscan/smcscan/internal/data/cache"
	"github.com/smcscan/smcscan/internal/data/exchange"
	"github.com/smcscan/smcscan/internal/domain/regime"
	"github.com/smcscan/smcscan/internal/persistence/postgres"
	"github.com/smcscan/smcscan/internal/risk"
)

// SignalReader serves archived signals.
type SignalReader interface {
	ListBySymbol(ctx context.Context, symbol string, limit int) ([]postgres.Record, error)
	ListByRun(ctx context.Context, runID string) ([]postgres.Record, error)
}

// Handlers serves the scanner's API over the shared services.
type Handlers struct {
	scans     *scan.Manager
	sched     *scheduler.Scheduler
	caches    *cache.Manager
	risk      *risk.Manager
	cooldowns *risk.CooldownStore
	venues    *exchange.Registry
	signals   SignalReader
	version   string
	startedAt time.Time
}

// HandlerDeps wires the endpoints. Sched and Signals may be nil when
// the scheduler or the archive is not running.
type HandlerDeps struct {
	Scans     *scan.Manager
	Sched     *scheduler.Scheduler
	Caches    *cache.Manager
	Risk      *risk.Manager
	Cooldowns *risk.CooldownStore
	Venues    *exchange.Registry
	Signals   SignalReader
	Version   string
}

// NewHandlers builds the endpoint set.
func NewHandlers(deps HandlerDeps) *Handlers {
	return &Handlers{
		scans:     deps.Scans,
		sched:     deps.Sched,
		caches:    deps.Caches,
		risk:      deps.Risk,
		cooldowns: deps.Cooldowns,
		venues:    deps.Venues,
		signals:   deps.Signals,
		version:   deps.Version,
		startedAt: time.Now().UTC(),
	}
}

func (h *Handlers) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, `{"error":"json_encoding_failed"}`, http.StatusInternalServerError)
	}
}

func (h *Handlers) writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	h.writeJSON(w, status, ErrorResponse{
		Error:     http.StatusText(status),
		Message:   message,
		Code:      code,
		RequestID: requestIDFrom(r.Context()),
		Timestamp: time.Now().UTC(),
	})
}

// Health reports liveness plus cache and scan activity.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	active := 0
	for _, snap := range h.scans.List() {
		if !snap.Status.Terminal() {
			active++
		}
	}
	h.writeJSON(w, http.StatusOK, HealthResponse{
		Status:        "healthy",
		Version:       h.version,
		UptimeSeconds: time.Since(h.startedAt).Seconds(),
		Timestamp:     time.Now().UTC(),
		Venues:        h.venues.Names(),
		Cache:         h.caches.Stats(),
		ActiveScans:   active,
	})
}

// CreateScan starts an asynchronous scan job.
func (h *Handlers) CreateScan(w http.ResponseWriter, r *http.Request) {
	var params scan.Params
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil && !errors.Is(err, io.EOF) {
		h.writeError(w, r, http.StatusBadRequest, "invalid_body", "request body is not valid JSON")
		return
	}
	snap, err := h.scans.Create(params)
	if err != nil {
		h.writeError(w, r, http.StatusBadRequest, "invalid_params", err.Error())
		return
	}
	h.writeJSON(w, http.StatusAccepted, snap)
}

// GetScan serves one job snapshot.
func (h *Handlers) GetScan(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	snap, ok := h.scans.Get(id)
	if !ok {
		h.writeError(w, r, http.StatusNotFound, "scan_not_found", "no scan with id "+id)
		return
	}
	h.writeJSON(w, http.StatusOK, snap)
}

// ListScans serves the retained history, newest first.
func (h *Handlers) ListScans(w http.ResponseWriter, r *http.Request) {
	scans := h.scans.List()
	h.writeJSON(w, http.StatusOK, ScanListResponse{Count: len(scans), Scans: scans})
}

// CancelScan requests cooperative cancellation of a running job.
func (h *Handlers) CancelScan(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	snap, err := h.scans.Cancel(id)
	switch {
	case errors.Is(err, scan.ErrNotFound):
		h.writeError(w, r, http.StatusNotFound, "scan_not_found", "no scan with id "+id)
	case errors.Is(err, scan.ErrFinished):
		h.writeError(w, r, http.StatusConflict, "already_finished", "scan "+id+" already finished")
	default:
		h.writeJSON(w, http.StatusAccepted, snap)
	}
}

// Regime serves the market regime from the shared cache. 404 until the
// first scan has observed one.
func (h *Handlers) Regime(w http.ResponseWriter, r *http.Request) {
	v, ok := h.caches.Regime().Get(cache.RegimeGlobalKey)
	if !ok {
		h.writeError(w, r, http.StatusNotFound, "no_observation", "no regime observation yet, run a scan first")
		return
	}
	reg, ok := v.(regime.Regime)
	if !ok {
		h.writeError(w, r, http.StatusInternalServerError, "bad_cache_entry", "regime cache entry has unexpected shape")
		return
	}
	h.writeJSON(w, http.StatusOK, RegimeResponse{Regime: reg, Timestamp: time.Now().UTC()})
}

// Risk serves the portfolio snapshot and configured limits.
func (h *Handlers) Risk(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, RiskResponse{
		Summary: h.risk.Snapshot(),
		Limits:  h.risk.Limits(),
	})
}

// Cooldowns lists live cooldowns.
func (h *Handlers) Cooldowns(w http.ResponseWriter, r *http.Request) {
	active := h.cooldowns.Active()
	count := 0
	for _, dirs := range active {
		count += len(dirs)
	}
	h.writeJSON(w, http.StatusOK, CooldownsResponse{Count: count, Cooldowns: active})
}

// ClearCooldown clears a symbol's cooldowns, optionally one direction
// via the direction query parameter.
func (h *Handlers) ClearCooldown(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]
	direction := r.URL.Query().Get("direction")
	if err := h.cooldowns.Clear(symbol, direction); err != nil {
		h.writeError(w, r, http.StatusInternalServerError, "clear_failed", err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Signals serves archived signals by symbol or run.
func (h *Handlers) Signals(w http.ResponseWriter, r *http.Request) {
	if h.signals == nil {
		h.writeError(w, r, http.StatusNotFound, "archive_disabled", "signal archival is not configured")
		return
	}

	q := r.URL.Query()
	if runID := q.Get("run_id"); runID != "" {
		recs, err := h.signals.ListByRun(r.Context(), runID)
		if err != nil {
			h.writeError(w, r, http.StatusInternalServerError, "archive_query_failed", err.Error())
			return
		}
		h.writeJSON(w, http.StatusOK, SignalsResponse{Count: len(recs), Signals: recs})
		return
	}

	symbol := q.Get("symbol")
	if symbol == "" {
		h.writeError(w, r, http.StatusBadRequest, "missing_query", "symbol or run_id query parameter is required")
		return
	}
	limit := 50
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			h.writeError(w, r, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer")
			return
		}
		limit = n
	}
	recs, err := h.signals.ListBySymbol(r.Context(), symbol, limit)
	if err != nil {
		h.writeError(w, r, http.StatusInternalServerError, "archive_query_failed", err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, SignalsResponse{Count: len(recs), Signals: recs})
}

// Scheduler reports the recurring job table.
func (h *Handlers) Scheduler(w http.ResponseWriter, r *http.Request) {
	if h.sched == nil {
		h.writeError(w, r, http.StatusNotFound, "scheduler_disabled", "the scheduler is not running")
		return
	}
	h.writeJSON(w, http.StatusOK, SchedulerResponse{Jobs: h.sched.Status()})
}

// NotFound is the router's fallback.
func (h *Handlers) NotFound(w http.ResponseWriter, r *http.Request) {
	h.writeError(w, r, http.StatusNotFound, "endpoint_not_found", "the requested endpoint does not exist")
}
