package http

import (
	"time"

	"github.com/smcscan/smcscan/internal/application/scan"
	"github.com/smcscan/smcscan/internal/application/scheduler"
	"github.com/smcscan/smcscan/internal/data/cache"
	"github.com/smcscan/smcscan/internal/domain/regime"
	"github.com/smcscan/smcscan/internal/persistence/postgres"
	"github.com/smcscan/smcscan/internal/risk"
)

// ErrorResponse is the standard error envelope for every endpoint.
type ErrorResponse struct {
	Error     string    `json:"error"`
	Message   string    `json:"message"`
	Code      string    `json:"code"`
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

// HealthResponse reports process liveness and the state of the shared
// services behind the scanner.
type HealthResponse struct {
	Status        string        `json:"status"`
	Version       string        `json:"version"`
	UptimeSeconds float64       `json:"uptime_seconds"`
	Timestamp     time.Time     `json:"timestamp"`
	Venues        []string      `json:"venues"`
	Cache         []cache.Stats `json:"cache"`
	ActiveScans   int           `json:"active_scans"`
}

// ScanListResponse wraps the retained scan history.
type ScanListResponse struct {
	Count int             `json:"count"`
	Scans []scan.Snapshot `json:"scans"`
}

// RegimeResponse serves the most recent market regime observation.
type RegimeResponse struct {
	Regime    regime.Regime `json:"regime"`
	Timestamp time.Time     `json:"timestamp"`
}

// RiskResponse serves the portfolio snapshot.
type RiskResponse struct {
	Summary risk.Summary `json:"summary"`
	Limits  risk.Limits  `json:"limits"`
}

// CooldownsResponse lists live cooldowns keyed by symbol and direction.
type CooldownsResponse struct {
	Count     int                                      `json:"count"`
	Cooldowns map[string]map[string]risk.CooldownEntry `json:"cooldowns"`
}

// SignalsResponse lists archived signals.
type SignalsResponse struct {
	Count   int               `json:"count"`
	Signals []postgres.Record `json:"signals"`
}

// SchedulerResponse reports the recurring job table.
type SchedulerResponse struct {
	Jobs []scheduler.JobStatus `json:"jobs"`
}
