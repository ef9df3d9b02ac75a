package scan

import (
	"context"
	"sync"
	"time"

	"github.com/smcscan/smcscan/internal/application/pipeline"
)

// Status is a job's lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether the status can no longer change.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Params are the caller-facing knobs of one scan job. Zero fields fall
// back to the manager's base configuration.
type Params struct {
	Symbols  []string `json:"symbols,omitempty" yaml:"symbols"`
	Limit    int      `json:"limit,omitempty" yaml:"limit"`
	Quote    string   `json:"quote,omitempty" yaml:"quote"`
	Mode     string   `json:"mode,omitempty" yaml:"mode"`
	MinScore float64  `json:"min_score,omitempty" yaml:"min_score"`
	Leverage float64  `json:"leverage,omitempty" yaml:"leverage"`
	Exchange string   `json:"exchange,omitempty" yaml:"exchange"`
}

// Progress is the live completion counter of a running job.
type Progress struct {
	Completed  int     `json:"completed"`
	Total      int     `json:"total"`
	Percent    float64 `json:"percent"`
	LastSymbol string  `json:"last_symbol,omitempty"`
}

// Snapshot is a point-in-time copy of a job, safe to serve while the
// scan keeps running.
type Snapshot struct {
	ID           string            `json:"id"`
	Status       Status            `json:"status"`
	Params       Params            `json:"params"`
	Progress     Progress          `json:"progress"`
	Signals      []pipeline.Signal `json:"signals"`
	ByReason     map[string]int    `json:"rejections_by_reason"`
	ByStage      map[string]int    `json:"rejections_by_stage"`
	MarketRegime string            `json:"market_regime,omitempty"`
	Error        string            `json:"error,omitempty"`
	Artifact     string            `json:"artifact,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	StartedAt    time.Time         `json:"started_at"`
	FinishedAt   time.Time         `json:"finished_at"`
	DurationMS   int64             `json:"duration_ms"`
}

type job struct {
	mu         sync.RWMutex
	id         string
	params     Params
	status     Status
	total      int
	completed  int
	lastSymbol string
	signals    []pipeline.Signal
	byReason   map[string]int
	byStage    map[string]int
	market     string
	errMsg     string
	artifact   string
	createdAt  time.Time
	startedAt  time.Time
	finishedAt time.Time
	cancel     context.CancelFunc
}

func newJob(id string, params Params, cancel context.CancelFunc) *job {
	return &job{
		id:        id,
		params:    params,
		status:    StatusPending,
		byReason:  make(map[string]int),
		byStage:   make(map[string]int),
		createdAt: time.Now().UTC(),
		cancel:    cancel,
	}
}

func (j *job) setRunning() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.status = StatusRunning
	j.startedAt = time.Now().UTC()
}

// onProgress feeds the live counters. Called from pipeline workers.
func (j *job) onProgress(completed, total int, symbol string, sig *pipeline.Signal, rej *pipeline.Rejection) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.completed = completed
	j.total = total
	j.lastSymbol = symbol
	if sig != nil {
		j.signals = append(j.signals, *sig)
	}
	if rej != nil {
		j.byReason[rej.Reason]++
		j.byStage[rej.Stage]++
	}
}

func (j *job) finish(res *pipeline.Result, err error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.finishedAt = time.Now().UTC()
	switch {
	case err != nil:
		j.status = StatusFailed
		j.errMsg = err.Error()
	case res.Cancelled:
		j.status = StatusCancelled
	default:
		j.status = StatusCompleted
	}
	if res != nil {
		// The run's own accounting is canonical; progress callbacks may
		// have raced the final tally.
		j.completed = res.Scanned
		j.total = res.Total
		j.signals = res.Signals
		j.byReason = res.RejectionsByReason()
		j.byStage = res.RejectionsByStage()
		j.market = res.Market.Composite
	}
}

func (j *job) snapshot() Snapshot {
	j.mu.RLock()
	defer j.mu.RUnlock()

	signals := make([]pipeline.Signal, len(j.signals))
	copy(signals, j.signals)
	byReason := make(map[string]int, len(j.byReason))
	for k, v := range j.byReason {
		byReason[k] = v
	}
	byStage := make(map[string]int, len(j.byStage))
	for k, v := range j.byStage {
		byStage[k] = v
	}

	var pct float64
	if j.total > 0 {
		pct = float64(j.completed) / float64(j.total) * 100
	}
	var durationMS int64
	if !j.startedAt.IsZero() {
		end := j.finishedAt
		if end.IsZero() {
			end = time.Now().UTC()
		}
		durationMS = end.Sub(j.startedAt).Milliseconds()
	}

	return Snapshot{
		ID:     j.id,
		Status: j.status,
		Params: j.params,
		Progress: Progress{
			Completed:  j.completed,
			Total:      j.total,
			Percent:    pct,
			LastSymbol: j.lastSymbol,
		},
		Signals:      signals,
		ByReason:     byReason,
		ByStage:      byStage,
		MarketRegime: j.market,
		Error:        j.errMsg,
		Artifact:     j.artifact,
		CreatedAt:    j.createdAt,
		StartedAt:    j.startedAt,
		FinishedAt:   j.finishedAt,
		DurationMS:   durationMS,
	}
}
