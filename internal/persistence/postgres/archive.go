// Package postgres archives emitted signals so scan history survives
// restarts. The scanner runs fine without it; callers only construct an
// Archive when a DSN is configured.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/smcscan/smcscan/internal/application/pipeline"
)

// ErrDuplicate reports that a signal with the same run, symbol, and
// direction is already archived.
var ErrDuplicate = errors.New("postgres: signal already archived")

// Config holds the connection pool settings.
type Config struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
	QueryTimeout    time.Duration `yaml:"query_timeout"`
}

// DefaultConfig returns pool settings sized for a single scanner node.
func DefaultConfig() Config {
	return Config{
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: 30 * time.Minute,
		ConnMaxIdleTime: 5 * time.Minute,
		QueryTimeout:    30 * time.Second,
	}
}

// Archive persists signals to PostgreSQL.
type Archive struct {
	db      *sqlx.DB
	timeout time.Duration
}

// Open connects and verifies the database is reachable.
func Open(cfg Config) (*Archive, error) {
	if cfg.DSN == "" {
		return nil, errors.New("postgres: dsn is required")
	}
	def := DefaultConfig()
	if cfg.MaxOpenConns <= 0 {
		cfg.MaxOpenConns = def.MaxOpenConns
	}
	if cfg.MaxIdleConns <= 0 {
		cfg.MaxIdleConns = def.MaxIdleConns
	}
	if cfg.ConnMaxLifetime <= 0 {
		cfg.ConnMaxLifetime = def.ConnMaxLifetime
	}
	if cfg.ConnMaxIdleTime <= 0 {
		cfg.ConnMaxIdleTime = def.ConnMaxIdleTime
	}
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = def.QueryTimeout
	}

	db, err := sqlx.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}

	return &Archive{db: db, timeout: cfg.QueryTimeout}, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS signals (
	id            BIGSERIAL PRIMARY KEY,
	run_id        TEXT NOT NULL,
	symbol        TEXT NOT NULL,
	direction     TEXT NOT NULL,
	mode          TEXT NOT NULL,
	score         DOUBLE PRECISION NOT NULL,
	regime        TEXT NOT NULL DEFAULT '',
	market_regime TEXT NOT NULL DEFAULT '',
	entry_low     DOUBLE PRECISION NOT NULL,
	entry_high    DOUBLE PRECISION NOT NULL,
	entry_price   DOUBLE PRECISION NOT NULL,
	stop          DOUBLE PRECISION NOT NULL,
	targets       DOUBLE PRECISION[] NOT NULL DEFAULT '{}',
	trace         JSONB NOT NULL DEFAULT '{}',
	created_at    TIMESTAMPTZ NOT NULL,
	archived_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (run_id, symbol, direction)
);
CREATE INDEX IF NOT EXISTS signals_symbol_created_idx ON signals (symbol, created_at DESC);
CREATE INDEX IF NOT EXISTS signals_run_idx ON signals (run_id);
`

// EnsureSchema creates the signals table and indexes when missing.
func (a *Archive) EnsureSchema(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	if _, err := a.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("postgres: ensure schema: %w", err)
	}
	return nil
}

const insertSignal = `
INSERT INTO signals (run_id, symbol, direction, mode, score, regime, market_regime,
	entry_low, entry_high, entry_price, stop, targets, trace, created_at)
VALUES (:run_id, :symbol, :direction, :mode, :score, :regime, :market_regime,
	:entry_low, :entry_high, :entry_price, :stop, :targets, :trace, :created_at)
ON CONFLICT (run_id, symbol, direction) DO NOTHING
RETURNING id, archived_at`

// SaveSignal archives one signal and returns its row. ErrDuplicate
// means the same run already archived it.
func (a *Archive) SaveSignal(ctx context.Context, sig pipeline.Signal) (Record, error) {
	rec, err := newRecord(sig)
	if err != nil {
		return Record{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	rows, err := a.db.NamedQueryContext(ctx, insertSignal, rec)
	if err != nil {
		return Record{}, fmt.Errorf("postgres: insert signal %s: %w", sig.Symbol, err)
	}
	defer rows.Close()

	if !rows.Next() {
		return Record{}, ErrDuplicate
	}
	if err := rows.Scan(&rec.ID, &rec.ArchivedAt); err != nil {
		return Record{}, fmt.Errorf("postgres: scan inserted id: %w", err)
	}
	return rec, rows.Err()
}

// SaveSignals archives a batch atomically and reports how many rows
// were new. Replays of the same run insert nothing and return zero.
func (a *Archive) SaveSignals(ctx context.Context, sigs []pipeline.Signal) (int, error) {
	if len(sigs) == 0 {
		return 0, nil
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	tx, err := a.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("postgres: begin batch: %w", err)
	}
	defer tx.Rollback()

	saved := 0
	for _, sig := range sigs {
		rec, err := newRecord(sig)
		if err != nil {
			return 0, err
		}
		res, err := tx.NamedExecContext(ctx, insertSignalNoReturn, rec)
		if err != nil {
			return 0, fmt.Errorf("postgres: insert signal %s: %w", sig.Symbol, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("postgres: rows affected: %w", err)
		}
		saved += int(n)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("postgres: commit batch: %w", err)
	}
	return saved, nil
}

const insertSignalNoReturn = `
INSERT INTO signals (run_id, symbol, direction, mode, score, regime, market_regime,
	entry_low, entry_high, entry_price, stop, targets, trace, created_at)
VALUES (:run_id, :symbol, :direction, :mode, :score, :regime, :market_regime,
	:entry_low, :entry_high, :entry_price, :stop, :targets, :trace, :created_at)
ON CONFLICT (run_id, symbol, direction) DO NOTHING`

const selectColumns = `
SELECT id, run_id, symbol, direction, mode, score, regime, market_regime,
	entry_low, entry_high, entry_price, stop, targets, trace, created_at, archived_at
FROM signals`

// ListBySymbol returns a symbol's archived signals, newest first.
func (a *Archive) ListBySymbol(ctx context.Context, symbol string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	var recs []Record
	query := selectColumns + ` WHERE symbol = $1 ORDER BY created_at DESC LIMIT $2`
	if err := a.db.SelectContext(ctx, &recs, query, symbol, limit); err != nil {
		return nil, fmt.Errorf("postgres: list signals for %s: %w", symbol, err)
	}
	return recs, nil
}

// ListByRun returns every signal a run archived.
func (a *Archive) ListByRun(ctx context.Context, runID string) ([]Record, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	var recs []Record
	query := selectColumns + ` WHERE run_id = $1 ORDER BY symbol`
	if err := a.db.SelectContext(ctx, &recs, query, runID); err != nil {
		return nil, fmt.Errorf("postgres: list signals for run %s: %w", runID, err)
	}
	return recs, nil
}

// Count reports the archive size.
func (a *Archive) Count(ctx context.Context) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	var n int64
	if err := a.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM signals`); err != nil {
		return 0, fmt.Errorf("postgres: count signals: %w", err)
	}
	return n, nil
}

// Ping verifies connectivity.
func (a *Archive) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	return a.db.PingContext(ctx)
}

// Close releases the pool.
func (a *Archive) Close() error {
	if a.db == nil {
		return nil
	}
	return a.db.Close()
}
