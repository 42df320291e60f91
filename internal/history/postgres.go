package history

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog/log"
)

const runsSchema = `
CREATE TABLE IF NOT EXISTS optimization_runs (
	id          BIGSERIAL PRIMARY KEY,
	run_id      TEXT NOT NULL,
	horizon     TEXT NOT NULL,
	ts          TIMESTAMPTZ NOT NULL,
	outcome     TEXT NOT NULL,
	dry_run     BOOLEAN NOT NULL DEFAULT FALSE,
	duration_ms BIGINT NOT NULL,
	detail      JSONB,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_optimization_runs_horizon_ts
	ON optimization_runs (horizon, ts DESC);`

// PostgresSink mirrors history records into Postgres for dashboard queries.
// The JSONL file stays canonical; mirror failures are logged and swallowed.
type PostgresSink struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewPostgresSink connects to Postgres and ensures the runs table exists.
func NewPostgresSink(dsn string, timeout time.Duration) (*PostgresSink, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if _, err := db.Exec(runsSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure optimization_runs schema: %w", err)
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &PostgresSink{db: db, timeout: timeout}, nil
}

// Append implements Sink. Errors are reported to the caller but callers are
// expected to treat the mirror as best-effort.
func (s *PostgresSink) Append(rec Record) error {
	detail, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal history record: %w", err)
	}

	query := `
		INSERT INTO optimization_runs (run_id, horizon, ts, outcome, dry_run, duration_ms, detail)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	if _, err := s.db.Exec(query,
		rec.RunID, rec.Horizon, rec.Timestamp, string(rec.Outcome),
		rec.DryRun, rec.DurationMS, detail); err != nil {
		return fmt.Errorf("insert optimization run: %w", err)
	}
	return nil
}

// Close releases the database connection.
func (s *PostgresSink) Close() error {
	return s.db.Close()
}

// MultiSink fans a record out to every sink; only the first sink (the
// canonical log) can fail the append, the rest are best-effort.
type MultiSink []Sink

// Append implements Sink.
func (m MultiSink) Append(rec Record) error {
	for i, sink := range m {
		if err := sink.Append(rec); err != nil {
			if i == 0 {
				return err
			}
			log.Warn().Err(err).Str("run_id", rec.RunID).Msg("Best-effort history sink failed")
		}
	}
	return nil
}
