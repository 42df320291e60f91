// Package history is the append-only log of pipeline runs, one record per
// run per horizon. The canonical log is a JSONL file; a Postgres mirror can
// be attached for dashboard queries and is strictly best-effort.
package history

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/halcyonquant/retune/internal/deploy"
	"github.com/halcyonquant/retune/internal/domain"
	"github.com/halcyonquant/retune/internal/trigger"
	"github.com/halcyonquant/retune/internal/validate"
)

// Outcome is the one-line result of a pipeline run for a horizon.
type Outcome string

const (
	OutcomeNoOp       Outcome = "no-op"
	OutcomeDeployed   Outcome = "deployed"
	OutcomeRejected   Outcome = "rejected"
	OutcomeRolledBack Outcome = "rolled_back"
	OutcomeFailed     Outcome = "failed"
)

// Record summarizes one pipeline run for one horizon.
type Record struct {
	RunID      string           `json:"run_id"`
	Horizon    string           `json:"horizon"`
	Timestamp  time.Time        `json:"timestamp"`
	Outcome    Outcome          `json:"outcome"`
	DryRun     bool             `json:"dry_run,omitempty"`
	DurationMS int64            `json:"duration_ms"`
	Trigger    *trigger.Report  `json:"trigger,omitempty"`
	Validation *validate.Report `json:"validation,omitempty"`
	Deployment *deploy.Record   `json:"deployment,omitempty"`
	Error      string           `json:"error,omitempty"`
}

// Sink receives history records. Sinks must tolerate being called from
// concurrent per-horizon pipeline runs.
type Sink interface {
	Append(rec Record) error
}

// FileLog is the canonical append-only JSONL log.
type FileLog struct {
	path string
	mu   sync.Mutex
}

// NewFileLog creates a log at path, creating parent directories lazily.
func NewFileLog(path string) *FileLog {
	return &FileLog{path: path}
}

// Append writes one record as a JSON line.
func (l *FileLog) Append(rec Record) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return fmt.Errorf("create history dir: %w", err)
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal history record: %w", err)
	}

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open history log: %w", err)
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		f.Close()
		return fmt.Errorf("append history record: %w", err)
	}
	return f.Close()
}

// Tail returns up to limit records for a horizon, most recent first. An
// empty horizon matches every record. Unparseable lines are skipped.
func (l *FileLog) Tail(h domain.Horizon, limit int) ([]Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open history log: %w", err)
	}
	defer f.Close()

	var matched []Record
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		var rec Record
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			continue
		}
		if h != "" && rec.Horizon != string(h) {
			continue
		}
		matched = append(matched, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan history log: %w", err)
	}

	// File order is chronological; reverse for most-recent-first.
	for i, j := 0, len(matched)-1; i < j; i, j = i+1, j-1 {
		matched[i], matched[j] = matched[j], matched[i]
	}
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}
