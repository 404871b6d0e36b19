// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package usage persists orchestrated call outcomes to SQLite.
package usage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/jeranaias/rigrun-router/internal/llm"
	"github.com/jeranaias/rigrun-router/internal/orchestrator"
	"github.com/jeranaias/rigrun-router/internal/router"
)

const schema = `
CREATE TABLE IF NOT EXISTS calls (
	id                TEXT PRIMARY KEY,
	ts                INTEGER NOT NULL,
	task_type         TEXT NOT NULL,
	complexity        TEXT NOT NULL,
	tier              TEXT NOT NULL,
	provider          TEXT NOT NULL DEFAULT '',
	model             TEXT NOT NULL DEFAULT '',
	attempts          INTEGER NOT NULL DEFAULT 0,
	fallbacks         INTEGER NOT NULL DEFAULT 0,
	streamed          INTEGER NOT NULL DEFAULT 0,
	abandoned         INTEGER NOT NULL DEFAULT 0,
	prompt_tokens     INTEGER NOT NULL DEFAULT 0,
	completion_tokens INTEGER NOT NULL DEFAULT 0,
	estimated         INTEGER NOT NULL DEFAULT 0,
	cost              REAL NOT NULL DEFAULT 0,
	baseline_cost     REAL NOT NULL DEFAULT 0,
	latency_ms        INTEGER NOT NULL DEFAULT 0,
	error_kind        TEXT NOT NULL DEFAULT '',
	error_message     TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_calls_ts ON calls(ts);
CREATE INDEX IF NOT EXISTS idx_calls_provider_model ON calls(provider, model);
`

// Ledger is an orchestrator.Recorder backed by SQLite. It is safe for
// concurrent use.
type Ledger struct {
	db *sql.DB
}

var _ orchestrator.Recorder = (*Ledger)(nil)

// Open opens or creates the ledger at path.
func Open(path string) (*Ledger, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
			return nil, fmt.Errorf("failed to create ledger directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return &Ledger{db: db}, nil
}

// Close releases the database.
func (l *Ledger) Close() error {
	return l.db.Close()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Record stores one outcome. Outcomes without a request id get a fresh one;
// recording the same id twice replaces the earlier row.
func (l *Ledger) Record(ctx context.Context, o orchestrator.Outcome) error {
	id := o.RequestID
	if id == "" {
		id = uuid.NewString()
	}
	ts := o.Time
	if ts.IsZero() {
		ts = time.Now()
	}

	_, err := l.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO calls (
			id, ts, task_type, complexity, tier, provider, model,
			attempts, fallbacks, streamed, abandoned,
			prompt_tokens, completion_tokens, estimated,
			cost, baseline_cost, latency_ms, error_kind, error_message
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, ts.UnixMilli(), o.TaskType.String(), o.Complexity.String(), o.Tier.String(),
		o.Provider, o.Model,
		o.Attempts, o.Fallbacks, boolInt(o.Streamed), boolInt(o.Abandoned),
		o.Usage.PromptTokens, o.Usage.CompletionTokens, boolInt(o.Usage.Estimated),
		o.Cost, o.Baseline, o.LatencyMs, string(o.ErrKind), o.ErrMessage,
	)
	if err != nil {
		return fmt.Errorf("record usage: %w", err)
	}
	return nil
}

// =============================================================================
// QUERIES
// =============================================================================

// Row aggregates the calls served by one provider and model.
type Row struct {
	Provider         string  `json:"provider"`
	Model            string  `json:"model"`
	Calls            int     `json:"calls"`
	Failed           int     `json:"failed"`
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	Cost             float64 `json:"cost"`
}

// Summary aggregates the ledger from a point in time.
type Summary struct {
	Since  time.Time `json:"since"`
	Rows   []Row     `json:"rows"`
	Totals Row       `json:"totals"`
	// Saved is the baseline cost minus the actual cost over successful calls.
	Saved float64 `json:"saved"`
}

// Summarize groups calls at or after since by provider and model, most
// expensive first.
func (l *Ledger) Summarize(ctx context.Context, since time.Time) (Summary, error) {
	s := Summary{Since: since}

	rows, err := l.db.QueryContext(ctx, `
		SELECT provider, model, COUNT(*),
			SUM(CASE WHEN error_kind != '' THEN 1 ELSE 0 END),
			SUM(prompt_tokens), SUM(completion_tokens), SUM(cost)
		FROM calls
		WHERE ts >= ?
		GROUP BY provider, model
		ORDER BY SUM(cost) DESC, provider, model`, since.UnixMilli())
	if err != nil {
		return s, fmt.Errorf("summarize usage: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var r Row
		if err := rows.Scan(&r.Provider, &r.Model, &r.Calls, &r.Failed,
			&r.PromptTokens, &r.CompletionTokens, &r.Cost); err != nil {
			return s, fmt.Errorf("scan usage: %w", err)
		}
		s.Rows = append(s.Rows, r)
		s.Totals.Calls += r.Calls
		s.Totals.Failed += r.Failed
		s.Totals.PromptTokens += r.PromptTokens
		s.Totals.CompletionTokens += r.CompletionTokens
		s.Totals.Cost += r.Cost
	}
	if err := rows.Err(); err != nil {
		return s, err
	}

	err = l.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(baseline_cost - cost), 0)
		FROM calls
		WHERE ts >= ? AND error_kind = ''`, since.UnixMilli()).Scan(&s.Saved)
	if err != nil {
		return s, fmt.Errorf("summarize savings: %w", err)
	}
	return s, nil
}

// Recent returns up to limit outcomes, newest first.
func (l *Ledger) Recent(ctx context.Context, limit int) ([]orchestrator.Outcome, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, ts, task_type, complexity, tier, provider, model,
			attempts, fallbacks, streamed, abandoned,
			prompt_tokens, completion_tokens, estimated,
			cost, baseline_cost, latency_ms, error_kind, error_message
		FROM calls
		ORDER BY ts DESC, id
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent usage: %w", err)
	}
	defer rows.Close()

	var out []orchestrator.Outcome
	for rows.Next() {
		var (
			o                               orchestrator.Outcome
			ts                              int64
			task, complexity, tier, errKind string
			streamed, abandoned, estimated  int
		)
		if err := rows.Scan(&o.RequestID, &ts, &task, &complexity, &tier, &o.Provider, &o.Model,
			&o.Attempts, &o.Fallbacks, &streamed, &abandoned,
			&o.Usage.PromptTokens, &o.Usage.CompletionTokens, &estimated,
			&o.Cost, &o.Baseline, &o.LatencyMs, &errKind, &o.ErrMessage); err != nil {
			return nil, fmt.Errorf("scan usage: %w", err)
		}

		o.Time = time.UnixMilli(ts)
		o.Streamed, o.Abandoned, o.Usage.Estimated = streamed == 1, abandoned == 1, estimated == 1
		o.Usage = o.Usage.Normalize()
		o.ErrKind = llm.Kind(errKind)
		// Unknown labels from an older schema decode as the zero value.
		_ = o.TaskType.UnmarshalText([]byte(task))
		_ = o.Complexity.UnmarshalText([]byte(complexity))
		if t, err := router.ParseTier(tier); err == nil {
			o.Tier = t
		}
		out = append(out, o)
	}
	return out, rows.Err()
}
