package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/odaibert/apim-token-monitor/internal/domain"
	"github.com/odaibert/apim-token-monitor/internal/storage"
)

// Store implements storage.BurstRepository on SQLite.
type Store struct {
	db *sql.DB
}

// NewStore opens (creating if needed) the history database at path.
func NewStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{db: db}, nil
}

// InsertBurst records a newly started burst.
func (s *Store) InsertBurst(ctx context.Context, burst domain.Burst) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO bursts (id, requested, prompt, model, started_at) VALUES (?, ?, ?, ?, ?)`,
		burst.ID, burst.Requested, burst.Prompt, burst.Model, burst.StartedAt)
	if err != nil {
		return fmt.Errorf("insert burst: %w", err)
	}
	return nil
}

// AppendResult stores one probe result.
func (s *Store) AppendResult(ctx context.Context, r domain.ProbeResult) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO probe_results
			(burst_id, seq, ts, http_status, latency_ms, outcome, tokens, retry_after_seconds, remaining_tokens, detail)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.BurstID, r.Seq, r.Timestamp, r.HTTPStatus, r.LatencyMS, string(r.Outcome),
		r.Tokens, nullableInt(r.RetryAfterSec), nullableInt64(r.RemainingTokens), r.Detail)
	if err != nil {
		return fmt.Errorf("append result: %w", err)
	}
	return nil
}

// FinishBurst writes the final aggregate onto the burst row.
func (s *Store) FinishBurst(ctx context.Context, summary domain.BurstSummary) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE bursts SET finished_at = ?, total = ?, success_count = ?, throttled_count = ?,
			error_count = ?, tokens = ?, aborted = ? WHERE id = ?`,
		summary.FinishedAt, summary.Total, summary.SuccessCount, summary.ThrottledCount,
		summary.ErrorCount, summary.Tokens, boolToInt(summary.Aborted), summary.BurstID)
	if err != nil {
		return fmt.Errorf("finish burst: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// ListBursts returns the most recent finished or running bursts, newest first.
func (s *Store) ListBursts(ctx context.Context, limit int) ([]domain.BurstSummary, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, total, success_count, throttled_count, error_count, tokens,
			started_at, COALESCE(finished_at, started_at), aborted
		 FROM bursts ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list bursts: %w", err)
	}
	defer rows.Close()

	var summaries []domain.BurstSummary
	for rows.Next() {
		var sum domain.BurstSummary
		var aborted int
		if err := rows.Scan(&sum.BurstID, &sum.Total, &sum.SuccessCount, &sum.ThrottledCount,
			&sum.ErrorCount, &sum.Tokens, &sum.StartedAt, &sum.FinishedAt, &aborted); err != nil {
			return nil, fmt.Errorf("scan burst: %w", err)
		}
		sum.Aborted = aborted != 0
		summaries = append(summaries, sum)
	}
	return summaries, rows.Err()
}

// ListResults returns the ordered result sequence of a burst.
func (s *Store) ListResults(ctx context.Context, burstID string) ([]domain.ProbeResult, error) {
	var exists int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM bursts WHERE id = ?`, burstID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lookup burst: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT burst_id, seq, ts, http_status, latency_ms, outcome, tokens,
			retry_after_seconds, remaining_tokens, detail
		 FROM probe_results WHERE burst_id = ? ORDER BY seq`, burstID)
	if err != nil {
		return nil, fmt.Errorf("list results: %w", err)
	}
	defer rows.Close()

	var results []domain.ProbeResult
	for rows.Next() {
		var r domain.ProbeResult
		var outcome string
		var retryAfter sql.NullInt64
		var remaining sql.NullInt64
		if err := rows.Scan(&r.BurstID, &r.Seq, &r.Timestamp, &r.HTTPStatus, &r.LatencyMS,
			&outcome, &r.Tokens, &retryAfter, &remaining, &r.Detail); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		r.Outcome = domain.Outcome(outcome)
		if retryAfter.Valid {
			v := int(retryAfter.Int64)
			r.RetryAfterSec = &v
		}
		if remaining.Valid {
			v := remaining.Int64
			r.RemainingTokens = &v
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func nullableInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullableInt64(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
