package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"copytrade_go/internal/execution"

	_ "github.com/glebarez/go-sqlite"
)

// AuditStore persists submission audits and execution outcomes in SQLite.
// It implements execution.AuditSink and execution.OutcomeSink.
type AuditStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewAuditStore opens (or creates) the SQLite database at dbPath with WAL enabled.
func NewAuditStore(dbPath string) (*AuditStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma %s: %w", pragma, err)
		}
	}

	schema := []string{
		`CREATE TABLE IF NOT EXISTS submission_audits (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ok INTEGER NOT NULL,
			error_code TEXT NOT NULL DEFAULT '',
			source TEXT NOT NULL,
			digest TEXT NOT NULL DEFAULT '',
			appendix TEXT NOT NULL DEFAULT '',
			builder_id TEXT NOT NULL DEFAULT '',
			builder_fee_rate INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS execution_outcomes (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			idempotency_key TEXT NOT NULL,
			market TEXT NOT NULL,
			side TEXT NOT NULL,
			target_size REAL NOT NULL,
			reason TEXT NOT NULL,
			accepted INTEGER NOT NULL,
			order_id TEXT NOT NULL DEFAULT '',
			error_code TEXT NOT NULL DEFAULT '',
			source TEXT NOT NULL DEFAULT '',
			at INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_outcomes_key ON execution_outcomes(idempotency_key);`,
	}
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to create schema: %w", err)
		}
	}

	return &AuditStore{db: db, now: time.Now}, nil
}

// RecordSubmission stores one SubmitOrder result.
func (s *AuditStore) RecordSubmission(ctx context.Context, res execution.SubmitResult) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO submission_audits
			(ok, error_code, source, digest, appendix, builder_id, builder_fee_rate, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		boolToInt(res.OK), res.ErrorCode, res.Source, res.Audit.Digest, res.Audit.Appendix,
		res.Audit.BuilderID, res.Audit.BuilderFeeRate, s.now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert submission audit: %w", err)
	}
	return nil
}

// RecordOutcome stores one ExecuteIntent attempt.
func (s *AuditStore) RecordOutcome(ctx context.Context, rec execution.OutcomeRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO execution_outcomes
			(idempotency_key, market, side, target_size, reason, accepted, order_id, error_code, source, at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.IdempotencyKey, rec.Market, string(rec.Side), rec.TargetSize, string(rec.Reason),
		boolToInt(rec.Accepted), rec.OrderID, rec.ErrorCode, rec.Source, rec.At.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert execution outcome: %w", err)
	}
	return nil
}

// LoadSubmissions returns the most recent submissions, newest first.
func (s *AuditStore) LoadSubmissions(ctx context.Context, limit int) ([]execution.SubmitResult, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT ok, error_code, source, digest, appendix, builder_id, builder_fee_rate
		 FROM submission_audits ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query submissions: %w", err)
	}
	defer rows.Close()

	var out []execution.SubmitResult
	for rows.Next() {
		var (
			ok  int
			res execution.SubmitResult
		)
		if err := rows.Scan(&ok, &res.ErrorCode, &res.Source, &res.Audit.Digest, &res.Audit.Appendix,
			&res.Audit.BuilderID, &res.Audit.BuilderFeeRate); err != nil {
			return nil, fmt.Errorf("failed to scan submission: %w", err)
		}
		res.OK = ok != 0
		out = append(out, res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return out, nil
}

// CountOutcomes returns how many outcomes were recorded for key.
func (s *AuditStore) CountOutcomes(ctx context.Context, key string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM execution_outcomes WHERE idempotency_key = ?", key).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count outcomes: %w", err)
	}
	return n, nil
}

// Close closes the database connection.
func (s *AuditStore) Close() error {
	return s.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
