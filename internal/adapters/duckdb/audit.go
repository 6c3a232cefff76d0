// Package duckdb keeps an append-only audit trail of job status transitions
// in an embedded DuckDB file. The job store stays authoritative; this table
// answers "what happened to job X and when" after records are deleted.
package duckdb

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	_ "github.com/marcboeker/go-duckdb"

	"github.com/hexforge/reliefd/internal/core/domain"
)

type AuditLog struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewAuditLog(path string, logger *slog.Logger) (*AuditLog, error) {
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit database: %w", err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS job_transitions (
			job_id     VARCHAR NOT NULL,
			status     VARCHAR NOT NULL,
			progress   INTEGER NOT NULL,
			detail     VARCHAR,
			created_at TIMESTAMP NOT NULL
		)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create audit schema: %w", err)
	}

	return &AuditLog{db: db, logger: logger}, nil
}

func (a *AuditLog) RecordTransition(ctx context.Context, t domain.JobTransition) error {
	_, err := a.db.ExecContext(ctx, `
		INSERT INTO job_transitions (job_id, status, progress, detail, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		string(t.JobID), string(t.Status), t.Progress, t.Detail, t.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert transition: %w", err)
	}
	return nil
}

func (a *AuditLog) ListTransitions(ctx context.Context, id domain.JobID) ([]domain.JobTransition, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT job_id, status, progress, detail, created_at
		FROM job_transitions
		WHERE job_id = ?
		ORDER BY created_at ASC`,
		string(id),
	)
	if err != nil {
		return nil, fmt.Errorf("query transitions: %w", err)
	}
	defer rows.Close()

	var out []domain.JobTransition
	for rows.Next() {
		var t domain.JobTransition
		var jobID, status string
		var detail sql.NullString
		if err := rows.Scan(&jobID, &status, &t.Progress, &detail, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan transition: %w", err)
		}
		t.JobID = domain.JobID(jobID)
		t.Status = domain.JobStatus(status)
		t.Detail = detail.String
		out = append(out, t)
	}
	return out, rows.Err()
}

func (a *AuditLog) Close() error {
	return a.db.Close()
}
