package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"confirmit/internal/receipt/models"
	"confirmit/pkg/sentinel"
)

// PostgresStore persists jobs in PostgreSQL. Pure I/O; stage-order rules live
// in the models and are re-checked here only as a terminal guard so a crashed
// orchestrator cannot corrupt finished jobs on restart.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const receiptsSchema = `
CREATE TABLE IF NOT EXISTS receipts (
	id                   TEXT PRIMARY KEY,
	owner_ref            TEXT NOT NULL,
	artifact_url         TEXT,
	artifact_provider_id TEXT,
	stage                TEXT NOT NULL,
	verdict              JSONB,
	anchor               JSONB,
	error_cause          TEXT,
	error_message        TEXT,
	note                 TEXT NOT NULL DEFAULT '',
	anchor_requested     BOOLEAN NOT NULL DEFAULT FALSE,
	submitted_at         TIMESTAMPTZ NOT NULL,
	completed_at         TIMESTAMPTZ,
	processing_time_ms   BIGINT NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS receipts_owner_idx ON receipts (owner_ref, submitted_at DESC);
`

// EnsureSchema creates the receipts table when migrations have not run.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, receiptsSchema); err != nil {
		return fmt.Errorf("ensure receipts schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Create(ctx context.Context, job *models.Job) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO receipts (id, owner_ref, stage, anchor_requested, submitted_at)
		VALUES ($1, $2, $3, $4, $5)
	`, job.ID, job.OwnerRef, string(job.Stage), job.AnchorRequested, job.SubmittedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*models.Job, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, owner_ref, artifact_url, artifact_provider_id, stage, verdict, anchor,
		       error_cause, error_message, note, anchor_requested, submitted_at, completed_at, processing_time_ms
		FROM receipts
		WHERE id = $1
	`, id)
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

func (s *PostgresStore) ListByOwner(ctx context.Context, ownerRef string, limit int) ([]*models.Job, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner_ref, artifact_url, artifact_provider_id, stage, verdict, anchor,
		       error_cause, error_message, note, anchor_requested, submitted_at, completed_at, processing_time_ms
		FROM receipts
		WHERE owner_ref = $1
		ORDER BY submitted_at DESC
		LIMIT $2
	`, ownerRef, limit)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func (s *PostgresStore) SetArtifact(ctx context.Context, id string, ref models.ArtifactRef) error {
	return s.exec(ctx, `
		UPDATE receipts SET artifact_url = $2, artifact_provider_id = $3 WHERE id = $1
	`, id, ref.URL, ref.ProviderID)
}

func (s *PostgresStore) AdvanceStage(ctx context.Context, id string, next models.Stage) error {
	// The guard mirrors Stage.CanAdvance: never out of a terminal stage.
	res, err := s.db.ExecContext(ctx, `
		UPDATE receipts SET stage = $2
		WHERE id = $1 AND stage NOT IN ('complete', 'failed')
	`, id, string(next))
	if err != nil {
		return fmt.Errorf("advance stage: %w", err)
	}
	return s.checkGuarded(ctx, res, id)
}

func (s *PostgresStore) SaveVerdict(ctx context.Context, id string, verdict models.Verdict) error {
	payload, err := json.Marshal(verdict)
	if err != nil {
		return fmt.Errorf("encode verdict: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE receipts SET verdict = $2
		WHERE id = $1 AND stage NOT IN ('complete', 'failed')
	`, id, payload)
	if err != nil {
		return fmt.Errorf("save verdict: %w", err)
	}
	return s.checkGuarded(ctx, res, id)
}

func (s *PostgresStore) SaveAnchor(ctx context.Context, id string, anchor models.Anchor) error {
	payload, err := json.Marshal(anchor)
	if err != nil {
		return fmt.Errorf("encode anchor: %w", err)
	}
	return s.exec(ctx, `UPDATE receipts SET anchor = $2 WHERE id = $1`, id, payload)
}

func (s *PostgresStore) SetNote(ctx context.Context, id string, note string) error {
	return s.exec(ctx, `UPDATE receipts SET note = $2 WHERE id = $1`, id, note)
}

func (s *PostgresStore) MarkCompleted(ctx context.Context, id string, processingTime time.Duration) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE receipts SET stage = 'complete', completed_at = NOW(), processing_time_ms = $2
		WHERE id = $1 AND stage NOT IN ('complete', 'failed')
	`, id, processingTime.Milliseconds())
	if err != nil {
		return fmt.Errorf("mark completed: %w", err)
	}
	return s.checkGuarded(ctx, res, id)
}

func (s *PostgresStore) MarkFailed(ctx context.Context, id string, cause models.ErrorCause, message string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE receipts SET stage = 'failed', error_cause = $2, error_message = $3
		WHERE id = $1 AND stage NOT IN ('complete', 'failed')
	`, id, string(cause), message)
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	return s.checkGuarded(ctx, res, id)
}

func (s *PostgresStore) exec(ctx context.Context, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

// checkGuarded distinguishes "job missing" from "job already terminal" when a
// guarded update touched no rows.
func (s *PostgresStore) checkGuarded(ctx context.Context, res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	var exists bool
	if err := s.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM receipts WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("check job existence: %w", err)
	}
	if !exists {
		return sentinel.ErrNotFound
	}
	return sentinel.ErrInvalidState
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*models.Job, error) {
	var (
		job              models.Job
		artifactURL      sql.NullString
		artifactProvider sql.NullString
		stage            string
		verdictRaw       []byte
		anchorRaw        []byte
		errorCause       sql.NullString
		errorMessage     sql.NullString
		completedAt      sql.NullTime
		processingMs     int64
	)
	err := row.Scan(&job.ID, &job.OwnerRef, &artifactURL, &artifactProvider, &stage,
		&verdictRaw, &anchorRaw, &errorCause, &errorMessage, &job.Note,
		&job.AnchorRequested, &job.SubmittedAt, &completedAt, &processingMs)
	if err != nil {
		return nil, err
	}

	job.Stage = models.Stage(stage)
	if artifactURL.Valid {
		job.Artifact = &models.ArtifactRef{URL: artifactURL.String, ProviderID: artifactProvider.String}
	}
	if len(verdictRaw) > 0 {
		var verdict models.Verdict
		if err := json.Unmarshal(verdictRaw, &verdict); err != nil {
			return nil, fmt.Errorf("decode verdict: %w", err)
		}
		job.Verdict = &verdict
	}
	if len(anchorRaw) > 0 {
		var anchor models.Anchor
		if err := json.Unmarshal(anchorRaw, &anchor); err != nil {
			return nil, fmt.Errorf("decode anchor: %w", err)
		}
		job.Anchor = &anchor
	}
	if errorCause.Valid {
		job.Error = &models.JobError{
			Cause:   models.ErrorCause(errorCause.String),
			Message: errorMessage.String,
		}
	}
	if completedAt.Valid {
		t := completedAt.Time
		job.CompletedAt = &t
	}
	job.ProcessingTime = time.Duration(processingMs) * time.Millisecond
	return &job, nil
}
