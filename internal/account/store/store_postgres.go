package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"confirmit/internal/account/models"
	"confirmit/pkg/sentinel"
)

// PostgresStore persists reputation records in PostgreSQL. Counter updates run
// as single statements so concurrent checks and reports never lose an
// increment.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const reputationSchema = `
CREATE TABLE IF NOT EXISTS reputation (
	fingerprint         TEXT PRIMARY KEY,
	bank_code           TEXT NOT NULL DEFAULT '',
	trust_score         INT NOT NULL,
	risk_tier           TEXT NOT NULL,
	check_count         BIGINT NOT NULL DEFAULT 0,
	last_checked_at     TIMESTAMPTZ,
	fraud_total         INT NOT NULL DEFAULT 0,
	fraud_recent_30d    INT NOT NULL DEFAULT 0,
	flags               JSONB NOT NULL DEFAULT '[]',
	linked_business_ref TEXT NOT NULL DEFAULT '',
	created_at          TIMESTAMPTZ NOT NULL,
	updated_at          TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS fraud_reports (
	id              TEXT PRIMARY KEY,
	fingerprint     TEXT NOT NULL,
	account_partial TEXT NOT NULL DEFAULT '',
	business_label  TEXT NOT NULL DEFAULT '',
	category        TEXT NOT NULL,
	severity        TEXT NOT NULL,
	description     TEXT NOT NULL,
	reporter_ref    TEXT NOT NULL,
	reported_at     TIMESTAMPTZ NOT NULL,
	verified        BOOLEAN NOT NULL DEFAULT FALSE
);
CREATE INDEX IF NOT EXISTS fraud_reports_fingerprint_idx ON fraud_reports (fingerprint, reported_at DESC);
`

// EnsureSchema creates the reputation tables when migrations have not run.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, reputationSchema); err != nil {
		return fmt.Errorf("ensure reputation schema: %w", err)
	}
	return nil
}

const recordColumns = `fingerprint, bank_code, trust_score, risk_tier, check_count, last_checked_at,
	fraud_total, fraud_recent_30d, flags, linked_business_ref, created_at, updated_at`

func (s *PostgresStore) Get(ctx context.Context, fingerprint string) (*models.ReputationRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+recordColumns+` FROM reputation WHERE fingerprint = $1
	`, fingerprint)
	record, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("get reputation: %w", err)
	}
	return record, nil
}

func (s *PostgresStore) Create(ctx context.Context, record *models.ReputationRecord) error {
	flags, err := json.Marshal(record.Flags)
	if err != nil {
		return fmt.Errorf("encode flags: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO reputation (`+recordColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, record.Fingerprint, record.BankCode, record.TrustScore, string(record.RiskTier),
		record.CheckCount, record.LastCheckedAt, record.FraudTotal, record.FraudRecent30d,
		flags, record.LinkedBusinessRef, record.CreatedAt, record.UpdatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("create reputation: %w", err)
	}
	return nil
}

func (s *PostgresStore) SaveRefresh(ctx context.Context, record *models.ReputationRecord) error {
	flags, err := json.Marshal(record.Flags)
	if err != nil {
		return fmt.Errorf("encode flags: %w", err)
	}
	// check_count and created_at are deliberately absent from the UPDATE set;
	// a refresh never rewinds the counter.
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO reputation (`+recordColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (fingerprint) DO UPDATE SET
			bank_code           = EXCLUDED.bank_code,
			trust_score         = EXCLUDED.trust_score,
			risk_tier           = EXCLUDED.risk_tier,
			last_checked_at     = EXCLUDED.last_checked_at,
			fraud_total         = EXCLUDED.fraud_total,
			fraud_recent_30d    = EXCLUDED.fraud_recent_30d,
			flags               = EXCLUDED.flags,
			linked_business_ref = EXCLUDED.linked_business_ref,
			updated_at          = EXCLUDED.updated_at
	`, record.Fingerprint, record.BankCode, record.TrustScore, string(record.RiskTier),
		record.CheckCount, record.LastCheckedAt, record.FraudTotal, record.FraudRecent30d,
		flags, record.LinkedBusinessRef, record.CreatedAt, record.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save refresh: %w", err)
	}
	return nil
}

func (s *PostgresStore) IncrementCheckCount(ctx context.Context, fingerprint string) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `
		UPDATE reputation SET check_count = check_count + 1
		WHERE fingerprint = $1
		RETURNING check_count
	`, fingerprint).Scan(&count)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, sentinel.ErrNotFound
		}
		return 0, fmt.Errorf("increment check count: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) RecordFraud(ctx context.Context, fingerprint, flag string, now time.Time) (*models.ReputationRecord, error) {
	// One statement so concurrent reports each land exactly one penalty. The
	// tier CASE mirrors models.DeriveRiskTier.
	row := s.db.QueryRowContext(ctx, `
		UPDATE reputation SET
			fraud_total      = fraud_total + 1,
			fraud_recent_30d = fraud_recent_30d + 1,
			trust_score      = GREATEST(0, trust_score - $2),
			risk_tier        = CASE
				WHEN fraud_total + 1 >= 5 OR GREATEST(0, trust_score - $2) < 30 THEN 'high'
				WHEN fraud_total + 1 >= 2 OR GREATEST(0, trust_score - $2) < 60 THEN 'medium'
				ELSE 'low'
			END,
			flags      = flags || to_jsonb($3::text),
			updated_at = $4
		WHERE fingerprint = $1
		RETURNING `+recordColumns+`
	`, fingerprint, models.FraudPenalty, flag, now)
	record, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("record fraud: %w", err)
	}
	return record, nil
}

func (s *PostgresStore) AppendReport(ctx context.Context, report *models.FraudReport) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO fraud_reports (id, fingerprint, account_partial, business_label,
			category, severity, description, reporter_ref, reported_at, verified)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, report.ID, report.Fingerprint, report.AccountPartial, report.BusinessLabel,
		report.Category, string(report.Severity), report.Description, report.ReporterRef,
		report.ReportedAt, report.Verified)
	if err != nil {
		return fmt.Errorf("append report: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListReports(ctx context.Context, fingerprint string, limit int) ([]*models.FraudReport, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, fingerprint, account_partial, business_label, category, severity,
		       description, reporter_ref, reported_at, verified
		FROM fraud_reports
		WHERE fingerprint = $1
		ORDER BY reported_at DESC
		LIMIT $2
	`, fingerprint, limit)
	if err != nil {
		return nil, fmt.Errorf("list reports: %w", err)
	}
	defer rows.Close()

	var reports []*models.FraudReport
	for rows.Next() {
		var (
			report   models.FraudReport
			severity string
		)
		if err := rows.Scan(&report.ID, &report.Fingerprint, &report.AccountPartial,
			&report.BusinessLabel, &report.Category, &severity, &report.Description,
			&report.ReporterRef, &report.ReportedAt, &report.Verified); err != nil {
			return nil, fmt.Errorf("scan report: %w", err)
		}
		report.Severity = models.Severity(severity)
		reports = append(reports, &report)
	}
	return reports, rows.Err()
}

func scanRecord(row *sql.Row) (*models.ReputationRecord, error) {
	var (
		record        models.ReputationRecord
		riskTier      string
		lastCheckedAt sql.NullTime
		flagsRaw      []byte
	)
	err := row.Scan(&record.Fingerprint, &record.BankCode, &record.TrustScore, &riskTier,
		&record.CheckCount, &lastCheckedAt, &record.FraudTotal, &record.FraudRecent30d,
		&flagsRaw, &record.LinkedBusinessRef, &record.CreatedAt, &record.UpdatedAt)
	if err != nil {
		return nil, err
	}
	record.RiskTier = models.RiskTier(riskTier)
	if lastCheckedAt.Valid {
		t := lastCheckedAt.Time
		record.LastCheckedAt = &t
	}
	if len(flagsRaw) > 0 {
		if err := json.Unmarshal(flagsRaw, &record.Flags); err != nil {
			return nil, fmt.Errorf("decode flags: %w", err)
		}
	}
	return &record, nil
}
