package store

import (
	"context"
	"time"

	"confirmit/internal/account/models"
)

// Store persists reputation records and their fraud reports.
//
// Counter updates are atomic at the storage layer. Concurrent checks against
// the same fingerprint must each land one increment, and concurrent reports
// must each land exactly one penalty, regardless of interleaving.
//
// Implementations return sentinel.ErrNotFound for unknown fingerprints and
// sentinel.ErrConflict when Create hits an existing record.
type Store interface {
	Get(ctx context.Context, fingerprint string) (*models.ReputationRecord, error)
	// Create inserts a brand-new record, typically the neutral or
	// reported-first seed.
	Create(ctx context.Context, record *models.ReputationRecord) error
	// SaveRefresh replaces the backend-derived fields of a record, or inserts
	// it when absent. CheckCount and CreatedAt are never touched by a
	// refresh; checks own the counter.
	SaveRefresh(ctx context.Context, record *models.ReputationRecord) error
	// IncrementCheckCount adds one to the record's check counter and returns
	// the new value.
	IncrementCheckCount(ctx context.Context, fingerprint string) (int64, error)

	// RecordFraud applies one report to the aggregates in a single atomic
	// step: fraud counters up, trust score down by the penalty (floored at
	// zero), risk tier recomputed, flag appended. Returns the updated record.
	RecordFraud(ctx context.Context, fingerprint, flag string, now time.Time) (*models.ReputationRecord, error)

	AppendReport(ctx context.Context, report *models.FraudReport) error
	// ListReports returns the fingerprint's reports, newest first, capped at
	// limit.
	ListReports(ctx context.Context, fingerprint string, limit int) ([]*models.FraudReport, error)
}
