package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"confirmit/internal/account/models"
	"confirmit/pkg/sentinel"
)

// MemoryStore is the mutex-guarded in-memory reputation store used in dev and
// tests.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*models.ReputationRecord
	reports map[string][]*models.FraudReport
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]*models.ReputationRecord),
		reports: make(map[string][]*models.FraudReport),
	}
}

func copyRecord(r *models.ReputationRecord) *models.ReputationRecord {
	copied := *r
	if r.LastCheckedAt != nil {
		t := *r.LastCheckedAt
		copied.LastCheckedAt = &t
	}
	copied.Flags = append([]string(nil), r.Flags...)
	return &copied
}

func (s *MemoryStore) Get(_ context.Context, fingerprint string) (*models.ReputationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.records[fingerprint]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return copyRecord(record), nil
}

func (s *MemoryStore) Create(_ context.Context, record *models.ReputationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.records[record.Fingerprint]; exists {
		return sentinel.ErrConflict
	}
	s.records[record.Fingerprint] = copyRecord(record)
	return nil
}

func (s *MemoryStore) SaveRefresh(_ context.Context, record *models.ReputationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.records[record.Fingerprint]
	if !ok {
		s.records[record.Fingerprint] = copyRecord(record)
		return nil
	}
	existing.BankCode = record.BankCode
	existing.TrustScore = record.TrustScore
	existing.RiskTier = record.RiskTier
	existing.FraudTotal = record.FraudTotal
	existing.FraudRecent30d = record.FraudRecent30d
	existing.Flags = append([]string(nil), record.Flags...)
	existing.LinkedBusinessRef = record.LinkedBusinessRef
	if record.LastCheckedAt != nil {
		t := *record.LastCheckedAt
		existing.LastCheckedAt = &t
	}
	existing.UpdatedAt = record.UpdatedAt
	return nil
}

func (s *MemoryStore) IncrementCheckCount(_ context.Context, fingerprint string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[fingerprint]
	if !ok {
		return 0, sentinel.ErrNotFound
	}
	record.CheckCount++
	return record.CheckCount, nil
}

func (s *MemoryStore) RecordFraud(_ context.Context, fingerprint, flag string, now time.Time) (*models.ReputationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[fingerprint]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	record.FraudTotal++
	record.FraudRecent30d++
	record.TrustScore = models.ApplyPenalty(record.TrustScore)
	record.RiskTier = models.DeriveRiskTier(record.FraudTotal, record.TrustScore)
	record.Flags = append(record.Flags, flag)
	record.UpdatedAt = now
	return copyRecord(record), nil
}

func (s *MemoryStore) AppendReport(_ context.Context, report *models.FraudReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *report
	s.reports[report.Fingerprint] = append(s.reports[report.Fingerprint], &copied)
	return nil
}

func (s *MemoryStore) ListReports(_ context.Context, fingerprint string, limit int) ([]*models.FraudReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var reports []*models.FraudReport
	for _, report := range s.reports[fingerprint] {
		copied := *report
		reports = append(reports, &copied)
	}
	sort.Slice(reports, func(i, j int) bool {
		return reports[i].ReportedAt.After(reports[j].ReportedAt)
	})
	if limit > 0 && len(reports) > limit {
		reports = reports[:limit]
	}
	return reports, nil
}
