package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"confirmit/internal/receipt/models"
	"confirmit/pkg/sentinel"
)

// MemoryStore is the mutex-guarded in-memory job store used in dev and
// tests. Jobs are kept forever; they are the audit trail.
type MemoryStore struct {
	mu   sync.RWMutex
	jobs map[string]*models.Job
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make(map[string]*models.Job)}
}

func (s *MemoryStore) Create(_ context.Context, job *models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return sentinel.ErrConflict
	}
	copied := *job
	s.jobs[job.ID] = &copied
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*models.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	copied := *job
	return &copied, nil
}

func (s *MemoryStore) ListByOwner(_ context.Context, ownerRef string, limit int) ([]*models.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var jobs []*models.Job
	for _, job := range s.jobs {
		if job.OwnerRef == ownerRef {
			copied := *job
			jobs = append(jobs, &copied)
		}
	}
	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].SubmittedAt.After(jobs[j].SubmittedAt)
	})
	if limit > 0 && len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs, nil
}

func (s *MemoryStore) SetArtifact(_ context.Context, id string, ref models.ArtifactRef) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return sentinel.ErrNotFound
	}
	job.Artifact = &ref
	return nil
}

func (s *MemoryStore) AdvanceStage(_ context.Context, id string, next models.Stage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return sentinel.ErrNotFound
	}
	if !job.Stage.CanAdvance(next) {
		return sentinel.ErrInvalidState
	}
	job.Stage = next
	return nil
}

func (s *MemoryStore) SaveVerdict(_ context.Context, id string, verdict models.Verdict) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return sentinel.ErrNotFound
	}
	if job.Stage.Terminal() {
		return sentinel.ErrInvalidState
	}
	job.Verdict = &verdict
	return nil
}

func (s *MemoryStore) SaveAnchor(_ context.Context, id string, anchor models.Anchor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return sentinel.ErrNotFound
	}
	job.Anchor = &anchor
	return nil
}

func (s *MemoryStore) SetNote(_ context.Context, id string, note string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return sentinel.ErrNotFound
	}
	job.Note = note
	return nil
}

func (s *MemoryStore) MarkCompleted(_ context.Context, id string, processingTime time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return sentinel.ErrNotFound
	}
	if !job.Stage.CanAdvance(models.StageComplete) {
		return sentinel.ErrInvalidState
	}
	now := time.Now().UTC()
	job.Stage = models.StageComplete
	job.CompletedAt = &now
	job.ProcessingTime = processingTime
	return nil
}

func (s *MemoryStore) MarkFailed(_ context.Context, id string, cause models.ErrorCause, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return sentinel.ErrNotFound
	}
	if !job.Stage.CanAdvance(models.StageFailed) {
		return sentinel.ErrInvalidState
	}
	job.Stage = models.StageFailed
	job.Error = &models.JobError{Cause: cause, Message: message}
	return nil
}
