package store

import (
	"context"
	"time"

	"confirmit/internal/receipt/models"
)

// Store persists jobs. The orchestrator is the only writer; stores still
// guard terminal states so a buggy caller cannot resurrect a finished job.
//
// Implementations return sentinel.ErrNotFound for unknown ids and
// sentinel.ErrInvalidState for transitions out of a terminal stage.
type Store interface {
	Create(ctx context.Context, job *models.Job) error
	Get(ctx context.Context, id string) (*models.Job, error)
	// ListByOwner returns the owner's jobs, newest first, capped at limit.
	ListByOwner(ctx context.Context, ownerRef string, limit int) ([]*models.Job, error)

	SetArtifact(ctx context.Context, id string, ref models.ArtifactRef) error
	// AdvanceStage moves the job forward. Stage transitions are append-only.
	AdvanceStage(ctx context.Context, id string, next models.Stage) error
	SaveVerdict(ctx context.Context, id string, verdict models.Verdict) error
	SaveAnchor(ctx context.Context, id string, anchor models.Anchor) error
	SetNote(ctx context.Context, id string, note string) error

	MarkCompleted(ctx context.Context, id string, processingTime time.Duration) error
	MarkFailed(ctx context.Context, id string, cause models.ErrorCause, message string) error
}
