//go:build integration

package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"confirmit/internal/receipt/models"
	"confirmit/pkg/sentinel"
	"confirmit/pkg/testutil/containers"
)

func newPostgresStore(t *testing.T) *PostgresStore {
	t.Helper()
	pg := containers.NewPostgresContainer(t)
	s := NewPostgres(pg.DB)
	require.NoError(t, s.EnsureSchema(context.Background()))
	return s
}

func TestPostgresJobLifecycle(t *testing.T) {
	ctx := context.Background()
	s := newPostgresStore(t)

	job := &models.Job{
		ID:              models.NewJobID(),
		OwnerRef:        "user-1",
		Stage:           models.StageReceived,
		AnchorRequested: true,
		SubmittedAt:     time.Now().UTC(),
	}
	require.NoError(t, s.Create(ctx, job))

	require.NoError(t, s.SetArtifact(ctx, job.ID, models.ArtifactRef{URL: "http://files/a.jpg", ProviderID: "a.jpg"}))
	require.NoError(t, s.AdvanceStage(ctx, job.ID, models.StageUploading))
	require.NoError(t, s.AdvanceStage(ctx, job.ID, models.StageExtracting))
	require.NoError(t, s.SaveVerdict(ctx, job.ID, models.Verdict{
		TrustScore: 92,
		Label:      "authentic",
		Forensics:  models.ForensicDetails{OCRConfidence: 0.97},
	}))
	require.NoError(t, s.SaveAnchor(ctx, job.ID, models.Anchor{
		TransactionRef: "tx-1",
		ExplorerURL:    "http://ledger/tx-1",
		AnchoredAt:     time.Now().UTC(),
	}))
	require.NoError(t, s.MarkCompleted(ctx, job.ID, 1500*time.Millisecond))

	got, err := s.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StageComplete, got.Stage)
	require.NotNil(t, got.Artifact)
	require.NotNil(t, got.Verdict)
	assert.Equal(t, 92, got.Verdict.TrustScore)
	require.NotNil(t, got.Anchor)
	assert.Equal(t, "tx-1", got.Anchor.TransactionRef)
	require.NotNil(t, got.CompletedAt)
	assert.Equal(t, 1500*time.Millisecond, got.ProcessingTime)
}

func TestPostgresTerminalGuard(t *testing.T) {
	ctx := context.Background()
	s := newPostgresStore(t)

	job := &models.Job{ID: models.NewJobID(), OwnerRef: "user-1", Stage: models.StageReceived, SubmittedAt: time.Now().UTC()}
	require.NoError(t, s.Create(ctx, job))
	require.NoError(t, s.MarkFailed(ctx, job.ID, models.CauseBackendTimeout, "timed out"))

	assert.ErrorIs(t, s.AdvanceStage(ctx, job.ID, models.StageScoring), sentinel.ErrInvalidState)
	assert.ErrorIs(t, s.MarkCompleted(ctx, job.ID, time.Second), sentinel.ErrInvalidState)
	assert.ErrorIs(t, s.SaveVerdict(ctx, job.ID, models.Verdict{TrustScore: 1}), sentinel.ErrInvalidState)

	got, err := s.Get(ctx, job.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Error)
	assert.Equal(t, models.CauseBackendTimeout, got.Error.Cause)

	_, err = s.Get(ctx, "RCP-missing")
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
}

func TestPostgresListByOwner(t *testing.T) {
	ctx := context.Background()
	s := newPostgresStore(t)

	base := time.Now().UTC()
	ids := make([]string, 3)
	for i := range 3 {
		job := &models.Job{
			ID:          models.NewJobID(),
			OwnerRef:    "user-1",
			Stage:       models.StageReceived,
			SubmittedAt: base.Add(time.Duration(i) * time.Minute),
		}
		ids[i] = job.ID
		require.NoError(t, s.Create(ctx, job))
	}

	jobs, err := s.ListByOwner(ctx, "user-1", 2)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, ids[2], jobs[0].ID)
	assert.Equal(t, ids[1], jobs[1].ID)
}
