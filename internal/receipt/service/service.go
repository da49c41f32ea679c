// Package service drives the asynchronous receipt verification pipeline.
// Submit returns as soon as the job record exists; a background goroutine
// walks the stage machine and reports progress over the bus.
package service

import (
	"context"
	stderrors "errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"confirmit/internal/analyzer"
	"confirmit/internal/anchor"
	"confirmit/internal/artifact"
	"confirmit/internal/events"
	"confirmit/internal/platform/metrics"
	"confirmit/internal/platform/middleware"
	"confirmit/internal/progress"
	"confirmit/internal/receipt/models"
	"confirmit/internal/receipt/store"
	apperrors "confirmit/pkg/errors"
	"confirmit/pkg/sentinel"
)

// User-facing failure strings. Raw backend or internal error text never
// reaches the user except through the last-resort fallback in classify.
const (
	msgTimeout     = "Analysis timed out. The image might be too large. Please try a smaller image."
	msgUnavailable = "Service temporarily unavailable. Please try again in a few minutes."
	msgValidation  = "Analysis failed. Please try again with a clearer image."
	msgStorage     = "Could not store the uploaded image. Please try again."
)

// historyLimit caps owner history queries.
const historyLimit = 50

// Upload is one submitted receipt image.
type Upload struct {
	Data        []byte
	Filename    string
	ContentType string
}

// SubmitOptions are the caller's knobs for one job.
type SubmitOptions struct {
	AnchorRequested bool
}

// Service is the analysis orchestrator.
type Service struct {
	store     store.Store
	bus       *progress.Bus
	storage   artifact.Storage
	backend   analyzer.Client
	anchorer  anchor.Anchorer // nil disables anchoring
	publisher events.Publisher
	metrics   *metrics.Metrics
	logger    *slog.Logger
	tracer    trace.Tracer

	// sem bounds in-flight backend calls across all jobs. The external
	// service bills per call; an unbounded burst is an unbounded bill.
	sem     *semaphore.Weighted
	timeout time.Duration
}

func New(
	jobStore store.Store,
	bus *progress.Bus,
	storage artifact.Storage,
	backend analyzer.Client,
	anchorer anchor.Anchorer,
	publisher events.Publisher,
	m *metrics.Metrics,
	logger *slog.Logger,
	maxConcurrent int64,
	timeout time.Duration,
) *Service {
	return &Service{
		store:     jobStore,
		bus:       bus,
		storage:   storage,
		backend:   backend,
		anchorer:  anchorer,
		publisher: publisher,
		metrics:   m,
		logger:    logger,
		tracer:    otel.Tracer("confirmit/receipt"),
		sem:       semaphore.NewWeighted(maxConcurrent),
		timeout:   timeout,
	}
}

// Submit registers a job and kicks off its pipeline. The returned job is the
// initial persisted state; callers observe the rest over the bus or by
// polling GetJob.
func (s *Service) Submit(ctx context.Context, ownerRef string, upload Upload, opts SubmitOptions) (*models.Job, error) {
	if len(upload.Data) == 0 {
		return nil, apperrors.New(apperrors.CodeBadRequest, "empty upload")
	}

	job := &models.Job{
		ID:              models.NewJobID(),
		OwnerRef:        ownerRef,
		Stage:           models.StageReceived,
		AnchorRequested: opts.AnchorRequested,
		SubmittedAt:     time.Now().UTC(),
	}
	if err := s.store.Create(ctx, job); err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeInternal, "create job")
	}

	s.bus.CreateChannel(job.ID)
	s.metrics.ReceiptsSubmitted.Inc()
	s.bus.Publish(job.ID, string(models.StageReceived), 10, "Receipt received", nil)

	// Jobs are fire-and-forget: the caller disconnecting must not cancel a
	// verification that is already billed.
	go s.run(context.WithoutCancel(ctx), job.ID, ownerRef, upload, opts)

	return job, nil
}

// GetJob returns the persisted state of one job.
func (s *Service) GetJob(ctx context.Context, id string) (*models.Job, error) {
	job, err := s.store.Get(ctx, id)
	if err != nil {
		if stderrors.Is(err, sentinel.ErrNotFound) {
			return nil, apperrors.New(apperrors.CodeNotFound, "receipt not found")
		}
		return nil, apperrors.Wrap(err, apperrors.CodeInternal, "get job")
	}
	return job, nil
}

// ListByOwner returns the owner's verification history, newest first.
func (s *Service) ListByOwner(ctx context.Context, ownerRef string, limit int) ([]*models.Job, error) {
	if limit <= 0 || limit > historyLimit {
		limit = historyLimit
	}
	jobs, err := s.store.ListByOwner(ctx, ownerRef, limit)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeInternal, "list jobs")
	}
	return jobs, nil
}

func (s *Service) run(ctx context.Context, jobID, ownerRef string, upload Upload, opts SubmitOptions) {
	ctx, span := s.tracer.Start(ctx, "receipt.verify",
		trace.WithAttributes(attribute.String("receipt.id", jobID)))
	defer span.End()

	started := time.Now()
	logger := s.logger.With("receipt_id", jobID, "request_id", middleware.GetRequestID(ctx))

	stored, ok := s.uploadArtifact(ctx, jobID, ownerRef, upload, logger)
	if !ok {
		return
	}

	verdict, ok := s.analyze(ctx, jobID, stored.URL, logger)
	if !ok {
		return
	}

	s.advance(ctx, jobID, models.StageScoring, 90, "Scoring verdict", logger)
	if err := s.store.SaveVerdict(ctx, jobID, *verdict); err != nil {
		s.fail(ctx, jobID, models.CauseStorageError, msgStorage, err, logger)
		return
	}

	// Anchoring runs only after the verdict is safe on disk; a ledger outage
	// downgrades the result instead of discarding it.
	if opts.AnchorRequested && s.anchorer != nil {
		s.anchorVerdict(ctx, jobID, verdict, logger)
	}

	if err := s.store.MarkCompleted(ctx, jobID, time.Since(started)); err != nil {
		logger.ErrorContext(ctx, "mark completed", "error", err)
		return
	}
	s.metrics.ReceiptsCompleted.Inc()

	final := s.fetchFinal(ctx, jobID, logger)
	s.bus.Publish(jobID, progress.StageComplete, 100, "Verification complete", final)
	s.publisher.Publish(ctx, events.Event{
		Type:      events.TypeReceiptCompleted,
		Key:       jobID,
		Actor:     middleware.GetActor(ctx),
		Timestamp: time.Now().UTC(),
		Fields: map[string]any{
			"trust_score":   verdict.TrustScore,
			"verdict":       verdict.Label,
			"processing_ms": time.Since(started).Milliseconds(),
		},
	})
	logger.InfoContext(ctx, "verification complete",
		"trust_score", verdict.TrustScore,
		"verdict", verdict.Label,
		"duration", time.Since(started))
}

func (s *Service) uploadArtifact(ctx context.Context, jobID, ownerRef string, upload Upload, logger *slog.Logger) (*artifact.Stored, bool) {
	s.advance(ctx, jobID, models.StageUploading, 20, "Uploading image", logger)

	stored, err := s.storage.Store(ctx, upload.Data, artifact.Metadata{
		Filename:    upload.Filename,
		ContentType: upload.ContentType,
		OwnerRef:    ownerRef,
	})
	if err != nil {
		s.fail(ctx, jobID, models.CauseStorageError, msgStorage, err, logger)
		return nil, false
	}
	if err := s.store.SetArtifact(ctx, jobID, models.ArtifactRef{URL: stored.URL, ProviderID: stored.ProviderID}); err != nil {
		s.fail(ctx, jobID, models.CauseStorageError, msgStorage, err, logger)
		return nil, false
	}
	return stored, true
}

// analyze performs the single backend call behind the extracting, forensics
// and scoring stages. The call is never retried.
func (s *Service) analyze(ctx context.Context, jobID, imageURL string, logger *slog.Logger) (*models.Verdict, bool) {
	s.advance(ctx, jobID, models.StageExtracting, 40, "Extracting receipt data", logger)

	if err := s.sem.Acquire(ctx, 1); err != nil {
		s.fail(ctx, jobID, models.CauseBackendUnavailable, msgUnavailable, err, logger)
		return nil, false
	}
	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	callStart := time.Now()
	analysis, err := s.backend.AnalyzeReceipt(callCtx, imageURL, jobID)
	cancel()
	s.sem.Release(1)
	s.metrics.AnalysisDuration.Observe(time.Since(callStart).Seconds())

	if err != nil {
		cause, message := classify(err)
		s.fail(ctx, jobID, cause, message, err, logger)
		return nil, false
	}

	s.advance(ctx, jobID, models.StageForensics, 80, "Running forensic checks", logger)

	verdict := &models.Verdict{
		TrustScore:     analysis.TrustScore,
		Label:          analysis.Verdict,
		Issues:         analysis.Issues,
		Recommendation: analysis.Recommendation,
		MerchantRef:    analysis.Merchant,
		Forensics: models.ForensicDetails{
			OCRConfidence:     analysis.ForensicDetails.OCRConfidence,
			ManipulationScore: analysis.ForensicDetails.ManipulationScore,
			MetadataFlags:     analysis.ForensicDetails.MetadataFlags,
			AgentLogs:         analysis.AgentLogs,
		},
	}
	return verdict, true
}

func (s *Service) anchorVerdict(ctx context.Context, jobID string, verdict *models.Verdict, logger *slog.Logger) {
	s.advance(ctx, jobID, models.StageAnchoring, 95, "Anchoring verdict", logger)

	receipt, err := s.anchorer.Anchor(ctx, anchor.Request{
		ReceiptID:  jobID,
		TrustScore: verdict.TrustScore,
		Verdict:    verdict.Label,
	})
	if err != nil {
		// Partial success: the verdict stands, only the proof is missing.
		s.metrics.AnchorFailures.Inc()
		logger.WarnContext(ctx, "anchoring failed", "cause", models.CauseAnchorError, "error", err)
		if noteErr := s.store.SetNote(ctx, jobID, "Verdict could not be anchored to the ledger."); noteErr != nil {
			logger.ErrorContext(ctx, "record anchor note", "error", noteErr)
		}
		return
	}

	if err := s.store.SaveAnchor(ctx, jobID, models.Anchor{
		TransactionRef: receipt.TransactionRef,
		ExplorerURL:    receipt.ExplorerURL,
		AnchoredAt:     time.Now().UTC(),
	}); err != nil {
		logger.ErrorContext(ctx, "save anchor", "error", err)
		return
	}
	s.metrics.AnchorsWritten.Inc()
}

// advance moves the persisted stage and mirrors it on the bus. A persistence
// error here is logged but does not stop the pipeline; the stage machine in
// the store rejects anything inconsistent later.
func (s *Service) advance(ctx context.Context, jobID string, stage models.Stage, percent int, message string, logger *slog.Logger) {
	if err := s.store.AdvanceStage(ctx, jobID, stage); err != nil {
		logger.ErrorContext(ctx, "advance stage", "stage", stage, "error", err)
	}
	s.bus.Publish(jobID, string(stage), percent, message, nil)
}

func (s *Service) fail(ctx context.Context, jobID string, cause models.ErrorCause, message string, err error, logger *slog.Logger) {
	logger.ErrorContext(ctx, "verification failed", "cause", cause, "error", err)
	if markErr := s.store.MarkFailed(ctx, jobID, cause, message); markErr != nil {
		logger.ErrorContext(ctx, "mark failed", "error", markErr)
	}
	s.metrics.ReceiptsFailed.WithLabelValues(string(cause)).Inc()

	final := s.fetchFinal(ctx, jobID, logger)
	s.bus.Publish(jobID, progress.StageFailed, 100, message, final)
	s.publisher.Publish(ctx, events.Event{
		Type:      events.TypeReceiptFailed,
		Key:       jobID,
		Actor:     middleware.GetActor(ctx),
		Timestamp: time.Now().UTC(),
		Fields:    map[string]any{"cause": string(cause)},
	})
}

// fetchFinal rereads the persisted record so the terminal bus event carries
// the same state a follow-up GetJob would return.
func (s *Service) fetchFinal(ctx context.Context, jobID string, logger *slog.Logger) *models.Job {
	job, err := s.store.Get(ctx, jobID)
	if err != nil {
		logger.ErrorContext(ctx, "fetch final record", "error", err)
		return nil
	}
	return job
}

// classify maps a backend error to its cause tag and user-safe message.
func classify(err error) (models.ErrorCause, string) {
	switch {
	case stderrors.Is(err, analyzer.ErrTimeout):
		return models.CauseBackendTimeout, msgTimeout
	case stderrors.Is(err, analyzer.ErrUnavailable):
		return models.CauseBackendUnavailable, msgUnavailable
	}
	var validation *analyzer.ValidationError
	if stderrors.As(err, &validation) {
		if validation.Message != "" {
			return models.CauseBackendValidationError, validation.Message
		}
		return models.CauseBackendValidationError, msgValidation
	}
	// Last-resort fallback: surface whatever text we have.
	return models.CauseBackendUnavailable, err.Error()
}
