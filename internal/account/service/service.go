// Package service implements the account trust cache and fraud ledger.
// Checks serve cached reputation within the refresh window; reports lower
// trust immediately through atomic store updates.
package service

import (
	"context"
	stderrors "errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"confirmit/internal/account/models"
	"confirmit/internal/account/store"
	"confirmit/internal/analyzer"
	"confirmit/internal/assemble"
	"confirmit/internal/business"
	"confirmit/internal/events"
	"confirmit/internal/fingerprint"
	"confirmit/internal/platform/metrics"
	"confirmit/internal/platform/middleware"
	apperrors "confirmit/pkg/errors"
	"confirmit/pkg/sentinel"
)

// summaryReadLimit is how many reports a fraud summary reads; the assembler
// caps the exposed slice further.
const summaryReadLimit = 20

// Service is the trust cache over the external reputation backend plus the
// community fraud ledger.
type Service struct {
	store     store.Store
	backend   analyzer.Client
	directory business.Directory // nil disables verified-business resolution
	publisher events.Publisher
	metrics   *metrics.Metrics
	logger    *slog.Logger
	tracer    trace.Tracer

	// refresh dedups concurrent backend refreshes per fingerprint. Checks
	// still count individually; only the expensive call is shared.
	refresh singleflight.Group
	window  time.Duration
}

func New(
	accountStore store.Store,
	backend analyzer.Client,
	directory business.Directory,
	publisher events.Publisher,
	m *metrics.Metrics,
	logger *slog.Logger,
	window time.Duration,
) *Service {
	return &Service{
		store:     accountStore,
		backend:   backend,
		directory: directory,
		publisher: publisher,
		metrics:   m,
		logger:    logger,
		tracer:    otel.Tracer("confirmit/account"),
		window:    window,
	}
}

// Check returns the account's reputation, refreshing from the backend when the
// cached record is stale. Every check increments the check counter exactly
// once; checking never raises the trust score.
func (s *Service) Check(ctx context.Context, identifier, bankCode, businessLabel string) (*assemble.CheckResult, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return nil, apperrors.New(apperrors.CodeBadRequest, "missing account identifier")
	}
	fp := fingerprint.Hash(identifier)

	ctx, span := s.tracer.Start(ctx, "account.check",
		trace.WithAttributes(attribute.String("account.fingerprint", fp)))
	defer span.End()

	s.metrics.AccountChecks.Inc()
	now := time.Now().UTC()

	record, err := s.store.Get(ctx, fp)
	if err != nil && !stderrors.Is(err, sentinel.ErrNotFound) {
		return nil, apperrors.Wrap(err, apperrors.CodeInternal, "read reputation")
	}

	cached := record.Fresh(now, s.window)
	if cached {
		s.metrics.CacheHits.Inc()
	} else {
		refreshed, refreshErr := s.refreshRecord(ctx, fp, bankCode, businessLabel)
		switch {
		case refreshErr == nil:
			record = refreshed
		case record != nil:
			// Stale beats nothing when the backend is down.
			s.logger.WarnContext(ctx, "serving stale reputation", "fingerprint", fp, "error", refreshErr)
			cached = true
		default:
			return nil, refreshErr
		}
	}

	if count, err := s.store.IncrementCheckCount(ctx, fp); err != nil {
		s.logger.ErrorContext(ctx, "increment check count", "fingerprint", fp, "error", err)
	} else {
		record.CheckCount = count
	}

	biz := s.resolveBusiness(ctx, record.LinkedBusinessRef)

	s.publisher.Publish(ctx, events.Event{
		Type:      events.TypeAccountChecked,
		Key:       fp,
		Actor:     middleware.GetActor(ctx),
		Timestamp: now,
		Fields: map[string]any{
			"trust_score": record.TrustScore,
			"risk_tier":   string(record.RiskTier),
			"cached":      cached,
		},
	})

	return assemble.Check(record, biz, cached), nil
}

// refreshRecord performs the deduplicated backend refresh. Counter fields are
// owned by the store; the refresh only replaces backend-derived state.
func (s *Service) refreshRecord(ctx context.Context, fp, bankCode, businessLabel string) (*models.ReputationRecord, error) {
	v, err, _ := s.refresh.Do(fp, func() (any, error) {
		reputation, err := s.backend.CheckReputation(ctx, fp, bankCode, businessLabel)
		if err != nil {
			return nil, mapBackendError(err)
		}

		now := time.Now().UTC()
		record := &models.ReputationRecord{
			Fingerprint:       fp,
			BankCode:          bankCode,
			TrustScore:        reputation.TrustScore,
			RiskTier:          models.DeriveRiskTier(reputation.FraudSummary.Total, reputation.TrustScore),
			FraudTotal:        reputation.FraudSummary.Total,
			FraudRecent30d:    reputation.FraudSummary.Recent30Day,
			Flags:             reputation.Flags,
			LinkedBusinessRef: reputation.VerifiedBusinessID,
			LastCheckedAt:     &now,
			CreatedAt:         now,
			UpdatedAt:         now,
		}
		if err := s.store.SaveRefresh(ctx, record); err != nil {
			return nil, apperrors.Wrap(err, apperrors.CodeInternal, "save reputation")
		}
		s.metrics.CacheRefreshes.Inc()
		return record, nil
	})
	if err != nil {
		return nil, err
	}
	// Waiters share the singleflight result; copy before callers mutate
	// their CheckCount view.
	record := *v.(*models.ReputationRecord)
	return &record, nil
}

func (s *Service) resolveBusiness(ctx context.Context, ref string) *business.Business {
	if s.directory == nil || ref == "" {
		return nil
	}
	biz, err := s.directory.Get(ctx, ref)
	if err != nil {
		if !stderrors.Is(err, sentinel.ErrNotFound) {
			s.logger.WarnContext(ctx, "resolve business", "business_ref", ref, "error", err)
		}
		return nil
	}
	return biz
}

// ReportInput is one community fraud report submission.
type ReportInput struct {
	Identifier    string
	Category      string
	Description   string
	BusinessLabel string
	ReporterRef   string
}

// ReportFraud files a report and applies its penalty. Reports are append-only
// and never deduplicated; duplicates are distinct entries by design of the
// ledger.
func (s *Service) ReportFraud(ctx context.Context, input ReportInput) (*models.FraudReport, error) {
	input.Identifier = strings.TrimSpace(input.Identifier)
	input.Category = strings.TrimSpace(input.Category)
	if input.Identifier == "" {
		return nil, apperrors.New(apperrors.CodeBadRequest, "missing account identifier")
	}
	if input.Category == "" {
		return nil, apperrors.New(apperrors.CodeBadRequest, "missing report category")
	}
	fp := fingerprint.Hash(input.Identifier)

	ctx, span := s.tracer.Start(ctx, "account.report_fraud",
		trace.WithAttributes(attribute.String("account.fingerprint", fp)))
	defer span.End()

	now := time.Now().UTC()
	report := &models.FraudReport{
		ID:             uuid.NewString(),
		Fingerprint:    fp,
		AccountPartial: models.MaskAccountNumber(input.Identifier),
		BusinessLabel:  input.BusinessLabel,
		Category:       input.Category,
		Severity:       models.ClassifySeverity(input.Category, input.Description),
		Description:    input.Description,
		ReporterRef:    input.ReporterRef,
		ReportedAt:     now,
	}
	if err := s.store.AppendReport(ctx, report); err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeInternal, "append report")
	}

	record, err := s.applyPenalty(ctx, fp, models.FlagForCategory(input.Category), now)
	if err != nil {
		return nil, err
	}

	s.metrics.FraudReports.Inc()
	s.publisher.Publish(ctx, events.Event{
		Type:      events.TypeFraudReported,
		Key:       fp,
		Actor:     middleware.GetActor(ctx),
		Timestamp: now,
		Fields: map[string]any{
			"category":  input.Category,
			"severity":  string(report.Severity),
			"risk_tier": string(record.RiskTier),
		},
	})
	s.logger.InfoContext(ctx, "fraud report filed",
		"fingerprint", fp,
		"category", input.Category,
		"severity", report.Severity,
		"trust_score", record.TrustScore)

	return report, nil
}

// applyPenalty records one report against the aggregates. A fingerprint seen
// for the first time through a report starts at the conservative reported
// score; the racing-create case falls back to the atomic update.
func (s *Service) applyPenalty(ctx context.Context, fp, flag string, now time.Time) (*models.ReputationRecord, error) {
	record, err := s.store.RecordFraud(ctx, fp, flag, now)
	if err == nil {
		return record, nil
	}
	if !stderrors.Is(err, sentinel.ErrNotFound) {
		return nil, apperrors.Wrap(err, apperrors.CodeInternal, "apply fraud penalty")
	}

	seed := &models.ReputationRecord{
		Fingerprint:    fp,
		TrustScore:     models.ReportedScore,
		RiskTier:       models.RiskHigh,
		FraudTotal:     1,
		FraudRecent30d: 1,
		Flags:          []string{flag},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	switch err := s.store.Create(ctx, seed); {
	case err == nil:
		return seed, nil
	case stderrors.Is(err, sentinel.ErrConflict):
		// Another report created the record first; apply ours on top.
		record, err := s.store.RecordFraud(ctx, fp, flag, now)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.CodeInternal, "apply fraud penalty")
		}
		return record, nil
	default:
		return nil, apperrors.Wrap(err, apperrors.CodeInternal, "create reputation")
	}
}

// FraudSummary aggregates an account's fraud history for display.
func (s *Service) FraudSummary(ctx context.Context, identifier string) (*assemble.FraudSummary, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return nil, apperrors.New(apperrors.CodeBadRequest, "missing account identifier")
	}
	fp := fingerprint.Hash(identifier)

	record, err := s.store.Get(ctx, fp)
	if err != nil {
		if !stderrors.Is(err, sentinel.ErrNotFound) {
			return nil, apperrors.Wrap(err, apperrors.CodeInternal, "read reputation")
		}
		record = nil
	}

	reports, err := s.store.ListReports(ctx, fp, summaryReadLimit)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeInternal, "list reports")
	}

	return assemble.Summary(record, reports), nil
}

func mapBackendError(err error) error {
	switch {
	case stderrors.Is(err, analyzer.ErrTimeout):
		return apperrors.Wrap(err, apperrors.CodeTimeout, "reputation check timed out")
	case stderrors.Is(err, analyzer.ErrUnavailable):
		return apperrors.Wrap(err, apperrors.CodeUnavailable, "reputation service temporarily unavailable")
	}
	var validation *analyzer.ValidationError
	if stderrors.As(err, &validation) {
		return apperrors.Wrap(err, apperrors.CodeBadRequest, validation.Error())
	}
	return apperrors.Wrap(err, apperrors.CodeInternal, "reputation check failed")
}
