package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"confirmit/internal/account/models"
	"confirmit/internal/account/service"
	"confirmit/internal/assemble"
	apperrors "confirmit/pkg/errors"
)

type fakeService struct {
	check   *assemble.CheckResult
	report  *models.FraudReport
	summary *assemble.FraudSummary
	err     error

	reported *service.ReportInput
}

func (f *fakeService) Check(context.Context, string, string, string) (*assemble.CheckResult, error) {
	return f.check, f.err
}

func (f *fakeService) ReportFraud(_ context.Context, input service.ReportInput) (*models.FraudReport, error) {
	f.reported = &input
	return f.report, f.err
}

func (f *fakeService) FraudSummary(context.Context, string) (*assemble.FraudSummary, error) {
	return f.summary, f.err
}

func newRouter(svc *fakeService) http.Handler {
	r := chi.NewRouter()
	New(svc, slog.New(slog.NewTextHandler(io.Discard, nil))).Register(r)
	return r
}

func TestCheckReturnsResult(t *testing.T) {
	svc := &fakeService{check: &assemble.CheckResult{
		Fingerprint: "fp-1",
		TrustScore:  85,
		RiskTier:    models.RiskLow,
		CheckCount:  3,
		Cached:      true,
	}}
	router := newRouter(svc)

	req := httptest.NewRequest(http.MethodPost, "/api/accounts/check",
		strings.NewReader(`{"account_number":"0123456789","bank_code":"058"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var result assemble.CheckResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, 85, result.TrustScore)
	assert.True(t, result.Cached)
}

func TestCheckValidatesBody(t *testing.T) {
	router := newRouter(&fakeService{})

	cases := []string{
		`{}`,
		`{"account_number":"123"}`,
		`not json`,
	}
	for _, body := range cases {
		req := httptest.NewRequest(http.MethodPost, "/api/accounts/check", strings.NewReader(body))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code, "body %q", body)
	}
}

func TestCheckMapsUnavailable(t *testing.T) {
	svc := &fakeService{err: apperrors.New(apperrors.CodeUnavailable, "reputation service temporarily unavailable")}
	router := newRouter(svc)

	req := httptest.NewRequest(http.MethodPost, "/api/accounts/check",
		strings.NewReader(`{"account_number":"0123456789"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "unavailable")
}

func TestReportFraudCreated(t *testing.T) {
	svc := &fakeService{report: &models.FraudReport{ID: "rpt-1", Severity: models.SeverityHigh}}
	router := newRouter(svc)

	req := httptest.NewRequest(http.MethodPost, "/api/accounts/report-fraud",
		strings.NewReader(`{"account_number":"0123456789","category":"non-delivery","description":"paid, never received"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "rpt-1", resp["report_id"])
	assert.Equal(t, "high", resp["severity"])

	require.NotNil(t, svc.reported)
	assert.Equal(t, "0123456789", svc.reported.Identifier)
	assert.Equal(t, "non-delivery", svc.reported.Category)
}

func TestReportFraudRequiresCategory(t *testing.T) {
	router := newRouter(&fakeService{})

	req := httptest.NewRequest(http.MethodPost, "/api/accounts/report-fraud",
		strings.NewReader(`{"account_number":"0123456789"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestFraudSummary(t *testing.T) {
	svc := &fakeService{summary: &assemble.FraudSummary{
		Total:     3,
		Recent30d: 1,
		RiskTier:  models.RiskHigh,
		Categories: []assemble.CategoryCount{
			{Category: "non-delivery", Count: 3},
		},
	}}
	router := newRouter(svc)

	req := httptest.NewRequest(http.MethodGet, "/api/accounts/0123456789/fraud-reports", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var summary assemble.FraudSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
	assert.Equal(t, 3, summary.Total)
	assert.Equal(t, models.RiskHigh, summary.RiskTier)
}
