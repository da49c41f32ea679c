package handler

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"confirmit/internal/progress"
	"confirmit/internal/receipt/models"
	"confirmit/internal/receipt/service"
	apperrors "confirmit/pkg/errors"
)

type fakeService struct {
	job     *models.Job
	history []*models.Job
	err     error

	submitted *service.Upload
	opts      service.SubmitOptions
}

func (f *fakeService) Submit(_ context.Context, _ string, upload service.Upload, opts service.SubmitOptions) (*models.Job, error) {
	f.submitted = &upload
	f.opts = opts
	return f.job, f.err
}

func (f *fakeService) GetJob(context.Context, string) (*models.Job, error) {
	return f.job, f.err
}

func (f *fakeService) ListByOwner(context.Context, string, int) ([]*models.Job, error) {
	return f.history, f.err
}

func newRouter(svc *fakeService, bus *progress.Bus) http.Handler {
	r := chi.NewRouter()
	New(svc, bus, slog.New(slog.NewTextHandler(io.Discard, nil))).Register(r)
	return r
}

func multipartBody(t *testing.T, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("image", "receipt.jpg")
	require.NoError(t, err)
	_, err = part.Write([]byte("jpeg-bytes"))
	require.NoError(t, err)
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	require.NoError(t, w.Close())
	return &buf, w.FormDataContentType()
}

func TestScanAcceptsMultipart(t *testing.T) {
	svc := &fakeService{job: &models.Job{ID: "RCP-1", Stage: models.StageReceived}}
	router := newRouter(svc, progress.NewBus(time.Second))

	body, contentType := multipartBody(t, map[string]string{"anchor_requested": "true"})
	req := httptest.NewRequest(http.MethodPost, "/api/receipts/scan", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "RCP-1", resp["receipt_id"])
	assert.Equal(t, "received", resp["stage"])

	require.NotNil(t, svc.submitted)
	assert.Equal(t, []byte("jpeg-bytes"), svc.submitted.Data)
	assert.Equal(t, "receipt.jpg", svc.submitted.Filename)
	assert.True(t, svc.opts.AnchorRequested)
}

func TestScanRequiresImage(t *testing.T) {
	router := newRouter(&fakeService{}, progress.NewBus(time.Second))

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	require.NoError(t, w.WriteField("anchor_requested", "false"))
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/receipts/scan", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetJobNotFound(t *testing.T) {
	svc := &fakeService{err: apperrors.New(apperrors.CodeNotFound, "receipt not found")}
	router := newRouter(svc, progress.NewBus(time.Second))

	req := httptest.NewRequest(http.MethodGet, "/api/receipts/RCP-missing", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "not_found")
}

func TestHistoryReturnsEmptyArray(t *testing.T) {
	router := newRouter(&fakeService{}, progress.NewBus(time.Second))

	req := httptest.NewRequest(http.MethodGet, "/api/receipts?owner=user-1", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"receipts": []}`, rec.Body.String())
}

func TestEventsStreamsUntilTerminal(t *testing.T) {
	bus := progress.NewBus(time.Second)
	svc := &fakeService{job: &models.Job{ID: "RCP-1", Stage: models.StageExtracting}}
	server := httptest.NewServer(newRouter(svc, bus))
	defer server.Close()

	bus.CreateChannel("RCP-1")

	resp, err := http.Get(server.URL + "/api/receipts/RCP-1/events")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	go func() {
		time.Sleep(20 * time.Millisecond)
		bus.Publish("RCP-1", string(models.StageScoring), 90, "Scoring verdict", nil)
		bus.Publish("RCP-1", progress.StageComplete, 100, "Verification complete", nil)
	}()

	var stages []string
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var event progress.Event
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &event))
		stages = append(stages, event.Stage)
	}
	require.NoError(t, scanner.Err())
	assert.Equal(t, []string{"scoring", "complete"}, stages)
}

func TestEventsForFinishedJobSendsSnapshot(t *testing.T) {
	svc := &fakeService{job: &models.Job{
		ID:      "RCP-1",
		Stage:   models.StageComplete,
		Verdict: &models.Verdict{TrustScore: 92, Label: "authentic"},
	}}
	server := httptest.NewServer(newRouter(svc, progress.NewBus(time.Second)))
	defer server.Close()

	resp, err := http.Get(server.URL + "/api/receipts/RCP-1/events")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	line := strings.TrimPrefix(strings.TrimSpace(string(body)), "data: ")

	var event progress.Event
	require.NoError(t, json.Unmarshal([]byte(line), &event))
	assert.Equal(t, progress.StageComplete, event.Stage)
	assert.Equal(t, 100, event.Percent)
	require.NotNil(t, event.Payload)
}
