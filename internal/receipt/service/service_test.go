package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"confirmit/internal/analyzer"
	"confirmit/internal/anchor"
	"confirmit/internal/artifact"
	"confirmit/internal/events"
	"confirmit/internal/platform/metrics"
	"confirmit/internal/progress"
	"confirmit/internal/receipt/models"
	"confirmit/internal/receipt/store"
	apperrors "confirmit/pkg/errors"
)

type fakeStorage struct {
	err error
}

func (f *fakeStorage) Store(_ context.Context, _ []byte, _ artifact.Metadata) (*artifact.Stored, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &artifact.Stored{URL: "http://files/abc.jpg", ProviderID: "abc"}, nil
}

type fakeAnalyzer struct {
	analysis *analyzer.ReceiptAnalysis
	err      error
}

func (f *fakeAnalyzer) AnalyzeReceipt(context.Context, string, string) (*analyzer.ReceiptAnalysis, error) {
	return f.analysis, f.err
}

func (f *fakeAnalyzer) CheckReputation(context.Context, string, string, string) (*analyzer.AccountReputation, error) {
	return nil, errors.New("not used")
}

type fakeAnchorer struct {
	receipt *anchor.Receipt
	err     error
	calls   int
}

func (f *fakeAnchorer) Anchor(context.Context, anchor.Request) (*anchor.Receipt, error) {
	f.calls++
	return f.receipt, f.err
}

type fixture struct {
	svc      *Service
	store    *store.MemoryStore
	bus      *progress.Bus
	anchorer *fakeAnchorer
}

func newFixture(t *testing.T, backend analyzer.Client, storage artifact.Storage) *fixture {
	t.Helper()
	f := &fixture{
		store:    store.NewMemoryStore(),
		bus:      progress.NewBus(time.Second),
		anchorer: &fakeAnchorer{receipt: &anchor.Receipt{TransactionRef: "tx-1", ExplorerURL: "http://ledger/tx-1"}},
	}
	f.svc = New(
		f.store, f.bus, storage, backend, f.anchorer, events.Nop{},
		metrics.NewWith(prometheus.NewRegistry()),
		slog.New(slog.NewTextHandler(io.Discard, nil)),
		2, time.Second,
	)
	return f
}

func goodAnalysis() *analyzer.ReceiptAnalysis {
	a := &analyzer.ReceiptAnalysis{
		TrustScore:     92,
		Verdict:        "authentic",
		Recommendation: "Safe to accept",
		Merchant:       "Mama Nkechi Stores",
	}
	a.ForensicDetails.OCRConfidence = 0.97
	return a
}

func waitTerminal(t *testing.T, f *fixture, id string) *models.Job {
	t.Helper()
	var job *models.Job
	require.Eventually(t, func() bool {
		got, err := f.store.Get(context.Background(), id)
		if err != nil {
			return false
		}
		job = got
		return got.Stage.Terminal()
	}, 2*time.Second, 5*time.Millisecond)
	return job
}

func TestSubmitRejectsEmptyUpload(t *testing.T) {
	f := newFixture(t, &fakeAnalyzer{analysis: goodAnalysis()}, &fakeStorage{})

	_, err := f.svc.Submit(context.Background(), "user-1", Upload{}, SubmitOptions{})
	assert.True(t, apperrors.Is(err, apperrors.CodeBadRequest))
}

func TestHappyPathWithoutAnchor(t *testing.T) {
	f := newFixture(t, &fakeAnalyzer{analysis: goodAnalysis()}, &fakeStorage{})

	job, err := f.svc.Submit(context.Background(), "user-1", Upload{Data: []byte("img"), Filename: "r.jpg"}, SubmitOptions{})
	require.NoError(t, err)
	assert.Equal(t, models.StageReceived, job.Stage)

	final := waitTerminal(t, f, job.ID)
	assert.Equal(t, models.StageComplete, final.Stage)
	require.NotNil(t, final.Verdict)
	assert.Equal(t, 92, final.Verdict.TrustScore)
	assert.Equal(t, "authentic", final.Verdict.Label)
	assert.Nil(t, final.Anchor)
	assert.Zero(t, f.anchorer.calls)
	assert.NotNil(t, final.CompletedAt)
	assert.Greater(t, final.ProcessingTime, time.Duration(0))
}

func TestTerminalEventCarriesPersistedRecord(t *testing.T) {
	f := newFixture(t, &fakeAnalyzer{analysis: goodAnalysis()}, &fakeStorage{})

	job, err := f.svc.Submit(context.Background(), "user-1", Upload{Data: []byte("img")}, SubmitOptions{})
	require.NoError(t, err)

	sub := f.bus.Subscribe(job.ID)
	defer sub.Close()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case event := <-sub.Events():
			if !event.Terminal() {
				continue
			}
			assert.Equal(t, progress.StageComplete, event.Stage)
			assert.Equal(t, 100, event.Percent)
			payload, ok := event.Payload.(*models.Job)
			require.True(t, ok, "terminal payload should be the persisted record")
			require.NotNil(t, payload.Verdict)
			assert.Equal(t, 92, payload.Verdict.TrustScore)
			return
		case <-deadline:
			t.Fatal("no terminal event")
		}
	}
}

func TestBackendTimeoutFailsJob(t *testing.T) {
	f := newFixture(t, &fakeAnalyzer{err: analyzer.ErrTimeout}, &fakeStorage{})

	job, err := f.svc.Submit(context.Background(), "user-1", Upload{Data: []byte("img")}, SubmitOptions{})
	require.NoError(t, err)

	final := waitTerminal(t, f, job.ID)
	assert.Equal(t, models.StageFailed, final.Stage)
	require.NotNil(t, final.Error)
	assert.Equal(t, models.CauseBackendTimeout, final.Error.Cause)
	assert.Equal(t, msgTimeout, final.Error.Message)
}

func TestBackendValidationMessagePassesThrough(t *testing.T) {
	f := newFixture(t, &fakeAnalyzer{err: &analyzer.ValidationError{Message: "Image is not a receipt"}}, &fakeStorage{})

	job, err := f.svc.Submit(context.Background(), "user-1", Upload{Data: []byte("img")}, SubmitOptions{})
	require.NoError(t, err)

	final := waitTerminal(t, f, job.ID)
	require.NotNil(t, final.Error)
	assert.Equal(t, models.CauseBackendValidationError, final.Error.Cause)
	assert.Equal(t, "Image is not a receipt", final.Error.Message)
}

func TestStorageFailureFailsJob(t *testing.T) {
	f := newFixture(t, &fakeAnalyzer{analysis: goodAnalysis()}, &fakeStorage{err: errors.New("disk full")})

	job, err := f.svc.Submit(context.Background(), "user-1", Upload{Data: []byte("img")}, SubmitOptions{})
	require.NoError(t, err)

	final := waitTerminal(t, f, job.ID)
	assert.Equal(t, models.StageFailed, final.Stage)
	require.NotNil(t, final.Error)
	assert.Equal(t, models.CauseStorageError, final.Error.Cause)
	assert.Equal(t, msgStorage, final.Error.Message)
}

func TestAnchorWrittenWhenRequested(t *testing.T) {
	f := newFixture(t, &fakeAnalyzer{analysis: goodAnalysis()}, &fakeStorage{})

	job, err := f.svc.Submit(context.Background(), "user-1", Upload{Data: []byte("img")}, SubmitOptions{AnchorRequested: true})
	require.NoError(t, err)

	final := waitTerminal(t, f, job.ID)
	assert.Equal(t, models.StageComplete, final.Stage)
	require.NotNil(t, final.Anchor)
	assert.Equal(t, "tx-1", final.Anchor.TransactionRef)
	assert.Equal(t, 1, f.anchorer.calls)
}

func TestAnchorFailureIsPartialSuccess(t *testing.T) {
	f := newFixture(t, &fakeAnalyzer{analysis: goodAnalysis()}, &fakeStorage{})
	f.anchorer.receipt = nil
	f.anchorer.err = errors.New("ledger down")

	job, err := f.svc.Submit(context.Background(), "user-1", Upload{Data: []byte("img")}, SubmitOptions{AnchorRequested: true})
	require.NoError(t, err)

	final := waitTerminal(t, f, job.ID)
	assert.Equal(t, models.StageComplete, final.Stage)
	require.NotNil(t, final.Verdict)
	assert.Nil(t, final.Anchor)
	assert.Nil(t, final.Error)
	assert.NotEmpty(t, final.Note)
}

func TestGetJobUnknownID(t *testing.T) {
	f := newFixture(t, &fakeAnalyzer{analysis: goodAnalysis()}, &fakeStorage{})

	_, err := f.svc.GetJob(context.Background(), "RCP-missing")
	assert.True(t, apperrors.Is(err, apperrors.CodeNotFound))
}
