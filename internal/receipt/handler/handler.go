// Package handler exposes the receipt verification endpoints, including the
// per-job SSE progress stream.
package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"confirmit/internal/platform/middleware"
	"confirmit/internal/progress"
	"confirmit/internal/receipt/models"
	"confirmit/internal/receipt/service"
	"confirmit/internal/transport/http/shared"
	apperrors "confirmit/pkg/errors"
)

// maxUploadBytes bounds one multipart receipt image.
const maxUploadBytes = 10 << 20

// Service is what the handler needs from the orchestrator.
type Service interface {
	Submit(ctx context.Context, ownerRef string, upload service.Upload, opts service.SubmitOptions) (*models.Job, error)
	GetJob(ctx context.Context, id string) (*models.Job, error)
	ListByOwner(ctx context.Context, ownerRef string, limit int) ([]*models.Job, error)
}

// Handler handles receipt endpoints.
type Handler struct {
	service Service
	bus     *progress.Bus
	logger  *slog.Logger
}

func New(svc Service, bus *progress.Bus, logger *slog.Logger) *Handler {
	return &Handler{service: svc, bus: bus, logger: logger}
}

// Register mounts the receipt routes.
func (h *Handler) Register(r chi.Router) {
	r.Post("/api/receipts/scan", h.handleScan)
	r.Get("/api/receipts", h.handleHistory)
	r.Get("/api/receipts/{id}", h.handleGet)
	r.Get("/api/receipts/{id}/events", h.handleEvents)
}

func (h *Handler) handleScan(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		shared.WriteError(w, apperrors.New(apperrors.CodeBadRequest, "invalid multipart form"))
		return
	}
	file, header, err := r.FormFile("image")
	if err != nil {
		shared.WriteError(w, apperrors.New(apperrors.CodeBadRequest, "missing image file"))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		shared.WriteError(w, apperrors.New(apperrors.CodeBadRequest, "unreadable image file"))
		return
	}

	anchorRequested, _ := strconv.ParseBool(r.FormValue("anchor_requested"))
	owner := r.FormValue("owner")
	if owner == "" {
		owner = middleware.GetActor(ctx)
	}

	job, err := h.service.Submit(ctx, owner, service.Upload{
		Data:        data,
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
	}, service.SubmitOptions{AnchorRequested: anchorRequested})
	if err != nil {
		h.logger.ErrorContext(ctx, "submit receipt",
			"request_id", middleware.GetRequestID(ctx),
			"error", err.Error(),
		)
		shared.WriteError(w, err)
		return
	}

	shared.WriteJSON(w, http.StatusAccepted, map[string]any{
		"receipt_id": job.ID,
		"stage":      job.Stage,
	})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	job, err := h.service.GetJob(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, job)
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	owner := r.URL.Query().Get("owner")
	if owner == "" {
		owner = middleware.GetActor(ctx)
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	jobs, err := h.service.ListByOwner(ctx, owner, limit)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	if jobs == nil {
		jobs = []*models.Job{}
	}
	shared.WriteJSON(w, http.StatusOK, map[string]any{"receipts": jobs})
}

// handleEvents streams the job's progress as server-sent events. The stream
// ends after the terminal event, or when the client disconnects.
func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	job, err := h.service.GetJob(ctx, id)
	if err != nil {
		shared.WriteError(w, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		shared.WriteError(w, apperrors.New(apperrors.CodeInternal, "streaming unsupported"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	// A job that finished before the subscriber attached still gets one
	// terminal snapshot; the bus channel may already be gone.
	if job.Stage.Terminal() {
		writeSSE(w, progress.Event{
			JobID:   job.ID,
			Stage:   string(job.Stage),
			Percent: 100,
			Payload: job,
		})
		flusher.Flush()
		return
	}

	sub := h.bus.Subscribe(id)
	defer sub.Close()
	flusher.Flush()

	for {
		select {
		case <-ctx.Done():
			return
		case event, open := <-sub.Events():
			if !open {
				return
			}
			writeSSE(w, event)
			flusher.Flush()
			if event.Terminal() {
				return
			}
		}
	}
}

func writeSSE(w http.ResponseWriter, event progress.Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		return
	}
	_, _ = w.Write([]byte("data: "))
	_, _ = w.Write(payload)
	_, _ = w.Write([]byte("\n\n"))
}
