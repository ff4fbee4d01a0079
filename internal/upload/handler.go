package upload

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"go.poresolve.tech/internal/domain/uploadjob"
	"go.poresolve.tech/internal/eventbus"
	"go.poresolve.tech/internal/platform/api"
)

// maxUploadBytes bounds the accepted multipart body (spec §6: "≥ 50 MB
// recommended").
const maxUploadBytes = 64 << 20

// Handler exposes the upload endpoints of spec §6: accepting a
// spreadsheet, and streaming its background job's progress.
type Handler struct {
	jobs        *uploadjob.Repository
	parser      RowParser
	coordinator *Coordinator
	bus         *eventbus.Bus
}

// NewHandler creates an upload HTTP handler.
func NewHandler(jobs *uploadjob.Repository, parser RowParser, coordinator *Coordinator, bus *eventbus.Bus) *Handler {
	if parser == nil {
		parser = CSVRowParser{}
	}
	return &Handler{jobs: jobs, parser: parser, coordinator: coordinator, bus: bus}
}

// Routes mounts the upload endpoints.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/pos", h.handleUpload)
	r.Get("/progress/{jobId}", h.handleProgress)
	return r
}

// handleUpload parses the uploaded spreadsheet synchronously, creates an
// UploadJob record, and kicks off the remaining stages (suppliers → pos,
// where rows are classified → batches → queuing → complete) as a
// detached background job (spec §4.9, §6 `POST /upload/pos`).
// @Summary Upload a purchase order spreadsheet
// @Description Parses a CSV of purchase order lines (XLSX/XLS workbooks are not parsed by the default parser) and starts a background classify/batch/queue job
// @Tags Upload
// @Accept multipart/form-data
// @Produce json
// @Param file formData file true "Purchase order spreadsheet"
// @Success 202 {object} map[string]string
// @Failure 400 {object} api.ErrorResponse
// @Failure 500 {object} api.ErrorResponse
// @Router /upload/pos [post]
func (h *Handler) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)

	file, _, err := r.FormFile("file")
	if err != nil {
		api.WriteBadRequest(w, "missing upload file")
		return
	}
	defer file.Close()

	rows, err := h.parser.ParseRows(file)
	if err != nil {
		api.WriteBadRequest(w, fmt.Sprintf("failed to parse upload: %v", err))
		return
	}

	job, err := h.jobs.Create(r.Context())
	if err != nil {
		api.WriteInternalError(w, "failed to create upload job")
		return
	}

	go h.coordinator.Process(context.Background(), job.ID, rows)

	api.WriteJSON(w, http.StatusAccepted, map[string]string{"jobId": job.ID})
}

// handleProgress streams an upload job's progress/complete/error frames
// over SSE (spec §6 `GET /upload/progress/{jobId}`), grounded on the
// teacher's connect-then-subscribe-then-heartbeat SSE handler shape.
// @Summary Stream upload job progress
// @Description Server-sent events stream of an upload job's progress/complete/error frames
// @Tags Upload
// @Produce text/event-stream
// @Param jobId path string true "Upload job ID"
// @Success 200 {string} string "text/event-stream"
// @Failure 404 {object} api.ErrorResponse
// @Router /upload/progress/{jobId} [get]
func (h *Handler) handleProgress(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobId")

	job, err := h.jobs.FindByID(r.Context(), jobID)
	if err != nil {
		api.WriteNotFound(w, "upload job not found")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		api.WriteInternalError(w, "streaming unsupported")
		return
	}

	sendEvent(w, flusher, "connected", job.Progress)

	if job.Status == uploadjob.StatusComplete || job.Status == uploadjob.StatusError {
		sendTerminal(w, flusher, job)
		return
	}

	var sub *eventbus.Subscription
	var events <-chan eventbus.Envelope
	if h.bus != nil {
		sub, err = h.bus.SubscribeUploadProgress(jobID)
		if err != nil {
			slog.Error("Failed to subscribe to upload progress", "jobId", jobID, "error", err)
		} else {
			defer sub.Close()
			events = sub.Events()
		}
	}

	heartbeat := time.NewTicker(30 * time.Second)
	defer heartbeat.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case env, ok := <-events:
			if !ok {
				return
			}
			sendEvent(w, flusher, string(env.Type), env.Data)
			if env.Type == "complete" || env.Type == "error" {
				return
			}
		case <-heartbeat.C:
			fmt.Fprint(w, ": heartbeat\n\n")
			flusher.Flush()
		}
	}
}

func sendTerminal(w http.ResponseWriter, flusher http.Flusher, job *uploadjob.UploadJob) {
	if job.Status == uploadjob.StatusComplete {
		sendEvent(w, flusher, "complete", job.Result)
		return
	}
	sendEvent(w, flusher, "error", map[string]string{"error": job.ErrorMessage})
}

func sendEvent(w http.ResponseWriter, flusher http.Flusher, eventType string, data any) {
	payload, err := json.Marshal(data)
	if err != nil {
		slog.Error("Failed to marshal SSE payload", "eventType", eventType, "error", err)
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", eventType, payload)
	flusher.Flush()
}
