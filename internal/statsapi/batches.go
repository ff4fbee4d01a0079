package statsapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"go.poresolve.tech/internal/agentprovider"
	"go.poresolve.tech/internal/common/repository"
	"go.poresolve.tech/internal/dispatcher"
	"go.poresolve.tech/internal/domain/batch"
	"go.poresolve.tech/internal/domain/supplier"
	"go.poresolve.tech/internal/eventbus"
	"go.poresolve.tech/internal/platform/api"
)

// handleListBatches implements `GET /batches` of spec §6: paginated,
// server-side filtered/sorted batches.
// @Summary List supplier batches
// @Description Returns a paginated, filtered, sorted list of supplier batches
// @Tags Batches
// @Accept json
// @Produce json
// @Param status query string false "Filter by batch status"
// @Param actionType query string false "Filter by action type"
// @Param search query string false "Case-insensitive substring search over the batch externalId or id; supplier name and number are not searched"
// @Param page query int false "Page number, zero-indexed"
// @Param limit query int false "Page size, max 100"
// @Success 200 {object} api.PagedResponse
// @Failure 500 {object} api.ErrorResponse
// @Router /batches [get]
func (h *Handler) handleListBatches(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filter := batch.ListFilter{
		Status:     batch.Status(q.Get("status")),
		ActionType: q.Get("actionType"),
		Search:     q.Get("search"),
		Page:       queryInt(q, "page", 0),
		Limit:      queryInt(q, "limit", 20),
		Sort:       q.Get("sort"),
		Order:      q.Get("order"),
	}

	batches, total, err := h.batches.ListPage(r.Context(), filter)
	if err != nil {
		slog.Error("Stats API failed to list batches", "error", err)
		api.WriteInternalError(w, "failed to list batches")
		return
	}

	api.WriteJSON(w, http.StatusOK, api.NewPagedResponse(batches, filter.Page, pageSizeOrDefault(filter.Limit), total))
}

// handleBatchDetail implements `GET /batches/{id}`: batch detail with
// linked POs, recent agent runs, and logs.
// @Summary Get batch detail
// @Description Returns a batch plus its linked purchase orders, recent agent runs, and logs
// @Tags Batches
// @Accept json
// @Produce json
// @Param id path string true "Batch ID"
// @Success 200 {object} map[string]any
// @Failure 404 {object} api.ErrorResponse
// @Failure 500 {object} api.ErrorResponse
// @Router /batches/{id} [get]
func (h *Handler) handleBatchDetail(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	b, err := h.batches.FindByID(r.Context(), id)
	if errors.Is(err, repository.ErrNotFound) {
		api.WriteNotFound(w, "batch not found")
		return
	}
	if err != nil {
		slog.Error("Stats API failed to load batch", "batchId", id, "error", err)
		api.WriteInternalError(w, "failed to load batch")
		return
	}

	pos, err := h.pos.FindByBatchID(r.Context(), id)
	if err != nil {
		slog.Error("Stats API failed to load batch POs", "batchId", id, "error", err)
		api.WriteInternalError(w, "failed to load batch POs")
		return
	}

	runs, err := h.agentRuns.ListForBatch(r.Context(), id, 20)
	if err != nil {
		slog.Error("Stats API failed to load batch runs", "batchId", id, "error", err)
		api.WriteInternalError(w, "failed to load batch runs")
		return
	}

	logs, err := h.logs.ListForBatch(r.Context(), id, 100)
	if err != nil {
		slog.Error("Stats API failed to load batch logs", "batchId", id, "error", err)
		api.WriteInternalError(w, "failed to load batch logs")
		return
	}

	api.WriteJSON(w, http.StatusOK, map[string]any{
		"batch": b,
		"pos":   pos,
		"runs":  runs,
		"logs":  logs,
	})
}

// triggerCallRequest is the body of `POST /batches/{id}/trigger-call`
// (spec §6: `{phoneOverride?, emailOverride?}`). Its JSON shape mirrors
// supplier.ContactOverride exactly; that type is reused here rather than
// duplicated, since both describe the same one-off contact substitution.
type triggerCallRequest = supplier.ContactOverride

// handleTriggerCall implements `POST /batches/{id}/trigger-call`: manual
// dispatch for a QUEUED batch. 400 if the batch is not QUEUED, 503 if no
// provider is configured.
// @Summary Manually trigger a batch call
// @Description Dispatches a QUEUED batch immediately, with optional one-off contact overrides
// @Tags Batches
// @Accept json
// @Produce json
// @Param id path string true "Batch ID"
// @Param body body supplier.ContactOverride false "Optional contact overrides"
// @Success 200 {object} map[string]string
// @Failure 400 {object} api.ErrorResponse
// @Failure 404 {object} api.ErrorResponse
// @Failure 503 {object} api.ErrorResponse
// @Router /batches/{id}/trigger-call [post]
func (h *Handler) handleTriggerCall(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var body triggerCallRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			api.WriteBadRequest(w, "malformed request body")
			return
		}
	}

	runID, externalURL, err := h.dispatcher.TriggerCall(r.Context(), id, agentprovider.ContactOverride{
		Phone: body.Phone,
		Email: body.Email,
	})
	switch {
	case errors.Is(err, dispatcher.ErrProviderNotConfigured):
		api.WriteError(w, http.StatusServiceUnavailable, "provider_not_configured", "no agent provider is configured")
		return
	case errors.Is(err, dispatcher.ErrBatchNotQueued):
		api.WriteBadRequest(w, "batch is not queued")
		return
	case errors.Is(err, repository.ErrNotFound):
		api.WriteNotFound(w, "batch not found")
		return
	case err != nil:
		slog.Error("Stats API manual trigger-call failed", "batchId", id, "error", err)
		api.WriteErrorWithDetails(w, http.StatusBadGateway, "dispatch_failed", "failed to place call", err.Error())
		return
	}

	api.WriteJSON(w, http.StatusOK, map[string]string{
		"runId":       runID,
		"externalUrl": externalURL,
	})
}

// handleStats implements `GET /batches/stats`: aggregated counts/values
// grouped by batch status.
// @Summary Aggregate batch stats
// @Description Returns counts and values grouped by batch status
// @Tags Batches
// @Produce json
// @Success 200 {object} map[string]any
// @Failure 500 {object} api.ErrorResponse
// @Router /batches/stats [get]
func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.batches.StatsByStatus(r.Context())
	if err != nil {
		slog.Error("Stats API failed to aggregate batch stats", "error", err)
		api.WriteInternalError(w, "failed to aggregate stats")
		return
	}
	api.WriteJSON(w, http.StatusOK, map[string]any{"byStatus": stats})
}

// handleBatchEvents implements `GET /batches/{id}/events`: an SSE stream
// of a batch's live log channel, grounded on the same
// connect-then-subscribe-then-heartbeat shape as the upload progress
// stream (internal/upload.Handler.handleProgress).
// @Summary Stream batch log events
// @Description Server-sent events stream of a batch's live log channel
// @Tags Batches
// @Produce text/event-stream
// @Param id path string true "Batch ID"
// @Success 200 {string} string "text/event-stream"
// @Failure 404 {object} api.ErrorResponse
// @Router /batches/{id}/events [get]
func (h *Handler) handleBatchEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	b, err := h.batches.FindByID(r.Context(), id)
	if errors.Is(err, repository.ErrNotFound) {
		api.WriteNotFound(w, "batch not found")
		return
	}
	if err != nil {
		api.WriteInternalError(w, "failed to load batch")
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

	writeSSE(w, flusher, "connected", map[string]any{"currentStatus": b.Status})

	var sub *eventbus.Subscription
	var events <-chan eventbus.Envelope
	if h.bus != nil {
		sub, err = h.bus.SubscribeBatchLog(id)
		if err != nil {
			slog.Error("Failed to subscribe to batch log", "batchId", id, "error", err)
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
			writeSSE(w, flusher, string(env.Type), env.Data)
		case <-heartbeat.C:
			fmt.Fprint(w, ": heartbeat\n\n")
			flusher.Flush()
		}
	}
}

func writeSSE(w http.ResponseWriter, flusher http.Flusher, eventType string, data any) {
	payload, err := json.Marshal(data)
	if err != nil {
		slog.Error("Failed to marshal SSE payload", "eventType", eventType, "error", err)
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", eventType, payload)
	flusher.Flush()
}

func queryInt(q map[string][]string, key string, def int) int {
	vals, ok := q[key]
	if !ok || len(vals) == 0 || vals[0] == "" {
		return def
	}
	n, err := strconv.Atoi(vals[0])
	if err != nil {
		return def
	}
	return n
}

func pageSizeOrDefault(limit int) int {
	if limit <= 0 || limit > 100 {
		return 20
	}
	return limit
}
