package webhook

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"go.poresolve.tech/internal/platform/api"
	"go.poresolve.tech/internal/platform/common"
)

// Handler adapts a Reconciler to the inbound HTTP webhook endpoint (spec
// §6 `POST /webhooks/agent`).
type Handler struct {
	reconciler *Reconciler
}

// NewHandler creates a webhook HTTP handler.
func NewHandler(reconciler *Reconciler) *Handler {
	return &Handler{reconciler: reconciler}
}

// Routes mounts the webhook endpoint behind the shared-secret auth
// middleware. secret is the configured AGENT_WEBHOOK_SECRET value.
func (h *Handler) Routes(secret string) chi.Router {
	r := chi.NewRouter()
	r.Use(api.WebhookAuth(secret))
	r.Post("/", h.handleWebhook)
	return r
}

// handleWebhook decodes and applies a single agent provider event.
// Malformed JSON is rejected with 400 per spec §9's "webhook handler
// treats malformed payloads as 4xx" propagation policy. Any error returned
// by the Reconciler (a missing batch_id or other required field, an
// unknown call_complete outcome, or a store failure) is also answered with
// 400. An unrecognized event_type, which the Reconciler turns into a
// no-op, and every successfully applied event are acknowledged with 200.
// @Summary Receive an agent provider webhook event
// @Description Applies a single log/po_resolved/callback_requested/escalation/call_complete event to batch and PO state
// @Tags Webhooks
// @Accept json
// @Produce json
// @Param body body Event true "Webhook event payload"
// @Success 200 {object} map[string]string
// @Failure 400 {object} api.ErrorResponse
// @Security WebhookSecret
// @Router /webhooks/agent [post]
func (h *Handler) handleWebhook(w http.ResponseWriter, r *http.Request) {
	var ev Event
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		api.WriteError(w, http.StatusBadRequest, common.ErrCodeWebhookMalformed, "malformed webhook payload")
		return
	}

	if err := h.reconciler.HandleEvent(r.Context(), ev); err != nil {
		slog.Error("Webhook reconciler failed to process event", "type", ev.Type, "batchId", ev.BatchID, "error", err)
		api.WriteError(w, http.StatusBadRequest, common.ErrCodeWebhookMalformed, "failed to process webhook event")
		return
	}

	api.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
