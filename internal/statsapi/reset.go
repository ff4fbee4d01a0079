package statsapi

import (
	"log/slog"
	"net/http"

	"go.poresolve.tech/internal/platform/api"
)

// handleReset implements `POST /reset` (spec §6, operator-only, guarded by
// api.RequireResetConfirmation at mount time): clears the queue store and
// the batch/conflict/PO/supplier tables. Agent runs and batch logs are
// audit trails and are deliberately left untouched.
// @Summary Reset working state
// @Description Operator-only. Clears the queue store and the batch/conflict/PO/supplier tables
// @Tags Admin
// @Produce json
// @Param X-Confirm-Reset header string true "Must match the configured reset confirmation token"
// @Success 200 {object} map[string]string
// @Failure 403 {object} api.ErrorResponse
// @Failure 500 {object} api.ErrorResponse
// @Router /reset [post]
func (h *Handler) handleReset(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if err := h.queue.Reset(ctx); err != nil {
		slog.Error("Reset failed to clear queue store", "error", err)
		api.WriteInternalError(w, "failed to clear queue store")
		return
	}
	if err := h.pos.Clear(ctx); err != nil {
		slog.Error("Reset failed to clear purchase orders", "error", err)
		api.WriteInternalError(w, "failed to clear purchase orders")
		return
	}
	if err := h.conflicts.Clear(ctx); err != nil {
		slog.Error("Reset failed to clear conflicts", "error", err)
		api.WriteInternalError(w, "failed to clear conflicts")
		return
	}
	if err := h.batches.Clear(ctx); err != nil {
		slog.Error("Reset failed to clear batches", "error", err)
		api.WriteInternalError(w, "failed to clear batches")
		return
	}
	if err := h.suppliers.Clear(ctx); err != nil {
		slog.Error("Reset failed to clear suppliers", "error", err)
		api.WriteInternalError(w, "failed to clear suppliers")
		return
	}

	slog.Warn("Operator reset cleared queue store and batch/conflict/PO/supplier tables")
	api.WriteJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}
