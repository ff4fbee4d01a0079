package statsapi

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"go.poresolve.tech/internal/common/repository"
	"go.poresolve.tech/internal/domain/purchaseorder"
	"go.poresolve.tech/internal/domain/supplier"
	"go.poresolve.tech/internal/platform/api"
)

// handleListSuppliers implements `GET /suppliers`: search/paginate
// suppliers with roll-ups.
// @Summary List suppliers
// @Description Search and paginate suppliers
// @Tags Suppliers
// @Produce json
// @Param search query string false "Free-text search over supplier name or supplier number"
// @Param page query int false "Page number, zero-indexed"
// @Param limit query int false "Page size, max 100"
// @Success 200 {object} api.PagedResponse
// @Failure 500 {object} api.ErrorResponse
// @Router /suppliers [get]
func (h *Handler) handleListSuppliers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	params := supplierSearchParams(q)
	suppliers, total, err := h.suppliers.Search(r.Context(), params)
	if err != nil {
		slog.Error("Stats API failed to search suppliers", "error", err)
		api.WriteInternalError(w, "failed to search suppliers")
		return
	}

	api.WriteJSON(w, http.StatusOK, api.NewPagedResponse(suppliers, params.Page, pageSizeOrDefault(params.Limit), total))
}

// handleSupplierDetail implements `GET /suppliers/{id}`: supplier detail
// with its batch list, PO list, and stats.
// @Summary Get supplier detail
// @Description Returns a supplier plus its batch list and purchase orders
// @Tags Suppliers
// @Produce json
// @Param id path string true "Supplier ID"
// @Success 200 {object} map[string]any
// @Failure 404 {object} api.ErrorResponse
// @Failure 500 {object} api.ErrorResponse
// @Router /suppliers/{id} [get]
func (h *Handler) handleSupplierDetail(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	s, err := h.suppliers.FindByID(r.Context(), id)
	if errors.Is(err, repository.ErrNotFound) {
		api.WriteNotFound(w, "supplier not found")
		return
	}
	if err != nil {
		slog.Error("Stats API failed to load supplier", "supplierId", id, "error", err)
		api.WriteInternalError(w, "failed to load supplier")
		return
	}

	batches, err := h.batches.ListBySupplier(r.Context(), id, 100)
	if err != nil {
		slog.Error("Stats API failed to list supplier batches", "supplierId", id, "error", err)
		api.WriteInternalError(w, "failed to load supplier batches")
		return
	}

	var pos []*purchaseorder.PurchaseOrder
	for _, b := range batches {
		linked, err := h.pos.FindByBatchID(r.Context(), b.ID)
		if err != nil {
			slog.Error("Stats API failed to load supplier POs", "supplierId", id, "batchId", b.ID, "error", err)
			continue
		}
		pos = append(pos, linked...)
	}

	api.WriteJSON(w, http.StatusOK, map[string]any{
		"supplier":   s,
		"batches":    batches,
		"batchCount": len(batches),
		"pos":        pos,
	})
}

func supplierSearchParams(q map[string][]string) supplier.SearchParams {
	return supplier.SearchParams{
		Search:    first(q, "search"),
		Page:      queryInt(q, "page", 0),
		Limit:     queryInt(q, "limit", 20),
		SortBy:    first(q, "sortBy"),
		SortOrder: first(q, "sortOrder"),
	}
}

func first(q map[string][]string, key string) string {
	vals, ok := q[key]
	if !ok || len(vals) == 0 {
		return ""
	}
	return vals[0]
}
