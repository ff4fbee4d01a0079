// Package statsapi exposes the read-side HTTP surface of spec §6: paginated
// batch/supplier listings, batch detail, aggregated stats, the manual
// trigger-call escape hatch, per-batch SSE log streaming, and the
// destructive operator /reset endpoint. Grounded on the same
// Routes() chi.Router handler-struct convention as internal/webhook and
// internal/upload.
package statsapi

import (
	"github.com/go-chi/chi/v5"

	"go.poresolve.tech/internal/dispatcher"
	"go.poresolve.tech/internal/domain/agentrun"
	"go.poresolve.tech/internal/domain/batch"
	"go.poresolve.tech/internal/domain/batchlog"
	"go.poresolve.tech/internal/domain/conflict"
	"go.poresolve.tech/internal/domain/purchaseorder"
	"go.poresolve.tech/internal/domain/supplier"
	"go.poresolve.tech/internal/eventbus"
	"go.poresolve.tech/internal/queuestore"
)

// Deps bundles the repositories and components the handler composes.
type Deps struct {
	Batches    *batch.Repository
	POs        *purchaseorder.Repository
	Suppliers  *supplier.Repository
	Conflicts  *conflict.Repository
	AgentRuns  *agentrun.Repository
	Logs       *batchlog.Repository
	Queue      *queuestore.Store
	Dispatcher *dispatcher.Dispatcher
	Bus        *eventbus.Bus
}

// Handler serves the stats/query/admin endpoints of spec §6.
type Handler struct {
	batches    *batch.Repository
	pos        *purchaseorder.Repository
	suppliers  *supplier.Repository
	conflicts  *conflict.Repository
	agentRuns  *agentrun.Repository
	logs       *batchlog.Repository
	queue      *queuestore.Store
	dispatcher *dispatcher.Dispatcher
	bus        *eventbus.Bus
}

// NewHandler creates a stats/query API handler.
func NewHandler(deps Deps) *Handler {
	return &Handler{
		batches:    deps.Batches,
		pos:        deps.POs,
		suppliers:  deps.Suppliers,
		conflicts:  deps.Conflicts,
		agentRuns:  deps.AgentRuns,
		logs:       deps.Logs,
		queue:      deps.Queue,
		dispatcher: deps.Dispatcher,
		bus:        deps.Bus,
	}
}

// Routes mounts the non-destructive query endpoints. Call ResetRoutes
// separately, behind the confirmation-header middleware, to mount the
// destructive /reset endpoint at the app's discretion.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/batches", h.handleListBatches)
	r.Get("/batches/stats", h.handleStats)
	r.Get("/batches/{id}", h.handleBatchDetail)
	r.Post("/batches/{id}/trigger-call", h.handleTriggerCall)
	r.Get("/batches/{id}/events", h.handleBatchEvents)
	r.Get("/suppliers", h.handleListSuppliers)
	r.Get("/suppliers/{id}", h.handleSupplierDetail)
	return r
}

// ResetRoutes mounts the destructive /reset endpoint. Callers are expected
// to wrap it in api.RequireResetConfirmation before mounting, e.g.:
//
//	r.With(api.RequireResetConfirmation(token)).Mount("/", h.ResetRoutes())
func (h *Handler) ResetRoutes() chi.Router {
	r := chi.NewRouter()
	r.Post("/reset", h.handleReset)
	return r
}
