package production

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/tallyhq/tally/internal/platform/httpx"
	"github.com/tallyhq/tally/internal/shared"
)

type orderService interface {
	Create(ctx context.Context, actor shared.Actor, req CreateRequest) (*Order, error)
	Update(ctx context.Context, actor shared.Actor, id int64, req UpdateRequest) (*Order, error)
	Complete(ctx context.Context, actor shared.Actor, id int64) (*Completion, error)
	Delete(ctx context.Context, actor shared.Actor, id int64) error
	Get(ctx context.Context, actor shared.Actor, id int64) (*Order, error)
	List(ctx context.Context, actor shared.Actor, req ListRequest) ([]Order, error)
}

// Handler handles HTTP requests for production orders.
type Handler struct {
	logger  *slog.Logger
	service orderService
}

// NewHandler creates a new production order handler.
func NewHandler(logger *slog.Logger, service orderService) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers production order routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.handleList)
	r.Post("/", h.handleCreate)
	r.Get("/{id}", h.handleGet)
	r.Patch("/{id}", h.handleUpdate)
	r.Post("/{id}/complete", h.handleComplete)
	r.Delete("/{id}", h.handleDelete)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	q := r.URL.Query()
	var req ListRequest
	var ok bool
	if req.ProjectID, ok = parseQueryInt(w, q.Get("project_id")); !ok {
		return
	}
	if req.CycleID, ok = parseQueryInt(w, q.Get("cycle_id")); !ok {
		return
	}
	if raw := q.Get("status"); raw != "" {
		status := Status(raw)
		req.Status = &status
	}
	limit, ok := parseQueryInt(w, q.Get("limit"))
	if !ok {
		return
	}
	offset, ok := parseQueryInt(w, q.Get("offset"))
	if !ok {
		return
	}
	req.Limit, req.Offset = int(limit), int(offset)

	orders, err := h.service.List(r.Context(), actor, req)
	if err != nil {
		h.fail(w, "list production orders", err)
		return
	}
	if orders == nil {
		orders = []Order{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": orders})
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	var req CreateRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	order, err := h.service.Create(r.Context(), actor, req)
	if err != nil {
		h.fail(w, "create production order", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, order)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	id, ok := orderID(w, r)
	if !ok {
		return
	}
	order, err := h.service.Get(r.Context(), actor, id)
	if err != nil {
		h.fail(w, "get production order", err)
		return
	}
	httpx.JSON(w, http.StatusOK, order)
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	id, ok := orderID(w, r)
	if !ok {
		return
	}
	var req UpdateRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	order, err := h.service.Update(r.Context(), actor, id, req)
	if err != nil {
		h.fail(w, "update production order", err)
		return
	}
	httpx.JSON(w, http.StatusOK, order)
}

func (h *Handler) handleComplete(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	id, ok := orderID(w, r)
	if !ok {
		return
	}
	completion, err := h.service.Complete(r.Context(), actor, id)
	if err != nil {
		h.fail(w, "complete production order", err)
		return
	}
	httpx.JSON(w, http.StatusOK, completion)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	id, ok := orderID(w, r)
	if !ok {
		return
	}
	if err := h.service.Delete(r.Context(), actor, id); err != nil {
		h.fail(w, "delete production order", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) fail(w http.ResponseWriter, msg string, err error) {
	if !httpx.IsClientError(err) {
		h.logger.Error(msg, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func orderID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.RespondError(w, ErrNotFound)
		return 0, false
	}
	return id, true
}

func parseQueryInt(w http.ResponseWriter, raw string) (int64, bool) {
	if raw == "" {
		return 0, true
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid query value "+strconv.Quote(raw))
		return 0, false
	}
	return v, true
}
