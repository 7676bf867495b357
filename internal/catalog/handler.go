package catalog

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/tallyhq/tally/internal/platform/httpx"
	"github.com/tallyhq/tally/internal/shared"
)

type catalogService interface {
	CreateItem(ctx context.Context, actor shared.Actor, in CreateItemInput) (Item, error)
	GetItem(ctx context.Context, organizationID, itemID int64) (Item, error)
	ListItems(ctx context.Context, filter ListItemsFilter) ([]Item, error)
	UpdateItem(ctx context.Context, actor shared.Actor, itemID int64, in UpdateItemInput) (Item, error)
	UpdateVariant(ctx context.Context, actor shared.Actor, variantID int64, in UpdateVariantInput) (Variant, error)
	GetVariant(ctx context.Context, organizationID, variantID int64) (VariantInfo, error)
}

// Handler exposes the catalog over JSON.
type Handler struct {
	logger  *slog.Logger
	service catalogService
}

// NewHandler constructs a catalog handler.
func NewHandler(logger *slog.Logger, service catalogService) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers catalog routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/items", h.listItems)
	r.Post("/items", h.createItem)
	r.Get("/items/{id}", h.getItem)
	r.Patch("/items/{id}", h.updateItem)
	r.Get("/variants/{id}", h.getVariant)
	r.Patch("/variants/{id}", h.updateVariant)
}

func (h *Handler) listItems(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	q := r.URL.Query()
	filter := ListItemsFilter{OrganizationID: actor.OrganizationID, ActiveOnly: q.Get("active") == "true"}
	if raw := q.Get("type"); raw != "" {
		t := ItemType(raw)
		filter.Type = &t
	}
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))
	filter.Page = shared.Page{Limit: limit, Offset: offset}
	items, err := h.service.ListItems(r.Context(), filter)
	if err != nil {
		h.fail(w, "list items", err)
		return
	}
	if items == nil {
		items = []Item{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": items})
}

func (h *Handler) createItem(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	var in CreateItemInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.RespondError(w, err)
		return
	}
	item, err := h.service.CreateItem(r.Context(), actor, in)
	if err != nil {
		h.fail(w, "create item", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, item)
}

func (h *Handler) getItem(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	id, ok := idParam(w, r, ErrItemNotFound)
	if !ok {
		return
	}
	item, err := h.service.GetItem(r.Context(), actor.OrganizationID, id)
	if err != nil {
		h.fail(w, "get item", err)
		return
	}
	httpx.JSON(w, http.StatusOK, item)
}

func (h *Handler) updateItem(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	id, ok := idParam(w, r, ErrItemNotFound)
	if !ok {
		return
	}
	var in UpdateItemInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.RespondError(w, err)
		return
	}
	item, err := h.service.UpdateItem(r.Context(), actor, id, in)
	if err != nil {
		h.fail(w, "update item", err)
		return
	}
	httpx.JSON(w, http.StatusOK, item)
}

func (h *Handler) getVariant(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	id, ok := idParam(w, r, ErrVariantNotFound)
	if !ok {
		return
	}
	info, err := h.service.GetVariant(r.Context(), actor.OrganizationID, id)
	if err != nil {
		h.fail(w, "get variant", err)
		return
	}
	httpx.JSON(w, http.StatusOK, info)
}

func (h *Handler) updateVariant(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	id, ok := idParam(w, r, ErrVariantNotFound)
	if !ok {
		return
	}
	var in UpdateVariantInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.RespondError(w, err)
		return
	}
	variant, err := h.service.UpdateVariant(r.Context(), actor, id, in)
	if err != nil {
		h.fail(w, "update variant", err)
		return
	}
	httpx.JSON(w, http.StatusOK, variant)
}

func (h *Handler) fail(w http.ResponseWriter, msg string, err error) {
	if !httpx.IsClientError(err) {
		h.logger.Error(msg, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func idParam(w http.ResponseWriter, r *http.Request, notFound error) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.RespondError(w, notFound)
		return 0, false
	}
	return id, true
}
