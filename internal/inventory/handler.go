package inventory

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/tallyhq/tally/internal/platform/httpx"
	"github.com/tallyhq/tally/internal/shared"
)

type ledgerService interface {
	PostMovement(ctx context.Context, in MovementInput) (Movement, error)
	Reverse(ctx context.Context, in ReverseInput) (Movement, error)
	GetMovement(ctx context.Context, organizationID, id int64) (Movement, error)
	GetBalance(ctx context.Context, key BalanceKey) (Balance, error)
	ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, error)
	StockList(ctx context.Context, organizationID, projectID, cycleID int64) ([]StockLine, error)
	VerifyBalance(ctx context.Context, key BalanceKey) (Drift, error)
}

// ProjectAuthorizer checks project access for write routes.
type ProjectAuthorizer interface {
	AuthorizeProject(ctx context.Context, actor shared.Actor, projectID int64) error
}

// RebuildEnqueuer schedules a background balance rebuild.
type RebuildEnqueuer interface {
	EnqueueRebuild(ctx context.Context, req RebuildRequest) error
}

// Handler wires HTTP endpoints for the ledger.
type Handler struct {
	logger   *slog.Logger
	service  ledgerService
	access   ProjectAuthorizer
	enqueuer RebuildEnqueuer
}

// NewHandler constructs inventory handler.
func NewHandler(logger *slog.Logger, service ledgerService, access ProjectAuthorizer, enqueuer RebuildEnqueuer) *Handler {
	return &Handler{logger: logger, service: service, access: access, enqueuer: enqueuer}
}

// MountRoutes registers inventory routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/movements", h.postMovement)
	r.Get("/movements", h.listMovements)
	r.Post("/movements/{id}/reverse", h.reverseMovement)
	r.Get("/balance", h.getBalance)
	r.Get("/balance/verify", h.verifyBalance)
	r.Get("/stock", h.stockList)
	r.Post("/rebuild", h.rebuild)
}

type movementRequest struct {
	ProjectID      int64            `json:"project_id"`
	CycleID        int64            `json:"cycle_id"`
	VariantID      int64            `json:"variant_id"`
	Type           TransactionType  `json:"transaction_type"`
	QuantityDelta  int64            `json:"quantity_delta"`
	UnitCost       *decimal.Decimal `json:"unit_cost"`
	Source         *SourceRef       `json:"source"`
	Notes          *string          `json:"notes"`
	IdempotencyKey string           `json:"idempotency_key"`
}

type reverseRequest struct {
	Notes *string `json:"notes"`
}

type rebuildRequest struct {
	ProjectID int64 `json:"project_id"`
	CycleID   int64 `json:"cycle_id"`
	Repair    bool  `json:"repair"`
}

func (h *Handler) postMovement(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	var req movementRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.authorize(r.Context(), actor, req.ProjectID); err != nil {
		h.fail(w, "authorize movement", err)
		return
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	}
	movement, err := h.service.PostMovement(r.Context(), MovementInput{
		Key: BalanceKey{
			OrganizationID: actor.OrganizationID,
			ProjectID:      req.ProjectID,
			CycleID:        req.CycleID,
			VariantID:      req.VariantID,
		},
		QuantityDelta:  req.QuantityDelta,
		UnitCost:       req.UnitCost,
		Type:           req.Type,
		Source:         req.Source,
		Notes:          req.Notes,
		ActorID:        actor.UserID,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		h.fail(w, "post movement", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, movement)
}

func (h *Handler) reverseMovement(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	id, err := parseIDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req reverseRequest
	if r.ContentLength > 0 {
		if err := httpx.DecodeJSON(r, &req); err != nil {
			httpx.RespondError(w, err)
			return
		}
	}
	original, err := h.service.GetMovement(r.Context(), actor.OrganizationID, id)
	if err != nil {
		h.fail(w, "load movement", err)
		return
	}
	if err := h.authorize(r.Context(), actor, original.ProjectID); err != nil {
		h.fail(w, "authorize reversal", err)
		return
	}
	movement, err := h.service.Reverse(r.Context(), ReverseInput{
		OrganizationID: actor.OrganizationID,
		MovementID:     id,
		ActorID:        actor.UserID,
		Notes:          req.Notes,
	})
	if err != nil {
		h.fail(w, "reverse movement", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, movement)
}

func (h *Handler) listMovements(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	q := r.URL.Query()
	filter := MovementFilter{OrganizationID: actor.OrganizationID, Chronological: q.Get("order") == "asc"}
	var err error
	if filter.ProjectID, err = queryInt(q.Get("project_id")); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if filter.CycleID, err = queryInt(q.Get("cycle_id")); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if filter.VariantID, err = queryInt(q.Get("variant_id")); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if filter.From, err = queryTime(q.Get("from"), false); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if filter.To, err = queryTime(q.Get("to"), true); err != nil {
		httpx.RespondError(w, err)
		return
	}
	limit, err := queryInt(q.Get("limit"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	offset, err := queryInt(q.Get("offset"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	filter.Page = shared.NewPage(int(limit), int(offset))
	movements, err := h.service.ListMovements(r.Context(), filter)
	if err != nil {
		h.fail(w, "list movements", err)
		return
	}
	if movements == nil {
		movements = []Movement{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"items":  movements,
		"limit":  filter.Page.Limit,
		"offset": filter.Page.Offset,
	})
}

func (h *Handler) getBalance(w http.ResponseWriter, r *http.Request) {
	key, err := keyFromQuery(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	balance, err := h.service.GetBalance(r.Context(), key)
	if err != nil {
		h.fail(w, "get balance", err)
		return
	}
	httpx.JSON(w, http.StatusOK, balance)
}

func (h *Handler) verifyBalance(w http.ResponseWriter, r *http.Request) {
	key, err := keyFromQuery(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	drift, err := h.service.VerifyBalance(r.Context(), key)
	if err != nil {
		h.fail(w, "verify balance", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"drift": drift, "in_sync": drift.InSync()})
}

func (h *Handler) stockList(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	q := r.URL.Query()
	projectID, err := queryInt(q.Get("project_id"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	cycleID, err := queryInt(q.Get("cycle_id"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	lines, err := h.service.StockList(r.Context(), actor.OrganizationID, projectID, cycleID)
	if err != nil {
		h.fail(w, "stock list", err)
		return
	}
	if lines == nil {
		lines = []StockLine{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": lines})
}

func (h *Handler) rebuild(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	var req rebuildRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if req.ProjectID <= 0 || req.CycleID <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "project_id and cycle_id are required")
		return
	}
	if err := h.authorize(r.Context(), actor, req.ProjectID); err != nil {
		h.fail(w, "authorize rebuild", err)
		return
	}
	if h.enqueuer == nil {
		httpx.Problem(w, http.StatusServiceUnavailable, "Unavailable", "background jobs are not configured")
		return
	}
	job := RebuildRequest{OrganizationID: actor.OrganizationID, ProjectID: req.ProjectID, CycleID: req.CycleID, Repair: req.Repair}
	if err := h.enqueuer.EnqueueRebuild(r.Context(), job); err != nil {
		h.fail(w, "enqueue rebuild", err)
		return
	}
	httpx.JSON(w, http.StatusAccepted, job)
}

func (h *Handler) authorize(ctx context.Context, actor shared.Actor, projectID int64) error {
	if h.access == nil || projectID <= 0 {
		return nil
	}
	return h.access.AuthorizeProject(ctx, actor, projectID)
}

func (h *Handler) fail(w http.ResponseWriter, msg string, err error) {
	if !httpx.IsClientError(err) {
		h.logger.Error(msg, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func keyFromQuery(r *http.Request) (BalanceKey, error) {
	actor, _ := shared.ActorFromContext(r.Context())
	q := r.URL.Query()
	key := BalanceKey{OrganizationID: actor.OrganizationID}
	var err error
	if key.ProjectID, err = queryInt(q.Get("project_id")); err != nil {
		return BalanceKey{}, err
	}
	if key.CycleID, err = queryInt(q.Get("cycle_id")); err != nil {
		return BalanceKey{}, err
	}
	if key.VariantID, err = queryInt(q.Get("variant_id")); err != nil {
		return BalanceKey{}, err
	}
	return key, nil
}

func parseIDParam(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, ErrMovementNotFound
	}
	return id, nil
}

func queryInt(raw string) (int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, badQuery(raw)
	}
	return v, nil
}

// queryTime accepts RFC3339 or a plain date. A plain date used as the upper
// bound covers the whole day.
func queryTime(raw string, endOfDay bool) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return time.Time{}, badQuery(raw)
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return t, nil
}

func badQuery(raw string) error {
	return fmt.Errorf("%w: invalid query value %q", shared.ErrValidation, raw)
}
