package inventory

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/tallyhq/tally/internal/shared"
)

type stubLedger struct {
	posted    MovementInput
	postErr   error
	filter    MovementFilter
	movements map[int64]Movement
	reversed  []ReverseInput
}

func (s *stubLedger) PostMovement(ctx context.Context, in MovementInput) (Movement, error) {
	s.posted = in
	if s.postErr != nil {
		return Movement{}, s.postErr
	}
	return Movement{ID: 11, BalanceKey: in.Key, Type: in.Type, QuantityDelta: in.QuantityDelta, UnitCost: in.UnitCost}, nil
}

func (s *stubLedger) Reverse(ctx context.Context, in ReverseInput) (Movement, error) {
	s.reversed = append(s.reversed, in)
	original := s.movements[in.MovementID]
	return Movement{ID: 99, BalanceKey: original.BalanceKey, Type: TransactionTypeReversal, QuantityDelta: -original.QuantityDelta}, nil
}

func (s *stubLedger) GetMovement(ctx context.Context, organizationID, id int64) (Movement, error) {
	m, ok := s.movements[id]
	if !ok || m.OrganizationID != organizationID {
		return Movement{}, ErrMovementNotFound
	}
	return m, nil
}

func (s *stubLedger) GetBalance(ctx context.Context, key BalanceKey) (Balance, error) {
	return Balance{BalanceKey: key, QuantityOnHand: -3, AvgUnitCost: dec("1.4")}, nil
}

func (s *stubLedger) ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, error) {
	s.filter = filter
	return nil, nil
}

func (s *stubLedger) StockList(ctx context.Context, organizationID, projectID, cycleID int64) ([]StockLine, error) {
	return nil, nil
}

func (s *stubLedger) VerifyBalance(ctx context.Context, key BalanceKey) (Drift, error) {
	return Drift{BalanceKey: key}, nil
}

type denyAll struct{}

func (denyAll) AuthorizeProject(ctx context.Context, actor shared.Actor, projectID int64) error {
	return shared.ErrForbidden
}

type recordingEnqueuer struct {
	got []RebuildRequest
}

func (e *recordingEnqueuer) EnqueueRebuild(ctx context.Context, req RebuildRequest) error {
	e.got = append(e.got, req)
	return nil
}

func newTestRouter(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor := shared.Actor{UserID: 7, OrganizationID: 1, Role: shared.RoleMember}
			next.ServeHTTP(w, r.WithContext(shared.ContextWithActor(r.Context(), actor)))
		})
	})
	r.Route("/inventory", h.MountRoutes)
	return r
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestHandlerPostMovement(t *testing.T) {
	ledger := &stubLedger{}
	router := newTestRouter(NewHandler(testLogger(), ledger, nil, nil))

	body := `{"project_id":2,"cycle_id":3,"variant_id":4,"transaction_type":"PURCHASE_RECEIPT","quantity_delta":5,"unit_cost":"2.5"}`
	req := httptest.NewRequest(http.MethodPost, "/inventory/movements", strings.NewReader(body))
	req.Header.Set("Idempotency-Key", "abc")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	require.Equal(t, testKey, ledger.posted.Key)
	require.Equal(t, int64(7), ledger.posted.ActorID)
	require.Equal(t, "abc", ledger.posted.IdempotencyKey)
	require.True(t, ledger.posted.UnitCost.Equal(dec("2.5")))
}

func TestHandlerMapsCycleLockedToConflict(t *testing.T) {
	ledger := &stubLedger{postErr: shared.ErrCycleLocked}
	router := newTestRouter(NewHandler(testLogger(), ledger, nil, nil))

	body := `{"project_id":2,"cycle_id":3,"variant_id":4,"transaction_type":"SALE_ISSUE","quantity_delta":-1}`
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/inventory/movements", strings.NewReader(body)))

	require.Equal(t, http.StatusConflict, rr.Code)
	require.Contains(t, rr.Body.String(), "Cycle Locked")
}

func TestHandlerForbiddenProject(t *testing.T) {
	ledger := &stubLedger{}
	router := newTestRouter(NewHandler(testLogger(), ledger, denyAll{}, nil))

	body := `{"project_id":2,"cycle_id":3,"variant_id":4,"transaction_type":"SALE_ISSUE","quantity_delta":-1}`
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/inventory/movements", strings.NewReader(body)))
	require.Equal(t, http.StatusForbidden, rr.Code)
	require.Zero(t, ledger.posted.QuantityDelta)
}

func TestHandlerBalanceAndFilters(t *testing.T) {
	ledger := &stubLedger{}
	router := newTestRouter(NewHandler(testLogger(), ledger, nil, nil))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/inventory/balance?project_id=2&cycle_id=3&variant_id=4", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	var balance Balance
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &balance))
	require.Equal(t, int64(-3), balance.QuantityOnHand)
	require.Equal(t, testKey, balance.BalanceKey)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/inventory/movements?variant_id=4&order=asc&to=2025-01-31&limit=9999", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, int64(4), ledger.filter.VariantID)
	require.True(t, ledger.filter.Chronological)
	require.Equal(t, shared.MaxPageLimit, ledger.filter.Page.Limit)
	require.Equal(t, 23, ledger.filter.To.Hour())
	require.JSONEq(t, `{"items":[],"limit":500,"offset":0}`, rr.Body.String())

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/inventory/movements?from=yesterday", nil))
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestHandlerReverseNotFound(t *testing.T) {
	ledger := &stubLedger{}
	router := newTestRouter(NewHandler(testLogger(), ledger, nil, nil))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/inventory/movements/5/reverse", nil))
	require.Equal(t, http.StatusNotFound, rr.Code)
	require.Empty(t, ledger.reversed)
}

func TestHandlerReverseChecksProjectAccess(t *testing.T) {
	issue := Movement{ID: 5, BalanceKey: testKey, Type: TransactionTypeSaleIssue, QuantityDelta: -2}

	ledger := &stubLedger{movements: map[int64]Movement{5: issue}}
	router := newTestRouter(NewHandler(testLogger(), ledger, denyAll{}, nil))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/inventory/movements/5/reverse", nil))
	require.Equal(t, http.StatusForbidden, rr.Code)
	require.Empty(t, ledger.reversed)

	router = newTestRouter(NewHandler(testLogger(), ledger, nil, nil))
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/inventory/movements/5/reverse", strings.NewReader(`{"notes":"miscount"}`)))
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	require.Len(t, ledger.reversed, 1)
	require.Equal(t, int64(5), ledger.reversed[0].MovementID)
	require.Equal(t, "miscount", *ledger.reversed[0].Notes)
}

func TestHandlerRebuildEnqueues(t *testing.T) {
	enqueuer := &recordingEnqueuer{}
	router := newTestRouter(NewHandler(testLogger(), &stubLedger{}, nil, enqueuer))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/inventory/rebuild", strings.NewReader(`{"project_id":2,"cycle_id":3,"repair":true}`)))
	require.Equal(t, http.StatusAccepted, rr.Code)
	require.Equal(t, []RebuildRequest{{OrganizationID: 1, ProjectID: 2, CycleID: 3, Repair: true}}, enqueuer.got)
}
