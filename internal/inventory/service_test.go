package inventory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tallyhq/tally/internal/cycles"
	"github.com/tallyhq/tally/internal/shared"
)

type memoryState struct {
	balances  map[BalanceKey]Balance
	movements []Movement
	keys      map[string]bool
	nextID    int64
}

func (s memoryState) clone() memoryState {
	out := memoryState{
		balances: make(map[BalanceKey]Balance, len(s.balances)),
		keys:     make(map[string]bool, len(s.keys)),
		nextID:   s.nextID,
	}
	for k, v := range s.balances {
		out.balances[k] = v
	}
	for k := range s.keys {
		out.keys[k] = true
	}
	out.movements = append([]Movement(nil), s.movements...)
	return out
}

type memoryRepo struct {
	mu     sync.Mutex
	state  memoryState
	locked map[int64]bool
	// variants maps a variant id to its organization.
	variants map[int64]int64
	// failInsert makes InsertMovement fail once the ledger holds this many rows.
	failInsert int
}

type memoryTx struct {
	repo  *memoryRepo
	state *memoryState
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		state:    memoryState{balances: make(map[BalanceKey]Balance), keys: make(map[string]bool)},
		locked:   map[int64]bool{3: false},
		variants: map[int64]int64{4: 1, 5: 1, 6: 2},
	}
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	working := r.state.clone()
	if err := fn(ctx, &memoryTx{repo: r, state: &working}); err != nil {
		return err
	}
	r.state = working
	return nil
}

func (r *memoryRepo) WithSnapshot(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	working := r.state.clone()
	return fn(ctx, &memoryTx{repo: r, state: &working})
}

func (r *memoryRepo) GetMovement(ctx context.Context, organizationID, id int64) (Movement, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tx := &memoryTx{repo: r, state: &r.state}
	return tx.GetMovement(ctx, organizationID, id)
}

func (r *memoryRepo) GetBalance(ctx context.Context, key BalanceKey) (Balance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.state.balances[key]
	if !ok {
		return Balance{}, ErrBalanceNotFound
	}
	return b, nil
}

func (r *memoryRepo) ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Movement
	for _, m := range r.state.movements {
		if m.OrganizationID != filter.OrganizationID {
			continue
		}
		if filter.VariantID > 0 && m.VariantID != filter.VariantID {
			continue
		}
		out = append(out, m)
	}
	if !filter.Chronological {
		sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	}
	if filter.Page.Offset >= len(out) {
		return nil, nil
	}
	out = out[filter.Page.Offset:]
	if len(out) > filter.Page.Limit {
		out = out[:filter.Page.Limit]
	}
	return out, nil
}

func (r *memoryRepo) StockList(ctx context.Context, organizationID, projectID, cycleID int64) ([]StockLine, error) {
	return nil, nil
}

func (r *memoryRepo) ListCycleKeys(ctx context.Context, organizationID, projectID, cycleID int64) ([]BalanceKey, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	seen := map[BalanceKey]bool{}
	var keys []BalanceKey
	for k := range r.state.balances {
		if k.OrganizationID == organizationID && k.ProjectID == projectID && k.CycleID == cycleID && !seen[k] {
			seen[k] = true
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].VariantID < keys[j].VariantID })
	return keys, nil
}

func (r *memoryRepo) ListScopes(ctx context.Context) ([]RebuildRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	seen := map[RebuildRequest]bool{}
	var scopes []RebuildRequest
	for k := range r.state.balances {
		scope := RebuildRequest{OrganizationID: k.OrganizationID, ProjectID: k.ProjectID, CycleID: k.CycleID}
		if !seen[scope] {
			seen[scope] = true
			scopes = append(scopes, scope)
		}
	}
	return scopes, nil
}

func (tx *memoryTx) CycleLockState(ctx context.Context, cycleID, organizationID int64) (bool, bool, error) {
	locked, ok := tx.repo.locked[cycleID]
	return locked, ok, nil
}

func (tx *memoryTx) ClaimIdempotencyKey(ctx context.Context, key string) error {
	if tx.state.keys[key] {
		return shared.ErrIdempotencyConflict
	}
	tx.state.keys[key] = true
	return nil
}

func (tx *memoryTx) VariantInOrganization(ctx context.Context, organizationID, variantID int64) (bool, error) {
	org, ok := tx.repo.variants[variantID]
	return ok && org == organizationID, nil
}

func (tx *memoryTx) LockBalance(ctx context.Context, key BalanceKey) (Balance, error) {
	b, ok := tx.state.balances[key]
	if !ok {
		b = Balance{BalanceKey: key}
		tx.state.balances[key] = b
	}
	return b, nil
}

func (tx *memoryTx) FindBalance(ctx context.Context, key BalanceKey) (Balance, bool, error) {
	b, ok := tx.state.balances[key]
	return b, ok, nil
}

func (tx *memoryTx) UpdateBalance(ctx context.Context, balance Balance) error {
	balance.UpdatedAt = time.Now()
	tx.state.balances[balance.BalanceKey] = balance
	return nil
}

func (tx *memoryTx) InsertMovement(ctx context.Context, m Movement) (Movement, error) {
	if tx.repo.failInsert > 0 && len(tx.state.movements) >= tx.repo.failInsert {
		return Movement{}, errors.New("insert failed")
	}
	tx.state.nextID++
	m.ID = tx.state.nextID
	m.CreatedAt = time.Now()
	tx.state.movements = append(tx.state.movements, m)
	return m, nil
}

func (tx *memoryTx) GetMovement(ctx context.Context, organizationID, id int64) (Movement, error) {
	for _, m := range tx.state.movements {
		if m.ID == id && m.OrganizationID == organizationID {
			return m, nil
		}
	}
	return Movement{}, ErrMovementNotFound
}

func (tx *memoryTx) HasReversal(ctx context.Context, organizationID, movementID int64) (bool, error) {
	for _, m := range tx.state.movements {
		if m.Type == TransactionTypeReversal && m.Source != nil && m.Source.ID == movementID {
			return true, nil
		}
	}
	return false, nil
}

func (tx *memoryTx) ListKeyMovements(ctx context.Context, key BalanceKey) ([]Movement, error) {
	var out []Movement
	for _, m := range tx.state.movements {
		if m.BalanceKey == key {
			out = append(out, m)
		}
	}
	return out, nil
}

type countingMetrics struct {
	movements map[string]int
	locked    int
}

func (m *countingMetrics) ObserveMovement(txType string) {
	m.movements[txType]++
}

func (m *countingMetrics) ObserveCycleLocked(string) {
	m.locked++
}

var testKey = BalanceKey{OrganizationID: 1, ProjectID: 2, CycleID: 3, VariantID: 4}

func newTestService(repo *memoryRepo) *Service {
	guard := cycles.NewGuard(cycles.Capabilities{InventoryLock: true})
	return NewService(repo, guard, nil, ServiceConfig{})
}

func TestAverageMovingCost(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	_, err := svc.PostPurchaseReceipt(ctx, StockInput{Key: testKey, Quantity: 10, UnitCost: decPtr("100000"), Notes: strPtr("GRN#1")})
	require.NoError(t, err)
	_, err = svc.PostPurchaseReceipt(ctx, StockInput{Key: testKey, Quantity: 5, UnitCost: decPtr("120000")})
	require.NoError(t, err)

	balance, err := svc.GetBalance(ctx, testKey)
	require.NoError(t, err)
	require.Equal(t, int64(15), balance.QuantityOnHand)
	require.InDelta(t, 106666.6667, balance.AvgUnitCost.InexactFloat64(), 0.001)

	issue, err := svc.PostSaleIssue(ctx, StockInput{Key: testKey, Quantity: 8})
	require.NoError(t, err)
	require.Equal(t, int64(-8), issue.QuantityDelta)
	require.Equal(t, TransactionTypeSaleIssue, issue.Type)

	balance, err = svc.GetBalance(ctx, testKey)
	require.NoError(t, err)
	require.Equal(t, int64(7), balance.QuantityOnHand)
	require.InDelta(t, 106666.6667, balance.AvgUnitCost.InexactFloat64(), 0.001)
}

func TestNegativeStockIsAllowed(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	_, err := svc.PostOpeningBalance(ctx, StockInput{Key: testKey, Quantity: 2, UnitCost: decPtr("1.5")})
	require.NoError(t, err)
	_, err = svc.PostSaleIssue(ctx, StockInput{Key: testKey, Quantity: 5})
	require.NoError(t, err)

	balance, err := svc.GetBalance(ctx, testKey)
	require.NoError(t, err)
	require.Equal(t, int64(-3), balance.QuantityOnHand)
	require.True(t, balance.AvgUnitCost.Equal(dec("1.5")))
}

func TestConservationAcrossPostings(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	deltas := []int64{12, -3, 7, -20, 4, 1}
	var sum int64
	for i, d := range deltas {
		in := MovementInput{Key: testKey, QuantityDelta: d, Type: TransactionTypeAdjustment}
		if d > 0 {
			in.UnitCost = decPtr("2.25")
		}
		_, err := svc.PostMovement(ctx, in)
		require.NoError(t, err, "posting %d", i)
		sum += d
	}
	balance, err := svc.GetBalance(ctx, testKey)
	require.NoError(t, err)
	require.Equal(t, sum, balance.QuantityOnHand)

	drift, err := svc.VerifyBalance(ctx, testKey)
	require.NoError(t, err)
	require.True(t, drift.InSync())
	require.Equal(t, len(deltas), drift.Movements)
}

func TestPostMovementValidation(t *testing.T) {
	svc := newTestService(newMemoryRepo())
	ctx := context.Background()

	cases := []struct {
		name string
		in   MovementInput
	}{
		{"missing key", MovementInput{QuantityDelta: 1, Type: TransactionTypeAdjustment}},
		{"zero delta", MovementInput{Key: testKey, Type: TransactionTypeAdjustment}},
		{"unknown type", MovementInput{Key: testKey, QuantityDelta: 1, Type: "GIFT"}},
		{"negative cost", MovementInput{Key: testKey, QuantityDelta: 1, Type: TransactionTypeAdjustment, UnitCost: decPtr("-1")}},
		{"bad source", MovementInput{Key: testKey, QuantityDelta: 1, Type: TransactionTypeAdjustment, Source: &SourceRef{Kind: "invoice", ID: 1}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.PostMovement(ctx, tc.in)
			require.ErrorIs(t, err, shared.ErrValidation)
		})
	}

	_, err := svc.PostPurchaseReceipt(ctx, StockInput{Key: testKey, Quantity: 1})
	require.ErrorIs(t, err, ErrUnitCostRequired)
	_, err = svc.PostSaleIssue(ctx, StockInput{Key: testKey, Quantity: -1})
	require.ErrorIs(t, err, ErrInvalidQuantity)
}

func TestLockedCycleRejectsWritesWithoutMutation(t *testing.T) {
	repo := newMemoryRepo()
	metrics := &countingMetrics{movements: map[string]int{}}
	svc := NewService(repo, cycles.NewGuard(cycles.Capabilities{InventoryLock: true}), nil, ServiceConfig{Metrics: metrics})
	ctx := context.Background()

	first, err := svc.PostPurchaseReceipt(ctx, StockInput{Key: testKey, Quantity: 4, UnitCost: decPtr("3")})
	require.NoError(t, err)
	before := repo.state.clone()

	repo.locked[testKey.CycleID] = true

	_, err = svc.PostSaleIssue(ctx, StockInput{Key: testKey, Quantity: 1})
	require.ErrorIs(t, err, shared.ErrCycleLocked)
	_, err = svc.Reverse(ctx, ReverseInput{OrganizationID: 1, MovementID: first.ID})
	require.ErrorIs(t, err, shared.ErrCycleLocked)
	_, err = svc.RebuildBalance(ctx, testKey)
	require.ErrorIs(t, err, shared.ErrCycleLocked)

	require.Equal(t, before.movements, repo.state.movements)
	require.Equal(t, before.balances, repo.state.balances)
	require.Equal(t, 3, metrics.locked)
	require.Equal(t, 1, metrics.movements[string(TransactionTypePurchaseReceipt)])
}

func TestMissingCycleIsNotFound(t *testing.T) {
	svc := newTestService(newMemoryRepo())
	key := testKey
	key.CycleID = 99
	_, err := svc.PostMovement(context.Background(), MovementInput{Key: key, QuantityDelta: 1, Type: TransactionTypeAdjustment})
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestGuardWithoutCapabilityAllowsPosting(t *testing.T) {
	repo := newMemoryRepo()
	repo.locked[testKey.CycleID] = true
	svc := NewService(repo, cycles.NewGuard(cycles.Capabilities{}), nil, ServiceConfig{})
	_, err := svc.PostMovement(context.Background(), MovementInput{Key: testKey, QuantityDelta: 1, Type: TransactionTypeAdjustment})
	require.NoError(t, err)
}

func TestFailedPostingRollsBack(t *testing.T) {
	repo := newMemoryRepo()
	repo.failInsert = 1
	svc := newTestService(repo)
	ctx := context.Background()

	_, err := svc.PostMovement(ctx, MovementInput{Key: testKey, QuantityDelta: 3, Type: TransactionTypeAdjustment, UnitCost: decPtr("1")})
	require.NoError(t, err)
	_, err = svc.PostMovement(ctx, MovementInput{Key: testKey, QuantityDelta: 3, Type: TransactionTypeAdjustment, UnitCost: decPtr("9")})
	require.Error(t, err)

	balance, err := svc.GetBalance(ctx, testKey)
	require.NoError(t, err)
	require.Equal(t, int64(3), balance.QuantityOnHand)
	require.True(t, balance.AvgUnitCost.Equal(dec("1")))
	require.Len(t, repo.state.movements, 1)
}

func TestReverse(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	receipt, err := svc.PostPurchaseReceipt(ctx, StockInput{Key: testKey, Quantity: 6, UnitCost: decPtr("2")})
	require.NoError(t, err)
	issue, err := svc.PostSaleIssue(ctx, StockInput{Key: testKey, Quantity: 4})
	require.NoError(t, err)

	reversal, err := svc.Reverse(ctx, ReverseInput{OrganizationID: 1, MovementID: issue.ID, ActorID: 9})
	require.NoError(t, err)
	require.Equal(t, TransactionTypeReversal, reversal.Type)
	require.Equal(t, int64(4), reversal.QuantityDelta)
	require.Nil(t, reversal.UnitCost)
	require.Equal(t, &SourceRef{Kind: SourceInventoryTransaction, ID: issue.ID}, reversal.Source)

	balance, err := svc.GetBalance(ctx, testKey)
	require.NoError(t, err)
	require.Equal(t, int64(6), balance.QuantityOnHand)
	require.True(t, balance.AvgUnitCost.Equal(dec("2")))

	_, err = svc.Reverse(ctx, ReverseInput{OrganizationID: 1, MovementID: issue.ID})
	require.ErrorIs(t, err, ErrAlreadyReversed)
	_, err = svc.Reverse(ctx, ReverseInput{OrganizationID: 1, MovementID: reversal.ID})
	require.ErrorIs(t, err, shared.ErrInvalidState)
	_, err = svc.Reverse(ctx, ReverseInput{OrganizationID: 2, MovementID: receipt.ID})
	require.ErrorIs(t, err, shared.ErrNotFound)

	found, err := svc.GetMovement(ctx, 1, issue.ID)
	require.NoError(t, err)
	require.Equal(t, testKey, found.BalanceKey)
	_, err = svc.GetMovement(ctx, 2, issue.ID)
	require.ErrorIs(t, err, ErrMovementNotFound)
}

func TestIdempotencyKeyRejectsDuplicates(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	in := MovementInput{Key: testKey, QuantityDelta: 2, Type: TransactionTypeAdjustment, UnitCost: decPtr("1"), IdempotencyKey: "req-1"}
	_, err := svc.PostMovement(ctx, in)
	require.NoError(t, err)
	_, err = svc.PostMovement(ctx, in)
	require.ErrorIs(t, err, ErrDuplicateMovement)
	require.ErrorIs(t, err, shared.ErrDuplicate)
	require.Len(t, repo.state.movements, 1)
	require.True(t, repo.state.keys["inventory:1:req-1"])

	in.IdempotencyKey = ""
	_, err = svc.PostMovement(ctx, in)
	require.NoError(t, err)
	_, err = svc.PostMovement(ctx, in)
	require.NoError(t, err)
	require.Len(t, repo.state.movements, 3)
}

func TestFailedPostingReleasesIdempotencyKey(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	in := MovementInput{Key: testKey, QuantityDelta: 2, Type: TransactionTypeAdjustment, UnitCost: decPtr("1"), IdempotencyKey: "req-2"}
	repo.locked[testKey.CycleID] = true
	_, err := svc.PostMovement(ctx, in)
	require.ErrorIs(t, err, shared.ErrCycleLocked)
	require.Empty(t, repo.state.keys)

	// The retry of a rolled back attempt is processed, not reported as a duplicate.
	repo.locked[testKey.CycleID] = false
	_, err = svc.PostMovement(ctx, in)
	require.NoError(t, err)
	require.Len(t, repo.state.movements, 1)
}

func TestPostRejectsVariantOutsideOrganization(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	for name, variantID := range map[string]int64{"unknown": 404, "other organization": 6} {
		t.Run(name, func(t *testing.T) {
			key := testKey
			key.VariantID = variantID
			_, err := svc.PostPurchaseReceipt(ctx, StockInput{Key: key, Quantity: 1, UnitCost: decPtr("1"), IdempotencyKey: name})
			require.ErrorIs(t, err, ErrVariantNotFound)
			require.ErrorIs(t, err, shared.ErrNotFound)
		})
	}
	require.Empty(t, repo.state.movements)
	require.Empty(t, repo.state.balances)
	require.Empty(t, repo.state.keys)
}

func TestRebuildCycleRepairsDrift(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	other := testKey
	other.VariantID = 5
	_, err := svc.PostPurchaseReceipt(ctx, StockInput{Key: testKey, Quantity: 10, UnitCost: decPtr("2")})
	require.NoError(t, err)
	_, err = svc.PostPurchaseReceipt(ctx, StockInput{Key: other, Quantity: 1, UnitCost: decPtr("7")})
	require.NoError(t, err)

	corrupted := repo.state.balances[testKey]
	corrupted.QuantityOnHand = 99
	corrupted.AvgUnitCost = dec("0.5")
	repo.state.balances[testKey] = corrupted

	req := RebuildRequest{OrganizationID: 1, ProjectID: 2, CycleID: 3}
	drifts, err := svc.RebuildCycle(ctx, req)
	require.NoError(t, err)
	require.Len(t, drifts, 1)
	require.Equal(t, testKey, drifts[0].BalanceKey)
	require.False(t, drifts[0].Repaired)
	require.Equal(t, int64(99), repo.state.balances[testKey].QuantityOnHand)

	req.Repair = true
	drifts, err = svc.RebuildCycle(ctx, req)
	require.NoError(t, err)
	require.Len(t, drifts, 1)
	require.True(t, drifts[0].Repaired)

	drifts, err = svc.RebuildCycle(ctx, req)
	require.NoError(t, err)
	require.Empty(t, drifts)

	balance, err := svc.GetBalance(ctx, testKey)
	require.NoError(t, err)
	require.Equal(t, int64(10), balance.QuantityOnHand)
	require.True(t, balance.AvgUnitCost.Equal(dec("2")))
}

func TestListMovementsOrderAndPaging(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := svc.PostMovement(ctx, MovementInput{Key: testKey, QuantityDelta: int64(i + 1), Type: TransactionTypeAdjustment})
		require.NoError(t, err)
	}

	newest, err := svc.ListMovements(ctx, MovementFilter{OrganizationID: 1})
	require.NoError(t, err)
	require.Len(t, newest, 3)
	require.Equal(t, int64(3), newest[0].QuantityDelta)

	oldest, err := svc.ListMovements(ctx, MovementFilter{OrganizationID: 1, Chronological: true, Page: shared.Page{Limit: 2}})
	require.NoError(t, err)
	require.Len(t, oldest, 2)
	require.Equal(t, int64(1), oldest[0].QuantityDelta)

	_, err = svc.ListMovements(ctx, MovementFilter{})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.GetBalance(ctx, BalanceKey{OrganizationID: 1, ProjectID: 2, CycleID: 3, VariantID: 77})
	require.ErrorIs(t, err, ErrBalanceNotFound)
}

func strPtr(s string) *string {
	return &s
}
