// Package memstore is an in-memory stand-in for the Postgres repositories of
// the inventory and production packages. Both adapters share one state so a
// production completion and the ledger postings it makes commit or roll back
// together.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tallyhq/tally/internal/catalog"
	"github.com/tallyhq/tally/internal/inventory"
	"github.com/tallyhq/tally/internal/production"
	"github.com/tallyhq/tally/internal/shared"
)

type state struct {
	balances  map[inventory.BalanceKey]inventory.Balance
	movements []inventory.Movement
	orders    map[int64]production.Order
	inputs    map[int64][]production.Input
	keys      map[string]bool
	nextMove  int64
	nextOrder int64
	nextInput int64
}

func (s state) clone() state {
	out := state{
		balances:  make(map[inventory.BalanceKey]inventory.Balance, len(s.balances)),
		movements: append([]inventory.Movement(nil), s.movements...),
		orders:    make(map[int64]production.Order, len(s.orders)),
		inputs:    make(map[int64][]production.Input, len(s.inputs)),
		keys:      make(map[string]bool, len(s.keys)),
		nextMove:  s.nextMove,
		nextOrder: s.nextOrder,
		nextInput: s.nextInput,
	}
	for k, v := range s.balances {
		out.balances[k] = v
	}
	for k, v := range s.orders {
		out.orders[k] = v
	}
	for k, v := range s.inputs {
		out.inputs[k] = append([]production.Input(nil), v...)
	}
	for k := range s.keys {
		out.keys[k] = true
	}
	return out
}

type cycle struct {
	organizationID int64
	locked         bool
}

// Store holds committed state. Transactions work on a copy that replaces the
// committed state only when the callback succeeds.
type Store struct {
	mu    sync.Mutex
	state state

	cycleMu  sync.Mutex
	cycles   map[int64]cycle
	variants map[int64]catalog.VariantInfo

	// OnInsertMovement runs before each ledger insert inside a transaction.
	// Returning an error aborts the insert.
	OnInsertMovement func(m inventory.Movement) error
	// OnLockBalance observes every balance lock taken inside a transaction.
	OnLockBalance func(key inventory.BalanceKey)
}

// New returns an empty store.
func New() *Store {
	return &Store{
		state: state{
			balances: make(map[inventory.BalanceKey]inventory.Balance),
			orders:   make(map[int64]production.Order),
			inputs:   make(map[int64][]production.Input),
			keys:     make(map[string]bool),
		},
		cycles:   make(map[int64]cycle),
		variants: make(map[int64]catalog.VariantInfo),
	}
}

// AddCycle registers an open cycle.
func (s *Store) AddCycle(organizationID, cycleID int64) {
	s.cycleMu.Lock()
	defer s.cycleMu.Unlock()
	s.cycles[cycleID] = cycle{organizationID: organizationID}
}

// SetCycleLocked flips the inventory lock of a cycle. Cycle state lives
// outside transactions and survives rollbacks.
func (s *Store) SetCycleLocked(cycleID int64, locked bool) {
	s.cycleMu.Lock()
	defer s.cycleMu.Unlock()
	c := s.cycles[cycleID]
	c.locked = locked
	s.cycles[cycleID] = c
}

// AddVariant registers catalog data used by StockList, GetVariant and the
// ledger's variant check.
func (s *Store) AddVariant(info catalog.VariantInfo) {
	s.cycleMu.Lock()
	defer s.cycleMu.Unlock()
	s.variants[info.VariantID] = info
}

// GetVariant implements production.VariantReader.
func (s *Store) GetVariant(ctx context.Context, organizationID, variantID int64) (catalog.VariantInfo, error) {
	s.cycleMu.Lock()
	defer s.cycleMu.Unlock()
	info, ok := s.variants[variantID]
	if !ok || info.OrganizationID != organizationID {
		return catalog.VariantInfo{}, catalog.ErrVariantNotFound
	}
	return info, nil
}

// Balance returns the committed balance of a key.
func (s *Store) Balance(key inventory.BalanceKey) (inventory.Balance, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.state.balances[key]
	return b, ok
}

// SetBalance overwrites a committed balance without a ledger entry, which is
// how tests simulate drift.
func (s *Store) SetBalance(b inventory.Balance) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.balances[b.BalanceKey] = b
}

// Movements returns a copy of the committed ledger in insertion order.
func (s *Store) Movements() []inventory.Movement {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]inventory.Movement(nil), s.state.movements...)
}

// Snapshot captures committed balances and ledger length so tests can assert
// that a failed operation left nothing behind.
type Snapshot struct {
	Balances  map[inventory.BalanceKey]inventory.Balance
	Movements int
	Orders    map[int64]production.Status
}

// Snapshot returns the current committed snapshot.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{
		Balances:  make(map[inventory.BalanceKey]inventory.Balance, len(s.state.balances)),
		Movements: len(s.state.movements),
		Orders:    make(map[int64]production.Status, len(s.state.orders)),
	}
	for k, v := range s.state.balances {
		snap.Balances[k] = v
	}
	for id, o := range s.state.orders {
		snap.Orders[id] = o.Status
	}
	return snap
}

func (s *Store) withTx(fn func(tx *ledgerTx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	working := s.state.clone()
	if err := fn(&ledgerTx{store: s, state: &working}); err != nil {
		return err
	}
	s.state = working
	return nil
}

// Inventory returns the adapter implementing inventory.RepositoryPort.
func (s *Store) Inventory() inventory.RepositoryPort {
	return inventoryRepo{store: s}
}

// Production returns the adapter implementing production.Repository.
func (s *Store) Production() production.Repository {
	return productionRepo{store: s}
}

type inventoryRepo struct {
	store *Store
}

func (r inventoryRepo) WithTx(ctx context.Context, fn func(context.Context, inventory.TxRepository) error) error {
	return r.store.withTx(func(tx *ledgerTx) error {
		return fn(ctx, tx)
	})
}

func (r inventoryRepo) WithSnapshot(ctx context.Context, fn func(context.Context, inventory.TxRepository) error) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	working := r.store.state.clone()
	return fn(ctx, &ledgerTx{store: r.store, state: &working})
}

func (r inventoryRepo) GetMovement(ctx context.Context, organizationID, id int64) (inventory.Movement, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	tx := &ledgerTx{store: r.store, state: &r.store.state}
	return tx.GetMovement(ctx, organizationID, id)
}

func (r inventoryRepo) GetBalance(ctx context.Context, key inventory.BalanceKey) (inventory.Balance, error) {
	b, ok := r.store.Balance(key)
	if !ok {
		return inventory.Balance{}, inventory.ErrBalanceNotFound
	}
	return b, nil
}

func (r inventoryRepo) ListMovements(ctx context.Context, filter inventory.MovementFilter) ([]inventory.Movement, error) {
	var out []inventory.Movement
	for _, m := range r.store.Movements() {
		switch {
		case m.OrganizationID != filter.OrganizationID,
			filter.ProjectID > 0 && m.ProjectID != filter.ProjectID,
			filter.CycleID > 0 && m.CycleID != filter.CycleID,
			filter.VariantID > 0 && m.VariantID != filter.VariantID,
			!filter.From.IsZero() && m.CreatedAt.Before(filter.From),
			!filter.To.IsZero() && m.CreatedAt.After(filter.To):
			continue
		}
		out = append(out, m)
	}
	if !filter.Chronological {
		sort.SliceStable(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	}
	if filter.Page.Offset >= len(out) {
		return nil, nil
	}
	out = out[filter.Page.Offset:]
	if filter.Page.Limit > 0 && len(out) > filter.Page.Limit {
		out = out[:filter.Page.Limit]
	}
	return out, nil
}

func (r inventoryRepo) StockList(ctx context.Context, organizationID, projectID, cycleID int64) ([]inventory.StockLine, error) {
	r.store.cycleMu.Lock()
	variants := make([]catalog.VariantInfo, 0, len(r.store.variants))
	for _, v := range r.store.variants {
		if v.OrganizationID == organizationID {
			variants = append(variants, v)
		}
	}
	r.store.cycleMu.Unlock()
	sort.Slice(variants, func(i, j int) bool { return variants[i].VariantID < variants[j].VariantID })

	lines := make([]inventory.StockLine, 0, len(variants))
	for _, v := range variants {
		b, _ := r.store.Balance(inventory.BalanceKey{
			OrganizationID: organizationID, ProjectID: projectID, CycleID: cycleID, VariantID: v.VariantID,
		})
		line := inventory.StockLine{
			ItemID:         v.ItemID,
			ItemName:       v.ItemName,
			ItemType:       string(v.ItemType),
			VariantID:      v.VariantID,
			VariantLabel:   v.Label,
			QuantityOnHand: b.QuantityOnHand,
			AvgUnitCost:    b.AvgUnitCost,
		}
		line.StockValue = b.AvgUnitCost.Mul(decimal.NewFromInt(b.QuantityOnHand))
		lines = append(lines, line)
	}
	return lines, nil
}

func (r inventoryRepo) ListCycleKeys(ctx context.Context, organizationID, projectID, cycleID int64) ([]inventory.BalanceKey, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	seen := make(map[inventory.BalanceKey]bool)
	var keys []inventory.BalanceKey
	add := func(k inventory.BalanceKey) {
		if k.OrganizationID == organizationID && k.ProjectID == projectID && k.CycleID == cycleID && !seen[k] {
			seen[k] = true
			keys = append(keys, k)
		}
	}
	for k := range r.store.state.balances {
		add(k)
	}
	for _, m := range r.store.state.movements {
		add(m.BalanceKey)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].VariantID < keys[j].VariantID })
	return keys, nil
}

func (r inventoryRepo) ListScopes(ctx context.Context) ([]inventory.RebuildRequest, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	seen := make(map[inventory.RebuildRequest]bool)
	var scopes []inventory.RebuildRequest
	for k := range r.store.state.balances {
		scope := inventory.RebuildRequest{OrganizationID: k.OrganizationID, ProjectID: k.ProjectID, CycleID: k.CycleID}
		if !seen[scope] {
			seen[scope] = true
			scopes = append(scopes, scope)
		}
	}
	sort.Slice(scopes, func(i, j int) bool {
		a, b := scopes[i], scopes[j]
		if a.OrganizationID != b.OrganizationID {
			return a.OrganizationID < b.OrganizationID
		}
		if a.ProjectID != b.ProjectID {
			return a.ProjectID < b.ProjectID
		}
		return a.CycleID < b.CycleID
	})
	return scopes, nil
}

type productionRepo struct {
	store *Store
}

func (r productionRepo) WithTx(ctx context.Context, fn func(context.Context, production.TxRepository) error) error {
	return r.store.withTx(func(tx *ledgerTx) error {
		return fn(ctx, orderTx{ledgerTx: tx})
	})
}

func (r productionRepo) GetByID(ctx context.Context, organizationID, id int64) (*production.Order, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	o, ok := r.store.state.orders[id]
	if !ok || o.OrganizationID != organizationID {
		return nil, production.ErrNotFound
	}
	o.Inputs = append([]production.Input(nil), r.store.state.inputs[id]...)
	return &o, nil
}

func (r productionRepo) List(ctx context.Context, organizationID int64, req production.ListRequest) ([]production.Order, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	var out []production.Order
	for _, o := range r.store.state.orders {
		switch {
		case o.OrganizationID != organizationID,
			req.ProjectID > 0 && o.ProjectID != req.ProjectID,
			req.CycleID > 0 && o.CycleID != req.CycleID,
			req.Status != nil && o.Status != *req.Status:
			continue
		}
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if req.Offset >= len(out) {
		return nil, nil
	}
	out = out[req.Offset:]
	if req.Limit > 0 && len(out) > req.Limit {
		out = out[:req.Limit]
	}
	return out, nil
}

// ledgerTx implements inventory.TxRepository on a working copy.
type ledgerTx struct {
	store *Store
	state *state
}

func (tx *ledgerTx) CycleLockState(ctx context.Context, cycleID, organizationID int64) (bool, bool, error) {
	tx.store.cycleMu.Lock()
	defer tx.store.cycleMu.Unlock()
	c, ok := tx.store.cycles[cycleID]
	if !ok || c.organizationID != organizationID {
		return false, false, nil
	}
	return c.locked, true, nil
}

func (tx *ledgerTx) ClaimIdempotencyKey(ctx context.Context, key string) error {
	if tx.state.keys[key] {
		return shared.ErrIdempotencyConflict
	}
	tx.state.keys[key] = true
	return nil
}

func (tx *ledgerTx) VariantInOrganization(ctx context.Context, organizationID, variantID int64) (bool, error) {
	tx.store.cycleMu.Lock()
	defer tx.store.cycleMu.Unlock()
	info, ok := tx.store.variants[variantID]
	return ok && info.OrganizationID == organizationID, nil
}

func (tx *ledgerTx) LockBalance(ctx context.Context, key inventory.BalanceKey) (inventory.Balance, error) {
	if hook := tx.store.OnLockBalance; hook != nil {
		hook(key)
	}
	b, ok := tx.state.balances[key]
	if !ok {
		b = inventory.Balance{BalanceKey: key}
		tx.state.balances[key] = b
	}
	return b, nil
}

func (tx *ledgerTx) FindBalance(ctx context.Context, key inventory.BalanceKey) (inventory.Balance, bool, error) {
	b, ok := tx.state.balances[key]
	return b, ok, nil
}

func (tx *ledgerTx) UpdateBalance(ctx context.Context, balance inventory.Balance) error {
	balance.UpdatedAt = time.Now()
	tx.state.balances[balance.BalanceKey] = balance
	return nil
}

func (tx *ledgerTx) InsertMovement(ctx context.Context, m inventory.Movement) (inventory.Movement, error) {
	if hook := tx.store.OnInsertMovement; hook != nil {
		if err := hook(m); err != nil {
			return inventory.Movement{}, err
		}
	}
	tx.state.nextMove++
	m.ID = tx.state.nextMove
	m.CreatedAt = time.Now()
	tx.state.movements = append(tx.state.movements, m)
	return m, nil
}

func (tx *ledgerTx) GetMovement(ctx context.Context, organizationID, id int64) (inventory.Movement, error) {
	for _, m := range tx.state.movements {
		if m.ID == id && m.OrganizationID == organizationID {
			return m, nil
		}
	}
	return inventory.Movement{}, inventory.ErrMovementNotFound
}

func (tx *ledgerTx) HasReversal(ctx context.Context, organizationID, movementID int64) (bool, error) {
	for _, m := range tx.state.movements {
		if m.OrganizationID == organizationID && m.Type == inventory.TransactionTypeReversal &&
			m.Source != nil && m.Source.Kind == inventory.SourceInventoryTransaction && m.Source.ID == movementID {
			return true, nil
		}
	}
	return false, nil
}

func (tx *ledgerTx) ListKeyMovements(ctx context.Context, key inventory.BalanceKey) ([]inventory.Movement, error) {
	var out []inventory.Movement
	for _, m := range tx.state.movements {
		if m.BalanceKey == key {
			out = append(out, m)
		}
	}
	return out, nil
}

// orderTx implements production.TxRepository on the same working copy.
type orderTx struct {
	*ledgerTx
}

func (tx orderTx) Ledger() inventory.TxRepository {
	return tx.ledgerTx
}

func (tx orderTx) LockOrder(ctx context.Context, organizationID, id int64) (*production.Order, error) {
	o, ok := tx.state.orders[id]
	if !ok || o.OrganizationID != organizationID {
		return nil, production.ErrNotFound
	}
	return &o, nil
}

func (tx orderTx) ListInputs(ctx context.Context, orderID int64) ([]production.Input, error) {
	return append([]production.Input(nil), tx.state.inputs[orderID]...), nil
}

func (tx orderTx) InsertOrder(ctx context.Context, order production.Order) (int64, error) {
	tx.state.nextOrder++
	order.ID = tx.state.nextOrder
	now := time.Now()
	order.CreatedAt, order.UpdatedAt = now, now
	order.Inputs = nil
	tx.state.orders[order.ID] = order
	return order.ID, nil
}

func (tx orderTx) InsertInput(ctx context.Context, input production.Input) (int64, error) {
	if _, ok := tx.state.orders[input.ProductionOrderID]; !ok {
		return 0, production.ErrNotFound
	}
	tx.state.nextInput++
	input.ID = tx.state.nextInput
	lines := append(tx.state.inputs[input.ProductionOrderID], input)
	sort.SliceStable(lines, func(i, j int) bool { return lines[i].LineOrder < lines[j].LineOrder })
	tx.state.inputs[input.ProductionOrderID] = lines
	return input.ID, nil
}

func (tx orderTx) UpdateOrder(ctx context.Context, id int64, updates map[string]any) error {
	o, ok := tx.state.orders[id]
	if !ok {
		return production.ErrNotFound
	}
	for field, value := range updates {
		applyOrderField(&o, field, value)
	}
	o.UpdatedAt = time.Now()
	tx.state.orders[id] = o
	return nil
}

func (tx orderTx) DeleteInputs(ctx context.Context, orderID int64) error {
	delete(tx.state.inputs, orderID)
	return nil
}

func (tx orderTx) DeleteOrder(ctx context.Context, id int64) error {
	if _, ok := tx.state.orders[id]; !ok {
		return production.ErrNotFound
	}
	delete(tx.state.orders, id)
	return nil
}
