package inventory

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/tallyhq/tally/internal/cycles"
	"github.com/tallyhq/tally/internal/platform/db"
	"github.com/tallyhq/tally/internal/shared"
)

// TxRepository exposes the statements a posting runs inside one transaction.
type TxRepository interface {
	cycles.LockReader
	// ClaimIdempotencyKey records a caller key; a rollback releases it.
	ClaimIdempotencyKey(ctx context.Context, key string) error
	VariantInOrganization(ctx context.Context, organizationID, variantID int64) (bool, error)
	// LockBalance creates the balance row when missing and locks it FOR UPDATE.
	LockBalance(ctx context.Context, key BalanceKey) (Balance, error)
	FindBalance(ctx context.Context, key BalanceKey) (Balance, bool, error)
	UpdateBalance(ctx context.Context, balance Balance) error
	InsertMovement(ctx context.Context, m Movement) (Movement, error)
	GetMovement(ctx context.Context, organizationID, id int64) (Movement, error)
	HasReversal(ctx context.Context, organizationID, movementID int64) (bool, error)
	ListKeyMovements(ctx context.Context, key BalanceKey) ([]Movement, error)
}

// Repository persists ledger and balances in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// WithTx executes the callback inside a read-committed transaction. Row locks
// on the balance serialise writers for the same key.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, pgx.ReadCommitted, func(tx pgx.Tx) error {
		return fn(ctx, NewTxRepository(tx))
	})
}

// WithSnapshot runs fn in a repeatable read transaction so every statement
// sees the same committed state.
func (r *Repository) WithSnapshot(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, pgx.RepeatableRead, func(tx pgx.Tx) error {
		return fn(ctx, NewTxRepository(tx))
	})
}

// NewTxRepository binds the ledger statements to an open transaction owned by
// the caller.
func NewTxRepository(tx pgx.Tx) TxRepository {
	return &txRepo{tx: tx}
}

type txRepo struct {
	tx pgx.Tx
}

// reversalIndex allows one REVERSAL per original movement.
const reversalIndex = "uq_inventory_transactions_reversal"

const movementColumns = `id, organization_id, project_id, cycle_id, variant_id, code, transaction_type,
	quantity_delta, unit_cost, source_type, source_id, notes, COALESCE(created_by, 0), created_at`

const balanceColumns = `organization_id, project_id, cycle_id, variant_id, quantity_on_hand, avg_unit_cost, updated_at`

func (r *txRepo) CycleLockState(ctx context.Context, cycleID, organizationID int64) (bool, bool, error) {
	return cycles.ReadLockState(ctx, r.tx, cycleID, organizationID)
}

func (r *txRepo) ClaimIdempotencyKey(ctx context.Context, key string) error {
	return shared.ClaimIdempotencyKey(ctx, r.tx, key, idempotencyModule)
}

func (r *txRepo) VariantInOrganization(ctx context.Context, organizationID, variantID int64) (bool, error) {
	var exists bool
	err := r.tx.QueryRow(ctx, `SELECT EXISTS (
	SELECT 1 FROM inventory_item_variants v
	JOIN inventory_items i ON i.id = v.item_id
	WHERE v.id = $1 AND i.organization_id = $2
)`, variantID, organizationID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("inventory: check variant: %w", err)
	}
	return exists, nil
}

func (r *txRepo) LockBalance(ctx context.Context, key BalanceKey) (Balance, error) {
	_, err := r.tx.Exec(ctx, `INSERT INTO inventory_balances (organization_id, project_id, cycle_id, variant_id)
VALUES ($1, $2, $3, $4)
ON CONFLICT (organization_id, project_id, cycle_id, variant_id) DO NOTHING`,
		key.OrganizationID, key.ProjectID, key.CycleID, key.VariantID)
	if err != nil {
		return Balance{}, fmt.Errorf("inventory: ensure balance: %w", err)
	}
	row := r.tx.QueryRow(ctx, `SELECT `+balanceColumns+` FROM inventory_balances
WHERE organization_id = $1 AND project_id = $2 AND cycle_id = $3 AND variant_id = $4
FOR UPDATE`, key.OrganizationID, key.ProjectID, key.CycleID, key.VariantID)
	balance, err := scanBalance(row)
	if err != nil {
		return Balance{}, fmt.Errorf("inventory: lock balance: %w", err)
	}
	return balance, nil
}

func (r *txRepo) FindBalance(ctx context.Context, key BalanceKey) (Balance, bool, error) {
	return findBalance(ctx, r.tx, key)
}

func (r *txRepo) UpdateBalance(ctx context.Context, balance Balance) error {
	_, err := r.tx.Exec(ctx, `UPDATE inventory_balances
SET quantity_on_hand = $5, avg_unit_cost = $6, updated_at = NOW()
WHERE organization_id = $1 AND project_id = $2 AND cycle_id = $3 AND variant_id = $4`,
		balance.OrganizationID, balance.ProjectID, balance.CycleID, balance.VariantID,
		balance.QuantityOnHand, balance.AvgUnitCost)
	return err
}

func (r *txRepo) InsertMovement(ctx context.Context, m Movement) (Movement, error) {
	var sourceType *string
	var sourceID *int64
	if m.Source != nil {
		kind := string(m.Source.Kind)
		sourceType = &kind
		sourceID = &m.Source.ID
	}
	err := r.tx.QueryRow(ctx, `INSERT INTO inventory_transactions
	(code, organization_id, project_id, cycle_id, variant_id, transaction_type, quantity_delta, unit_cost, source_type, source_id, notes, created_by)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NULLIF($12, 0))
RETURNING id, created_at`,
		m.Code, m.OrganizationID, m.ProjectID, m.CycleID, m.VariantID, string(m.Type), m.QuantityDelta,
		m.UnitCost, sourceType, sourceID, m.Notes, m.CreatedBy,
	).Scan(&m.ID, &m.CreatedAt)
	if err != nil {
		if db.IsUniqueViolationOn(err, reversalIndex) {
			return Movement{}, ErrAlreadyReversed
		}
		return Movement{}, fmt.Errorf("inventory: insert movement: %w", err)
	}
	return m, nil
}

func (r *txRepo) GetMovement(ctx context.Context, organizationID, id int64) (Movement, error) {
	return getMovement(ctx, r.tx, organizationID, id)
}

func (r *txRepo) HasReversal(ctx context.Context, organizationID, movementID int64) (bool, error) {
	var exists bool
	err := r.tx.QueryRow(ctx, `SELECT EXISTS (
	SELECT 1 FROM inventory_transactions
	WHERE organization_id = $1 AND transaction_type = $2 AND source_type = $3 AND source_id = $4
)`, organizationID, string(TransactionTypeReversal), string(SourceInventoryTransaction), movementID).Scan(&exists)
	return exists, err
}

func (r *txRepo) ListKeyMovements(ctx context.Context, key BalanceKey) ([]Movement, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+movementColumns+` FROM inventory_transactions
WHERE organization_id = $1 AND project_id = $2 AND cycle_id = $3 AND variant_id = $4
ORDER BY id ASC`, key.OrganizationID, key.ProjectID, key.CycleID, key.VariantID)
	if err != nil {
		return nil, err
	}
	return collectMovements(rows)
}

// GetMovement returns one ledger entry of the organization.
func (r *Repository) GetMovement(ctx context.Context, organizationID, id int64) (Movement, error) {
	return getMovement(ctx, r.pool, organizationID, id)
}

// GetBalance returns the stored balance for a key.
func (r *Repository) GetBalance(ctx context.Context, key BalanceKey) (Balance, error) {
	balance, ok, err := findBalance(ctx, r.pool, key)
	if err != nil {
		return Balance{}, err
	}
	if !ok {
		return Balance{}, ErrBalanceNotFound
	}
	return balance, nil
}

// ListMovements lists ledger entries matching the filter.
func (r *Repository) ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, error) {
	where := []string{"organization_id = $1"}
	args := []any{filter.OrganizationID}
	add := func(clause string, value any) {
		args = append(args, value)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if filter.ProjectID > 0 {
		add("project_id = $%d", filter.ProjectID)
	}
	if filter.CycleID > 0 {
		add("cycle_id = $%d", filter.CycleID)
	}
	if filter.VariantID > 0 {
		add("variant_id = $%d", filter.VariantID)
	}
	if !filter.From.IsZero() {
		add("created_at >= $%d", filter.From)
	}
	if !filter.To.IsZero() {
		add("created_at <= $%d", filter.To)
	}
	order := "created_at DESC, id DESC"
	if filter.Chronological {
		order = "created_at ASC, id ASC"
	}
	args = append(args, filter.Page.Limit, filter.Page.Offset)
	query := fmt.Sprintf(`SELECT %s FROM inventory_transactions WHERE %s ORDER BY %s LIMIT $%d OFFSET $%d`,
		movementColumns, strings.Join(where, " AND "), order, len(args)-1, len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return collectMovements(rows)
}

// StockList joins the organization's catalog with balances for a project and
// cycle. Variants without a balance report zero.
func (r *Repository) StockList(ctx context.Context, organizationID, projectID, cycleID int64) ([]StockLine, error) {
	rows, err := r.pool.Query(ctx, `SELECT i.id, i.name, i.item_type, v.id, v.label, COALESCE(v.sku, i.sku),
	COALESCE(b.quantity_on_hand, 0), COALESCE(b.avg_unit_cost, 0)
FROM inventory_items i
JOIN inventory_item_variants v ON v.item_id = i.id
LEFT JOIN inventory_balances b ON b.variant_id = v.id
	AND b.organization_id = i.organization_id AND b.project_id = $2 AND b.cycle_id = $3
WHERE i.organization_id = $1 AND i.is_active AND v.is_active
ORDER BY i.name, v.id`, organizationID, projectID, cycleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var lines []StockLine
	for rows.Next() {
		var line StockLine
		if err := rows.Scan(&line.ItemID, &line.ItemName, &line.ItemType, &line.VariantID, &line.VariantLabel, &line.SKU,
			&line.QuantityOnHand, &line.AvgUnitCost); err != nil {
			return nil, err
		}
		lines = append(lines, withStockValue(line))
	}
	return lines, rows.Err()
}

// ListCycleKeys returns every key with ledger activity or a balance row in a
// project cycle.
func (r *Repository) ListCycleKeys(ctx context.Context, organizationID, projectID, cycleID int64) ([]BalanceKey, error) {
	rows, err := r.pool.Query(ctx, `SELECT variant_id FROM inventory_transactions
WHERE organization_id = $1 AND project_id = $2 AND cycle_id = $3
UNION
SELECT variant_id FROM inventory_balances
WHERE organization_id = $1 AND project_id = $2 AND cycle_id = $3
ORDER BY 1`, organizationID, projectID, cycleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []BalanceKey
	for rows.Next() {
		key := BalanceKey{OrganizationID: organizationID, ProjectID: projectID, CycleID: cycleID}
		if err := rows.Scan(&key.VariantID); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// ListScopes returns every project cycle holding balances.
func (r *Repository) ListScopes(ctx context.Context) ([]RebuildRequest, error) {
	rows, err := r.pool.Query(ctx, `SELECT DISTINCT organization_id, project_id, cycle_id FROM inventory_balances
ORDER BY organization_id, project_id, cycle_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var scopes []RebuildRequest
	for rows.Next() {
		var scope RebuildRequest
		if err := rows.Scan(&scope.OrganizationID, &scope.ProjectID, &scope.CycleID); err != nil {
			return nil, err
		}
		scopes = append(scopes, scope)
	}
	return scopes, rows.Err()
}

type queryRower interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func findBalance(ctx context.Context, q queryRower, key BalanceKey) (Balance, bool, error) {
	row := q.QueryRow(ctx, `SELECT `+balanceColumns+` FROM inventory_balances
WHERE organization_id = $1 AND project_id = $2 AND cycle_id = $3 AND variant_id = $4`,
		key.OrganizationID, key.ProjectID, key.CycleID, key.VariantID)
	balance, err := scanBalance(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Balance{}, false, nil
		}
		return Balance{}, false, err
	}
	return balance, true, nil
}

func getMovement(ctx context.Context, q queryRower, organizationID, id int64) (Movement, error) {
	row := q.QueryRow(ctx, `SELECT `+movementColumns+` FROM inventory_transactions
WHERE id = $1 AND organization_id = $2`, id, organizationID)
	m, err := scanMovement(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Movement{}, ErrMovementNotFound
	}
	return m, err
}

func scanBalance(row pgx.Row) (Balance, error) {
	var b Balance
	err := row.Scan(&b.OrganizationID, &b.ProjectID, &b.CycleID, &b.VariantID, &b.QuantityOnHand, &b.AvgUnitCost, &b.UpdatedAt)
	return b, err
}

func scanMovement(row pgx.Row) (Movement, error) {
	var (
		m          Movement
		txType     string
		sourceType *string
		sourceID   *int64
	)
	err := row.Scan(&m.ID, &m.OrganizationID, &m.ProjectID, &m.CycleID, &m.VariantID, &m.Code, &txType,
		&m.QuantityDelta, &m.UnitCost, &sourceType, &sourceID, &m.Notes, &m.CreatedBy, &m.CreatedAt)
	if err != nil {
		return Movement{}, err
	}
	m.Type = TransactionType(txType)
	if sourceType != nil && sourceID != nil {
		m.Source = &SourceRef{Kind: SourceKind(*sourceType), ID: *sourceID}
	}
	return m, nil
}

func collectMovements(rows pgx.Rows) ([]Movement, error) {
	defer rows.Close()
	var movements []Movement
	for rows.Next() {
		m, err := scanMovement(rows)
		if err != nil {
			return nil, err
		}
		movements = append(movements, m)
	}
	return movements, rows.Err()
}

func withStockValue(line StockLine) StockLine {
	line.StockValue = RoundCost(line.AvgUnitCost.Mul(decimal.NewFromInt(line.QuantityOnHand)))
	return line
}
