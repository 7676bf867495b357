package production

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tallyhq/tally/internal/inventory"
	"github.com/tallyhq/tally/internal/platform/db"
)

// Repository defines the interface for production order persistence.
type Repository interface {
	// Read operations
	GetByID(ctx context.Context, organizationID, id int64) (*Order, error)
	List(ctx context.Context, organizationID int64, req ListRequest) ([]Order, error)

	// Write operations (transactional)
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// TxRepository exposes transactional write operations. Ledger returns the
// inventory statements bound to the same transaction so postings commit or
// roll back with the order.
type TxRepository interface {
	Ledger() inventory.TxRepository
	LockOrder(ctx context.Context, organizationID, id int64) (*Order, error)
	ListInputs(ctx context.Context, orderID int64) ([]Input, error)
	InsertOrder(ctx context.Context, order Order) (int64, error)
	InsertInput(ctx context.Context, input Input) (int64, error)
	UpdateOrder(ctx context.Context, id int64, updates map[string]any) error
	DeleteInputs(ctx context.Context, orderID int64) error
	DeleteOrder(ctx context.Context, id int64) error
}

// repository implements Repository using pgxpool.
type repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

// WithTx wraps callback in a read-committed transaction. Balance and order
// row locks provide the serialisation completion needs.
func (r *repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, pgx.ReadCommitted, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx, ledger: inventory.NewTxRepository(tx)})
	})
}

const orderColumns = `id, organization_id, project_id, cycle_id, status, output_variant_id, output_quantity,
	output_unit_cost, notes, completed_at, COALESCE(created_by, 0), created_at, updated_at`

const inputColumns = `id, production_order_id, variant_id, quantity_required, unit_cost_override, notes, line_order`

// GetByID fetches an order with its inputs.
func (r *repository) GetByID(ctx context.Context, organizationID, id int64) (*Order, error) {
	order, err := scanOrder(r.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM production_orders
WHERE id = $1 AND organization_id = $2`, id, organizationID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	inputs, err := queryInputs(ctx, r.pool, id)
	if err != nil {
		return nil, err
	}
	order.Inputs = inputs
	return order, nil
}

// List returns orders of an organization, newest first. Inputs are not loaded.
func (r *repository) List(ctx context.Context, organizationID int64, req ListRequest) ([]Order, error) {
	where := []string{"organization_id = $1"}
	args := []any{organizationID}
	if req.ProjectID > 0 {
		args = append(args, req.ProjectID)
		where = append(where, fmt.Sprintf("project_id = $%d", len(args)))
	}
	if req.CycleID > 0 {
		args = append(args, req.CycleID)
		where = append(where, fmt.Sprintf("cycle_id = $%d", len(args)))
	}
	if req.Status != nil {
		args = append(args, string(*req.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	args = append(args, req.Limit, req.Offset)
	query := fmt.Sprintf(`SELECT %s FROM production_orders WHERE %s ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d`,
		orderColumns, strings.Join(where, " AND "), len(args)-1, len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *order)
	}
	return orders, rows.Err()
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func queryInputs(ctx context.Context, q querier, orderID int64) ([]Input, error) {
	rows, err := q.Query(ctx, `SELECT `+inputColumns+` FROM production_order_inputs
WHERE production_order_id = $1 ORDER BY line_order, id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var inputs []Input
	for rows.Next() {
		var in Input
		if err := rows.Scan(&in.ID, &in.ProductionOrderID, &in.VariantID, &in.QuantityRequired,
			&in.UnitCostOverride, &in.Notes, &in.LineOrder); err != nil {
			return nil, err
		}
		inputs = append(inputs, in)
	}
	return inputs, rows.Err()
}

func scanOrder(row pgx.Row) (*Order, error) {
	var (
		o      Order
		status string
	)
	err := row.Scan(&o.ID, &o.OrganizationID, &o.ProjectID, &o.CycleID, &status, &o.OutputVariantID, &o.OutputQuantity,
		&o.OutputUnitCost, &o.Notes, &o.CompletedAt, &o.CreatedBy, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}
	o.Status = Status(status)
	return &o, nil
}
