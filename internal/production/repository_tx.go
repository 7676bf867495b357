package production

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/tallyhq/tally/internal/inventory"
)

// txRepository implements TxRepository.
type txRepository struct {
	tx     pgx.Tx
	ledger inventory.TxRepository
}

// Ledger returns the inventory statements sharing this transaction.
func (t *txRepository) Ledger() inventory.TxRepository {
	return t.ledger
}

// LockOrder reads the order FOR UPDATE so status checks hold until commit.
func (t *txRepository) LockOrder(ctx context.Context, organizationID, id int64) (*Order, error) {
	order, err := scanOrder(t.tx.QueryRow(ctx, `SELECT `+orderColumns+` FROM production_orders
WHERE id = $1 AND organization_id = $2 FOR UPDATE`, id, organizationID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return order, nil
}

// ListInputs returns the order's input lines.
func (t *txRepository) ListInputs(ctx context.Context, orderID int64) ([]Input, error) {
	return queryInputs(ctx, t.tx, orderID)
}

// InsertOrder inserts an order header.
func (t *txRepository) InsertOrder(ctx context.Context, order Order) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `INSERT INTO production_orders
	(organization_id, project_id, cycle_id, status, output_variant_id, output_quantity, notes, created_by)
VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, 0))
RETURNING id`,
		order.OrganizationID, order.ProjectID, order.CycleID, string(order.Status), order.OutputVariantID,
		order.OutputQuantity, order.Notes, order.CreatedBy).Scan(&id)
	return id, err
}

// InsertInput inserts an input line.
func (t *txRepository) InsertInput(ctx context.Context, input Input) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `INSERT INTO production_order_inputs
	(production_order_id, variant_id, quantity_required, unit_cost_override, notes, line_order)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING id`,
		input.ProductionOrderID, input.VariantID, input.QuantityRequired, input.UnitCostOverride, input.Notes, input.LineOrder).Scan(&id)
	return id, err
}

// UpdateOrder updates order fields.
func (t *txRepository) UpdateOrder(ctx context.Context, id int64, updates map[string]any) error {
	if len(updates) == 0 {
		return nil
	}
	fields := make([]string, 0, len(updates))
	for field := range updates {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	var setClauses []string
	var args []any
	for _, field := range fields {
		args = append(args, updates[field])
		setClauses = append(setClauses, fmt.Sprintf("%s = $%d", field, len(args)))
	}
	args = append(args, time.Now())
	setClauses = append(setClauses, fmt.Sprintf("updated_at = $%d", len(args)))
	args = append(args, id)

	query := fmt.Sprintf(`UPDATE production_orders SET %s WHERE id = $%d`, strings.Join(setClauses, ", "), len(args))
	cmdTag, err := t.tx.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteInputs removes all input lines of an order.
func (t *txRepository) DeleteInputs(ctx context.Context, orderID int64) error {
	_, err := t.tx.Exec(ctx, `DELETE FROM production_order_inputs WHERE production_order_id = $1`, orderID)
	return err
}

// DeleteOrder removes the order header.
func (t *txRepository) DeleteOrder(ctx context.Context, id int64) error {
	cmdTag, err := t.tx.Exec(ctx, `DELETE FROM production_orders WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
