package catalog

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tallyhq/tally/internal/platform/db"
)

// Repository defines the interface for catalog persistence.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetItem(ctx context.Context, organizationID, id int64) (Item, error)
	ListItems(ctx context.Context, filter ListItemsFilter) ([]Item, error)
	GetVariantInfo(ctx context.Context, organizationID, variantID int64) (VariantInfo, error)
}

// TxRepository exposes transactional write operations.
type TxRepository interface {
	InsertItem(ctx context.Context, item Item) (int64, error)
	InsertVariant(ctx context.Context, variant Variant) (int64, error)
	LockItem(ctx context.Context, organizationID, id int64) (Item, error)
	LockVariant(ctx context.Context, organizationID, id int64) (Variant, error)
	UpdateItem(ctx context.Context, id int64, updates map[string]any) error
	UpdateVariant(ctx context.Context, id int64, updates map[string]any) error
}

type repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

type txRepository struct {
	tx pgx.Tx
}

// WithTx wraps callback in a read-committed transaction.
func (r *repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, pgx.ReadCommitted, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

const itemColumns = `i.id, i.organization_id, i.name, i.sku, i.unit_of_measure, i.item_type, i.is_active, i.created_at, i.updated_at`

const variantColumns = `v.id, v.item_id, v.label, v.sku, v.default_unit_cost, v.default_selling_price, v.is_active, v.created_at, v.updated_at`

func (r *repository) GetItem(ctx context.Context, organizationID, id int64) (Item, error) {
	item, err := scanItem(r.pool.QueryRow(ctx, `SELECT `+itemColumns+` FROM inventory_items i
WHERE i.id = $1 AND i.organization_id = $2`, id, organizationID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Item{}, ErrItemNotFound
		}
		return Item{}, err
	}
	variants, err := r.variantsFor(ctx, []int64{item.ID})
	if err != nil {
		return Item{}, err
	}
	item.Variants = variants[item.ID]
	return item, nil
}

func (r *repository) ListItems(ctx context.Context, filter ListItemsFilter) ([]Item, error) {
	where := []string{"i.organization_id = $1"}
	args := []any{filter.OrganizationID}
	if filter.Type != nil {
		args = append(args, string(*filter.Type))
		where = append(where, fmt.Sprintf("i.item_type = $%d", len(args)))
	}
	if filter.ActiveOnly {
		where = append(where, "i.is_active")
	}
	args = append(args, filter.Page.Limit, filter.Page.Offset)
	query := fmt.Sprintf(`SELECT %s FROM inventory_items i WHERE %s ORDER BY i.name, i.id LIMIT $%d OFFSET $%d`,
		itemColumns, strings.Join(where, " AND "), len(args)-1, len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []Item
	var ids []int64
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
		ids = append(ids, item.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return items, nil
	}
	variants, err := r.variantsFor(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range items {
		items[i].Variants = variants[items[i].ID]
	}
	return items, nil
}

func (r *repository) GetVariantInfo(ctx context.Context, organizationID, variantID int64) (VariantInfo, error) {
	var info VariantInfo
	var itemType string
	err := r.pool.QueryRow(ctx, `SELECT v.id, i.id, i.organization_id, i.name, v.label, i.item_type,
	v.default_unit_cost, v.default_selling_price, v.is_active AND i.is_active
FROM inventory_item_variants v
JOIN inventory_items i ON i.id = v.item_id
WHERE v.id = $1 AND i.organization_id = $2`, variantID, organizationID).Scan(
		&info.VariantID, &info.ItemID, &info.OrganizationID, &info.ItemName, &info.Label, &itemType,
		&info.DefaultUnitCost, &info.DefaultSellingPrice, &info.Active)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return VariantInfo{}, ErrVariantNotFound
		}
		return VariantInfo{}, err
	}
	info.ItemType = ItemType(itemType)
	return info, nil
}

func (r *repository) variantsFor(ctx context.Context, itemIDs []int64) (map[int64][]Variant, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+variantColumns+` FROM inventory_item_variants v
WHERE v.item_id = ANY($1) ORDER BY v.item_id, v.id`, itemIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[int64][]Variant, len(itemIDs))
	for rows.Next() {
		v, err := scanVariant(rows)
		if err != nil {
			return nil, err
		}
		out[v.ItemID] = append(out[v.ItemID], v)
	}
	return out, rows.Err()
}

func (t *txRepository) InsertItem(ctx context.Context, item Item) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `INSERT INTO inventory_items (organization_id, name, sku, unit_of_measure, item_type, is_active)
VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		item.OrganizationID, item.Name, item.SKU, item.UnitOfMeasure, string(item.Type), item.Active).Scan(&id)
	return id, err
}

func (t *txRepository) InsertVariant(ctx context.Context, variant Variant) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `INSERT INTO inventory_item_variants (item_id, label, sku, default_unit_cost, default_selling_price, is_active)
VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		variant.ItemID, variant.Label, variant.SKU, variant.DefaultUnitCost, variant.DefaultSellingPrice, variant.Active).Scan(&id)
	return id, err
}

func (t *txRepository) LockItem(ctx context.Context, organizationID, id int64) (Item, error) {
	item, err := scanItem(t.tx.QueryRow(ctx, `SELECT `+itemColumns+` FROM inventory_items i
WHERE i.id = $1 AND i.organization_id = $2 FOR UPDATE`, id, organizationID))
	if errors.Is(err, pgx.ErrNoRows) {
		return Item{}, ErrItemNotFound
	}
	return item, err
}

func (t *txRepository) LockVariant(ctx context.Context, organizationID, id int64) (Variant, error) {
	v, err := scanVariant(t.tx.QueryRow(ctx, `SELECT `+variantColumns+` FROM inventory_item_variants v
JOIN inventory_items i ON i.id = v.item_id
WHERE v.id = $1 AND i.organization_id = $2 FOR UPDATE OF v`, id, organizationID))
	if errors.Is(err, pgx.ErrNoRows) {
		return Variant{}, ErrVariantNotFound
	}
	return v, err
}

func (t *txRepository) UpdateItem(ctx context.Context, id int64, updates map[string]any) error {
	return t.update(ctx, "inventory_items", id, updates, ErrItemNotFound)
}

func (t *txRepository) UpdateVariant(ctx context.Context, id int64, updates map[string]any) error {
	return t.update(ctx, "inventory_item_variants", id, updates, ErrVariantNotFound)
}

func (t *txRepository) update(ctx context.Context, table string, id int64, updates map[string]any, notFound error) error {
	if len(updates) == 0 {
		return nil
	}
	fields := make([]string, 0, len(updates))
	for field := range updates {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	setClauses := make([]string, 0, len(fields)+1)
	args := make([]any, 0, len(fields)+2)
	for _, field := range fields {
		args = append(args, updates[field])
		setClauses = append(setClauses, fmt.Sprintf("%s = $%d", field, len(args)))
	}
	args = append(args, time.Now())
	setClauses = append(setClauses, fmt.Sprintf("updated_at = $%d", len(args)))
	args = append(args, id)

	query := fmt.Sprintf(`UPDATE %s SET %s WHERE id = $%d`, table, strings.Join(setClauses, ", "), len(args))
	tag, err := t.tx.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return notFound
	}
	return nil
}

func scanItem(row pgx.Row) (Item, error) {
	var item Item
	var itemType string
	err := row.Scan(&item.ID, &item.OrganizationID, &item.Name, &item.SKU, &item.UnitOfMeasure, &itemType,
		&item.Active, &item.CreatedAt, &item.UpdatedAt)
	item.Type = ItemType(itemType)
	return item, err
}

func scanVariant(row pgx.Row) (Variant, error) {
	var v Variant
	err := row.Scan(&v.ID, &v.ItemID, &v.Label, &v.SKU, &v.DefaultUnitCost, &v.DefaultSellingPrice,
		&v.Active, &v.CreatedAt, &v.UpdatedAt)
	return v, err
}
