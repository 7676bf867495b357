package cycles

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// Capabilities describes optional schema features detected at startup.
type Capabilities struct {
	// InventoryLock is true when cycles carry the inventory_locked column.
	InventoryLock bool
}

// Querier is the subset of pgxpool.Pool and pgx.Tx used by this package.
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Probe inspects the schema once. The result is passed to NewGuard and never
// refreshed while the process runs.
func Probe(ctx context.Context, q Querier) (Capabilities, error) {
	var exists bool
	err := q.QueryRow(ctx, `SELECT EXISTS (
	SELECT 1 FROM information_schema.columns
	WHERE table_schema = current_schema() AND table_name = 'cycles' AND column_name = 'inventory_locked'
)`).Scan(&exists)
	if err != nil {
		return Capabilities{}, fmt.Errorf("cycles: probe capabilities: %w", err)
	}
	return Capabilities{InventoryLock: exists}, nil
}

// ReadLockState implements LockReader for any pgx querier. The share lock
// makes a concurrent "lock cycle" update wait until the caller commits.
func ReadLockState(ctx context.Context, q Querier, cycleID, organizationID int64) (locked bool, found bool, err error) {
	err = q.QueryRow(ctx, `SELECT inventory_locked FROM cycles WHERE id = $1 AND organization_id = $2 FOR SHARE`, cycleID, organizationID).Scan(&locked)
	if err != nil {
		if err == pgx.ErrNoRows {
			return false, false, nil
		}
		return false, false, err
	}
	return locked, true, nil
}
