//go:build integration

package production_test

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/tallyhq/tally/internal/catalog"
	"github.com/tallyhq/tally/internal/cycles"
	"github.com/tallyhq/tally/internal/inventory"
	"github.com/tallyhq/tally/internal/production"
	"github.com/tallyhq/tally/internal/rbac"
	"github.com/tallyhq/tally/internal/shared"
	"github.com/tallyhq/tally/internal/testing/pgtest"
)

func TestPostgresCompleteProductionOrder(t *testing.T) {
	ctx := context.Background()
	pool, fx := pgtest.Start(t, "flour", "sugar", "cake")

	_, err := pool.Exec(ctx, `UPDATE inventory_item_variants SET default_unit_cost = 0.5 WHERE id = $1`, fx.Variants["sugar"])
	require.NoError(t, err)

	caps, err := cycles.Probe(ctx, pool)
	require.NoError(t, err)
	audit := shared.NewAuditLogger(pool)
	ledger := inventory.NewService(inventory.NewRepository(pool), cycles.NewGuard(caps), audit, inventory.ServiceConfig{})

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	catalogService := catalog.NewService(catalog.NewRepository(pool), catalog.NewCache(rdb, 0), audit)

	svc := production.NewService(production.ServiceDeps{
		Repo:     production.NewRepository(pool),
		Ledger:   ledger,
		Variants: catalogService,
		Access:   rbac.NewService(pool),
		Audit:    audit,
	})
	actor := shared.Actor{UserID: 1, OrganizationID: fx.OrganizationID, Role: shared.RoleAdmin}

	flourKey := inventory.BalanceKey{OrganizationID: fx.OrganizationID, ProjectID: fx.ProjectID, CycleID: fx.CycleID, VariantID: fx.Variants["flour"]}
	unitCost := decimal.RequireFromString("2")
	_, err = ledger.PostPurchaseReceipt(ctx, inventory.StockInput{Key: flourKey, Quantity: 20, UnitCost: &unitCost})
	require.NoError(t, err)

	order, err := svc.Create(ctx, actor, production.CreateRequest{
		ProjectID:       fx.ProjectID,
		CycleID:         fx.CycleID,
		OutputVariantID: fx.Variants["cake"],
		OutputQuantity:  4,
		Inputs: []production.InputRequest{
			{VariantID: fx.Variants["flour"], QuantityRequired: 6},
			{VariantID: fx.Variants["sugar"], QuantityRequired: 2},
		},
	})
	require.NoError(t, err)
	require.Equal(t, production.StatusDraft, order.Status)
	require.Len(t, order.Inputs, 2)

	completion, err := svc.Complete(ctx, actor, order.ID)
	require.NoError(t, err)
	// 6 x 2.00 + 2 x 0.50 = 13.00 over 4 units.
	require.True(t, completion.TotalCost.Equal(decimal.RequireFromString("13")), completion.TotalCost.String())
	require.True(t, completion.OutputUnitCost.Equal(decimal.RequireFromString("3.25")), completion.OutputUnitCost.String())
	require.Equal(t, production.CostFromBalance, completion.Costs[0].Source)
	require.Equal(t, production.CostFromCatalog, completion.Costs[1].Source)

	flour, err := ledger.GetBalance(ctx, flourKey)
	require.NoError(t, err)
	require.Equal(t, int64(14), flour.QuantityOnHand)

	cakeKey := flourKey
	cakeKey.VariantID = fx.Variants["cake"]
	cake, err := ledger.GetBalance(ctx, cakeKey)
	require.NoError(t, err)
	require.Equal(t, int64(4), cake.QuantityOnHand)
	require.True(t, cake.AvgUnitCost.Equal(decimal.RequireFromString("3.25")))

	stored, err := svc.Get(ctx, actor, order.ID)
	require.NoError(t, err)
	require.Equal(t, production.StatusCompleted, stored.Status)
	require.NotNil(t, stored.CompletedAt)

	_, err = svc.Complete(ctx, actor, order.ID)
	require.ErrorIs(t, err, production.ErrAlreadyCompleted)
}

func TestPostgresCompleteRollsBackOnLockedCycle(t *testing.T) {
	ctx := context.Background()
	pool, fx := pgtest.Start(t, "flour", "cake")

	caps, err := cycles.Probe(ctx, pool)
	require.NoError(t, err)
	ledger := inventory.NewService(inventory.NewRepository(pool), cycles.NewGuard(caps), nil, inventory.ServiceConfig{})
	svc := production.NewService(production.ServiceDeps{
		Repo:     production.NewRepository(pool),
		Ledger:   ledger,
		Variants: catalog.NewService(catalog.NewRepository(pool), nil, nil),
		Access:   rbac.NewService(pool),
	})
	actor := shared.Actor{UserID: 1, OrganizationID: fx.OrganizationID, Role: shared.RoleAdmin}

	order, err := svc.Create(ctx, actor, production.CreateRequest{
		ProjectID:       fx.ProjectID,
		CycleID:         fx.CycleID,
		OutputVariantID: fx.Variants["cake"],
		OutputQuantity:  1,
		Inputs:          []production.InputRequest{{VariantID: fx.Variants["flour"], QuantityRequired: 1}},
	})
	require.NoError(t, err)

	pgtest.LockCycle(t, pool, fx.CycleID, true)
	_, err = svc.Complete(ctx, actor, order.ID)
	require.ErrorIs(t, err, shared.ErrCycleLocked)

	var movements int
	require.NoError(t, pool.QueryRow(ctx, `SELECT COUNT(*) FROM inventory_transactions`).Scan(&movements))
	require.Zero(t, movements)

	pgtest.LockCycle(t, pool, fx.CycleID, false)
	stored, err := svc.Get(ctx, actor, order.ID)
	require.NoError(t, err)
	require.Equal(t, production.StatusDraft, stored.Status)
}
