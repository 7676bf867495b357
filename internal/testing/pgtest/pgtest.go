//go:build integration

// Package pgtest starts a disposable PostgreSQL for repository tests.
package pgtest

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/tallyhq/tally/internal/platform/db"
)

// Fixture holds the ids seeded by Start or Seed.
type Fixture struct {
	OrganizationID int64
	ProjectID      int64
	CycleID        int64
	// Variants maps a label to a seeded variant id.
	Variants map[string]int64
}

// Start runs a migrated postgres container and returns a pool with a seeded
// organization, project, cycle and the requested variants.
func Start(t *testing.T, variants ...string) (*pgxpool.Pool, Fixture) {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("tally_test"),
		tcpostgres.WithUsername("tally"),
		tcpostgres.WithPassword("tally"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err, "start postgres container")
	t.Cleanup(func() {
		_ = container.Terminate(context.Background())
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	migrator, err := db.NewMigrator(dsn, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	require.NoError(t, migrator.Up())
	require.NoError(t, migrator.Close())

	pool, err := db.New(ctx, dsn, db.Options{MaxConns: 16})
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	return pool, Seed(t, pool, variants...)
}

// Seed inserts another organization with its own project, cycle and variants.
func Seed(t *testing.T, pool *pgxpool.Pool, variants ...string) Fixture {
	t.Helper()
	ctx := context.Background()
	fx := Fixture{Variants: make(map[string]int64, len(variants))}

	require.NoError(t, pool.QueryRow(ctx, `INSERT INTO organizations (name) VALUES ('Acme') RETURNING id`).Scan(&fx.OrganizationID))
	require.NoError(t, pool.QueryRow(ctx, `INSERT INTO projects (organization_id, name) VALUES ($1, 'Plant') RETURNING id`, fx.OrganizationID).Scan(&fx.ProjectID))
	require.NoError(t, pool.QueryRow(ctx, `INSERT INTO cycles (organization_id, project_id, name) VALUES ($1, $2, 'Q1') RETURNING id`, fx.OrganizationID, fx.ProjectID).Scan(&fx.CycleID))

	var itemID int64
	require.NoError(t, pool.QueryRow(ctx, `INSERT INTO inventory_items (organization_id, name, item_type) VALUES ($1, 'Stock', 'RAW_MATERIAL') RETURNING id`, fx.OrganizationID).Scan(&itemID))
	for _, label := range variants {
		var id int64
		require.NoError(t, pool.QueryRow(ctx, `INSERT INTO inventory_item_variants (item_id, label) VALUES ($1, $2) RETURNING id`, itemID, label).Scan(&id))
		fx.Variants[label] = id
	}
	return fx
}

// LockCycle flips the inventory lock of the fixture cycle.
func LockCycle(t *testing.T, pool *pgxpool.Pool, cycleID int64, locked bool) {
	t.Helper()
	_, err := pool.Exec(context.Background(), `UPDATE cycles SET inventory_locked = $2 WHERE id = $1`, cycleID, locked)
	require.NoError(t, err)
}
