package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/finops-lab/invoiceflow/pkg/database"
)

// newTestDB opens an in-memory database with the schema and seed data
// applied. A single connection keeps the in-memory store alive and shared.
func newTestDB(t *testing.T) *database.DB {
	t.Helper()

	db, err := database.New(database.Config{
		Path:         ":memory:",
		MaxOpenConns: 1,
		MaxIdleConns: 1,
	}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, database.NewMigrator(db, zap.NewNop()).Run())
	return db
}

func TestVendorRepository(t *testing.T) {
	db := newTestDB(t)
	repo := NewVendorRepository(db.DB, zap.NewNop())
	ctx := context.Background()

	t.Run("list returns seeded vendors ordered by name", func(t *testing.T) {
		vendors, err := repo.List(ctx)
		require.NoError(t, err)
		require.Len(t, vendors, 3)
		assert.Equal(t, "Fraudster LLC", vendors[0].Name)
		assert.Equal(t, "Gadgets Co.", vendors[1].Name)
		assert.Equal(t, "Widgets Inc.", vendors[2].Name)
	})

	t.Run("get by id", func(t *testing.T) {
		vendor, err := repo.Get(ctx, "VND-001")
		require.NoError(t, err)
		require.NotNil(t, vendor)
		assert.Equal(t, "Widgets Inc.", vendor.Name)
		assert.Equal(t, "Net 30", vendor.PaymentTerms)
		assert.Equal(t, []string{"Widgets", "Widgets Incorporated", "Widgets Inc"}, vendor.Aliases)
	})

	t.Run("get unknown id returns nil", func(t *testing.T) {
		vendor, err := repo.Get(ctx, "VND-999")
		require.NoError(t, err)
		assert.Nil(t, vendor)
	})

	t.Run("lookup matches exact name case-insensitively", func(t *testing.T) {
		vendor, err := repo.LookupByName(ctx, "widgets inc.")
		require.NoError(t, err)
		require.NotNil(t, vendor)
		assert.Equal(t, "VND-001", vendor.VendorID)
	})

	t.Run("lookup matches partial name", func(t *testing.T) {
		vendor, err := repo.LookupByName(ctx, "Gadgets")
		require.NoError(t, err)
		require.NotNil(t, vendor)
		assert.Equal(t, "VND-002", vendor.VendorID)
	})

	t.Run("lookup matches alias", func(t *testing.T) {
		vendor, err := repo.LookupByName(ctx, "GadgetsCo")
		require.NoError(t, err)
		require.NotNil(t, vendor)
		assert.Equal(t, "VND-002", vendor.VendorID)
	})

	t.Run("lookup without match returns nil", func(t *testing.T) {
		vendor, err := repo.LookupByName(ctx, "Nonexistent Vendor Ltd")
		require.NoError(t, err)
		assert.Nil(t, vendor)
	})

	t.Run("suspended vendor carries its risk profile", func(t *testing.T) {
		vendor, err := repo.LookupByName(ctx, "Fraudster")
		require.NoError(t, err)
		require.NotNil(t, vendor)
		assert.Equal(t, "high", vendor.RiskLevel)
		assert.Equal(t, "suspended", vendor.Status)
		assert.Equal(t, "suspended", vendor.ContractStatus)
	})

	t.Run("stats", func(t *testing.T) {
		stats, err := repo.Stats(ctx)
		require.NoError(t, err)
		assert.Equal(t, 3, stats.TotalVendors)
		assert.Equal(t, 1, stats.Compliant)
		assert.Equal(t, 2, stats.NeedsAttention)
		assert.Equal(t, 1, stats.HighRisk)
		assert.Equal(t, 2, stats.PendingCompliance)
	})
}

func TestInventoryRepository(t *testing.T) {
	db := newTestDB(t)
	repo := NewInventoryRepository(db.DB, zap.NewNop())
	ctx := context.Background()

	t.Run("stock for seeded items", func(t *testing.T) {
		tests := []struct {
			item  string
			stock int
		}{
			{"WidgetA", 15},
			{"WidgetB", 10},
			{"GadgetX", 5},
			{"FakeItem", 0},
		}
		for _, tt := range tests {
			stock, known, err := repo.Stock(ctx, tt.item)
			require.NoError(t, err)
			assert.True(t, known, tt.item)
			assert.Equal(t, tt.stock, stock, tt.item)
		}
	})

	t.Run("unknown item reports not known", func(t *testing.T) {
		stock, known, err := repo.Stock(ctx, "Vaporware")
		require.NoError(t, err)
		assert.False(t, known)
		assert.Zero(t, stock)
	})

	t.Run("all items ordered by name", func(t *testing.T) {
		items, err := repo.All(ctx)
		require.NoError(t, err)
		require.Len(t, items, 4)
		assert.Equal(t, "FakeItem", items[0].Item)
		assert.Equal(t, "WidgetB", items[3].Item)
	})

	t.Run("migrations are idempotent", func(t *testing.T) {
		require.NoError(t, database.NewMigrator(db, zap.NewNop()).Run())
		items, err := repo.All(ctx)
		require.NoError(t, err)
		assert.Len(t, items, 4)
	})
}
