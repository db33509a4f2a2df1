package repository

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"github.com/finops-lab/invoiceflow/internal/domain/entity"
)

// InventoryRepository reads stock levels for the validation agent
type InventoryRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewInventoryRepository creates a new inventory repository
func NewInventoryRepository(db *sql.DB, logger *zap.Logger) *InventoryRepository {
	return &InventoryRepository{db: db, logger: logger}
}

// Stock returns the stock level for an item. The second return is false
// for items not in the inventory table; the validation agent treats those
// as zero stock.
func (r *InventoryRepository) Stock(ctx context.Context, item string) (int, bool, error) {
	var stock int
	err := r.db.QueryRowContext(ctx,
		"SELECT stock FROM inventory WHERE item = ?", item,
	).Scan(&stock)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to check stock for %s: %w", item, err)
	}
	return stock, true, nil
}

// All returns every inventory item ordered by name
func (r *InventoryRepository) All(ctx context.Context) ([]entity.InventoryItem, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT item, stock, unit_price FROM inventory ORDER BY item")
	if err != nil {
		return nil, fmt.Errorf("failed to list inventory: %w", err)
	}
	defer rows.Close()

	var items []entity.InventoryItem
	for rows.Next() {
		var it entity.InventoryItem
		if err := rows.Scan(&it.Item, &it.Stock, &it.UnitPrice); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}
