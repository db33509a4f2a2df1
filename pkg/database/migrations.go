package database

import (
	"database/sql"
	"fmt"

	"go.uber.org/zap"
)

// Migration is one versioned schema change
type Migration struct {
	Version int
	Name    string
	SQL     string
}

// migrations holds the full schema in order. New changes go at the end with
// the next version number; applied versions are tracked in
// schema_migrations and never re-run.
var migrations = []Migration{
	{
		Version: 1,
		Name:    "inventory",
		SQL: `
			CREATE TABLE IF NOT EXISTS inventory (
				item TEXT PRIMARY KEY,
				stock INTEGER NOT NULL,
				unit_price REAL DEFAULT 100.0,
				created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
			);
		`,
	},
	{
		Version: 2,
		Name:    "vendors",
		SQL: `
			CREATE TABLE IF NOT EXISTS vendors (
				vendor_id TEXT PRIMARY KEY,
				name TEXT NOT NULL,
				aliases TEXT,
				phone TEXT,
				email TEXT,
				address TEXT,
				city TEXT,
				state TEXT,
				zip_code TEXT,
				country TEXT DEFAULT 'USA',
				currency TEXT DEFAULT 'USD',
				payment_method TEXT DEFAULT 'ACH Transfer',
				payment_terms TEXT DEFAULT 'Net 30',
				tax_id TEXT,
				bank_account TEXT,
				bank_routing TEXT,
				compliance_status TEXT DEFAULT 'complete',
				contract_status TEXT DEFAULT 'active',
				contract_renewal TEXT,
				risk_level TEXT DEFAULT 'low',
				erp_sync_status TEXT DEFAULT 'synced',
				notes TEXT,
				status TEXT DEFAULT 'active',
				created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
				updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
			);
		`,
	},
	{
		Version: 3,
		Name:    "purchase_orders",
		SQL: `
			CREATE TABLE IF NOT EXISTS purchase_orders (
				po_number TEXT PRIMARY KEY,
				vendor_id TEXT,
				order_date TEXT,
				expected_delivery TEXT,
				total_amount REAL,
				status TEXT DEFAULT 'open',
				line_items TEXT,
				created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
				FOREIGN KEY (vendor_id) REFERENCES vendors(vendor_id)
			);
		`,
	},
}

// Migrator applies schema migrations and seeds reference data
type Migrator struct {
	db     *DB
	logger *zap.Logger
}

// NewMigrator creates a new migrator
func NewMigrator(db *DB, logger *zap.Logger) *Migrator {
	return &Migrator{db: db, logger: logger}
}

// Run applies all pending migrations and refreshes the seed data
func (m *Migrator) Run() error {
	if err := m.createMigrationsTable(); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	applied, err := m.appliedVersions()
	if err != nil {
		return fmt.Errorf("failed to get applied migrations: %w", err)
	}

	for _, migration := range migrations {
		if applied[migration.Version] {
			continue
		}
		m.logger.Info("Applying migration",
			zap.Int("version", migration.Version),
			zap.String("name", migration.Name))
		if err := m.apply(migration); err != nil {
			return fmt.Errorf("failed to apply migration %d: %w", migration.Version, err)
		}
	}

	if err := m.seed(); err != nil {
		return fmt.Errorf("failed to seed reference data: %w", err)
	}

	m.logger.Info("Database migrations completed")
	return nil
}

func (m *Migrator) createMigrationsTable() error {
	_, err := m.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);
	`)
	return err
}

func (m *Migrator) appliedVersions() (map[int]bool, error) {
	rows, err := m.db.Query("SELECT version FROM schema_migrations")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	applied := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			return nil, err
		}
		applied[version] = true
	}
	return applied, rows.Err()
}

func (m *Migrator) apply(migration Migration) error {
	return m.db.WithTransaction(func(tx *sql.Tx) error {
		if _, err := tx.Exec(migration.SQL); err != nil {
			return fmt.Errorf("failed to execute migration SQL: %w", err)
		}
		_, err := tx.Exec(
			"INSERT INTO schema_migrations (version, name) VALUES (?, ?)",
			migration.Version, migration.Name,
		)
		return err
	})
}

// seed upserts the inventory, vendor master and purchase order reference
// rows. Idempotent so restarts always converge on the same data.
func (m *Migrator) seed() error {
	return m.db.WithTransaction(func(tx *sql.Tx) error {
		inventory := []struct {
			item      string
			stock     int
			unitPrice float64
		}{
			{"WidgetA", 15, 100.0},
			{"WidgetB", 10, 150.0},
			{"GadgetX", 5, 500.0},
			{"FakeItem", 0, 999.0},
		}
		for _, row := range inventory {
			if _, err := tx.Exec(
				"INSERT OR REPLACE INTO inventory (item, stock, unit_price) VALUES (?, ?, ?)",
				row.item, row.stock, row.unitPrice,
			); err != nil {
				return err
			}
		}

		const vendorUpsert = `
			INSERT OR REPLACE INTO vendors (
				vendor_id, name, aliases, phone, email, address, city, state,
				zip_code, country, currency, payment_method, payment_terms,
				tax_id, bank_account, bank_routing, compliance_status,
				contract_status, contract_renewal, risk_level, erp_sync_status,
				notes, status, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		`
		vendors := [][]any{
			{
				"VND-001", "Widgets Inc.", `["Widgets","Widgets Incorporated","Widgets Inc"]`,
				"(555) 123-4567", "ap@widgets-inc.com", "1234 Innovation Drive, Suite 500",
				"San Francisco", "CA", "94105", "USA", "USD", "ACH Transfer", "Net 30",
				"12-3456789", "****4567", "****0001", "complete", "active", "2026-12-31",
				"low", "synced", "Preferred vendor for widget products. Established 2015.", "active",
			},
			{
				"VND-002", "Gadgets Co.", `["Gadgets","Gadgets Company","Gadgets Co","GadgetsCo"]`,
				"(555) 987-6543", "billing@gadgets.co", "456 Tech Boulevard",
				"Austin", "TX", "78701", "USA", "USD", "Wire Transfer", "Net 60",
				"98-7654321", "****8901", "****0002", "incomplete", "active", "2026-06-30",
				"medium", "pending", "Large orders require VP approval. Review compliance docs.", "active",
			},
			{
				"VND-003", "Fraudster LLC", `["Fraudster","Fraud LLC"]`,
				nil, "unknown@suspicious.biz", "Unknown",
				"Unknown", "XX", "00000", "Unknown", "USD", "Due on receipt", "Due on receipt",
				nil, nil, nil, "incomplete", "suspended", nil,
				"high", "failed", "SUSPENDED: Flagged for suspicious activity. Do not process invoices.", "suspended",
			},
		}
		for _, args := range vendors {
			if _, err := tx.Exec(vendorUpsert, args...); err != nil {
				return err
			}
		}

		const poUpsert = `
			INSERT OR REPLACE INTO purchase_orders (
				po_number, vendor_id, order_date, expected_delivery,
				total_amount, status, line_items
			) VALUES (?, ?, ?, ?, ?, ?, ?)
		`
		pos := [][]any{
			{
				"PO-2026-001", "VND-001", "2026-01-15", "2026-01-25", 5000.00, "open",
				`[{"item":"WidgetA","quantity":10,"unit_price":100.0},{"item":"WidgetB","quantity":5,"unit_price":150.0}]`,
			},
			{
				"PO-2026-002", "VND-002", "2026-01-20", "2026-01-30", 15000.00, "open",
				`[{"item":"GadgetX","quantity":20,"unit_price":500.0}]`,
			},
		}
		for _, args := range pos {
			if _, err := tx.Exec(poUpsert, args...); err != nil {
				return err
			}
		}

		return nil
	})
}
