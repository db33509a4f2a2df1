package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/finops-lab/invoiceflow/internal/domain/entity"
)

const vendorColumns = `vendor_id, name, aliases, phone, email, address, city, state,
	zip_code, country, currency, payment_method, payment_terms, tax_id,
	bank_account, bank_routing, compliance_status, contract_status,
	contract_renewal, risk_level, erp_sync_status, notes, status`

// VendorRepository reads the vendor master table
type VendorRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewVendorRepository creates a new vendor repository
func NewVendorRepository(db *sql.DB, logger *zap.Logger) *VendorRepository {
	return &VendorRepository{db: db, logger: logger}
}

// List returns all vendors ordered by name
func (r *VendorRepository) List(ctx context.Context) ([]*entity.Vendor, error) {
	query := fmt.Sprintf("SELECT %s FROM vendors ORDER BY name", vendorColumns)
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list vendors: %w", err)
	}
	defer rows.Close()

	var vendors []*entity.Vendor
	for rows.Next() {
		vendor, err := scanVendor(rows)
		if err != nil {
			return nil, err
		}
		vendors = append(vendors, vendor)
	}
	return vendors, rows.Err()
}

// Get returns a vendor by id, or nil if not found
func (r *VendorRepository) Get(ctx context.Context, vendorID string) (*entity.Vendor, error) {
	query := fmt.Sprintf("SELECT %s FROM vendors WHERE vendor_id = ?", vendorColumns)
	vendor, err := scanVendor(r.db.QueryRowContext(ctx, query, vendorID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get vendor %s: %w", vendorID, err)
	}
	return vendor, nil
}

// LookupByName finds a vendor by exact name, partial name, or alias.
// Inactive vendors are excluded; nil if no match.
func (r *VendorRepository) LookupByName(ctx context.Context, name string) (*entity.Vendor, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return nil, nil
	}

	query := fmt.Sprintf("SELECT %s FROM vendors WHERE LOWER(name) = ? AND status != 'inactive'", vendorColumns)
	vendor, err := scanVendor(r.db.QueryRowContext(ctx, query, name))
	if err == nil {
		return vendor, nil
	}
	if err != sql.ErrNoRows {
		return nil, fmt.Errorf("failed to look up vendor %q: %w", name, err)
	}

	query = fmt.Sprintf("SELECT %s FROM vendors WHERE LOWER(name) LIKE ? AND status != 'inactive'", vendorColumns)
	vendor, err = scanVendor(r.db.QueryRowContext(ctx, query, "%"+name+"%"))
	if err == nil {
		return vendor, nil
	}
	if err != sql.ErrNoRows {
		return nil, fmt.Errorf("failed to look up vendor %q: %w", name, err)
	}

	// alias scan
	query = fmt.Sprintf("SELECT %s FROM vendors WHERE status != 'inactive'", vendorColumns)
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to look up vendor %q: %w", name, err)
	}
	defer rows.Close()

	for rows.Next() {
		vendor, err := scanVendor(rows)
		if err != nil {
			return nil, err
		}
		for _, alias := range vendor.Aliases {
			lower := strings.ToLower(alias)
			if lower == name || strings.Contains(lower, name) {
				return vendor, nil
			}
		}
	}
	return nil, rows.Err()
}

// Stats returns the vendor dashboard counters
func (r *VendorRepository) Stats(ctx context.Context) (*entity.VendorStats, error) {
	stats := &entity.VendorStats{}
	counters := []struct {
		dest  *int
		query string
	}{
		{&stats.TotalVendors, "SELECT COUNT(*) FROM vendors"},
		{&stats.Compliant, "SELECT COUNT(*) FROM vendors WHERE compliance_status = 'complete'"},
		{&stats.NeedsAttention, "SELECT COUNT(*) FROM vendors WHERE compliance_status != 'complete'"},
		{&stats.HighRisk, "SELECT COUNT(*) FROM vendors WHERE risk_level = 'high'"},
		{&stats.PendingCompliance, "SELECT COUNT(*) FROM vendors WHERE compliance_status = 'incomplete' OR erp_sync_status = 'pending'"},
	}
	for _, c := range counters {
		if err := r.db.QueryRowContext(ctx, c.query).Scan(c.dest); err != nil {
			return nil, fmt.Errorf("failed to count vendors: %w", err)
		}
	}
	return stats, nil
}

// scanner abstracts sql.Row and sql.Rows for scanVendor
type scanner interface {
	Scan(dest ...any) error
}

func scanVendor(row scanner) (*entity.Vendor, error) {
	var v entity.Vendor
	var aliases, phone, email, address, city, state, zipCode, country sql.NullString
	var currency, paymentMethod, paymentTerms, taxID, bankAccount, bankRouting sql.NullString
	var contractRenewal, erpSyncStatus, notes sql.NullString

	err := row.Scan(
		&v.VendorID, &v.Name, &aliases, &phone, &email, &address, &city, &state,
		&zipCode, &country, &currency, &paymentMethod, &paymentTerms, &taxID,
		&bankAccount, &bankRouting, &v.ComplianceStatus, &v.ContractStatus,
		&contractRenewal, &v.RiskLevel, &erpSyncStatus, &notes, &v.Status,
	)
	if err != nil {
		return nil, err
	}

	if aliases.Valid && aliases.String != "" {
		_ = json.Unmarshal([]byte(aliases.String), &v.Aliases)
	}
	v.Phone = phone.String
	v.Email = email.String
	v.Address = address.String
	v.City = city.String
	v.State = state.String
	v.ZipCode = zipCode.String
	v.Country = country.String
	v.Currency = currency.String
	v.PaymentMethod = paymentMethod.String
	v.PaymentTerms = paymentTerms.String
	v.TaxID = taxID.String
	v.BankAccount = bankAccount.String
	v.BankRouting = bankRouting.String
	v.ContractRenewal = contractRenewal.String
	v.ERPSyncStatus = erpSyncStatus.String
	v.Notes = notes.String
	return &v, nil
}
