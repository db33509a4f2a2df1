package entity

// Vendor is a vendor master record: compliance, contract and banking state
// consulted during validation and surfaced in the vendor directory.
type Vendor struct {
	VendorID         string   `json:"vendor_id"`
	Name             string   `json:"name"`
	Aliases          []string `json:"aliases"`
	Phone            string   `json:"phone,omitempty"`
	Email            string   `json:"email,omitempty"`
	Address          string   `json:"address,omitempty"`
	City             string   `json:"city,omitempty"`
	State            string   `json:"state,omitempty"`
	ZipCode          string   `json:"zip_code,omitempty"`
	Country          string   `json:"country,omitempty"`
	Currency         string   `json:"currency,omitempty"`
	PaymentMethod    string   `json:"payment_method,omitempty"`
	PaymentTerms     string   `json:"payment_terms,omitempty"`
	TaxID            string   `json:"tax_id,omitempty"`
	BankAccount      string   `json:"bank_account,omitempty"`
	BankRouting      string   `json:"bank_routing,omitempty"`
	ComplianceStatus string   `json:"compliance_status"`
	ContractStatus   string   `json:"contract_status"`
	ContractRenewal  string   `json:"contract_renewal,omitempty"`
	RiskLevel        string   `json:"risk_level"`
	ERPSyncStatus    string   `json:"erp_sync_status,omitempty"`
	Notes            string   `json:"notes,omitempty"`
	Status           string   `json:"status"`
}

// VendorStats summarizes the vendor master for the dashboard
type VendorStats struct {
	TotalVendors      int `json:"total_vendors"`
	Compliant         int `json:"compliant"`
	NeedsAttention    int `json:"needs_attention"`
	HighRisk          int `json:"high_risk"`
	PendingCompliance int `json:"pending_compliance"`
}

// InventoryItem is one stocked item consulted during validation
type InventoryItem struct {
	Item      string  `json:"item"`
	Stock     int     `json:"stock"`
	UnitPrice float64 `json:"unit_price"`
}
