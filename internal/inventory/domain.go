package inventory

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tallyhq/tally/internal/shared"
)

// TransactionType enumerates supported ledger movements.
type TransactionType string

const (
	TransactionTypePurchaseReceipt   TransactionType = "PURCHASE_RECEIPT"
	TransactionTypeSaleIssue         TransactionType = "SALE_ISSUE"
	TransactionTypeReversal          TransactionType = "REVERSAL"
	TransactionTypeAdjustment        TransactionType = "ADJUSTMENT"
	TransactionTypeOpeningBalance    TransactionType = "OPENING_BALANCE"
	TransactionTypeProductionIssue   TransactionType = "PRODUCTION_ISSUE"
	TransactionTypeProductionReceipt TransactionType = "PRODUCTION_RECEIPT"
)

// Valid reports whether the type is known.
func (t TransactionType) Valid() bool {
	switch t {
	case TransactionTypePurchaseReceipt, TransactionTypeSaleIssue, TransactionTypeReversal,
		TransactionTypeAdjustment, TransactionTypeOpeningBalance,
		TransactionTypeProductionIssue, TransactionTypeProductionReceipt:
		return true
	}
	return false
}

// SourceKind names the document type a movement originates from.
type SourceKind string

const (
	SourceExpense              SourceKind = "expense"
	SourceInventoryTransaction SourceKind = "inventory_transaction"
	SourceProductionOrder      SourceKind = "production_order"
)

// Valid reports whether the kind is known.
func (k SourceKind) Valid() bool {
	switch k {
	case SourceExpense, SourceInventoryTransaction, SourceProductionOrder:
		return true
	}
	return false
}

// SourceRef points at the originating document. Existence of the target is
// not enforced by the database.
type SourceRef struct {
	Kind SourceKind `json:"kind"`
	ID   int64      `json:"id"`
}

func (s SourceRef) String() string {
	return fmt.Sprintf("%s:%d", s.Kind, s.ID)
}

// BalanceKey scopes a balance. Costs never cross cycles.
type BalanceKey struct {
	OrganizationID int64 `json:"organization_id"`
	ProjectID      int64 `json:"project_id"`
	CycleID        int64 `json:"cycle_id"`
	VariantID      int64 `json:"variant_id"`
}

// Validate checks that every identifier is set.
func (k BalanceKey) Validate() error {
	if k.OrganizationID <= 0 || k.ProjectID <= 0 || k.CycleID <= 0 || k.VariantID <= 0 {
		return fmt.Errorf("%w: organization, project, cycle and variant are required", shared.ErrValidation)
	}
	return nil
}

func (k BalanceKey) String() string {
	return fmt.Sprintf("%d/%d/%d/%d", k.OrganizationID, k.ProjectID, k.CycleID, k.VariantID)
}

// Movement is one immutable ledger entry.
type Movement struct {
	ID int64 `json:"id"`
	BalanceKey
	Code          uuid.UUID        `json:"code"`
	Type          TransactionType  `json:"transaction_type"`
	QuantityDelta int64            `json:"quantity_delta"`
	UnitCost      *decimal.Decimal `json:"unit_cost"`
	Source        *SourceRef       `json:"source,omitempty"`
	Notes         *string          `json:"notes,omitempty"`
	CreatedBy     int64            `json:"created_by"`
	CreatedAt     time.Time        `json:"created_at"`
}

// Balance is the derived on-hand quantity and moving-average cost of a key.
type Balance struct {
	BalanceKey
	QuantityOnHand int64           `json:"quantity_on_hand"`
	AvgUnitCost    decimal.Decimal `json:"avg_unit_cost"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// HasCostBasis reports whether the balance carries a usable average cost. The
// average survives a balance drawn to zero or below, so quantity is ignored.
func (b Balance) HasCostBasis() bool {
	return b.AvgUnitCost.IsPositive()
}

// MovementInput describes a single posting request.
type MovementInput struct {
	Key           BalanceKey
	QuantityDelta int64
	UnitCost      *decimal.Decimal
	Type          TransactionType
	Source        *SourceRef
	Notes         *string
	ActorID       int64
	// IdempotencyKey is optional. When set, a repeated key is rejected.
	IdempotencyKey string
}

// StockInput is the shared shape of the typed posting helpers. Quantity is
// unsigned for receipts and issues and signed for adjustments.
type StockInput struct {
	Key            BalanceKey
	Quantity       int64
	UnitCost       *decimal.Decimal
	Source         *SourceRef
	Notes          *string
	ActorID        int64
	IdempotencyKey string
}

// ReverseInput requests a compensating movement for an existing entry.
type ReverseInput struct {
	OrganizationID int64
	MovementID     int64
	ActorID        int64
	Notes          *string
}

// MovementFilter narrows ledger listings. Zero values mean "any".
type MovementFilter struct {
	OrganizationID int64
	ProjectID      int64
	CycleID        int64
	VariantID      int64
	From           time.Time
	To             time.Time
	Chronological  bool
	Page           shared.Page
}

// StockLine is one catalog variant with its balance for a project and cycle.
type StockLine struct {
	ItemID         int64           `json:"item_id"`
	ItemName       string          `json:"item_name"`
	ItemType       string          `json:"item_type"`
	VariantID      int64           `json:"variant_id"`
	VariantLabel   *string         `json:"variant_label,omitempty"`
	SKU            *string         `json:"sku,omitempty"`
	QuantityOnHand int64           `json:"quantity_on_hand"`
	AvgUnitCost    decimal.Decimal `json:"avg_unit_cost"`
	StockValue     decimal.Decimal `json:"stock_value"`
}

// Drift compares a stored balance with a replay of the ledger.
type Drift struct {
	BalanceKey
	Movements      int             `json:"movements"`
	StoredQuantity int64           `json:"stored_quantity"`
	LedgerQuantity int64           `json:"ledger_quantity"`
	StoredAvgCost  decimal.Decimal `json:"stored_avg_unit_cost"`
	LedgerAvgCost  decimal.Decimal `json:"ledger_avg_unit_cost"`
	Repaired       bool            `json:"repaired"`
}

// InSync reports whether the stored balance matches the ledger.
func (d Drift) InSync() bool {
	return d.StoredQuantity == d.LedgerQuantity && d.StoredAvgCost.Equal(d.LedgerAvgCost)
}

// RebuildRequest asks for every balance of a cycle to be verified or repaired.
type RebuildRequest struct {
	OrganizationID int64 `json:"organization_id"`
	ProjectID      int64 `json:"project_id"`
	CycleID        int64 `json:"cycle_id"`
	Repair         bool  `json:"repair"`
}
