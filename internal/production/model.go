// Package production drives production orders: a bill of input variants
// consumed to produce one output variant at a derived unit cost.
package production

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status represents the lifecycle of a production order.
type Status string

const (
	StatusDraft     Status = "DRAFT"     // Editable, nothing posted yet
	StatusCompleted Status = "COMPLETED" // Terminal, stock consumed and produced
)

// IsValid checks if the status is valid.
func (s Status) IsValid() bool {
	return s == StatusDraft || s == StatusCompleted
}

// CanEdit checks if the order may be changed in this status.
func (s Status) CanEdit() bool {
	return s != StatusCompleted
}

// CanComplete checks if the order may be completed.
func (s Status) CanComplete() bool {
	return s != StatusCompleted
}

// CanDelete checks if the order may be removed.
func (s Status) CanDelete() bool {
	return s != StatusCompleted
}

// Order converts its inputs into OutputQuantity units of OutputVariantID.
type Order struct {
	ID              int64            `json:"id"`
	OrganizationID  int64            `json:"organization_id"`
	ProjectID       int64            `json:"project_id"`
	CycleID         int64            `json:"cycle_id"`
	Status          Status           `json:"status"`
	OutputVariantID int64            `json:"output_variant_id"`
	OutputQuantity  int64            `json:"output_quantity"`
	OutputUnitCost  *decimal.Decimal `json:"output_unit_cost,omitempty"`
	Notes           *string          `json:"notes,omitempty"`
	CompletedAt     *time.Time       `json:"completed_at,omitempty"`
	CreatedBy       int64            `json:"created_by"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
	Inputs          []Input          `json:"inputs"`
}

// Input is one line of the bill of inputs.
type Input struct {
	ID                int64            `json:"id"`
	ProductionOrderID int64            `json:"production_order_id"`
	VariantID         int64            `json:"variant_id"`
	QuantityRequired  int64            `json:"quantity_required"`
	UnitCostOverride  *decimal.Decimal `json:"unit_cost_override,omitempty"`
	Notes             *string          `json:"notes,omitempty"`
	LineOrder         int              `json:"line_order"`
}

// CostSource names where a resolved input cost came from.
type CostSource string

const (
	CostFromOverride CostSource = "override"
	CostFromBalance  CostSource = "balance"
	CostFromCatalog  CostSource = "catalog"
	CostUnresolved   CostSource = "none"
)

// ResolvedCost is the unit cost used for one input at completion.
type ResolvedCost struct {
	InputID   int64           `json:"input_id"`
	VariantID int64           `json:"variant_id"`
	Quantity  int64           `json:"quantity"`
	UnitCost  decimal.Decimal `json:"unit_cost"`
	Source    CostSource      `json:"source"`
}

// Completion reports the costing of a completed order.
type Completion struct {
	Order          *Order          `json:"order"`
	Costs          []ResolvedCost  `json:"costs"`
	TotalCost      decimal.Decimal `json:"total_cost"`
	OutputUnitCost decimal.Decimal `json:"output_unit_cost"`
}
