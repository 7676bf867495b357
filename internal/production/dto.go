package production

import "github.com/shopspring/decimal"

// CreateRequest represents request to create a production order.
type CreateRequest struct {
	ProjectID       int64          `json:"project_id" validate:"required,gt=0"`
	CycleID         int64          `json:"cycle_id" validate:"required,gt=0"`
	OutputVariantID int64          `json:"output_variant_id" validate:"required,gt=0"`
	OutputQuantity  int64          `json:"output_quantity" validate:"required,gt=0"`
	Notes           *string        `json:"notes,omitempty" validate:"omitempty,max=2000"`
	Inputs          []InputRequest `json:"inputs" validate:"required,min=1,dive"`
}

// InputRequest represents an input line in create and update requests.
type InputRequest struct {
	VariantID        int64            `json:"variant_id" validate:"required,gt=0"`
	QuantityRequired int64            `json:"quantity_required" validate:"required,gt=0"`
	UnitCostOverride *decimal.Decimal `json:"unit_cost_override,omitempty"`
	Notes            *string          `json:"notes,omitempty" validate:"omitempty,max=500"`
	LineOrder        int              `json:"line_order" validate:"gte=0"`
}

// UpdateRequest patches a DRAFT order. Inputs, when present, replace every
// existing line.
type UpdateRequest struct {
	Notes           *string         `json:"notes,omitempty" validate:"omitempty,max=2000"`
	OutputVariantID *int64          `json:"output_variant_id,omitempty" validate:"omitempty,gt=0"`
	OutputQuantity  *int64          `json:"output_quantity,omitempty" validate:"omitempty,gt=0"`
	Inputs          *[]InputRequest `json:"inputs,omitempty" validate:"omitempty,min=1,dive"`
}

// ListRequest represents filters for listing production orders.
type ListRequest struct {
	ProjectID int64   `json:"project_id" validate:"gte=0"`
	CycleID   int64   `json:"cycle_id" validate:"gte=0"`
	Status    *Status `json:"status,omitempty"`
	Limit     int     `json:"limit" validate:"gte=0"`
	Offset    int     `json:"offset" validate:"gte=0"`
}
