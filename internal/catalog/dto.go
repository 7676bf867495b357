package catalog

import (
	"github.com/shopspring/decimal"

	"github.com/tallyhq/tally/internal/shared"
)

// CreateItemInput declares a new item with its variants.
type CreateItemInput struct {
	OrganizationID int64          `json:"-" validate:"required,gt=0"`
	Name           string         `json:"name" validate:"required,max=200"`
	SKU            *string        `json:"sku,omitempty" validate:"omitempty,max=64"`
	UnitOfMeasure  *string        `json:"unit_of_measure,omitempty" validate:"omitempty,max=32"`
	Type           ItemType       `json:"item_type" validate:"required,oneof=RAW_MATERIAL WORK_IN_PROGRESS FINISHED_GOODS"`
	Variants       []VariantInput `json:"variants" validate:"omitempty,dive"`
}

// VariantInput declares one variant.
type VariantInput struct {
	Label               *string          `json:"label,omitempty" validate:"omitempty,max=100"`
	SKU                 *string          `json:"sku,omitempty" validate:"omitempty,max=64"`
	DefaultUnitCost     *decimal.Decimal `json:"default_unit_cost,omitempty"`
	DefaultSellingPrice *decimal.Decimal `json:"default_selling_price,omitempty"`
}

// UpdateItemInput patches an item. Type is accepted only when unchanged.
type UpdateItemInput struct {
	Name          *string   `json:"name,omitempty" validate:"omitempty,min=1,max=200"`
	SKU           *string   `json:"sku,omitempty" validate:"omitempty,max=64"`
	UnitOfMeasure *string   `json:"unit_of_measure,omitempty" validate:"omitempty,max=32"`
	Type          *ItemType `json:"item_type,omitempty"`
	Active        *bool     `json:"is_active,omitempty"`
}

// UpdateVariantInput patches a variant.
type UpdateVariantInput struct {
	Label               *string          `json:"label,omitempty" validate:"omitempty,max=100"`
	SKU                 *string          `json:"sku,omitempty" validate:"omitempty,max=64"`
	DefaultUnitCost     *decimal.Decimal `json:"default_unit_cost,omitempty"`
	DefaultSellingPrice *decimal.Decimal `json:"default_selling_price,omitempty"`
	Active              *bool            `json:"is_active,omitempty"`
}

// ListItemsFilter narrows item listings.
type ListItemsFilter struct {
	OrganizationID int64
	Type           *ItemType
	ActiveOnly     bool
	Page           shared.Page
}
