// Package catalog manages inventory items and their variants.
package catalog

import (
	"time"

	"github.com/shopspring/decimal"
)

// ItemType classifies an item in the production flow.
type ItemType string

const (
	ItemTypeRawMaterial    ItemType = "RAW_MATERIAL"
	ItemTypeWorkInProgress ItemType = "WORK_IN_PROGRESS"
	ItemTypeFinishedGoods  ItemType = "FINISHED_GOODS"
)

// Valid reports whether the type is known.
func (t ItemType) Valid() bool {
	switch t {
	case ItemTypeRawMaterial, ItemTypeWorkInProgress, ItemTypeFinishedGoods:
		return true
	}
	return false
}

// DefaultVariantLabel names the variant created for items declared without one.
const DefaultVariantLabel = "Default"

// Item is a stock-keeping product. Its type never changes after creation.
type Item struct {
	ID             int64     `json:"id"`
	OrganizationID int64     `json:"organization_id"`
	Name           string    `json:"name"`
	SKU            *string   `json:"sku,omitempty"`
	UnitOfMeasure  *string   `json:"unit_of_measure,omitempty"`
	Type           ItemType  `json:"item_type"`
	Active         bool      `json:"is_active"`
	Variants       []Variant `json:"variants"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Variant is a purchasable or sellable unit of an item.
type Variant struct {
	ID                  int64           `json:"id"`
	ItemID              int64           `json:"item_id"`
	Label               *string         `json:"label,omitempty"`
	SKU                 *string         `json:"sku,omitempty"`
	DefaultUnitCost     decimal.Decimal `json:"default_unit_cost"`
	DefaultSellingPrice decimal.Decimal `json:"default_selling_price"`
	Active              bool            `json:"is_active"`
	CreatedAt           time.Time       `json:"created_at"`
	UpdatedAt           time.Time       `json:"updated_at"`
}

// VariantInfo is the read model other packages consume.
type VariantInfo struct {
	VariantID           int64           `json:"variant_id"`
	ItemID              int64           `json:"item_id"`
	OrganizationID      int64           `json:"organization_id"`
	ItemName            string          `json:"item_name"`
	Label               *string         `json:"label,omitempty"`
	ItemType            ItemType        `json:"item_type"`
	DefaultUnitCost     decimal.Decimal `json:"default_unit_cost"`
	DefaultSellingPrice decimal.Decimal `json:"default_selling_price"`
	Active              bool            `json:"is_active"`
}
