package memstore

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tallyhq/tally/internal/production"
)

// applyOrderField mirrors the column updates the Postgres repository issues.
func applyOrderField(o *production.Order, field string, value any) {
	switch field {
	case "notes":
		notes := value.(string)
		o.Notes = &notes
	case "output_variant_id":
		o.OutputVariantID = value.(int64)
	case "output_quantity":
		o.OutputQuantity = value.(int64)
	case "status":
		o.Status = production.Status(value.(string))
	case "output_unit_cost":
		cost := value.(decimal.Decimal)
		o.OutputUnitCost = &cost
	case "completed_at":
		at := value.(time.Time)
		o.CompletedAt = &at
	default:
		panic(fmt.Sprintf("memstore: unknown order field %q", field))
	}
}
