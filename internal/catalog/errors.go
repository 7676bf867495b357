package catalog

import (
	"fmt"

	"github.com/tallyhq/tally/internal/shared"
)

var (
	// ErrItemNotFound indicates the item does not exist in the organization.
	ErrItemNotFound = fmt.Errorf("catalog: item not found: %w", shared.ErrNotFound)
	// ErrVariantNotFound indicates the variant does not exist in the organization.
	ErrVariantNotFound = fmt.Errorf("catalog: variant not found: %w", shared.ErrNotFound)
	// ErrTypeImmutable rejects attempts to change an item's type.
	ErrTypeImmutable = fmt.Errorf("catalog: item type cannot be changed: %w", shared.ErrValidation)
	// ErrNegativeAmount rejects negative costs or prices.
	ErrNegativeAmount = fmt.Errorf("catalog: cost and price must be >= 0: %w", shared.ErrValidation)
)
