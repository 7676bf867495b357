package production

import (
	"fmt"

	"github.com/tallyhq/tally/internal/shared"
)

// Domain errors for production orders.
var (
	// ErrNotFound indicates the order does not exist in the organization.
	ErrNotFound = fmt.Errorf("production order not found: %w", shared.ErrNotFound)

	// Status transition errors.
	ErrCannotEdit       = fmt.Errorf("cannot edit a completed production order: %w", shared.ErrInvalidState)
	ErrCannotDelete     = fmt.Errorf("cannot delete a completed production order: %w", shared.ErrInvalidState)
	ErrAlreadyCompleted = fmt.Errorf("production order already completed: %w", shared.ErrInvalidState)
	ErrNoInputs         = fmt.Errorf("production order has no input lines: %w", shared.ErrInvalidState)

	// Validation errors.
	ErrEmptyInputs      = fmt.Errorf("at least one input line is required: %w", shared.ErrValidation)
	ErrInvalidQuantity  = fmt.Errorf("quantity must be greater than zero: %w", shared.ErrValidation)
	ErrNegativeOverride = fmt.Errorf("unit cost override must be >= 0: %w", shared.ErrValidation)
	ErrProjectRequired  = fmt.Errorf("project_id is required: %w", shared.ErrValidation)
)
