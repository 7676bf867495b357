package inventory

import (
	"fmt"

	"github.com/tallyhq/tally/internal/shared"
)

var (
	// ErrBalanceNotFound indicates nothing was ever posted for the key.
	ErrBalanceNotFound = fmt.Errorf("inventory: balance not found: %w", shared.ErrNotFound)
	// ErrVariantNotFound indicates the variant is not part of the organization's catalog.
	ErrVariantNotFound = fmt.Errorf("inventory: variant not found: %w", shared.ErrNotFound)
	// ErrMovementNotFound indicates a missing ledger entry.
	ErrMovementNotFound = fmt.Errorf("inventory: movement not found: %w", shared.ErrNotFound)
	// ErrInvalidQuantity indicates a zero or wrongly signed quantity.
	ErrInvalidQuantity = fmt.Errorf("inventory: invalid quantity: %w", shared.ErrValidation)
	// ErrInvalidUnitCost indicates a negative cost.
	ErrInvalidUnitCost = fmt.Errorf("inventory: unit cost must be >= 0: %w", shared.ErrValidation)
	// ErrUnitCostRequired indicates an inbound helper called without a cost.
	ErrUnitCostRequired = fmt.Errorf("inventory: unit cost required: %w", shared.ErrValidation)
	// ErrInvalidType indicates an unknown transaction type.
	ErrInvalidType = fmt.Errorf("inventory: unknown transaction type: %w", shared.ErrValidation)
	// ErrInvalidSource indicates an unknown source kind or missing source id.
	ErrInvalidSource = fmt.Errorf("inventory: invalid source reference: %w", shared.ErrValidation)
	// ErrAlreadyReversed indicates a second reversal of the same movement.
	ErrAlreadyReversed = fmt.Errorf("inventory: movement already reversed: %w", shared.ErrInvalidState)
	// ErrReverseReversal indicates an attempt to reverse a reversal.
	ErrReverseReversal = fmt.Errorf("inventory: reversals cannot be reversed: %w", shared.ErrInvalidState)
	// ErrDuplicateMovement indicates the idempotency key was already used.
	ErrDuplicateMovement = fmt.Errorf("inventory: duplicate movement: %w", shared.ErrDuplicate)
)
