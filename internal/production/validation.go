package production

import (
	"fmt"

	"github.com/tallyhq/tally/internal/shared"
)

// ValidateCreateRequest validates create request.
func ValidateCreateRequest(req CreateRequest) error {
	if len(req.Inputs) == 0 {
		return ErrEmptyInputs
	}
	if req.OutputQuantity <= 0 {
		return fmt.Errorf("output: %w", ErrInvalidQuantity)
	}
	if err := validateInputs(req.Inputs); err != nil {
		return err
	}
	return shared.ValidateStruct(req)
}

// ValidateUpdateRequest validates update request.
func ValidateUpdateRequest(req UpdateRequest) error {
	if req.OutputQuantity != nil && *req.OutputQuantity <= 0 {
		return fmt.Errorf("output: %w", ErrInvalidQuantity)
	}
	if req.Inputs != nil {
		if len(*req.Inputs) == 0 {
			return ErrEmptyInputs
		}
		if err := validateInputs(*req.Inputs); err != nil {
			return err
		}
	}
	return shared.ValidateStruct(req)
}

func validateInputs(inputs []InputRequest) error {
	for i, in := range inputs {
		if in.QuantityRequired <= 0 {
			return fmt.Errorf("input %d: %w", i+1, ErrInvalidQuantity)
		}
		if in.UnitCostOverride != nil && in.UnitCostOverride.IsNegative() {
			return fmt.Errorf("input %d: %w", i+1, ErrNegativeOverride)
		}
	}
	return nil
}
